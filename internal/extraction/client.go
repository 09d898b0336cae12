package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Converter renders a document as text for models that cannot read it.
type Converter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Document is a stored upload to extract transactions from.
type Document struct {
	Path        string
	Filename    string
	ContentType string // detected from Filename when empty
}

// Config tunes a Client.
type Config struct {
	Model       string
	PDFEngine   string        // provider-side PDF parser, e.g. "pdf-text" or "mistral-ocr"
	Timeout     time.Duration // per attempt; defaults to DefaultTimeout
	MaxAttempts int           // defaults to 1
	Backoff     time.Duration // delay before the second attempt, doubled after each retry
}

const (
	DefaultTimeout   = 90 * time.Second
	DefaultPDFEngine = "pdf-text"
	defaultBackoff   = time.Second
)

// Client turns documents into candidate transactions through a tool-calling
// model.
type Client struct {
	completer  Completer
	converter  Converter
	cfg        Config
	timeSource TimeSource
}

// NewClient creates a Client with the wall clock as its date source
func NewClient(completer Completer, converter Converter, cfg Config) *Client {
	return NewClientWithDeps(completer, converter, cfg, defaultTimeSource{})
}

// NewClientWithDeps creates a Client with a custom clock for testing
func NewClientWithDeps(completer Completer, converter Converter, cfg Config, timeSrc TimeSource) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.PDFEngine == "" {
		cfg.PDFEngine = DefaultPDFEngine
	}
	return &Client{
		completer:  completer,
		converter:  converter,
		cfg:        cfg,
		timeSource: timeSrc,
	}
}

// Extract sends the document to the model and normalizes the tool call it
// answers with.
func (c *Client) Extract(ctx context.Context, doc Document) ([]Candidate, error) {
	contentType := doc.ContentType
	if contentType == "" {
		contentType = DetectContentType(doc.Filename)
	}
	strategy := SelectStrategy(contentType)

	req, err := c.buildRequest(ctx, doc, contentType, strategy)
	if err != nil {
		return nil, err
	}

	slog.Info("Requesting extraction",
		"filename", doc.Filename,
		"content_type", contentType,
		"strategy", strategy.String(),
		"model", c.cfg.Model,
	)

	start := time.Now()
	resp, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	candidates, err := Normalize(resp, c.timeSource.Now())
	if err != nil {
		return nil, err
	}
	slog.Info("Extraction finished",
		"filename", doc.Filename,
		"candidates", len(candidates),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return candidates, nil
}

func (c *Client) buildRequest(ctx context.Context, doc Document, contentType string, strategy Strategy) (*Request, error) {
	filename := doc.Filename
	if filename == "" {
		filename = filepath.Base(doc.Path)
	}

	user := Message{Role: RoleUser}
	req := &Request{
		Model: c.cfg.Model,
		Tools: []Tool{CreateTransactionsTool()},
	}

	switch strategy {
	case NativePDF, NativeImage:
		data, err := os.ReadFile(doc.Path)
		if err != nil {
			return nil, fmt.Errorf("reading document: %w", err)
		}
		partType := PartImage
		if strategy == NativePDF {
			partType = PartFile
			req.FileParser = &FileParserOptions{Engine: c.cfg.PDFEngine}
		}
		user.Parts = []Part{
			{Type: PartText, Text: "Extraia as transações do arquivo anexado."},
			{Type: partType, Filename: filename, MIMEType: normalizeMediaType(contentType), Data: data},
		}
	default:
		if c.converter == nil {
			return nil, fmt.Errorf("%w: no converter configured", ErrConversionFailure)
		}
		text, err := c.converter.Convert(ctx, doc.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConversionFailure, filename, err)
		}
		user.Parts = []Part{
			{Type: PartText, Text: "Arquivo: " + filename + "\n\nConteúdo convertido:\n\n" + text},
		}
	}

	req.Messages = []Message{
		{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: extractionPrompt}}},
		user,
	}
	return req, nil
}

// complete runs the request under the per-attempt timeout, retrying upstream
// failures while attempts remain.
func (c *Client) complete(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	delay := c.cfg.Backoff
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			slog.Warn("Retrying completion", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, upstreamError("%v", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, req *Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.completer.Complete(attemptCtx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrConversionFailure) || errors.Is(err, ErrMalformedToolArguments) {
		return nil, err
	}
	if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil {
		return nil, upstreamError("no answer within %s: %v", c.cfg.Timeout, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, ErrUpstreamUnavailable) && !errors.Is(err, errMissingCredential)
}
