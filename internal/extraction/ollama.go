package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "qwen2.5vl"
)

// Ollama implements Completer using Ollama's chat API.
//
// The model must support both tools and vision when documents are attached;
// qwen2.5vl and llama3.2-vision do. PDFs are rendered to page images first
// because Ollama only accepts images.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama completer instance
func NewOllama(baseURL string, modelName string) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if modelName == "" {
		modelName = DefaultOllamaModel
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client:  &http.Client{},
	}
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Tools    []openRouterTool `json:"tools,omitempty"`
	Stream   bool             `json:"stream"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error"`
}

// Complete sends one non-streaming chat request
func (o *Ollama) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	reqBody := ollamaChatRequest{Model: model, Stream: false}
	for _, m := range req.Messages {
		msg, err := ollamaEncode(m)
		if err != nil {
			return nil, err
		}
		reqBody.Messages = append(reqBody.Messages, msg)
	}
	for _, t := range req.Tools {
		reqBody.Tools = append(reqBody.Tools, openRouterTool{
			Type:     "function",
			Function: openRouterFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError("calling ollama API: %v", err)
	}
	defer resp.Body.Close()

	slog.Info("Ollama responded",
		"request_id", requestID,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, upstreamError("ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, upstreamError("decoding ollama response: %v", err)
	}
	if chatResp.Error != "" {
		return nil, upstreamError("ollama error: %s", chatResp.Error)
	}

	msg := ResponseMessage{Content: chatResp.Message.Content}
	for _, tc := range chatResp.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return &Response{Choices: []Choice{{Message: msg}}}, nil
}

func ollamaEncode(m Message) (ollamaMessage, error) {
	out := ollamaMessage{Role: string(m.Role), Content: m.Text()}
	for _, p := range m.Parts {
		switch p.Type {
		case PartImage:
			out.Images = append(out.Images, base64.StdEncoding.EncodeToString(toPNG(p.Data, p.MIMEType)))
		case PartFile:
			pages, err := pdfToImages(p.Data)
			if err != nil {
				return out, fmt.Errorf("%w: %s: %w", ErrConversionFailure, p.Filename, err)
			}
			for _, page := range pages {
				out.Images = append(out.Images, base64.StdEncoding.EncodeToString(page))
			}
		}
	}
	return out, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
