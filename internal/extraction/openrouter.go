package extraction

import (
	"bytes"
	"context"
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
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel = "openai/gpt-4o-mini"
)

// OpenRouter implements Completer against an OpenAI-compatible
// chat-completions endpoint.
type OpenRouter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenRouter creates an OpenRouter completer. An empty key is accepted
// here and reported on the first request.
func NewOpenRouter(baseURL string, apiKey string) *OpenRouter {
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	return &OpenRouter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

type openRouterRequest struct {
	Model      string              `json:"model"`
	Messages   []openRouterMessage `json:"messages"`
	Tools      []openRouterTool    `json:"tools,omitempty"`
	ToolChoice string              `json:"tool_choice,omitempty"`
	Plugins    []openRouterPlugin  `json:"plugins,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []openRouterPart
}

type openRouterPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	File     *openRouterFile     `json:"file,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterTool struct {
	Type     string             `json:"type"`
	Function openRouterFunction `json:"function"`
}

type openRouterFunction struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

type openRouterPlugin struct {
	ID  string            `json:"id"`
	PDF map[string]string `json:"pdf,omitempty"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				Type     string `json:"type"`
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends one chat-completions request
func (o *OpenRouter) Complete(ctx context.Context, req *Request) (*Response, error) {
	if o.apiKey == "" {
		return nil, errMissingCredential
	}

	body, err := json.Marshal(o.encode(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	requestID := uuid.NewString()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://meubolso.local")
	httpReq.Header.Set("X-Title", "MeuBolso")
	httpReq.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError("calling openrouter: %v", err)
	}
	defer resp.Body.Close()

	slog.Info("OpenRouter responded",
		"request_id", requestID,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, upstreamError("openrouter API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out openRouterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, upstreamError("decoding openrouter response: %v", err)
	}
	if out.Error != nil {
		return nil, upstreamError("openrouter error: %s", out.Error.Message)
	}
	return out.decode(), nil
}

func (o *OpenRouter) encode(req *Request) openRouterRequest {
	wire := openRouterRequest{Model: req.Model}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, encodeOpenRouterMessage(m))
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, openRouterTool{
			Type: "function",
			Function: openRouterFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(wire.Tools) > 0 {
		wire.ToolChoice = "auto"
	}
	if req.FileParser != nil {
		wire.Plugins = []openRouterPlugin{{
			ID:  "file-parser",
			PDF: map[string]string{"engine": req.FileParser.Engine},
		}}
	}
	return wire
}

func encodeOpenRouterMessage(m Message) openRouterMessage {
	// text-only messages go out as a plain string
	if len(m.Parts) == 1 && m.Parts[0].Type == PartText {
		return openRouterMessage{Role: string(m.Role), Content: m.Parts[0].Text}
	}
	parts := make([]openRouterPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case PartFile:
			parts = append(parts, openRouterPart{
				Type: "file",
				File: &openRouterFile{Filename: p.Filename, FileData: p.DataURL()},
			})
		case PartImage:
			parts = append(parts, openRouterPart{
				Type:     "image_url",
				ImageURL: &openRouterImageURL{URL: p.DataURL()},
			})
		default:
			parts = append(parts, openRouterPart{Type: "text", Text: p.Text})
		}
	}
	return openRouterMessage{Role: string(m.Role), Content: parts}
}

func (r *openRouterResponse) decode() *Response {
	out := &Response{Choices: make([]Choice, 0, len(r.Choices))}
	for _, c := range r.Choices {
		msg := ResponseMessage{}
		if c.Message.Content != nil {
			msg.Content = *c.Message.Content
		}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		out.Choices = append(out.Choices, Choice{Message: msg})
	}
	return out
}

// Close is a no-op for the HTTP client
func (o *OpenRouter) Close() error {
	return nil
}
