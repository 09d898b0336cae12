package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-2.5-pro"

// Gemini implements Completer using Google Gemini function calling
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a new Gemini completer. Without an API key the client is
// not created and every request fails with ErrUpstreamUnavailable.
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	if apiKey == "" {
		return &Gemini{model: modelName}, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  modelName,
	}, nil
}

// Complete generates content with the request's tools attached
func (g *Gemini) Complete(ctx context.Context, req *Request) (*Response, error) {
	if g.client == nil {
		return nil, errMissingCredential
	}

	name := req.Model
	if name == "" {
		name = g.model
	}
	model := g.client.GenerativeModel(name)

	var parts []genai.Part
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Text())}}
			continue
		}
		parts = append(parts, geminiParts(m)...)
	}
	for _, t := range req.Tools {
		model.Tools = append(model.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  geminiSchema(t.Parameters),
			}},
		})
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, upstreamError("generating content: %v", err)
	}
	slog.Info("Gemini responded",
		"model", name,
		"candidates", len(resp.Candidates),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	out := &Response{}
	for _, cand := range resp.Candidates {
		msg, err := geminiMessage(cand)
		if err != nil {
			return nil, err
		}
		out.Choices = append(out.Choices, Choice{Message: msg})
	}
	return out, nil
}

func geminiParts(m Message) []genai.Part {
	parts := make([]genai.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case PartFile, PartImage:
			parts = append(parts, genai.Blob{MIMEType: p.MIMEType, Data: p.Data})
		default:
			parts = append(parts, genai.Text(p.Text))
		}
	}
	return parts
}

func geminiMessage(cand *genai.Candidate) (ResponseMessage, error) {
	var msg ResponseMessage
	if cand == nil || cand.Content == nil {
		return msg, nil
	}
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		var call *genai.FunctionCall
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			call = &p
		case *genai.FunctionCall:
			call = p
		}
		if call == nil {
			continue
		}
		args, err := json.Marshal(call.Args)
		if err != nil {
			return msg, fmt.Errorf("%w: %v", ErrMalformedToolArguments, err)
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{Name: call.Name, Arguments: args})
	}
	msg.Content = text.String()
	return msg, nil
}

var geminiTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"array":   genai.TypeArray,
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
}

func geminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        geminiTypes[s.Type],
		Description: s.Description,
		Nullable:    s.Nullable,
		Enum:        s.Enum,
		Required:    s.Required,
		Items:       geminiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = geminiSchema(v)
		}
	}
	// Gemini only accepts enum with an explicit format
	if len(s.Enum) > 0 {
		out.Format = "enum"
	}
	return out
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
