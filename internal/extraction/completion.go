package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
)

// Completer is a chat-completion service able to call tools.
type Completer interface {
	// Complete sends a single request and returns the raw model response
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Close releases resources held by the backend
	Close() error
}

// Role of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// PartType tags the content of a message part.
type PartType string

const (
	PartText  PartType = "text"
	PartFile  PartType = "file"
	PartImage PartType = "image"
)

// Part is one piece of multi-modal message content.
type Part struct {
	Type     PartType
	Text     string
	Filename string
	MIMEType string
	Data     []byte
}

// DataURL renders the part's bytes as a base64 data URL.
func (p Part) DataURL() string {
	mt := p.MIMEType
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Message is a chat turn.
type Message struct {
	Role  Role
	Parts []Part
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type != PartText {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p.Text
	}
	return out
}

// Tool is a callable function offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  *Schema
}

// FileParserOptions asks the provider to parse attached PDFs itself.
type FileParserOptions struct {
	Engine string
}

// Request is a single-turn completion request.
type Request struct {
	Model      string
	Messages   []Message
	Tools      []Tool
	FileParser *FileParserOptions
}

// Response mirrors the chat-completions response shape.
type Response struct {
	Choices []Choice
}

// Choice is one candidate completion.
type Choice struct {
	Message ResponseMessage
}

// ResponseMessage is the assistant message of a choice.
type ResponseMessage struct {
	Content   string
	ToolCalls []ToolCall
}

// ToolCall is a tool invocation. Arguments holds either a JSON object or a
// JSON string literal wrapping the serialized object.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
}

// Schema is the subset of JSON Schema used for tool parameters.
type Schema struct {
	Type        string
	Nullable    bool
	Description string
	Enum        []string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
}

// MarshalJSON emits a nullable schema as a ["type","null"] union.
func (s *Schema) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type        any                `json:"type"`
		Description string             `json:"description,omitempty"`
		Enum        []string           `json:"enum,omitempty"`
		Properties  map[string]*Schema `json:"properties,omitempty"`
		Items       *Schema            `json:"items,omitempty"`
		Required    []string           `json:"required,omitempty"`
	}
	w := wire{
		Type:        s.Type,
		Description: s.Description,
		Enum:        s.Enum,
		Properties:  s.Properties,
		Items:       s.Items,
		Required:    s.Required,
	}
	if s.Nullable {
		w.Type = []string{s.Type, "null"}
	}
	return json.Marshal(w)
}
