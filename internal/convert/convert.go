// Package convert renders uploaded statements as markdown text for models
// that cannot read the original file.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars caps converted output so a huge statement still fits in a
// prompt.
const DefaultMaxChars = 200_000

const truncationMarker = "\n\n[... conteúdo truncado ...]"

var (
	// ErrUnsupportedFormat is returned for extensions no reader handles.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrEmptyDocument is returned when a readable document yields no text.
	ErrEmptyDocument = errors.New("document produced no text")
)

// Markdown dispatches on file extension to a format-specific reader.
type Markdown struct {
	MaxChars int
}

// NewMarkdown creates a converter with the given output cap; zero means
// DefaultMaxChars.
func NewMarkdown(maxChars int) *Markdown {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Markdown{MaxChars: maxChars}
}

type reader func(ctx context.Context, path string) (string, error)

var readers = map[string]reader{
	".xlsx": spreadsheet,
	".xlsm": spreadsheet,
	".xltx": spreadsheet,
	".xltm": spreadsheet,
	".csv":  delimited,
	".tsv":  delimited,
	".txt":  plain,
	".md":   plain,
	".json": plain,
	".xml":  plain,
	".ofx":  plain,
	".qif":  plain,
	".html": plain,
	".htm":  plain,
	".pdf":  document,
	".epub": document,
	".xps":  document,
	".fb2":  document,
	".mobi": document,
	".cbz":  document,
	".docx": document,
	".pptx": document,
}

// Convert reads path and returns its markdown rendering
func (m *Markdown) Convert(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	read, ok := readers[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("opening document: %w", err)
	}

	text, err := read(ctx, path)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return truncate(text, m.maxChars()), nil
}

func (m *Markdown) maxChars() int {
	if m.MaxChars <= 0 {
		return DefaultMaxChars
	}
	return m.MaxChars
}

// truncate cuts s to at most n runes plus a marker
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + truncationMarker
}

func plain(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("reading file: not valid UTF-8")
	}
	return string(data), nil
}
