package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// document extracts page text from anything MuPDF can open
func document(ctx context.Context, path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("opening document: %w", err)
	}
	defer doc.Close()

	var b strings.Builder
	for n := 0; n < doc.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("extracting text from page %d: %w", n+1, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "## Page %d\n\n%s\n\n", n+1, text)
	}
	return b.String(), nil
}
