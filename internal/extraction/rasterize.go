package extraction

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

var decodeHEIC = heic.Decode

// maxRasterPages bounds how many PDF pages are sent to image-only models.
const maxRasterPages = 10

// pdfToImages renders the leading pages of a PDF as PNGs
func pdfToImages(pdfData []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > maxRasterPages {
		pages = maxRasterPages
	}
	out := make([][]byte, 0, pages)
	for n := 0; n < pages; n++ {
		img, err := doc.Image(n)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", n+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PNG: %w", err)
		}
		out = append(out, buf.Bytes())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	return out, nil
}

// IsHEIC reports whether an upload is an HEIC/HEIF photo, by declared type
// or by its ftyp brand.
func IsHEIC(data []byte, contentType string) bool {
	ct := normalizeMediaType(contentType)
	if ct == "image/heic" || ct == "image/heif" {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// HEICToPNG transcodes an iPhone-style HEIC/HEIF photo into PNG.
func HEICToPNG(data []byte) ([]byte, error) {
	img, err := decodeHEIC(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// toPNG re-encodes GIF, JPEG and HEIC images; PNG and formats that cannot
// be decoded are passed through untouched.
func toPNG(data []byte, mimeType string) []byte {
	if mimeType == "image/png" {
		return data
	}
	if IsHEIC(data, mimeType) {
		if out, err := HEICToPNG(data); err == nil {
			return out
		}
		return data
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return data
	}
	return buf.Bytes()
}

