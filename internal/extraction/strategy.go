package extraction

import (
	"mime"
	"path/filepath"
	"strings"
)

// Strategy is how a document's content reaches the model.
type Strategy int

const (
	// FallbackConvert injects a text rendering of the document into the prompt.
	FallbackConvert Strategy = iota
	// NativePDF attaches the PDF and asks the provider to parse it.
	NativePDF
	// NativeImage attaches the image for a vision-capable model.
	NativeImage
)

func (s Strategy) String() string {
	switch s {
	case NativePDF:
		return "native_pdf"
	case NativeImage:
		return "native_image"
	default:
		return "fallback_convert"
	}
}

var nativeImageTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/jpg":  {},
	"image/webp": {},
	"image/gif":  {},
}

// SelectStrategy classifies a MIME type. Unknown or empty types fall back to
// conversion rather than failing.
func SelectStrategy(contentType string) Strategy {
	mt := normalizeMediaType(contentType)
	if mt == "application/pdf" {
		return NativePDF
	}
	if _, ok := nativeImageTypes[mt]; ok {
		return NativeImage
	}
	return FallbackConvert
}

func normalizeMediaType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// extensionTypes covers statement formats the platform mime table often lacks.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".json": "application/json",
	".ofx":  "application/x-ofx",
	".qif":  "application/qif",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".epub": "application/epub+zip",
}

// DetectContentType guesses a MIME type from a filename's extension.
func DetectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return "application/octet-stream"
	}
	if mt, ok := extensionTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return normalizeMediaType(mt)
	}
	return "application/octet-stream"
}
