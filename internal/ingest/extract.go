package ingest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// document is a decoded upload.
type document struct {
	name string
	data []byte
}

// decodeFiles base64-decodes every upload and rejects unknown extensions
// before any expensive work runs.
func decodeFiles(files []File) ([]document, error) {
	docs := make([]document, len(files))
	for i, f := range files {
		if f.Name == "" {
			return nil, fmt.Errorf("ingest: file %d has no name", i)
		}
		if !supportedExt(f.Name) {
			return nil, fmt.Errorf("ingest: %s: %w", f.Name, ErrUnsupportedFormat)
		}
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return nil, fmt.Errorf("ingest: decode %s: %w", f.Name, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("ingest: %s is empty", f.Name)
		}
		docs[i] = document{name: f.Name, data: data}
	}
	return docs, nil
}

func supportedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// extractText pulls the plain text out of one document.
func extractText(name string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		text, err := extractPDF(data)
		if err != nil {
			return "", fmt.Errorf("ingest: extract %s: %w", name, err)
		}
		return text, nil
	case ".txt", ".md":
		return string(data), nil
	default:
		return "", fmt.Errorf("ingest: %s: %w", name, ErrUnsupportedFormat)
	}
}

// extractPDF reads the document page by page. Pages the parser cannot
// resolve are skipped; a page whose text extraction fails aborts the whole
// document, since silently dropping content would corrupt the course.
func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}
