// Package extract pulls plain text out of uploaded agreements.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrExtractionFailed covers unreadable documents and documents with no text
	ErrExtractionFailed = errors.New("text extraction failed")
	// ErrUnsupportedFormat is returned for extensions no extractor handles
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Document formats
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
	FormatXLSX = "xlsx"
)

// Document is one uploaded file. Key is the artifact store key of the
// upload, used by extractors that fetch the file themselves.
type Document struct {
	Name   string
	Format string
	Data   []byte
	Key    string
}

// Extractor turns a document into plain text
type Extractor interface {
	Extract(ctx context.Context, doc Document) (string, error)
}

// FormatOf returns the lowercase extension of name without the dot
func FormatOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// LocalExtractor parses documents in-process
type LocalExtractor struct{}

// NewLocalExtractor creates a LocalExtractor
func NewLocalExtractor() *LocalExtractor {
	return &LocalExtractor{}
}

// Extract implements Extractor
func (e *LocalExtractor) Extract(ctx context.Context, doc Document) (string, error) {
	format := doc.Format
	if format == "" {
		format = FormatOf(doc.Name)
	}

	var (
		text string
		err  error
	)
	switch format {
	case FormatPDF:
		text, err = extractPDF(doc.Data)
	case FormatDOCX:
		text, err = extractDOCX(doc.Data)
	case FormatXLSX:
		text, err = extractXLSX(doc.Data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExtractionFailed, doc.Name, err)
	}
	return requireText(doc.Name, text)
}

func requireText(name, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: no text found in %s, the file may be a scanned image", ErrExtractionFailed, name)
	}
	return text, nil
}
