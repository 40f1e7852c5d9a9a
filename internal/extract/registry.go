// Package extract turns uploaded document files into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"curioqueries/internal/domain"
)

var (
	// ErrUnsupportedFormat is returned for files whose extension has no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrEmptyDocument is returned when a file contains no extractable text.
	ErrEmptyDocument = errors.New("document has no text")
)

// Registry dispatches extraction by file extension.
type Registry struct {
	extractors map[string]domain.Extractor
}

// NewRegistry returns a registry with every built-in format registered.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]domain.Extractor)}
	r.Register(NewDocxExtractor(), ".docx")
	r.Register(NewTextExtractor(), ".txt", ".text")
	r.Register(NewMarkdownExtractor(), ".md", ".markdown")
	r.Register(NewHTMLExtractor(), ".html", ".htm")
	return r
}

// Register binds an extractor to one or more extensions, replacing previous bindings.
func (r *Registry) Register(e domain.Extractor, exts ...string) {
	for _, ext := range exts {
		r.extractors[normalizeExt(ext)] = e
	}
}

// Supports reports whether the path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.extractors[normalizeExt(filepath.Ext(path))]
	return ok
}

// SupportedFormats returns the registered extensions in sorted order.
func (r *Registry) SupportedFormats() []string {
	out := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns it as a Document.
func (r *Registry) Extract(ctx context.Context, path string) (domain.Document, error) {
	ext := normalizeExt(filepath.Ext(path))
	e, ok := r.extractors[ext]
	if !ok {
		return domain.Document{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.Document{}, err
	}
	defer f.Close()

	text, err := e.Extract(ctx, f)
	if err != nil {
		return domain.Document{}, fmt.Errorf("extract %s: %w", path, err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.Document{}, fmt.Errorf("%s: %w", path, ErrEmptyDocument)
	}
	return domain.Document{
		ID:      uuid.New().String(),
		Name:    filepath.Base(path),
		Path:    path,
		Format:  strings.TrimPrefix(ext, "."),
		Content: text,
	}, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
