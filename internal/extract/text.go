package extract

import (
	"context"
	"io"
	"strings"
)

// TextExtractor returns plain text files unchanged apart from UTF-8 repair.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

func (e *TextExtractor) Extract(_ context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	return strings.ToValidUTF8(text, "\ufffd"), nil
}
