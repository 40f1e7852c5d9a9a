package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// DocxExtractor reads the body text of Office Open XML word documents.
// Paragraph texts are joined with a single space.
type DocxExtractor struct {
	paragraphSep string
}

func NewDocxExtractor() *DocxExtractor { return &DocxExtractor{paragraphSep: " "} }

func (e *DocxExtractor) Extract(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx container: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("docx container has no " + docxBodyPart)
	}
	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	paragraphs, err := e.paragraphs(ctx, rc)
	if err != nil {
		return "", err
	}
	return strings.Join(paragraphs, e.paragraphSep), nil
}

// paragraphs streams document.xml and returns the non-empty paragraph texts in
// document order. Paragraphs nested in text boxes are emitted before their parent.
func (e *DocxExtractor) paragraphs(ctx context.Context, r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    []string
		stack  []*strings.Builder
		inText bool
		tokens int
	)
	current := func() *strings.Builder {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}
	for {
		tokens++
		if tokens%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", docxBodyPart, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				stack = append(stack, &strings.Builder{})
			case "t":
				inText = true
			case "tab":
				if b := current(); b != nil {
					b.WriteByte('\t')
				}
			case "br", "cr":
				if b := current(); b != nil {
					b.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if b := current(); b != nil {
					stack = stack[:len(stack)-1]
					if text := strings.TrimSpace(b.String()); text != "" {
						out = append(out, text)
					}
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				if b := current(); b != nil {
					b.Write(t)
				}
			}
		}
	}
	return out, nil
}
