package chunker

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"curioqueries/internal/domain"
)

// RecursiveChunker splits on paragraph, line and word boundaries before
// falling back to characters, keeping chunks below size runes.
type RecursiveChunker struct {
	splitter textsplitter.RecursiveCharacter
}

func NewRecursiveChunker(size, overlap int) *RecursiveChunker {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &RecursiveChunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
		),
	}
}

func (c *RecursiveChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	if strings.TrimSpace(document.Content) == "" {
		return nil, nil
	}
	pieces, err := c.splitter.SplitText(document.Content)
	if err != nil {
		return nil, err
	}
	var chunks []domain.Chunk
	cursor := 0
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		start, end, ok := locate(document.Content, piece, cursor)
		if !ok {
			continue
		}
		chunks = append(chunks, newChunk(document, len(chunks), start, end))
		cursor = start + 1
	}
	return chunks, nil
}

// locate finds piece in text at or after from. When the splitter has rewritten
// whitespace inside the piece, the match falls back to its leading words and the
// span is widened to the piece's length.
func locate(text, piece string, from int) (int, int, bool) {
	if from > len(text) {
		from = len(text)
	}
	if i := strings.Index(text[from:], piece); i >= 0 {
		return from + i, from + i + len(piece), true
	}
	prefix := piece
	if fields := strings.Fields(piece); len(fields) > 0 {
		prefix = fields[0]
	}
	i := strings.Index(text[from:], prefix)
	if i < 0 {
		return 0, 0, false
	}
	start := from + i
	end := start + len(piece)
	if end > len(text) {
		end = len(text)
	}
	// Do not cut a multi-byte rune in half.
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}
	return start, end, true
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
