package chunker

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"curioqueries/internal/domain"
)

const (
	DefaultWindowSize    = 1000
	DefaultWindowOverlap = 100
)

// WindowChunker slides a fixed-size window over the text, measured in runes.
// Consecutive windows start size-overlap runes apart and the last window ends
// exactly at the end of the text.
type WindowChunker struct {
	size    int
	overlap int
}

func NewWindowChunker(size, overlap int) *WindowChunker {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &WindowChunker{size: size, overlap: overlap}
}

// Stride is the distance in runes between the starts of consecutive windows.
func (c *WindowChunker) Stride() int { return c.size - c.overlap }

func (c *WindowChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	text := document.Content
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	// offsets[i] is the byte offset of rune i; the final entry is len(text).
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	n := len(offsets)
	offsets = append(offsets, len(text))

	var chunks []domain.Chunk
	idx := 0
	for start := 0; ; start += c.Stride() {
		end := start + c.size
		if end > n {
			end = n
		}
		from, to := offsets[start], offsets[end]
		if strings.TrimSpace(text[from:to]) != "" {
			chunks = append(chunks, newChunk(document, idx, from, to))
			idx++
		}
		if end == n {
			break
		}
	}
	return chunks, nil
}

func newChunk(document domain.Document, idx, start, end int) domain.Chunk {
	return domain.Chunk{
		DocumentID: document.ID,
		ChunkID:    document.ID + ":" + strconv.Itoa(idx),
		Text:       document.Content[start:end],
		Index:      idx,
		Start:      start,
		End:        end,
	}
}
