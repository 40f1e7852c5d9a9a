package chunker

import (
	"regexp"
	"strings"

	"curioqueries/internal/domain"
)

// SentenceChunker splits text into sentence-based chunks with overlap.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

type span struct{ start, end int }

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	sentences := c.sentences(document.Content)
	if len(sentences) == 0 {
		return nil, nil
	}
	var chunks []domain.Chunk
	i := 0
	idx := 0
	for i < len(sentences) {
		end := i + c.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, newChunk(document, idx, sentences[i].start, sentences[end-1].end))
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
		idx++
	}
	return chunks, nil
}

// sentences returns trimmed sentence boundaries, including a trailing fragment
// that has no terminal punctuation.
func (c *SentenceChunker) sentences(text string) []span {
	var out []span
	last := 0
	for _, loc := range c.splitter.FindAllStringIndex(text, -1) {
		if s, ok := trimSpan(text, loc[0], loc[1]); ok {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s, ok := trimSpan(text, last, len(text)); ok {
		out = append(out, s)
	}
	return out
}

func trimSpan(text string, start, end int) (span, bool) {
	seg := text[start:end]
	trimmed := strings.TrimLeft(seg, " \t\r\n")
	start += len(seg) - len(trimmed)
	end = start + len(strings.TrimRight(trimmed, " \t\r\n"))
	return span{start, end}, end > start
}
