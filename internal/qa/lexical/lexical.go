// Package lexical is an offline QA model that answers with the sentences
// sharing the most words with the question.
package lexical

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"curioqueries/internal/domain"
)

// Model ranks passage sentences by the Ochiai coefficient between their word
// set and the question's word set.
type Model struct {
	tokenPattern *regexp.Regexp
	sentencePat  *regexp.Regexp
	stopwords    map[string]struct{}
}

func New() *Model {
	return &Model{
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		sentencePat:  regexp.MustCompile(`(?m)(?U)([^.!?\n]+(?:[.!?]|\n|$))`),
		stopwords:    defaultStopwords(),
	}
}

func (m *Model) Name() string { return "lexical" }

func (m *Model) Answer(ctx context.Context, question, passage string, topK int) ([]domain.Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 1
	}
	qset := m.tokenSet(question)
	if len(qset) == 0 {
		return nil, nil
	}
	var spans []domain.Span
	for _, loc := range m.sentencePat.FindAllStringIndex(passage, -1) {
		start, end := trim(passage, loc[0], loc[1])
		if end <= start {
			continue
		}
		score := m.ochiai(qset, passage[start:end])
		if score <= 0 {
			continue
		}
		spans = append(spans, domain.Span{Text: passage[start:end], Score: score, Start: start, End: end})
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Score > spans[j].Score })
	if len(spans) > topK {
		spans = spans[:topK]
	}
	return spans, nil
}

func (m *Model) tokenSet(s string) map[string]struct{} {
	tokens := m.tokenPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, stop := m.stopwords[t]; stop {
			continue
		}
		set[t] = struct{}{}
	}
	return set
}

// ochiai computes |A∩B| / sqrt(|A||B|).
func (m *Model) ochiai(qset map[string]struct{}, text string) float64 {
	sset := m.tokenSet(text)
	if len(qset) == 0 || len(sset) == 0 {
		return 0
	}
	inter := 0
	for t := range sset {
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(sset)))
}

func trim(s string, start, end int) (int, int) {
	for start < end && strings.ContainsRune(" \t\r\n", rune(s[start])) {
		start++
	}
	for end > start && strings.ContainsRune(" \t\r\n", rune(s[end-1])) {
		end--
	}
	return start, end
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "whose", "when", "where", "why", "how", "do", "does", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
