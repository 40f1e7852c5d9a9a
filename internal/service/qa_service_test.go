package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curioqueries/internal/chunker"
	"curioqueries/internal/domain"
	"curioqueries/internal/extract"
	"curioqueries/internal/qa/lexical"
	"curioqueries/internal/summarizer"
)

// keywordModel answers with every configured keyword found in the passage.
type keywordModel struct {
	mu       sync.Mutex
	scores   map[string]float64
	failOn   string
	passages []string
}

func (m *keywordModel) Name() string { return "keyword" }

func (m *keywordModel) Answer(ctx context.Context, question, passage string, topK int) ([]domain.Span, error) {
	m.mu.Lock()
	m.passages = append(m.passages, passage)
	m.mu.Unlock()
	if m.failOn != "" && strings.Contains(passage, m.failOn) {
		return nil, errors.New("model unavailable")
	}
	var spans []domain.Span
	for kw, score := range m.scores {
		if i := strings.Index(passage, kw); i >= 0 {
			spans = append(spans, domain.Span{Text: kw, Score: score, Start: i, End: i + len(kw)})
		}
	}
	return spans, nil
}

func newService(model domain.QAModel, ch domain.Chunker, settings Settings) *QAServiceImpl {
	return NewQAService(extract.NewRegistry(), ch, model, summarizer.NewFrequencySummarizer(0), settings)
}

func docs(contents ...string) []domain.Document {
	out := make([]domain.Document, len(contents))
	for i, c := range contents {
		out[i] = domain.Document{ID: string(rune('A' + i)), Name: string(rune('a'+i)) + ".txt", Content: c}
	}
	return out
}

func TestAskRanksAcrossDocuments(t *testing.T) {
	model := &keywordModel{scores: map[string]float64{"gamma": 0.9, "zeta": 0.5, "alpha": 0.2}}
	svc := newService(model, chunker.NewWindowChunker(100, 10), Settings{TopK: 3, Workers: 2})

	answers, err := svc.Ask(context.Background(), docs("alpha beta gamma delta", "epsilon alpha zeta"), "which letter?", 0)
	require.NoError(t, err)
	require.Len(t, answers, 3)

	assert.Equal(t, "gamma", answers[0].Text)
	assert.Equal(t, "a.txt", answers[0].DocumentName)
	assert.Equal(t, "zeta", answers[1].Text)
	assert.Equal(t, "B", answers[1].DocumentID)
	assert.Equal(t, "alpha", answers[2].Text)
	assert.Equal(t, "A", answers[2].DocumentID, "ties go to the earlier document")
}

func TestAskSingleAnswer(t *testing.T) {
	model := &keywordModel{scores: map[string]float64{"gamma": 0.9, "zeta": 0.5}}
	svc := newService(model, chunker.NewWindowChunker(100, 10), Settings{TopK: 5, Workers: 1})

	answers, err := svc.Ask(context.Background(), docs("alpha beta gamma delta", "epsilon alpha zeta"), "q", 1)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "gamma", answers[0].Text)
}

func TestAskMergesOverlappingWindows(t *testing.T) {
	model := &keywordModel{scores: map[string]float64{"gamma": 0.7}}
	svc := newService(model, chunker.NewWindowChunker(12, 8), Settings{TopK: 5, Workers: 4})

	d := docs("aaaa gamma bbbb")
	answers, err := svc.Ask(context.Background(), d, "q", 0)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Greater(t, len(model.passages), 1)

	a := answers[0]
	assert.Equal(t, 5, a.Start)
	assert.Equal(t, "gamma", d[0].Content[a.Start:a.End])
	assert.Equal(t, a.Text, a.Context[a.Start-a.ContextStart:a.End-a.ContextStart])
}

func TestAskKeepsDocumentsApartWithoutUniqueIDs(t *testing.T) {
	model := &keywordModel{scores: map[string]float64{"gamma": 0.7}}
	svc := newService(model, chunker.NewWindowChunker(100, 0), Settings{TopK: 5, Workers: 2})

	d := []domain.Document{
		{Name: "first.txt", Content: "gamma ray"},
		{Name: "second.txt", Content: "gamma ray"},
		{ID: "dup", Name: "third.txt", Content: "gamma ray"},
		{ID: "dup", Name: "fourth.txt", Content: "gamma ray"},
	}
	answers, err := svc.Ask(context.Background(), d, "q", 0)
	require.NoError(t, err)
	require.Len(t, answers, 4)
	for i, a := range answers {
		assert.Equal(t, d[i].Name, a.DocumentName, "ties keep document order")
		assert.Equal(t, d[i].ID, a.DocumentID)
	}
}

func TestAskPreselectsAcrossDocumentsWithoutIDs(t *testing.T) {
	model := &keywordModel{scores: map[string]float64{"1889": 0.9}}
	svc := newService(model, chunker.NewSentenceChunker(1, 0), Settings{TopK: 1, MaxChunks: 1})

	d := []domain.Document{
		{Name: "pets.txt", Content: "Cats purr softly. Dogs bark loudly."},
		{Name: "tower.txt", Content: "The tower was built in 1889."},
	}
	answers, err := svc.Ask(context.Background(), d, "When was the tower built?", 0)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "tower.txt", answers[0].DocumentName)
}

func TestAskValidatesInput(t *testing.T) {
	svc := newService(&keywordModel{}, chunker.NewWindowChunker(100, 0), Settings{})

	_, err := svc.Ask(context.Background(), docs("text"), "   ", 1)
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = svc.Ask(context.Background(), nil, "question", 1)
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestAskToleratesPartialFailures(t *testing.T) {
	model := &keywordModel{scores: map[string]float64{"zeta": 0.5}, failOn: "broken"}
	svc := newService(model, chunker.NewWindowChunker(100, 0), Settings{TopK: 2, Workers: 2})

	answers, err := svc.Ask(context.Background(), docs("broken document", "epsilon zeta"), "q", 0)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "zeta", answers[0].Text)

	_, err = svc.Ask(context.Background(), docs("broken one", "broken two"), "q", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestAskAppliesMinScore(t *testing.T) {
	model := &keywordModel{scores: map[string]float64{"gamma": 0.9, "beta": 0.01}}
	svc := newService(model, chunker.NewWindowChunker(100, 0), Settings{TopK: 5, MinScore: 0.1})

	answers, err := svc.Ask(context.Background(), docs("beta gamma"), "q", 0)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "gamma", answers[0].Text)
}

func TestAskPreselectsChunks(t *testing.T) {
	model := &keywordModel{scores: map[string]float64{"1889": 0.9}}
	svc := newService(model, chunker.NewSentenceChunker(1, 0), Settings{TopK: 1, MaxChunks: 1})

	answers, err := svc.Ask(context.Background(),
		docs("Cats purr softly. Dogs bark loudly. The tower was built in 1889."),
		"When was the tower built?", 0)
	require.NoError(t, err)
	require.Len(t, model.passages, 1)
	assert.Equal(t, "The tower was built in 1889.", model.passages[0])
	require.Len(t, answers, 1)
	assert.Equal(t, "1889", answers[0].Text)
}

func TestAskFillsPreselectionInDocumentOrder(t *testing.T) {
	model := &keywordModel{}
	svc := newService(model, chunker.NewSentenceChunker(1, 0), Settings{MaxChunks: 2})

	_, err := svc.Ask(context.Background(),
		docs("Cats purr softly. Dogs bark loudly. The tower was built in 1889."),
		"When was the tower built?", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"The tower was built in 1889.", "Cats purr softly."}, model.passages)
}

func TestAskFallsBackToFirstChunksWithoutSignal(t *testing.T) {
	model := &keywordModel{}
	svc := newService(model, chunker.NewSentenceChunker(1, 0), Settings{MaxChunks: 2})

	_, err := svc.Ask(context.Background(), docs("One here. Two here. Three here."), "zebra?", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"One here.", "Two here."}, model.passages)
}

func TestAskHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := newService(&keywordModel{}, chunker.NewWindowChunker(100, 0), Settings{})
	_, err := svc.Ask(ctx, docs("text"), "q", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAskWithLexicalModel(t *testing.T) {
	svc := newService(lexical.New(), chunker.NewWindowChunker(100, 20), Settings{TopK: 2, Workers: 2})
	d := docs("Paris is the capital of France. The Eiffel Tower was built in 1889 for the World Fair.")

	answers, err := svc.Ask(context.Background(), d, "When was the Eiffel Tower built?", 0)
	require.NoError(t, err)
	require.NotEmpty(t, answers)
	assert.Contains(t, answers[0].Text, "1889")
	assert.Equal(t, answers[0].Text, d[0].Content[answers[0].Start:answers[0].End])
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoadExpandsGlobsInOrder(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"b.txt":     "Second file talks about rivers.",
		"a.md":      "# First\n\nThe first file talks about towers.",
		"image.png": "binary",
	})
	svc := newService(&keywordModel{}, chunker.NewWindowChunker(100, 0), Settings{Workers: 2, SummarySentences: 2})

	loaded, summary, err := svc.Load(context.Background(), []string{filepath.Join(dir, "*"), filepath.Join(dir, "b.txt")})
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a.md", loaded[0].Name)
	assert.Equal(t, "b.txt", loaded[1].Name)
	assert.NotEmpty(t, summary)
}

func TestLoadErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{"image.png": "binary"})
	svc := newService(&keywordModel{}, chunker.NewWindowChunker(100, 0), Settings{})

	_, _, err := svc.Load(context.Background(), []string{filepath.Join(dir, "image.png")})
	assert.ErrorIs(t, err, extract.ErrUnsupportedFormat)

	_, _, err = svc.Load(context.Background(), []string{" "})
	assert.ErrorIs(t, err, ErrNoDocuments)

	_, _, err = svc.Load(context.Background(), []string{filepath.Join(dir, "missing.txt")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
