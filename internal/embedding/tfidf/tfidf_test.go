package tfidf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedRequiresPrepare(t *testing.T) {
	_, err := NewEmbedder().Embed("anything")
	assert.Error(t, err)
}

func TestPrepareRejectsEmptyCorpus(t *testing.T) {
	assert.Error(t, NewEmbedder().Prepare(nil))
	assert.Error(t, NewEmbedder().Prepare([]string{"the and of"}))
}

func TestEmbedIsNormalised(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"tower built 1889", "river flows north", "tower height"}))
	assert.Equal(t, 7, e.Dimension())

	vec, err := e.Embed("When was the tower built?")
	require.NoError(t, err)
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestEmbedUnknownTermsIsZero(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"tower built"}))
	vec, err := e.Embed("zebra")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestKnownTerms(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"tower built 1889", "river flows north"}))
	assert.Equal(t, 2, e.KnownTerms("When was the tower built, the tower?"))
	assert.Zero(t, e.KnownTerms("What about zebras?"))
}

func TestEmbedDampsRepeatedTerms(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"tower river", "tower", "river"}))
	vec, err := e.Embed("tower tower tower tower river")
	require.NoError(t, err)
	tower, river := vec[e.vocabulary["tower"]], vec[e.vocabulary["river"]]
	assert.InDelta(t, 1+math.Log(4), tower/river, 1e-9)
}
