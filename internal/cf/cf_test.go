package cf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/curation-recs/internal/model"
)

// Two items co-occur for two of three users, giving sim(i1, i2) = 2/3; a
// history of just i1 scores a candidate set of {i2, i3} as {i2: 2/3, i3: 0}.
func TestScoresJaccardComposition(t *testing.T) {
	interactions := map[model.CustomerId][]model.ItemId{
		"u1": {"i1", "i2"},
		"u2": {"i1", "i2"},
		"u3": {"i1"},
	}

	m := New(2)
	m.Build(interactions)
	require.True(t, m.IsReady())

	sim := m.Similarity("i1", "i2")
	assert.InDelta(t, 2.0/3.0, sim, 1e-9)

	scores := m.Scores([]model.ItemId{"i1"}, map[model.ItemId]struct{}{"i2": {}, "i3": {}}, 0)
	assert.InDelta(t, 2.0/3.0, scores["i2"], 1e-9)
	_, hasI3 := scores["i3"]
	assert.False(t, hasI3, "zero-score candidates are omitted")
}

func TestSimilarityIsSymmetric(t *testing.T) {
	interactions := map[model.CustomerId][]model.ItemId{
		"u1": {"a", "b", "c"},
		"u2": {"a", "b"},
		"u3": {"b", "c"},
	}
	m := New(1)
	m.Build(interactions)

	assert.Equal(t, m.Similarity("a", "b"), m.Similarity("b", "a"))
	assert.Equal(t, m.Similarity("a", "c"), m.Similarity("c", "a"))
}

func TestBelowCoOccurrenceThresholdIsZero(t *testing.T) {
	interactions := map[model.CustomerId][]model.ItemId{
		"u1": {"a", "b"},
	}
	m := New(2)
	m.Build(interactions)
	assert.Equal(t, 0.0, m.Similarity("a", "b"))
}

func TestScoresEmptyWhenNotReady(t *testing.T) {
	m := New(1)
	scores := m.Scores([]model.ItemId{"a"}, map[model.ItemId]struct{}{"b": {}}, 0)
	assert.Empty(t, scores)
}

func TestScoresRespectsHistoryLimit(t *testing.T) {
	interactions := map[model.CustomerId][]model.ItemId{
		"u1": {"a", "x"},
		"u2": {"a", "x"},
		"u3": {"b", "x"},
		"u4": {"b", "x"},
	}
	m := New(2)
	m.Build(interactions)

	// history = [a, b]; limiting to 1 keeps only "a", so x's score should
	// equal sim(a, x) rather than sim(a, x) + sim(b, x).
	full := m.Scores([]model.ItemId{"a", "b"}, map[model.ItemId]struct{}{"x": {}}, 0)
	limited := m.Scores([]model.ItemId{"a", "b"}, map[model.ItemId]struct{}{"x": {}}, 1)
	assert.InDelta(t, m.Similarity("a", "x"), limited["x"], 1e-9)
	assert.Greater(t, full["x"], limited["x"])
}
