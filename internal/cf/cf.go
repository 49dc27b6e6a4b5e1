// Package cf implements the collaborative-filtering similarity model:
// an offline Jaccard item-item similarity builder and an online scorer over
// a candidate set.
package cf

import (
	"sort"
	"sync"

	"github.com/mikeydub/curation-recs/internal/model"
)

type pairKey struct {
	A, B model.ItemId
}

// Model is the CF artifact: a symmetric item-item similarity map built once
// per batch run and held read-only for the rest of that run. The zero value
// is not ready; use Build to populate it.
type Model struct {
	minCoOccurrence int
	sim             map[pairKey]float64
	ready           bool
	mu              sync.RWMutex
}

// New returns a model that isn't ready until Build is called.
func New(minCoOccurrence int) *Model {
	return &Model{minCoOccurrence: minCoOccurrence, sim: make(map[pairKey]float64)}
}

// IsReady reports whether Build has completed. Scorers must return empty
// results when the model isn't ready.
func (m *Model) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Build computes the item-item Jaccard similarity from a {user -> items}
// interaction table. Building is single-threaded and runs once per batch.
// A pair (i, j) is emitted only when the co-occurrence count (number of
// users who interacted with both) is at least minCoOccurrence; self-pairs
// are omitted.
func (m *Model) Build(interactions map[model.CustomerId][]model.ItemId) {
	usersByItem := make(map[model.ItemId]map[model.CustomerId]struct{})
	for user, items := range interactions {
		seen := make(map[model.ItemId]struct{}, len(items))
		for _, item := range items {
			if _, dup := seen[item]; dup {
				continue
			}
			seen[item] = struct{}{}
			set, ok := usersByItem[item]
			if !ok {
				set = make(map[model.CustomerId]struct{})
				usersByItem[item] = set
			}
			set[user] = struct{}{}
		}
	}

	items := make([]model.ItemId, 0, len(usersByItem))
	for item := range usersByItem {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })

	sim := make(map[pairKey]float64)
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			coOccurrence := intersectionSize(usersByItem[a], usersByItem[b])
			if coOccurrence < m.minCoOccurrence {
				continue
			}
			union := len(usersByItem[a]) + len(usersByItem[b]) - coOccurrence
			if union == 0 {
				continue
			}
			sim[pairKey{a, b}] = float64(coOccurrence) / float64(union)
		}
	}

	m.mu.Lock()
	m.sim = sim
	m.ready = true
	m.mu.Unlock()
}

func intersectionSize(a, b map[model.CustomerId]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	count := 0
	for k := range a {
		if _, ok := b[k]; ok {
			count++
		}
	}
	return count
}

// Similarity returns sim(i, j), which is symmetric and zero when
// undefined (below the co-occurrence threshold, or the pair was never
// observed together).
func (m *Model) Similarity(i, j model.ItemId) float64 {
	if i == j {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.sim[pairKey{i, j}]; ok {
		return v
	}
	if v, ok := m.sim[pairKey{j, i}]; ok {
		return v
	}
	return 0
}

// Scores computes, for a user history h (most recent historyLimit items)
// and a candidate set, score(c) = sum over i in h of sim(i, c), with missing
// entries treated as zero. Absence from the returned map means zero.
// Returns an empty map when the model isn't ready, or the history is empty.
func (m *Model) Scores(history []model.ItemId, candidates map[model.ItemId]struct{}, historyLimit int) map[model.ItemId]float64 {
	out := make(map[model.ItemId]float64)
	if !m.IsReady() || len(history) == 0 || len(candidates) == 0 {
		return out
	}

	h := history
	if historyLimit > 0 && len(h) > historyLimit {
		h = h[:historyLimit]
	}

	for c := range candidates {
		var score float64
		for _, i := range h {
			score += m.Similarity(i, c)
		}
		if score != 0 {
			out[c] = score
		}
	}
	return out
}
