// Package prefilter implements the online ranking engine's pre-filter rule
// stage.
package prefilter

import (
	"context"

	"github.com/mikeydub/curation-recs/internal/model"
)

// ExcludeSeenItems removes any candidate id present in the customer's
// seen-items set. It is a no-op when seen_items is empty, and idempotent:
// applying it twice is the same as applying it once.
type ExcludeSeenItems struct{}

func (ExcludeSeenItems) Name() string { return "ExcludeSeenItems" }

func (ExcludeSeenItems) Apply(ctx context.Context, uctx *model.UserContext, candidates []model.ItemId) ([]model.ItemId, error) {
	if len(uctx.SeenItems) == 0 {
		return candidates, nil
	}
	out := make([]model.ItemId, 0, len(candidates))
	for _, id := range candidates {
		if _, seen := uctx.SeenItems[id]; !seen {
			out = append(out, id)
		}
	}
	return out, nil
}
