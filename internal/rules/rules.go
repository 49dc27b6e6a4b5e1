// Package rules defines the four rule families shared by the batch and
// online pipelines. Rules are pure functions of their inputs plus a
// read-only context; they must not mutate inputs and must be safe for
// concurrent invocation on disjoint inputs. A rule's failure never aborts
// its pipeline: callers treat a failed rule's contribution as empty and
// log at warn.
package rules

import (
	"context"

	"github.com/mikeydub/curation-recs/internal/model"
)

// GlobalContext is the read-only data every GlobalRule may consult. It is
// built once per batch run and shared by all global rules.
type GlobalContext struct {
	Contents  []model.ContentMeta
	Quotes    []model.QuoteRecord
	StockMeta map[model.StockCode]StockMetaEntry
}

// StockMetaEntry carries the sector/theme side-index local rules use to
// match owned-stock sector/theme against content.
type StockMetaEntry struct {
	Sector string
	Themes []string
}

// GlobalRule produces a candidate pool independent of any single user.
type GlobalRule interface {
	Name() string
	Apply(ctx context.Context, gctx GlobalContext) ([]model.ItemId, error)
}

// LocalContext is the read-only data every LocalRule may consult, scoped to
// one user's batch-time processing.
type LocalContext struct {
	GlobalContext
	OwnedStocks   map[model.StockCode]struct{}
	PortfolioData model.PortfolioData
}

// LocalRule produces a per-user candidate pool.
type LocalRule interface {
	Name() string
	Apply(ctx context.Context, user model.UserProfile, lctx LocalContext) ([]model.ItemId, error)
}

// PreFilterRule may only remove or reorder online candidates; it must never
// introduce new ids.
type PreFilterRule interface {
	Name() string
	Apply(ctx context.Context, uctx *model.UserContext, candidates []model.ItemId) ([]model.ItemId, error)
}

// PostReorderRule may rescore and reorder online candidates; it must never
// introduce new ids, and must never remove them unless explicitly documented
// to do so.
type PostReorderRule interface {
	Name() string
	Apply(ctx context.Context, uctx *model.UserContext, ranked []model.ScoredItem) ([]model.ScoredItem, error)
}
