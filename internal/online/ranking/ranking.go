// Package ranking is the online ranking engine: loads a precomputed
// CandidateRecord, folds the pre-filter and post-reorder rule stages over
// it, and truncates to the configured recommendation count.
package ranking

import (
	"context"
	"sort"
	"time"

	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/model"
	"github.com/mikeydub/curation-recs/internal/rules"
)

// CandidateSource is the subset of internal/store/mongo.Store this package
// depends on.
type CandidateSource interface {
	LoadCandidate(ctx context.Context, custNo model.CustomerId) (model.CandidateRecord, bool, error)
}

// ContextHydrator is the subset of internal/online/context.Fetcher this
// package depends on.
type ContextHydrator interface {
	FetchUserContext(ctx context.Context, custNo model.CustomerId) (*model.UserContext, error)
	AttachContentMeta(ctx context.Context, uctx *model.UserContext, ids []model.ItemId) error
}

// Engine composes the declared-order pre-filter and post-reorder rule
// lists and exposes the single Rank entry point.
type Engine struct {
	Candidates          CandidateSource
	Context             ContextHydrator
	PreFilterRules      []rules.PreFilterRule
	PostReorderRules    []rules.PostReorderRule
	RecommendationCount int
}

func New(candidates CandidateSource, ctxFetcher ContextHydrator, preFilter []rules.PreFilterRule, postReorder []rules.PostReorderRule, recommendationCount int) *Engine {
	return &Engine{
		Candidates:          candidates,
		Context:             ctxFetcher,
		PreFilterRules:      preFilter,
		PostReorderRules:    postReorder,
		RecommendationCount: recommendationCount,
	}
}

// Rank executes the full per-request sequence for one customer and returns
// at most RecommendationCount scored items. A customer with no persisted
// candidate record yields an empty, non-error result.
func (e *Engine) Rank(ctx context.Context, custNo model.CustomerId) ([]model.ScoredItem, error) {
	started := time.Now()

	var record model.CandidateRecord
	var hasRecord bool
	var loadErr error
	var uctx *model.UserContext

	done := make(chan struct{})
	go func() {
		defer close(done)
		record, hasRecord, loadErr = e.Candidates.LoadCandidate(ctx, custNo)
	}()

	var ctxErr error
	uctx, ctxErr = e.Context.FetchUserContext(ctx, custNo)
	<-done

	if loadErr != nil {
		return nil, loadErr
	}
	if ctxErr != nil {
		return nil, ctxErr
	}
	if !hasRecord || len(record.CurationList) == 0 {
		logRequestSummary(ctx, custNo, 0, started)
		return nil, nil
	}

	ids := make([]model.ItemId, len(record.CurationList))
	scoreByID := make(map[model.ItemId]float64, len(record.CurationList))
	for i, item := range record.CurationList {
		ids[i] = item.ItemID
		scoreByID[item.ItemID] = item.Score
	}

	for _, r := range e.PreFilterRules {
		start := time.Now()
		filtered, err := r.Apply(ctx, uctx, ids)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("rule", r.Name()).Warn("pre-filter rule failed, skipping")
			continue
		}
		logger.RuleInvocation(ctx, r.Name(), string(custNo), len(ids), len(filtered), start)
		ids = filtered
	}

	ranked := make([]model.ScoredItem, len(ids))
	for i, id := range ids {
		ranked[i] = model.ScoredItem{ItemID: id, Score: scoreByID[id]}
	}

	if err := e.Context.AttachContentMeta(ctx, uctx, ids); err != nil {
		logger.For(ctx).WithError(err).Warn("content-meta attach failed, continuing without it")
	}

	for _, r := range e.PostReorderRules {
		start := time.Now()
		next, err := r.Apply(ctx, uctx, ranked)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("rule", r.Name()).Warn("post-reorder rule failed, skipping")
			continue
		}
		if len(next) != len(ranked) {
			logger.For(ctx).WithField("rule", r.Name()).Error("post-reorder rule changed candidate count, internal fault")
			continue
		}
		ranked = next
		logger.RuleInvocation(ctx, r.Name(), string(custNo), len(ranked), len(ranked), start)
		sortDescendingStable(ranked)
	}

	if e.RecommendationCount > 0 && len(ranked) > e.RecommendationCount {
		ranked = ranked[:e.RecommendationCount]
	}

	logRequestSummary(ctx, custNo, len(ranked), started)
	return ranked, nil
}

func sortDescendingStable(items []model.ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID < items[j].ItemID
	})
}

func logRequestSummary(ctx context.Context, custNo model.CustomerId, returned int, started time.Time) {
	logger.For(ctx).WithField("cust_no", string(custNo)).
		WithField("status", "ok").
		WithField("duration_ms", time.Since(started).Milliseconds()).
		WithField("returned_count", returned).
		Info("ranking request complete")
}
