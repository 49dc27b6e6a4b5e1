package ranking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/curation-recs/internal/model"
	"github.com/mikeydub/curation-recs/internal/rules"
)

type fakeCandidateSource struct {
	record    model.CandidateRecord
	hasRecord bool
	err       error
}

func (f fakeCandidateSource) LoadCandidate(ctx context.Context, custNo model.CustomerId) (model.CandidateRecord, bool, error) {
	return f.record, f.hasRecord, f.err
}

type fakeContextHydrator struct {
	uctx *model.UserContext
	err  error
}

func (f fakeContextHydrator) FetchUserContext(ctx context.Context, custNo model.CustomerId) (*model.UserContext, error) {
	return f.uctx, f.err
}

func (f fakeContextHydrator) AttachContentMeta(ctx context.Context, uctx *model.UserContext, ids []model.ItemId) error {
	return nil
}

type fakePreFilter struct {
	name string
	fn   func([]model.ItemId) ([]model.ItemId, error)
}

func (f fakePreFilter) Name() string { return f.name }
func (f fakePreFilter) Apply(ctx context.Context, uctx *model.UserContext, candidates []model.ItemId) ([]model.ItemId, error) {
	return f.fn(candidates)
}

type fakePostReorder struct {
	name string
	fn   func([]model.ScoredItem) ([]model.ScoredItem, error)
}

func (f fakePostReorder) Name() string { return f.name }
func (f fakePostReorder) Apply(ctx context.Context, uctx *model.UserContext, ranked []model.ScoredItem) ([]model.ScoredItem, error) {
	return f.fn(ranked)
}

func TestRankNoRecordReturnsEmptyNotError(t *testing.T) {
	e := New(fakeCandidateSource{hasRecord: false}, fakeContextHydrator{uctx: &model.UserContext{}}, nil, nil, 10)
	out, err := e.Rank(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRankPropagatesLoadError(t *testing.T) {
	e := New(fakeCandidateSource{err: errors.New("boom")}, fakeContextHydrator{uctx: &model.UserContext{}}, nil, nil, 10)
	_, err := e.Rank(context.Background(), "c1")
	assert.Error(t, err)
}

func TestRankAppliesPreFilterThenPostReorderAndTruncates(t *testing.T) {
	record := model.CandidateRecord{
		CustNo: "c1",
		CurationList: []model.ScoredItem{
			{ItemID: "1", Score: 3},
			{ItemID: "2", Score: 2},
			{ItemID: "3", Score: 1},
		},
	}
	preFilter := fakePreFilter{name: "drop3", fn: func(ids []model.ItemId) ([]model.ItemId, error) {
		out := make([]model.ItemId, 0, len(ids))
		for _, id := range ids {
			if id != "3" {
				out = append(out, id)
			}
		}
		return out, nil
	}}
	postReorder := fakePostReorder{name: "reverse", fn: func(items []model.ScoredItem) ([]model.ScoredItem, error) {
		out := make([]model.ScoredItem, len(items))
		for i, it := range items {
			out[i] = model.ScoredItem{ItemID: it.ItemID, Score: -it.Score}
		}
		return out, nil
	}}

	e := New(
		fakeCandidateSource{record: record, hasRecord: true},
		fakeContextHydrator{uctx: &model.UserContext{}},
		[]rules.PreFilterRule{preFilter},
		[]rules.PostReorderRule{postReorder},
		1,
	)
	out, err := e.Rank(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	// item "3" was dropped by the pre-filter; "1"/"2" survive with negated
	// scores, re-sorted descending, so "2" (score -2) ranks ahead of "1" (-3).
	assert.Equal(t, model.ItemId("2"), out[0].ItemID)
}

func TestRankDiscardsPostReorderRuleThatChangesLength(t *testing.T) {
	record := model.CandidateRecord{
		CustNo:       "c1",
		CurationList: []model.ScoredItem{{ItemID: "1", Score: 1}, {ItemID: "2", Score: 2}},
	}
	dropsOne := fakePostReorder{name: "buggy", fn: func(items []model.ScoredItem) ([]model.ScoredItem, error) {
		return items[:1], nil
	}}
	e := New(
		fakeCandidateSource{record: record, hasRecord: true},
		fakeContextHydrator{uctx: &model.UserContext{}},
		nil,
		[]rules.PostReorderRule{dropsOne},
		10,
	)
	out, err := e.Rank(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRankSkipsFailingRule(t *testing.T) {
	record := model.CandidateRecord{
		CustNo:       "c1",
		CurationList: []model.ScoredItem{{ItemID: "1", Score: 1}},
	}
	failing := fakePreFilter{name: "fails", fn: func(ids []model.ItemId) ([]model.ItemId, error) {
		return nil, errors.New("rule exploded")
	}}
	e := New(
		fakeCandidateSource{record: record, hasRecord: true},
		fakeContextHydrator{uctx: &model.UserContext{}},
		[]rules.PreFilterRule{failing},
		nil,
		10,
	)
	out, err := e.Rank(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.ItemId("1"), out[0].ItemID)
}
