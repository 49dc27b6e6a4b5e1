package postreorder

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/curation-recs/internal/model"
)

func idSet(items []model.ScoredItem) []model.ItemId {
	out := make([]model.ItemId, len(items))
	for i, it := range items {
		out[i] = it.ItemID
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ret(v float64) *float64 { return &v }

func TestMarketCapRecencyRandomPreservesIdMultiset(t *testing.T) {
	uctx := &model.UserContext{ContentMeta: map[model.ItemId]model.ContentMeta{
		"1": {ItemID: "1", MarketCap: ret(100), HasMarketCap: true},
		"2": {ItemID: "2", MarketCap: ret(50), HasMarketCap: true},
	}}
	ranked := []model.ScoredItem{{ItemID: "1", Score: 1}, {ItemID: "2", Score: 2}}

	out, err := NewMarketCapRecencyRandom().Apply(context.Background(), uctx, ranked)
	require.NoError(t, err)
	assert.ElementsMatch(t, idSet(ranked), idSet(out))
}

func TestMarketCapRecencyRandomEmptyInput(t *testing.T) {
	out, err := NewMarketCapRecencyRandom().Apply(context.Background(), &model.UserContext{}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBoostUserStocksNoOpWhenNoStockSets(t *testing.T) {
	uctx := &model.UserContext{}
	ranked := []model.ScoredItem{{ItemID: "1", Score: 1}}
	out, err := (BoostUserStocks{}).Apply(context.Background(), uctx, ranked)
	require.NoError(t, err)
	assert.Equal(t, ranked, out)
}

func TestBoostUserStocksAppliesMaxApplicableFactor(t *testing.T) {
	uctx := &model.UserContext{
		ContentMeta: map[model.ItemId]model.ContentMeta{
			"owned":  {ItemID: "owned", Label: "A"},
			"recent": {ItemID: "recent", Label: "B"},
			"none":   {ItemID: "none", Label: "C"},
		},
		OwnedStocks:  map[model.StockCode]struct{}{"A": {}},
		RecentStocks: map[model.StockCode]struct{}{"A": {}, "B": {}},
	}
	ranked := []model.ScoredItem{
		{ItemID: "owned", Score: 1},
		{ItemID: "recent", Score: 1},
		{ItemID: "none", Score: 1},
	}
	out, err := (BoostUserStocks{}).Apply(context.Background(), uctx, ranked)
	require.NoError(t, err)

	byID := map[model.ItemId]float64{}
	for _, it := range out {
		byID[it.ItemID] = it.Score
	}
	// "owned" is in both Owned (1.5x) and Recent (1.3x) sets: max applies.
	assert.InDelta(t, 1.5, byID["owned"], 1e-9)
	assert.InDelta(t, 1.3, byID["recent"], 1e-9)
	assert.InDelta(t, 1.0, byID["none"], 1e-9)
}

func TestBoostTopReturnStockPicksHighestOneMonthReturn(t *testing.T) {
	uctx := &model.UserContext{
		ContentMeta: map[model.ItemId]model.ContentMeta{
			"winner": {ItemID: "winner", Label: "A"},
			"other":  {ItemID: "other", Label: "B"},
		},
		OwnedStocks: map[model.StockCode]struct{}{"A": {}, "B": {}},
		OwnedStockReturns: map[model.StockCode]model.StockReturn{
			"A": {OneMonth: ret(0.20)},
			"B": {OneMonth: ret(0.05)},
		},
	}
	ranked := []model.ScoredItem{{ItemID: "winner", Score: 1}, {ItemID: "other", Score: 1}}
	out, err := NewBoostTopReturnStock().Apply(context.Background(), uctx, ranked)
	require.NoError(t, err)

	byID := map[model.ItemId]float64{}
	for _, it := range out {
		byID[it.ItemID] = it.Score
	}
	assert.InDelta(t, 2.0, byID["winner"], 1e-9)
	assert.InDelta(t, 1.0, byID["other"], 1e-9)
}

func TestBoostTopReturnStockFallsBackToOneDay(t *testing.T) {
	uctx := &model.UserContext{
		ContentMeta: map[model.ItemId]model.ContentMeta{"a": {ItemID: "a", Label: "A"}},
		OwnedStocks: map[model.StockCode]struct{}{"A": {}},
		OwnedStockReturns: map[model.StockCode]model.StockReturn{
			"A": {OneDay: ret(0.10)},
		},
	}
	ranked := []model.ScoredItem{{ItemID: "a", Score: 1}}
	out, err := NewBoostTopReturnStock().Apply(context.Background(), uctx, ranked)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out[0].Score, 1e-9)
}

func TestAddScoreNoisePreservesIdMultisetAndBoundsNoise(t *testing.T) {
	ranked := []model.ScoredItem{{ItemID: "1", Score: 1}, {ItemID: "2", Score: 2}}
	out, err := NewAddScoreNoise().Apply(context.Background(), &model.UserContext{}, ranked)
	require.NoError(t, err)
	assert.ElementsMatch(t, idSet(ranked), idSet(out))
	for _, it := range out {
		var base float64
		for _, r := range ranked {
			if r.ItemID == it.ItemID {
				base = r.Score
			}
		}
		assert.GreaterOrEqual(t, it.Score, base)
		assert.Less(t, it.Score, base+0.01)
	}
}

func TestResortOrdersDescendingWithIdTiebreak(t *testing.T) {
	items := []model.ScoredItem{{ItemID: "z", Score: 1}, {ItemID: "a", Score: 1}, {ItemID: "b", Score: 2}}
	resort(items)
	assert.Equal(t, []model.ItemId{"b", "a", "z"}, idSetOrdered(items))
}

func idSetOrdered(items []model.ScoredItem) []model.ItemId {
	out := make([]model.ItemId, len(items))
	for i, it := range items {
		out[i] = it.ItemID
	}
	return out
}
