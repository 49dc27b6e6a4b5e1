// Package global implements the batch pipeline's GlobalRules: candidate
// pools that don't depend on any single user.
package global

import (
	"context"
	"sort"

	"github.com/mikeydub/curation-recs/internal/model"
	"github.com/mikeydub/curation-recs/internal/rules"
)

// allowedCountries restricts the top-return rule to the markets the daily
// screens cover (Korea, USA).
var allowedCountries = map[string]struct{}{"Korea": {}, "USA": {}}

// StockTopReturnRule selects content labeled with one of the day's top-10
// movers in the allowed markets.
type StockTopReturnRule struct {
	TopN int
}

func NewStockTopReturnRule() *StockTopReturnRule {
	return &StockTopReturnRule{TopN: 10}
}

func (r *StockTopReturnRule) Name() string { return "global_stock_top_return" }

func (r *StockTopReturnRule) Apply(ctx context.Context, gctx rules.GlobalContext) ([]model.ItemId, error) {
	quotes := make([]model.QuoteRecord, 0, len(gctx.Quotes))
	for _, q := range gctx.Quotes {
		if _, ok := allowedCountries[q.Country]; ok {
			quotes = append(quotes, q)
		}
	}
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].OneDayReturn > quotes[j].OneDayReturn })
	topN := r.TopN
	if topN > len(quotes) {
		topN = len(quotes)
	}
	topCodes := make(map[model.StockCode]struct{}, topN)
	for _, q := range quotes[:topN] {
		topCodes[q.Code] = struct{}{}
	}

	var out []model.ItemId
	for _, c := range gctx.Contents {
		if c.Label == "" {
			continue
		}
		if _, ok := topCodes[c.Label]; ok {
			out = append(out, c.ItemID)
		}
	}
	return out, nil
}

// TopLikeContentRule selects the most-liked content overall. Its output
// feeds the "other" pool and is kept out of the global-pool union because
// it's weighted differently.
type TopLikeContentRule struct {
	TopN int
}

func NewTopLikeContentRule() *TopLikeContentRule {
	return &TopLikeContentRule{TopN: 10}
}

func (r *TopLikeContentRule) Name() string { return "global_top_like_content" }

func (r *TopLikeContentRule) Apply(ctx context.Context, gctx rules.GlobalContext) ([]model.ItemId, error) {
	contents := append([]model.ContentMeta(nil), gctx.Contents...)
	sort.SliceStable(contents, func(i, j int) bool {
		return len(contents[i].LikedUsers) > len(contents[j].LikedUsers)
	})
	topN := r.TopN
	if topN > len(contents) {
		topN = len(contents)
	}
	out := make([]model.ItemId, 0, topN)
	for _, c := range contents[:topN] {
		out = append(out, c.ItemID)
	}
	return out, nil
}
