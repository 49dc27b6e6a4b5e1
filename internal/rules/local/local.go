// Package local implements the batch pipeline's LocalRules: per-user
// candidate pools.
package local

import (
	"context"

	"github.com/mikeydub/curation-recs/internal/model"
	"github.com/mikeydub/curation-recs/internal/rules"
)

// marketTopic is the broad-topic label used for market-commentary content.
const marketTopic = "market"

// MarketContentRule selects content tagged with the broad "market" topic.
type MarketContentRule struct{}

func (MarketContentRule) Name() string { return "local_market_content" }

func (MarketContentRule) Apply(ctx context.Context, user model.UserProfile, lctx rules.LocalContext) ([]model.ItemId, error) {
	var out []model.ItemId
	for _, c := range lctx.Contents {
		if c.BTopic == marketTopic {
			out = append(out, c.ItemID)
		}
	}
	return out, nil
}

// OwnedStockLabelRule selects content whose label is one of the user's
// owned stocks.
type OwnedStockLabelRule struct{}

func (OwnedStockLabelRule) Name() string { return "local_owned_stock_label" }

func (OwnedStockLabelRule) Apply(ctx context.Context, user model.UserProfile, lctx rules.LocalContext) ([]model.ItemId, error) {
	if len(lctx.OwnedStocks) == 0 {
		return nil, nil
	}
	var out []model.ItemId
	for _, c := range lctx.Contents {
		if c.Label == "" {
			continue
		}
		if _, ok := lctx.OwnedStocks[c.Label]; ok {
			out = append(out, c.ItemID)
		}
	}
	return out, nil
}

// SectorThemeContentRule selects content labeled with a stock that shares a
// sector or theme with one of the user's owned stocks.
type SectorThemeContentRule struct{}

func (SectorThemeContentRule) Name() string { return "local_sector_theme_content" }

func (SectorThemeContentRule) Apply(ctx context.Context, user model.UserProfile, lctx rules.LocalContext) ([]model.ItemId, error) {
	if len(lctx.OwnedStocks) == 0 || len(lctx.StockMeta) == 0 {
		return nil, nil
	}

	userSectors := make(map[string]struct{})
	userThemes := make(map[string]struct{})
	for code := range lctx.OwnedStocks {
		meta, ok := lctx.StockMeta[code]
		if !ok {
			continue
		}
		if meta.Sector != "" {
			userSectors[meta.Sector] = struct{}{}
		}
		for _, t := range meta.Themes {
			userThemes[t] = struct{}{}
		}
	}
	if len(userSectors) == 0 && len(userThemes) == 0 {
		return nil, nil
	}

	var out []model.ItemId
	for _, c := range lctx.Contents {
		if c.Label == "" {
			continue
		}
		meta, ok := lctx.StockMeta[c.Label]
		if !ok {
			continue
		}
		if _, ok := userSectors[meta.Sector]; ok {
			out = append(out, c.ItemID)
			continue
		}
		for _, t := range meta.Themes {
			if _, ok := userThemes[t]; ok {
				out = append(out, c.ItemID)
				break
			}
		}
	}
	return out, nil
}

// PortfolioSectorContentRule selects content whose sector matches one of
// the sectors reported in the user's portfolio. The pipeline fetches the
// portfolio once per user and shares it through LocalContext; this rule is
// the consumer.
type PortfolioSectorContentRule struct{}

func (PortfolioSectorContentRule) Name() string { return "local_portfolio_sector_content" }

func (PortfolioSectorContentRule) Apply(ctx context.Context, user model.UserProfile, lctx rules.LocalContext) ([]model.ItemId, error) {
	if len(lctx.PortfolioData.SectorWeight) == 0 {
		return nil, nil
	}
	var out []model.ItemId
	for _, c := range lctx.Contents {
		if c.Sector == "" {
			continue
		}
		if _, ok := lctx.PortfolioData.SectorWeight[c.Sector]; ok {
			out = append(out, c.ItemID)
		}
	}
	return out, nil
}

// All returns the declared-order list of local rules the batch pipeline
// composes.
func All() []rules.LocalRule {
	return []rules.LocalRule{
		MarketContentRule{},
		OwnedStockLabelRule{},
		SectorThemeContentRule{},
		PortfolioSectorContentRule{},
	}
}
