package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/curation-recs/internal/model"
	"github.com/mikeydub/curation-recs/internal/rules"
)

func TestMarketContentRuleSelectsMarketTopic(t *testing.T) {
	contents := []model.ContentMeta{
		{ItemID: "1", BTopic: "market"},
		{ItemID: "2", BTopic: "earnings"},
	}
	out, err := MarketContentRule{}.Apply(context.Background(), model.UserProfile{}, rules.LocalContext{
		GlobalContext: rules.GlobalContext{Contents: contents},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.ItemId{"1"}, out)
}

func TestOwnedStockLabelRuleEmptyWhenNoOwnedStocks(t *testing.T) {
	out, err := OwnedStockLabelRule{}.Apply(context.Background(), model.UserProfile{}, rules.LocalContext{
		GlobalContext: rules.GlobalContext{Contents: []model.ContentMeta{{ItemID: "1", Label: "A"}}},
	})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestOwnedStockLabelRuleMatchesLabel(t *testing.T) {
	contents := []model.ContentMeta{
		{ItemID: "1", Label: "A"},
		{ItemID: "2", Label: "B"},
		{ItemID: "3", Label: ""},
	}
	out, err := OwnedStockLabelRule{}.Apply(context.Background(), model.UserProfile{}, rules.LocalContext{
		GlobalContext: rules.GlobalContext{Contents: contents},
		OwnedStocks:   map[model.StockCode]struct{}{"A": {}},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.ItemId{"1"}, out)
}

func TestSectorThemeContentRuleMatchesSectorOrTheme(t *testing.T) {
	stockMeta := map[model.StockCode]rules.StockMetaEntry{
		"OWNED":       {Sector: "Tech", Themes: []string{"AI"}},
		"SAME_SECTOR": {Sector: "Tech"},
		"SAME_THEME":  {Themes: []string{"AI"}},
		"UNRELATED":   {Sector: "Energy"},
	}
	contents := []model.ContentMeta{
		{ItemID: "sector-match", Label: "SAME_SECTOR"},
		{ItemID: "theme-match", Label: "SAME_THEME"},
		{ItemID: "no-match", Label: "UNRELATED"},
		{ItemID: "unlabeled", Label: ""},
	}
	out, err := SectorThemeContentRule{}.Apply(context.Background(), model.UserProfile{}, rules.LocalContext{
		GlobalContext: rules.GlobalContext{Contents: contents, StockMeta: stockMeta},
		OwnedStocks:   map[model.StockCode]struct{}{"OWNED": {}},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.ItemId{"sector-match", "theme-match"}, out)
}

func TestSectorThemeContentRuleEmptyWhenNoOwnedStocks(t *testing.T) {
	out, err := SectorThemeContentRule{}.Apply(context.Background(), model.UserProfile{}, rules.LocalContext{
		GlobalContext: rules.GlobalContext{StockMeta: map[model.StockCode]rules.StockMetaEntry{"A": {Sector: "Tech"}}},
	})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestAllReturnsDeclaredOrder(t *testing.T) {
	all := All()
	require.Len(t, all, 4)
	assert.Equal(t, "local_market_content", all[0].Name())
	assert.Equal(t, "local_owned_stock_label", all[1].Name())
	assert.Equal(t, "local_sector_theme_content", all[2].Name())
	assert.Equal(t, "local_portfolio_sector_content", all[3].Name())
}

func TestPortfolioSectorContentRuleNoOpWithoutPortfolioData(t *testing.T) {
	out, err := PortfolioSectorContentRule{}.Apply(context.Background(), model.UserProfile{}, rules.LocalContext{
		GlobalContext: rules.GlobalContext{Contents: []model.ContentMeta{{ItemID: "1", Sector: "Tech"}}},
	})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPortfolioSectorContentRuleMatchesSector(t *testing.T) {
	lctx := rules.LocalContext{
		GlobalContext: rules.GlobalContext{Contents: []model.ContentMeta{
			{ItemID: "1", Sector: "Tech"},
			{ItemID: "2", Sector: "Energy"},
			{ItemID: "3", Sector: ""},
		}},
		PortfolioData: model.PortfolioData{SectorWeight: map[string]float64{"Tech": 0.5}},
	}
	out, err := PortfolioSectorContentRule{}.Apply(context.Background(), model.UserProfile{}, lctx)
	require.NoError(t, err)
	assert.Equal(t, []model.ItemId{"1"}, out)
}
