// Package postreorder implements the online ranking engine's post-reorder
// rule stage. Every rule here preserves the multiset of item ids: it may
// only rescore and reorder.
package postreorder

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/mikeydub/curation-recs/internal/model"
)

// stdNormalCDF maps a z-score onto [0,1] via the standard-normal CDF.
func stdNormalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// zscores returns a new slice holding the z-score of each value; the input
// is left unchanged. A zero-variance input maps every value to 0.
func zscores(values []float64) []float64 {
	n := float64(len(values))
	if n == 0 {
		return values
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= n
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n
	stddev := math.Sqrt(variance)

	out := make([]float64, len(values))
	if stddev == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / stddev
	}
	return out
}

// MarketCapRecencyRandom combines the original score with normalized
// market-cap rank, normalized recency, and independent uniform noise, each
// z-score standardized then mapped to [0,1] via the standard-normal CDF.
// Missing market cap maps to 0; missing creation time maps to the oldest
// sentinel (time.Time{}).
type MarketCapRecencyRandom struct {
	// Weights for {score, market_cap, recency, noise}. Defaults to 1.0 each.
	ScoreWeight     float64
	MarketCapWeight float64
	RecencyWeight   float64
	NoiseWeight     float64
}

func NewMarketCapRecencyRandom() *MarketCapRecencyRandom {
	return &MarketCapRecencyRandom{ScoreWeight: 1.0, MarketCapWeight: 1.0, RecencyWeight: 1.0, NoiseWeight: 1.0}
}

func (MarketCapRecencyRandom) Name() string { return "MarketCapRecencyRandom" }

func (r *MarketCapRecencyRandom) Apply(ctx context.Context, uctx *model.UserContext, ranked []model.ScoredItem) ([]model.ScoredItem, error) {
	n := len(ranked)
	if n == 0 {
		return ranked, nil
	}

	rawScores := make([]float64, n)
	marketCaps := make([]float64, n)
	recencies := make([]float64, n)
	noise := make([]float64, n)

	for i, item := range ranked {
		rawScores[i] = item.Score

		meta := uctx.ContentMeta[item.ItemID]
		if meta.HasMarketCap && meta.MarketCap != nil {
			marketCaps[i] = *meta.MarketCap
		} else {
			marketCaps[i] = 0
		}

		if !meta.CreatedAt.IsZero() {
			recencies[i] = float64(meta.CreatedAt.Unix())
		} else {
			recencies[i] = 0 // oldest sentinel
		}

		noise[i] = rand.Float64()
	}

	// Market-cap rank: the number of items with a strictly smaller market
	// cap, so equal caps share a rank and the largest cap ranks highest.
	capRanks := make([]float64, n)
	for i := range marketCaps {
		for j := range marketCaps {
			if marketCaps[j] < marketCaps[i] {
				capRanks[i]++
			}
		}
	}

	zScore := zscores(rawScores)
	zCap := zscores(capRanks)
	zRecency := zscores(recencies)
	zNoise := zscores(noise)

	out := make([]model.ScoredItem, n)
	for i, item := range ranked {
		combined := r.ScoreWeight*stdNormalCDF(zScore[i]) +
			r.MarketCapWeight*stdNormalCDF(zCap[i]) +
			r.RecencyWeight*stdNormalCDF(zRecency[i]) +
			r.NoiseWeight*stdNormalCDF(zNoise[i])
		out[i] = model.ScoredItem{ItemID: item.ItemID, Score: combined}
	}

	resort(out)
	return out, nil
}

// stockBoostWeights are the multiplicative boosts applied by BoostUserStocks.
var stockBoostWeights = struct {
	Owned, Recent, Group1, Onboarding float64
}{Owned: 1.5, Recent: 1.3, Group1: 1.2, Onboarding: 1.1}

// BoostUserStocks multiplies an item's score by the maximum applicable
// factor among the sets the item's labeled stock belongs to.
type BoostUserStocks struct{}

func (BoostUserStocks) Name() string { return "BoostUserStocks" }

func (BoostUserStocks) Apply(ctx context.Context, uctx *model.UserContext, ranked []model.ScoredItem) ([]model.ScoredItem, error) {
	if len(uctx.OwnedStocks) == 0 && len(uctx.RecentStocks) == 0 && len(uctx.Group1Stocks) == 0 && len(uctx.OnboardingStocks) == 0 {
		return ranked, nil
	}

	out := make([]model.ScoredItem, len(ranked))
	for i, item := range ranked {
		meta, ok := uctx.ContentMeta[item.ItemID]
		boost := 1.0
		if ok && meta.Label != "" {
			if _, in := uctx.OwnedStocks[meta.Label]; in && stockBoostWeights.Owned > boost {
				boost = stockBoostWeights.Owned
			}
			if _, in := uctx.RecentStocks[meta.Label]; in && stockBoostWeights.Recent > boost {
				boost = stockBoostWeights.Recent
			}
			if _, in := uctx.Group1Stocks[meta.Label]; in && stockBoostWeights.Group1 > boost {
				boost = stockBoostWeights.Group1
			}
			if _, in := uctx.OnboardingStocks[meta.Label]; in && stockBoostWeights.Onboarding > boost {
				boost = stockBoostWeights.Onboarding
			}
		}
		out[i] = model.ScoredItem{ItemID: item.ItemID, Score: item.Score * boost}
	}

	resort(out)
	return out, nil
}

// BoostTopReturnStock finds the owned stock with the highest 1-month
// return (falling back to 1-day), and doubles the score of items labeled
// with it.
type BoostTopReturnStock struct {
	BoostFactor float64
}

func NewBoostTopReturnStock() *BoostTopReturnStock {
	return &BoostTopReturnStock{BoostFactor: 2.0}
}

func (BoostTopReturnStock) Name() string { return "BoostTopReturnStock" }

func (r *BoostTopReturnStock) Apply(ctx context.Context, uctx *model.UserContext, ranked []model.ScoredItem) ([]model.ScoredItem, error) {
	if len(uctx.OwnedStocks) == 0 || len(uctx.OwnedStockReturns) == 0 {
		return ranked, nil
	}

	var topStock model.StockCode
	maxReturn := math.Inf(-1)
	for code := range uctx.OwnedStocks {
		ret, ok := uctx.OwnedStockReturns[code]
		if !ok {
			continue
		}
		var current *float64
		if ret.OneMonth != nil {
			current = ret.OneMonth
		} else {
			current = ret.OneDay
		}
		if current != nil && *current > maxReturn {
			maxReturn = *current
			topStock = code
		}
	}
	if topStock == "" {
		return ranked, nil
	}

	boostFactor := r.BoostFactor
	if boostFactor == 0 {
		boostFactor = 2.0
	}

	out := make([]model.ScoredItem, len(ranked))
	for i, item := range ranked {
		meta, ok := uctx.ContentMeta[item.ItemID]
		if ok && meta.Label == topStock {
			out[i] = model.ScoredItem{ItemID: item.ItemID, Score: item.Score * boostFactor}
		} else {
			out[i] = item
		}
	}

	resort(out)
	return out, nil
}

// AddScoreNoise adds uniform(0, 0.01) noise to every score for stable
// diversity. Must always run last; preserves the id multiset exactly.
type AddScoreNoise struct {
	NoiseLevel float64
}

func NewAddScoreNoise() *AddScoreNoise {
	return &AddScoreNoise{NoiseLevel: 0.01}
}

func (AddScoreNoise) Name() string { return "AddScoreNoise" }

func (r *AddScoreNoise) Apply(ctx context.Context, uctx *model.UserContext, ranked []model.ScoredItem) ([]model.ScoredItem, error) {
	level := r.NoiseLevel
	if level == 0 {
		level = 0.01
	}
	out := make([]model.ScoredItem, len(ranked))
	for i, item := range ranked {
		out[i] = model.ScoredItem{ItemID: item.ItemID, Score: item.Score + rand.Float64()*level}
	}
	resort(out)
	return out, nil
}

// resort re-sorts descending by score with id-ascending tie-break, the
// engine's required ordering after every post-reorder rule.
func resort(items []model.ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID < items[j].ItemID
	})
}
