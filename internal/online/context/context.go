// Package onlinecontext is the online context fetcher: concurrent hydration
// of everything the ranking engine needs for one customer.
package onlinecontext

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeydub/curation-recs/internal/cache"
	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/model"
)

const (
	seenItemsPerIndexTimeout   = 500 * time.Millisecond
	stockReturnPerStockTimeout = 800 * time.Millisecond
	seenItemsCacheTTL          = 5 * time.Minute
)

// ProfileSource is the subset of internal/store/mongo.Store this package
// depends on.
type ProfileSource interface {
	LoadCandidate(ctx context.Context, custNo model.CustomerId) (model.CandidateRecord, bool, error)
	FetchContentMetaByIDs(ctx context.Context, ids []model.ItemId) (map[model.ItemId]model.ContentMeta, error)
	LoadUserProfile(ctx context.Context, custNo model.CustomerId) (model.UserProfile, error)
}

// SeenItemsSource is the subset of internal/store/search.Client this
// package depends on for seen-items and stock returns.
type SeenItemsSource interface {
	LoadSeenItems(ctx context.Context, custNo model.CustomerId, days int, perIndexTimeout time.Duration) (map[model.ItemId]struct{}, error)
	FetchStockReturns(ctx context.Context, codes map[model.StockCode]struct{}, perStockTimeout time.Duration) (map[model.StockCode]model.StockReturn, error)
}

// StockAffinitySource supplies the four named stock-affinity sets. These
// come from an upstream system this service doesn't own; the interface
// exists so a real loader can be wired in without the ranking engine ever
// fabricating a default.
type StockAffinitySource interface {
	FetchAffinities(ctx context.Context, custNo model.CustomerId) (owned, recent, group1, onboarding map[model.StockCode]struct{}, err error)
}

// UnknownSource is the placeholder StockAffinitySource: it returns four
// empty sets and logs at debug level on every call, rather than inventing
// stock ownership data.
type UnknownSource struct{}

func (UnknownSource) FetchAffinities(ctx context.Context, custNo model.CustomerId) (map[model.StockCode]struct{}, map[model.StockCode]struct{}, map[model.StockCode]struct{}, map[model.StockCode]struct{}, error) {
	logger.For(ctx).WithField("cust_no", string(custNo)).Debug("stock-affinity source unavailable, using empty sets")
	return map[model.StockCode]struct{}{}, map[model.StockCode]struct{}{}, map[model.StockCode]struct{}{}, map[model.StockCode]struct{}{}, nil
}

// Fetcher hydrates a UserContext for one customer.
type Fetcher struct {
	Profiles              ProfileSource
	SeenItems             SeenItemsSource
	Affinities            StockAffinitySource
	SeenItemsLookbackDays int

	// Cache, when set, fronts the seen-items index scan with a short-lived
	// redis read-through cache (internal/cache.SeenItemsCache) so repeat
	// requests for the same customer within the TTL skip the per-index scan.
	Cache *cache.Cache
}

func New(profiles ProfileSource, seenItems SeenItemsSource, affinities StockAffinitySource, lookbackDays int) *Fetcher {
	if affinities == nil {
		affinities = UnknownSource{}
	}
	return &Fetcher{Profiles: profiles, SeenItems: seenItems, Affinities: affinities, SeenItemsLookbackDays: lookbackDays}
}

// FetchUserContext hydrates the per-request UserContext except content_meta,
// which depends on the candidate ids the ranking engine resolves afterward
// (see AttachContentMeta). Every sub-fetch degrades to its empty default on
// failure; this method itself only fails on context cancellation.
func (f *Fetcher) FetchUserContext(ctx context.Context, custNo model.CustomerId) (*model.UserContext, error) {
	uctx := &model.UserContext{
		CustNo:            custNo,
		SeenItems:         map[model.ItemId]struct{}{},
		OwnedStocks:       map[model.StockCode]struct{}{},
		RecentStocks:      map[model.StockCode]struct{}{},
		Group1Stocks:      map[model.StockCode]struct{}{},
		OnboardingStocks:  map[model.StockCode]struct{}{},
		OwnedStockReturns: map[model.StockCode]model.StockReturn{},
		ContentMeta:       map[model.ItemId]model.ContentMeta{},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		seen, err := f.loadSeenItemsCached(gctx, custNo)
		if err != nil {
			logger.For(gctx).WithError(err).Warn("seen-items fetch degraded to empty")
			return nil
		}
		uctx.SeenItems = seen
		return nil
	})

	g.Go(func() error {
		owned, recent, group1, onboarding, err := f.Affinities.FetchAffinities(gctx, custNo)
		if err != nil {
			logger.For(gctx).WithError(err).Warn("stock-affinity fetch degraded to empty")
			return nil
		}
		uctx.OwnedStocks = owned
		uctx.RecentStocks = recent
		uctx.Group1Stocks = group1
		uctx.OnboardingStocks = onboarding
		return nil
	})

	g.Go(func() error {
		profile, err := f.Profiles.LoadUserProfile(gctx, custNo)
		if err != nil {
			logger.For(gctx).WithError(err).Warn("user-profile fetch degraded to empty")
			return nil
		}
		uctx.Profile = profile
		return nil
	})

	if err := g.Wait(); err != nil {
		return uctx, err
	}
	if err := ctx.Err(); err != nil {
		return uctx, err
	}

	if len(uctx.OwnedStocks) > 0 {
		returns, err := f.SeenItems.FetchStockReturns(ctx, uctx.OwnedStocks, stockReturnPerStockTimeout)
		if err != nil {
			logger.For(ctx).WithError(err).Warn("owned-stock-returns fetch degraded to empty")
		} else {
			uctx.OwnedStockReturns = returns
		}
	}

	return uctx, nil
}

// AttachContentMeta fetches content metadata for the given ids and attaches
// it to uctx. Runs only once the surviving candidate ids are known.
func (f *Fetcher) AttachContentMeta(ctx context.Context, uctx *model.UserContext, ids []model.ItemId) error {
	meta, err := f.Profiles.FetchContentMetaByIDs(ctx, ids)
	if err != nil {
		logger.For(ctx).WithError(err).Warn("content-meta fetch degraded to empty")
		return nil
	}
	uctx.ContentMeta = meta
	return nil
}

// loadSeenItemsCached checks the redis seen-items cache before falling back
// to the index scan, and populates the cache on a miss. A cache error of
// any kind (including a plain miss) is transparent; it just means the scan
// runs.
func (f *Fetcher) loadSeenItemsCached(ctx context.Context, custNo model.CustomerId) (map[model.ItemId]struct{}, error) {
	if f.Cache != nil {
		if raw, err := f.Cache.Get(ctx, string(custNo)); err == nil {
			var ids []string
			if jsonErr := json.Unmarshal(raw, &ids); jsonErr == nil {
				out := make(map[model.ItemId]struct{}, len(ids))
				for _, id := range ids {
					out[model.ItemId(id)] = struct{}{}
				}
				return out, nil
			}
		}
	}

	seen, err := f.SeenItems.LoadSeenItems(ctx, custNo, f.SeenItemsLookbackDays, seenItemsPerIndexTimeout)
	if err != nil {
		return nil, err
	}

	if f.Cache != nil {
		ids := make([]string, 0, len(seen))
		for id := range seen {
			ids = append(ids, string(id))
		}
		if raw, mErr := json.Marshal(ids); mErr == nil {
			if setErr := f.Cache.Set(ctx, string(custNo), raw, seenItemsCacheTTL); setErr != nil {
				logger.For(ctx).WithError(setErr).Debug("seen-items cache write failed")
			}
		}
	}
	return seen, nil
}
