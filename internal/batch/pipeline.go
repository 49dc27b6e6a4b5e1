// Package batch is the batch candidate generator: it assembles a
// GlobalContext once per run, computes the global and other pools, then
// fans out per-user local-pool and portfolio work across a bounded worker
// pool before persisting one CandidateRecord per customer.
package batch

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gammazero/workerpool"
	"golang.org/x/sync/errgroup"

	"github.com/mikeydub/curation-recs/internal/cache"
	"github.com/mikeydub/curation-recs/internal/cf"
	"github.com/mikeydub/curation-recs/internal/config"
	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/model"
	"github.com/mikeydub/curation-recs/internal/rules"
	"github.com/mikeydub/curation-recs/internal/rules/global"
	"github.com/mikeydub/curation-recs/internal/rules/local"
	"github.com/mikeydub/curation-recs/internal/store/portfolio"
)

// ContentStore is the subset of internal/store/mongo.Store the pipeline
// depends on, narrowed so tests can supply a fake.
type ContentStore interface {
	LoadUsers(ctx context.Context) (<-chan model.UserProfile, <-chan error)
	LoadContents(ctx context.Context) (<-chan model.ContentMeta, <-chan error)
	SaveCandidates(ctx context.Context, records []model.CandidateRecord, batchSize int) (bool, error)
}

// InteractionSource is the subset of internal/store/search.Client the
// pipeline depends on for interactions and quotes.
type InteractionSource interface {
	LoadInteractions(ctx context.Context, days int) (map[model.CustomerId][]model.ItemId, error)
	FetchLatestQuotes(ctx context.Context, daysBack, maxRecords int, allowedCountries map[string]struct{}) ([]model.QuoteRecord, error)
}

// PortfolioSource is the subset of internal/store/portfolio.Client the
// pipeline depends on.
type PortfolioSource interface {
	FetchPortfolio(ctx context.Context, custNo model.CustomerId) (model.PortfolioData, error)
}

var allowedQuoteCountries = map[string]struct{}{"Korea": {}, "USA": {}}

// Pipeline owns one batch run's dependencies.
type Pipeline struct {
	Cfg         *config.Config
	Store       ContentStore
	Search      InteractionSource
	Portfolio   PortfolioSource
	GlobalRules []rules.GlobalRule
	LocalRules  []rules.LocalRule

	// PortfolioLimiter, when set, bounds the rate of portfolio-API calls
	// this run issues across all per-user workers (internal/cache's
	// redis-backed token bucket). A limited
	// key simply skips that user's portfolio enrichment for this run.
	PortfolioLimiter *cache.KeyRateLimiter
}

// New wires the default rule set. Composition is an explicit ordered list,
// not a registry: the order rules run in is visible right here.
func New(cfg *config.Config, store ContentStore, search InteractionSource, pf PortfolioSource) *Pipeline {
	return &Pipeline{
		Cfg:       cfg,
		Store:     store,
		Search:    search,
		Portfolio: pf,
		GlobalRules: []rules.GlobalRule{
			global.NewStockTopReturnRule(),
		},
		LocalRules: local.All(),
	}
}

// Run executes one full batch pass: load, compute, persist. It installs its
// own SIGINT/SIGTERM handler so an in-flight run drains its worker pool and
// persists whatever candidates it finished rather than dying mid-write.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	logger.For(ctx).Info("batch run starting")

	var contents []model.ContentMeta
	var users []model.UserProfile
	var interactions map[model.CustomerId][]model.ItemId
	var quotes []model.QuoteRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, errc := p.Store.LoadContents(gctx)
		for meta := range c {
			contents = append(contents, meta)
		}
		return drainErr(errc)
	})
	g.Go(func() error {
		u, errc := p.Store.LoadUsers(gctx)
		for up := range u {
			users = append(users, up)
		}
		return drainErr(errc)
	})
	g.Go(func() error {
		var err error
		interactions, err = p.Search.LoadInteractions(gctx, p.Cfg.InteractionLookbackDays)
		return err
	})
	g.Go(func() error {
		var err error
		quotes, err = p.Search.FetchLatestQuotes(gctx, 5, 500, allowedQuoteCountries)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.For(ctx).WithField("users", len(users)).WithField("contents", len(contents)).
		WithField("quotes", len(quotes)).Info("batch inputs loaded")

	cfModel := cf.New(p.Cfg.CFMinCoOccurrence)
	cfModel.Build(interactions)

	stockMeta := buildStockMeta(contents)
	gctxData := rules.GlobalContext{Contents: contents, Quotes: quotes, StockMeta: stockMeta}

	globalPool := p.computeGlobalPool(ctx, gctxData)
	otherPool, err := global.NewTopLikeContentRule().Apply(ctx, gctxData)
	if err != nil {
		logger.For(ctx).WithError(err).Warn("other-pool rule failed, continuing with empty other pool")
		otherPool = nil
	}

	records := p.computeCandidates(ctx, users, gctxData, interactions, cfModel, globalPool, otherPool)

	degraded, err := p.Store.SaveCandidates(ctx, records, p.Cfg.BatchSaveBatchSize)
	if err != nil {
		return err
	}
	logger.For(ctx).WithField("records", len(records)).WithField("degraded", degraded).
		WithField("duration_ms", time.Since(started).Milliseconds()).Info("batch run complete")
	return nil
}

func drainErr(errc <-chan error) error {
	for err := range errc {
		return err
	}
	return nil
}

func (p *Pipeline) computeGlobalPool(ctx context.Context, gctxData rules.GlobalContext) []model.ItemId {
	seen := make(map[model.ItemId]struct{})
	var out []model.ItemId
	for _, r := range p.GlobalRules {
		start := time.Now()
		ids, err := r.Apply(ctx, gctxData)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("rule", r.Name()).Warn("global rule failed, skipping")
			continue
		}
		logger.RuleInvocation(ctx, r.Name(), "", len(gctxData.Contents), len(ids), start)
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// computeCandidates fans per-user work across a bounded worker pool: local
// pool composition, portfolio enrichment, CF scoring, and source-weighted
// combination. A pool size of 0 or less means runtime.NumCPU() workers.
func (p *Pipeline) computeCandidates(
	ctx context.Context,
	users []model.UserProfile,
	gctxData rules.GlobalContext,
	interactions map[model.CustomerId][]model.ItemId,
	cfModel *cf.Model,
	globalPool, otherPool []model.ItemId,
) []model.CandidateRecord {
	poolSize := p.Cfg.BatchWorkerPoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	wp := workerpool.New(poolSize)

	var mu sync.Mutex
	records := make([]model.CandidateRecord, 0, len(users))
	now := time.Now()

	for _, user := range users {
		user := user
		wp.Submit(func() {
			rec := p.buildUserCandidates(ctx, user, gctxData, interactions[user.CustNo], cfModel, globalPool, otherPool, now)
			if len(rec.CurationList) == 0 {
				return
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
		})
	}
	wp.StopWait()
	return records
}

func (p *Pipeline) buildUserCandidates(
	ctx context.Context,
	user model.UserProfile,
	gctxData rules.GlobalContext,
	history []model.ItemId,
	cfModel *cf.Model,
	globalPool, otherPool []model.ItemId,
	now time.Time,
) model.CandidateRecord {
	ownedStocks := make(map[model.StockCode]struct{}, len(user.Concerns))
	for _, c := range user.Concerns {
		if c.StkName != "" {
			ownedStocks[model.StockCode(c.StkName)] = struct{}{}
		}
	}

	var portfolioData model.PortfolioData
	if p.Portfolio != nil && p.portfolioAllowed(ctx, user.CustNo) {
		if pd, err := p.Portfolio.FetchPortfolio(ctx, user.CustNo); err == nil {
			portfolioData = pd
		}
	}

	lctx := rules.LocalContext{GlobalContext: gctxData, OwnedStocks: ownedStocks, PortfolioData: portfolioData}
	localPool := p.computeLocalPool(ctx, user, lctx)

	scores := make(map[model.ItemId]float64)
	addWeighted(scores, globalPool, p.Cfg.SourceWeights.Global)
	addWeighted(scores, localPool, p.Cfg.SourceWeights.Local)
	addWeighted(scores, otherPool, p.Cfg.SourceWeights.Other)

	if cfModel.IsReady() && p.Cfg.CFWeight != 0 {
		candidateSet := make(map[model.ItemId]struct{}, len(scores))
		for id := range scores {
			candidateSet[id] = struct{}{}
		}
		cfScores := cfModel.Scores(history, candidateSet, p.Cfg.CFUserHistoryLimit)
		for id, s := range cfScores {
			scores[id] += s * p.Cfg.CFWeight
		}
	}

	list := make([]model.ScoredItem, 0, len(scores))
	for id, s := range scores {
		if s < p.Cfg.MinScoreThreshold {
			continue
		}
		list = append(list, model.ScoredItem{ItemID: id, Score: s})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].ItemID < list[j].ItemID
	})
	if p.Cfg.MaxCandidatesPerUser > 0 && len(list) > p.Cfg.MaxCandidatesPerUser {
		list = list[:p.Cfg.MaxCandidatesPerUser]
	}

	return model.CandidateRecord{CustNo: user.CustNo, CurationList: list, CreateDt: now, ModiDt: now}
}

func (p *Pipeline) computeLocalPool(ctx context.Context, user model.UserProfile, lctx rules.LocalContext) []model.ItemId {
	seen := make(map[model.ItemId]struct{})
	var out []model.ItemId
	for _, r := range p.LocalRules {
		start := time.Now()
		ids, err := r.Apply(ctx, user, lctx)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("rule", r.Name()).WithField("cust_no", string(user.CustNo)).
				Warn("local rule failed, skipping")
			continue
		}
		logger.RuleInvocation(ctx, r.Name(), string(user.CustNo), len(lctx.Contents), len(ids), start)
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func addWeighted(scores map[model.ItemId]float64, ids []model.ItemId, weight float64) {
	if weight == 0 {
		return
	}
	for _, id := range ids {
		scores[id] += weight
	}
}

func buildStockMeta(contents []model.ContentMeta) map[model.StockCode]rules.StockMetaEntry {
	out := make(map[model.StockCode]rules.StockMetaEntry)
	for _, c := range contents {
		if c.Label == "" {
			continue
		}
		entry, ok := out[c.Label]
		if !ok {
			entry = rules.StockMetaEntry{Sector: c.Sector}
		}
		for _, t := range c.Themes {
			if !containsString(entry.Themes, t) {
				entry.Themes = append(entry.Themes, t)
			}
		}
		out[c.Label] = entry
	}
	return out
}

// portfolioAllowed reports whether this customer's portfolio fetch is
// within the shared rate limit. A nil limiter (the common unit-test path)
// always allows the fetch; a limiter error degrades to "not allowed" rather
// than risking an unbounded retry storm against the external API.
func (p *Pipeline) portfolioAllowed(ctx context.Context, custNo model.CustomerId) bool {
	if p.PortfolioLimiter == nil {
		return true
	}
	ok, _, err := p.PortfolioLimiter.ForKey(ctx, string(custNo))
	if err != nil {
		return false
	}
	return ok
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

var _ PortfolioSource = (*portfolio.Client)(nil)
