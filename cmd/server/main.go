package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mikeydub/curation-recs/internal/cache"
	"github.com/mikeydub/curation-recs/internal/config"
	"github.com/mikeydub/curation-recs/internal/httpserver"
	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/online/coalesce"
	onlinecontext "github.com/mikeydub/curation-recs/internal/online/context"
	"github.com/mikeydub/curation-recs/internal/online/ranking"
	"github.com/mikeydub/curation-recs/internal/rules"
	"github.com/mikeydub/curation-recs/internal/rules/postreorder"
	"github.com/mikeydub/curation-recs/internal/rules/prefilter"
	"github.com/mikeydub/curation-recs/internal/store/mongo"
	"github.com/mikeydub/curation-recs/internal/store/search"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()
	logger.InitDefaults()

	mongoClient, err := mongo.NewClient(ctx, config.RequireNonEmpty("MONGO_URI", cfg.MongoURI))
	if err != nil {
		fmt.Printf("error connecting to document store: %v\n", err)
		panic(err)
	}
	defer mongoClient.Disconnect(ctx)
	store := mongo.NewStore(mongoClient, cfg.MongoDB, cfg.BatchDegradedFallbackDir)

	searchClient, err := search.NewClient([]string{cfg.OpenSearchURL}, cfg.OpenSearchUser, cfg.OpenSearchPass)
	if err != nil {
		fmt.Printf("error creating search client: %v\n", err)
		panic(err)
	}

	seenItemsCache := cache.NewCache(ctx, cfg.RedisURL, cfg.RedisPass, cache.SeenItemsCache)
	defer seenItemsCache.Close()

	ctxFetcher := onlinecontext.New(store, searchClient, onlinecontext.UnknownSource{}, cfg.InteractionLookbackDays)
	ctxFetcher.Cache = seenItemsCache

	engine := ranking.New(
		store,
		ctxFetcher,
		[]rules.PreFilterRule{prefilter.ExcludeSeenItems{}},
		[]rules.PostReorderRule{
			postreorder.NewMarketCapRecencyRandom(),
			postreorder.BoostUserStocks{},
			postreorder.NewBoostTopReturnStock(),
			postreorder.NewAddScoreNoise(),
		},
		cfg.RecommendationCount,
	)

	coalescer := coalesce.New(engine, store, cfg.CoalesceInterval, cfg.BatchWorkerPoolSize, cfg.RecommendationCount)
	go coalescer.Run(ctx)

	router := httpserver.New(cfg, coalescer, "")

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.For(ctx).WithField("addr", addr).Info("listening")
	if err := http.ListenAndServe(addr, router); err != nil {
		panic(err)
	}
}
