package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mikeydub/curation-recs/internal/batch"
	"github.com/mikeydub/curation-recs/internal/cache"
	"github.com/mikeydub/curation-recs/internal/config"
	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/store/mongo"
	"github.com/mikeydub/curation-recs/internal/store/portfolio"
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

	portfolioClient := portfolio.NewClient(cfg.PortfolioAPIURL, cfg.PortfolioAPITimeout, cfg.PortfolioAPIRetries)

	rateLimitCache := cache.NewCache(ctx, cfg.RedisURL, cfg.RedisPass, cache.PortfolioRateLimit)
	defer rateLimitCache.Close()

	pipeline := batch.New(cfg, store, searchClient, portfolioClient)
	pipeline.PortfolioLimiter = cache.NewKeyRateLimiter(rateLimitCache, "batch-portfolio", 10, time.Second)
	if err := pipeline.Run(ctx); err != nil {
		logger.For(ctx).WithError(err).Error("batch run failed")
		panic(err)
	}
}
