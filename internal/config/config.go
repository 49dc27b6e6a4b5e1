// Package config loads the recommender's configuration surface from the
// environment via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	appEnv = "APP_ENV"
	port   = "PORT"

	mongoURI       = "MONGO_URI"
	mongoDB        = "MONGO_DB_NAME"
	openSearchURL  = "OPENSEARCH_URL"
	openSearchUser = "OPENSEARCH_USER"
	openSearchPass = "OPENSEARCH_PASS"
	redisURL       = "REDIS_URL"
	redisPass      = "REDIS_PASS"

	portfolioAPIURL       = "PORTFOLIO_API_URL"
	portfolioAPIRetries   = "PORTFOLIO_API_RETRIES"
	portfolioAPITimeoutMs = "PORTFOLIO_API_TIMEOUT_MS"

	sourceWeightGlobal   = "SOURCE_WEIGHT_GLOBAL"
	sourceWeightLocal    = "SOURCE_WEIGHT_LOCAL"
	sourceWeightOther    = "SOURCE_WEIGHT_OTHER"
	cfWeight             = "CF_WEIGHT"
	cbWeight             = "CB_WEIGHT"
	minScoreThreshold    = "MIN_SCORE_THRESHOLD"
	maxCandidatesPerUser = "MAX_CANDIDATES_PER_USER"
	cfUserHistoryLimit   = "CF_USER_HISTORY_LIMIT"
	cfMinCoOccurrence    = "CF_MIN_CO_OCCURRENCE"

	recommendationCount     = "RECOMMENDATION_COUNT"
	coalesceIntervalMs      = "COALESCE_INTERVAL_MS"
	interactionLookbackDays = "INTERACTION_LOOKBACK_DAYS"

	batchSaveBatchSize       = "BATCH_SAVE_BATCH_SIZE"
	batchWorkerPoolSize      = "BATCH_WORKER_POOL_SIZE"
	batchDegradedFallbackDir = "BATCH_DEGRADED_FALLBACK_DIR"
)

// SourceWeights holds the per-pool weights used in batch score combination.
type SourceWeights struct {
	Global float64
	Local  float64
	Other  float64
}

// Config is the full configuration surface for both the batch job and the
// online service.
type Config struct {
	AppEnv string
	Port   int

	MongoURI string
	MongoDB  string

	OpenSearchURL  string
	OpenSearchUser string
	OpenSearchPass string

	RedisURL  string
	RedisPass string

	PortfolioAPIURL     string
	PortfolioAPIRetries int
	PortfolioAPITimeout time.Duration

	SourceWeights        SourceWeights
	CFWeight             float64
	CBWeight             float64
	MinScoreThreshold    float64
	MaxCandidatesPerUser int
	CFUserHistoryLimit   int
	CFMinCoOccurrence    int

	RecommendationCount     int
	CoalesceInterval        time.Duration
	InteractionLookbackDays int

	BatchSaveBatchSize       int
	BatchWorkerPoolSize      int
	BatchDegradedFallbackDir string
}

// Load reads configuration from the environment, falling back to the
// defaults below. It never returns an error: a missing value that has no
// sane default is a ConfigMissing condition the caller surfaces explicitly
// (see internal/config.RequireNonEmpty).
func Load() *Config {
	viper.SetDefault(appEnv, "local")
	viper.SetDefault(port, 4100)

	viper.SetDefault(mongoURI, "mongodb://localhost:27017")
	viper.SetDefault(mongoDB, "curation")

	viper.SetDefault(openSearchURL, "https://localhost:9200")
	viper.SetDefault(openSearchUser, "")
	viper.SetDefault(openSearchPass, "")

	viper.SetDefault(redisURL, "localhost:6379")
	viper.SetDefault(redisPass, "")

	viper.SetDefault(portfolioAPIURL, "http://localhost:8080")
	viper.SetDefault(portfolioAPIRetries, 3)
	viper.SetDefault(portfolioAPITimeoutMs, 800)

	viper.SetDefault(sourceWeightGlobal, 0.1)
	viper.SetDefault(sourceWeightLocal, 0.3)
	viper.SetDefault(sourceWeightOther, 0.2)
	viper.SetDefault(cfWeight, 1.0)
	viper.SetDefault(cbWeight, 0.0)
	viper.SetDefault(minScoreThreshold, 0.0)
	viper.SetDefault(maxCandidatesPerUser, 500)
	viper.SetDefault(cfUserHistoryLimit, 100)
	viper.SetDefault(cfMinCoOccurrence, 2)

	viper.SetDefault(recommendationCount, 20)
	viper.SetDefault(coalesceIntervalMs, 1000)
	viper.SetDefault(interactionLookbackDays, 14)

	viper.SetDefault(batchSaveBatchSize, 200)
	viper.SetDefault(batchWorkerPoolSize, 0) // 0 => runtime.NumCPU()
	viper.SetDefault(batchDegradedFallbackDir, "./degraded")

	viper.AutomaticEnv()

	return &Config{
		AppEnv: viper.GetString(appEnv),
		Port:   viper.GetInt(port),

		MongoURI: viper.GetString(mongoURI),
		MongoDB:  viper.GetString(mongoDB),

		OpenSearchURL:  viper.GetString(openSearchURL),
		OpenSearchUser: viper.GetString(openSearchUser),
		OpenSearchPass: viper.GetString(openSearchPass),

		RedisURL:  viper.GetString(redisURL),
		RedisPass: viper.GetString(redisPass),

		PortfolioAPIURL:     viper.GetString(portfolioAPIURL),
		PortfolioAPIRetries: viper.GetInt(portfolioAPIRetries),
		PortfolioAPITimeout: time.Duration(viper.GetInt(portfolioAPITimeoutMs)) * time.Millisecond,

		SourceWeights: SourceWeights{
			Global: viper.GetFloat64(sourceWeightGlobal),
			Local:  viper.GetFloat64(sourceWeightLocal),
			Other:  viper.GetFloat64(sourceWeightOther),
		},
		CFWeight:             viper.GetFloat64(cfWeight),
		CBWeight:             viper.GetFloat64(cbWeight),
		MinScoreThreshold:    viper.GetFloat64(minScoreThreshold),
		MaxCandidatesPerUser: viper.GetInt(maxCandidatesPerUser),
		CFUserHistoryLimit:   viper.GetInt(cfUserHistoryLimit),
		CFMinCoOccurrence:    viper.GetInt(cfMinCoOccurrence),

		RecommendationCount:     viper.GetInt(recommendationCount),
		CoalesceInterval:        time.Duration(viper.GetInt(coalesceIntervalMs)) * time.Millisecond,
		InteractionLookbackDays: viper.GetInt(interactionLookbackDays),

		BatchSaveBatchSize:       viper.GetInt(batchSaveBatchSize),
		BatchWorkerPoolSize:      viper.GetInt(batchWorkerPoolSize),
		BatchDegradedFallbackDir: viper.GetString(batchDegradedFallbackDir),
	}
}

// ErrConfigMissing marks a fatal startup condition: a required value with
// no safe default was absent.
type ErrConfigMissing struct {
	Field string
}

func (e ErrConfigMissing) Error() string {
	return fmt.Sprintf("required configuration %q is missing", e.Field)
}

// RequireNonEmpty panics with ErrConfigMissing if value is empty. Used at
// startup for values with no safe default (e.g. a production Mongo URI).
func RequireNonEmpty(field, value string) string {
	if value == "" {
		panic(ErrConfigMissing{Field: field})
	}
	return value
}
