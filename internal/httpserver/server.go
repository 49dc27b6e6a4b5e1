// Package httpserver is the online service's HTTP surface: gin wiring,
// middleware, and the recommend endpoints.
package httpserver

import (
	"net/http"
	"strings"

	sentry "github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/mikeydub/curation-recs/internal/config"
	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/model"
	"github.com/mikeydub/curation-recs/internal/online/coalesce"
)

// New builds the gin engine: middleware chain, validator registration, and
// route table. cfg.AppEnv selects debug vs release gin mode.
func New(cfg *config.Config, coalescer *coalesce.Coalescer, sentryDSN string) *gin.Engine {
	logger.For(nil).Info("initializing server...")

	if cfg.AppEnv != "production" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if sentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: sentryDSN, Environment: cfg.AppEnv}); err != nil {
			logger.For(nil).WithError(err).Warn("sentry init failed, continuing without it")
		}
	}

	router := gin.Default()
	router.Use(
		handleCORS(strings.Split("*", ",")),
		ginContextToContext(),
		errLogger(),
		sentrygin.New(sentrygin.Options{Repanic: true}),
	)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		logger.For(nil).Info("registering validation")
		registerCustomValidators(v)
	}

	handlersInit(router, coalescer, cfg.RecommendationCount)
	return router
}

// registerCustomValidators adds the domain-specific tags the recommend
// request body needs beyond go-playground/validator's built-ins.
func registerCustomValidators(v *validator.Validate) {
	_ = v.RegisterValidation("custno", func(fl validator.FieldLevel) bool {
		return fl.Field().String() != ""
	})
}

func handlersInit(router *gin.Engine, coalescer *coalesce.Coalescer, recommendationCount int) *gin.Engine {
	router.GET("/health", healthHandler)
	router.GET("/recommendations/:cust_no", recommendHandler(coalescer))
	router.GET("/recommendations/anonymous", anonymousHandler(coalescer))
	return router
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type recommendationItem struct {
	CurationID string  `json:"curation_id"`
	Score      float64 `json:"score"`
}

func recommendHandler(coalescer *coalesce.Coalescer) gin.HandlerFunc {
	return func(c *gin.Context) {
		custNo := c.Param("cust_no")
		if custNo == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cust_no is required"})
			return
		}

		items, err := coalescer.Request(c.Request.Context(), model.CustomerId(custNo))
		if err != nil {
			logger.For(c.Request.Context()).WithError(err).WithField("cust_no", custNo).Error("recommend request failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		if len(items) == 0 {
			c.JSON(http.StatusNoContent, nil)
			return
		}

		out := make([]recommendationItem, len(items))
		for i, item := range items {
			out[i] = recommendationItem{CurationID: string(item.ItemID), Score: item.Score}
		}
		c.JSON(http.StatusOK, gin.H{"recommendations": out})
	}
}

func anonymousHandler(coalescer *coalesce.Coalescer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := coalescer.Anonymous(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = string(id)
		}
		c.JSON(http.StatusOK, gin.H{"recommendations": out})
	}
}
