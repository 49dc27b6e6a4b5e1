package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "local", cfg.AppEnv)
	assert.Equal(t, 20, cfg.RecommendationCount)
	assert.Equal(t, 2, cfg.CFMinCoOccurrence)
}

func TestRequireNonEmptyPanicsOnEmpty(t *testing.T) {
	assert.Panics(t, func() { RequireNonEmpty("MONGO_URI", "") })
}

func TestRequireNonEmptyReturnsValue(t *testing.T) {
	assert.Equal(t, "mongodb://x", RequireNonEmpty("MONGO_URI", "mongodb://x"))
}

func TestErrConfigMissingMessageNamesField(t *testing.T) {
	err := ErrConfigMissing{Field: "MONGO_URI"}
	assert.Contains(t, err.Error(), "MONGO_URI")
}
