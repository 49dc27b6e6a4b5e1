package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrapsToUnderlying(t *testing.T) {
	underlying := errors.New("connection refused")
	err := New(ExternalUnavailable, "mongo.Connect", underlying)
	assert.ErrorIs(t, err, underlying)
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := New(IntegrityViolation, "mongo.SaveCandidates", errors.New("disk full"))
	wrapped := fmt.Errorf("batch run: %w", err)
	assert.True(t, Is(wrapped, IntegrityViolation))
	assert.False(t, Is(wrapped, RuleFailure))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), DataFormat))
}

func TestKindStringNamesEveryKind(t *testing.T) {
	kinds := []Kind{ConfigMissing, ExternalUnavailable, DataFormat, RuleFailure, IntegrityViolation, Cancelled}
	for _, k := range kinds {
		assert.NotEqual(t, "unknown", k.String())
	}
}
