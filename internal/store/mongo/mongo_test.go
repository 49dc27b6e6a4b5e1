package mongo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/curation-recs/internal/model"
)

func TestToUserProfileConvertsConcerns(t *testing.T) {
	doc := userDoc{
		CustNo:      "c1",
		Concerns:    []concern{{GicCode: "45", StkName: "Acme"}},
		LastLoginDt: time.Unix(0, 0),
	}
	profile := toUserProfile(doc)
	assert.Equal(t, model.CustomerId("c1"), profile.CustNo)
	require.Len(t, profile.Concerns, 1)
	assert.Equal(t, "Acme", profile.Concerns[0].StkName)
}

func TestToContentMetaSetsHasMarketCap(t *testing.T) {
	cap := 123.45
	doc := contentDoc{
		ItemID:     "i1",
		Label:      "A",
		LikedUsers: []string{"u1", "u2"},
		MarketCap:  &cap,
	}
	meta := toContentMeta(doc)
	assert.True(t, meta.HasMarketCap)
	require.NotNil(t, meta.MarketCap)
	assert.InDelta(t, 123.45, *meta.MarketCap, 1e-9)
	assert.Len(t, meta.LikedUsers, 2)
}

func TestToContentMetaHasMarketCapFalseWhenNil(t *testing.T) {
	meta := toContentMeta(contentDoc{ItemID: "i1"})
	assert.False(t, meta.HasMarketCap)
	assert.Nil(t, meta.MarketCap)
}

func TestWriteDegradedFallbackWritesReadableJSON(t *testing.T) {
	dir := t.TempDir()
	s := &Store{degradedFallback: dir}
	records := []model.CandidateRecord{
		{CustNo: "c1", CurationList: []model.ScoredItem{{ItemID: "i1", Score: 1.5}}},
	}

	err := s.writeDegradedFallback(records)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var roundTripped []model.CandidateRecord
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	require.Len(t, roundTripped, 1)
	assert.Equal(t, model.CustomerId("c1"), roundTripped[0].CustNo)
}

func TestSyncOnceKeepsFirstError(t *testing.T) {
	var s syncOnce
	var dst error
	first := assertError("first")
	second := assertError("second")

	s.setFirst(&dst, first)
	s.setFirst(&dst, second)

	require.NotNil(t, dst)
	assert.Equal(t, first, dst)
}

type testErr string

func (e testErr) Error() string { return string(e) }

func assertError(msg string) error { return testErr(msg) }
