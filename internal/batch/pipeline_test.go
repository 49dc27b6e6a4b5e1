package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/curation-recs/internal/cf"
	"github.com/mikeydub/curation-recs/internal/config"
	"github.com/mikeydub/curation-recs/internal/model"
	"github.com/mikeydub/curation-recs/internal/rules"
)

type fakeContentStore struct {
	users    []model.UserProfile
	contents []model.ContentMeta
	saved    []model.CandidateRecord
}

func (f *fakeContentStore) LoadUsers(ctx context.Context) (<-chan model.UserProfile, <-chan error) {
	out := make(chan model.UserProfile, len(f.users))
	errc := make(chan error, 1)
	for _, u := range f.users {
		out <- u
	}
	close(out)
	close(errc)
	return out, errc
}

func (f *fakeContentStore) LoadContents(ctx context.Context) (<-chan model.ContentMeta, <-chan error) {
	out := make(chan model.ContentMeta, len(f.contents))
	errc := make(chan error, 1)
	for _, c := range f.contents {
		out <- c
	}
	close(out)
	close(errc)
	return out, errc
}

func (f *fakeContentStore) SaveCandidates(ctx context.Context, records []model.CandidateRecord, batchSize int) (bool, error) {
	f.saved = records
	return false, nil
}

type fakeInteractionSource struct {
	interactions map[model.CustomerId][]model.ItemId
	quotes       []model.QuoteRecord
}

func (f *fakeInteractionSource) LoadInteractions(ctx context.Context, days int) (map[model.CustomerId][]model.ItemId, error) {
	return f.interactions, nil
}

func (f *fakeInteractionSource) FetchLatestQuotes(ctx context.Context, daysBack, maxRecords int, allowedCountries map[string]struct{}) ([]model.QuoteRecord, error) {
	return f.quotes, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SourceWeights:        config.SourceWeights{Global: 1, Local: 1, Other: 1},
		MinScoreThreshold:    0,
		MaxCandidatesPerUser: 10,
		CFMinCoOccurrence:    1,
		BatchWorkerPoolSize:  2,
	}
}

func TestBuildStockMetaDedupesThemes(t *testing.T) {
	contents := []model.ContentMeta{
		{ItemID: "1", Label: "A", Sector: "Tech", Themes: []string{"AI", "Cloud"}},
		{ItemID: "2", Label: "A", Sector: "Tech", Themes: []string{"AI"}},
		{ItemID: "3", Label: "", Sector: "Energy"},
	}
	meta := buildStockMeta(contents)
	require.Contains(t, meta, model.StockCode("A"))
	assert.Equal(t, "Tech", meta["A"].Sector)
	assert.ElementsMatch(t, []string{"AI", "Cloud"}, meta["A"].Themes)
	assert.NotContains(t, meta, model.StockCode(""))
}

func TestComputeGlobalPoolDedupesAcrossRules(t *testing.T) {
	p := &Pipeline{
		GlobalRules: []rules.GlobalRule{
			fakeGlobalRule{name: "r1", ids: []model.ItemId{"1", "2"}},
			fakeGlobalRule{name: "r2", ids: []model.ItemId{"2", "3"}},
		},
	}
	out := p.computeGlobalPool(context.Background(), rules.GlobalContext{})
	assert.Equal(t, []model.ItemId{"1", "2", "3"}, out)
}

type fakeGlobalRule struct {
	name string
	ids  []model.ItemId
}

func (f fakeGlobalRule) Name() string { return f.name }
func (f fakeGlobalRule) Apply(ctx context.Context, gctx rules.GlobalContext) ([]model.ItemId, error) {
	return f.ids, nil
}

func TestBuildUserCandidatesAppliesScoreThresholdAndTruncation(t *testing.T) {
	cfg := testConfig()
	cfg.MinScoreThreshold = 1.5
	cfg.MaxCandidatesPerUser = 1
	p := &Pipeline{Cfg: cfg}

	cfModel := cf.New(1)
	user := model.UserProfile{CustNo: "u1"}
	rec := p.buildUserCandidates(context.Background(), user, rules.GlobalContext{}, nil, cfModel,
		[]model.ItemId{"a", "b"}, []model.ItemId{"a"}, time.Now())

	// "a" is in both global (weight 1) and other (weight 1) = score 2, above
	// threshold; "b" is only in global = score 1, below threshold 1.5.
	require.Len(t, rec.CurationList, 1)
	assert.Equal(t, model.ItemId("a"), rec.CurationList[0].ItemID)
}

func TestPortfolioAllowedDefaultsTrueWithoutLimiter(t *testing.T) {
	p := &Pipeline{}
	assert.True(t, p.portfolioAllowed(context.Background(), "u1"))
}

func TestRunEndToEndWithFakes(t *testing.T) {
	store := &fakeContentStore{
		users:    []model.UserProfile{{CustNo: "u1"}},
		contents: []model.ContentMeta{{ItemID: "1", Label: "A"}},
	}
	search := &fakeInteractionSource{interactions: map[model.CustomerId][]model.ItemId{}}
	p := New(testConfig(), store, search, nil)

	err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.saved, 1)
	assert.Equal(t, model.CustomerId("u1"), store.saved[0].CustNo)
}
