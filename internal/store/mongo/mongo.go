// Package mongo is the document-store reader/writer: typed access to
// users, content, the persisted candidate collection, and the anonymous
// fallback list. Reads are cursor-streamed; candidate writes are bulk
// upserts through a worker pool with create_dt/modi_dt handling.
package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/gammazero/workerpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mikeydub/curation-recs/internal/errs"
	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/model"
)

const (
	usersCollection      = "user"
	contentsCollection   = "curation"
	candidatesCollection = "user_candidate"
	globalDataCollection = "global_data"
	anonymousRecsID      = "anonymous_recs"

	chunkSize = 500
)

// NewClient connects to Mongo and verifies connectivity before returning.
func NewClient(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetMaxPoolSize(10))
	if err != nil {
		return nil, errs.New(errs.ExternalUnavailable, "mongo.Connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errs.New(errs.ExternalUnavailable, "mongo.Ping", err)
	}
	return client, nil
}

// Store is the typed data-access layer over a single Mongo database.
type Store struct {
	db               *mongo.Database
	degradedFallback string
}

func NewStore(client *mongo.Client, dbName, degradedFallbackDir string) *Store {
	return &Store{db: client.Database(dbName), degradedFallback: degradedFallbackDir}
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// userDoc / contentDoc mirror the wire schema; the model package holds the
// typed in-memory representation.
type userDoc struct {
	CustNo      string    `bson:"cust_no"`
	Concerns    []concern `bson:"concerns"`
	LastLoginDt time.Time `bson:"last_login_dt"`
}

type concern struct {
	GicCode string `bson:"gic_code"`
	StkName string `bson:"stk_name"`
}

type contentDoc struct {
	ItemID     string    `bson:"item_id"`
	Label      string    `bson:"label"`
	BTopic     string    `bson:"btopic"`
	STopic     string    `bson:"stopic"`
	Sector     string    `bson:"sector"`
	Themes     []string  `bson:"themes"`
	LikedUsers []string  `bson:"liked_users"`
	MarketCap  *float64  `bson:"market_cap"`
	CreatedAt  time.Time `bson:"created_at"`
}

// LoadUsers streams UserProfile records from the document store in
// cursor-sized partitions, never materializing the whole collection.
func (s *Store) LoadUsers(ctx context.Context) (<-chan model.UserProfile, <-chan error) {
	out := make(chan model.UserProfile)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		cur, err := s.db.Collection(usersCollection).Find(ctx, bson.M{}, options.Find().SetBatchSize(chunkSize))
		if err != nil {
			errc <- errs.New(errs.ExternalUnavailable, "mongo.LoadUsers", err)
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var doc userDoc
			if err := cur.Decode(&doc); err != nil {
				logger.For(ctx).WithError(err).Warn("dropping malformed user document")
				continue
			}
			select {
			case out <- toUserProfile(doc):
			case <-ctx.Done():
				return
			}
		}
		if err := cur.Err(); err != nil {
			errc <- errs.New(errs.ExternalUnavailable, "mongo.LoadUsers", err)
		}
	}()

	return out, errc
}

// LoadUserProfile loads a single user's identity/timestamp projection,
// used online by the context fetcher alongside seen-items and affinities.
func (s *Store) LoadUserProfile(ctx context.Context, custNo model.CustomerId) (model.UserProfile, error) {
	var doc userDoc
	projection := options.FindOne().SetProjection(bson.M{"cust_no": 1, "last_login_dt": 1})
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"cust_no": string(custNo)}, projection).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return model.UserProfile{}, nil
	}
	if err != nil {
		return model.UserProfile{}, errs.New(errs.ExternalUnavailable, "mongo.LoadUserProfile", err)
	}
	return toUserProfile(doc), nil
}

func toUserProfile(d userDoc) model.UserProfile {
	concerns := make([]model.Concern, len(d.Concerns))
	for i, c := range d.Concerns {
		concerns[i] = model.Concern{GicCode: c.GicCode, StkName: c.StkName}
	}
	return model.UserProfile{
		CustNo:      model.CustomerId(d.CustNo),
		Concerns:    concerns,
		LastLoginDt: d.LastLoginDt,
	}
}

// LoadContents streams ContentMeta records with the same cursor discipline
// as LoadUsers.
func (s *Store) LoadContents(ctx context.Context) (<-chan model.ContentMeta, <-chan error) {
	out := make(chan model.ContentMeta)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		cur, err := s.db.Collection(contentsCollection).Find(ctx, bson.M{}, options.Find().SetBatchSize(chunkSize))
		if err != nil {
			errc <- errs.New(errs.ExternalUnavailable, "mongo.LoadContents", err)
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var doc contentDoc
			if err := cur.Decode(&doc); err != nil {
				logger.For(ctx).WithError(err).Warn("dropping malformed content document")
				continue
			}
			select {
			case out <- toContentMeta(doc):
			case <-ctx.Done():
				return
			}
		}
		if err := cur.Err(); err != nil {
			errc <- errs.New(errs.ExternalUnavailable, "mongo.LoadContents", err)
		}
	}()

	return out, errc
}

func toContentMeta(d contentDoc) model.ContentMeta {
	liked := make(map[model.CustomerId]struct{}, len(d.LikedUsers))
	for _, u := range d.LikedUsers {
		liked[model.CustomerId(u)] = struct{}{}
	}
	return model.ContentMeta{
		ItemID:       model.ItemId(d.ItemID),
		Label:        model.StockCode(d.Label),
		BTopic:       d.BTopic,
		STopic:       d.STopic,
		Sector:       d.Sector,
		Themes:       d.Themes,
		LikedUsers:   liked,
		MarketCap:    d.MarketCap,
		HasMarketCap: d.MarketCap != nil,
		CreatedAt:    d.CreatedAt,
	}
}

// FetchContentMetaByIDs loads a specific set of content ids, used online by
// the context fetcher once the candidate id list is known.
func (s *Store) FetchContentMetaByIDs(ctx context.Context, ids []model.ItemId) (map[model.ItemId]model.ContentMeta, error) {
	out := make(map[model.ItemId]model.ContentMeta, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = string(id)
	}

	cur, err := s.db.Collection(contentsCollection).Find(ctx, bson.M{"item_id": bson.M{"$in": strIDs}})
	if err != nil {
		return out, errs.New(errs.ExternalUnavailable, "mongo.FetchContentMetaByIDs", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc contentDoc
		if err := cur.Decode(&doc); err != nil {
			logger.For(ctx).WithError(err).Warn("dropping malformed content document")
			continue
		}
		meta := toContentMeta(doc)
		out[meta.ItemID] = meta
	}
	return out, nil
}

type candidateDoc struct {
	CustNo       string         `bson:"cust_no"`
	CurationList []curationItem `bson:"curation_list"`
	CreateDt     time.Time      `bson:"create_dt"`
	ModiDt       time.Time      `bson:"modi_dt"`
}

type curationItem struct {
	CurationID string  `bson:"curation_id"`
	Score      float64 `bson:"score"`
}

// LoadCandidate loads the persisted CandidateRecord for a single customer.
// Returns the zero value and false when none exists.
func (s *Store) LoadCandidate(ctx context.Context, custNo model.CustomerId) (model.CandidateRecord, bool, error) {
	var doc candidateDoc
	err := s.db.Collection(candidatesCollection).FindOne(ctx, bson.M{"cust_no": string(custNo)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return model.CandidateRecord{}, false, nil
	}
	if err != nil {
		return model.CandidateRecord{}, false, errs.New(errs.ExternalUnavailable, "mongo.LoadCandidate", err)
	}

	list := make([]model.ScoredItem, len(doc.CurationList))
	for i, c := range doc.CurationList {
		list[i] = model.ScoredItem{ItemID: model.ItemId(c.CurationID), Score: c.Score}
	}
	return model.CandidateRecord{
		CustNo:       custNo,
		CurationList: list,
		CreateDt:     doc.CreateDt,
		ModiDt:       doc.ModiDt,
	}, true, nil
}

// SaveCandidates upserts records by cust_no in batches, applying exponential
// backoff per batch; on total failure it falls back to a timestamped local
// file and reports degraded success rather than erroring the caller.
func (s *Store) SaveCandidates(ctx context.Context, records []model.CandidateRecord, batchSize int) (degraded bool, err error) {
	if len(records) == 0 {
		return false, nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}

	coll := s.db.Collection(candidatesCollection)
	wp := workerpool.New(10)
	var firstErr error
	var mu syncOnce

	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]

		wp.Submit(func() {
			if err := upsertBatchWithBackoff(ctx, coll, batch); err != nil {
				mu.setFirst(&firstErr, err)
			}
		})
	}
	wp.StopWait()

	if firstErr != nil {
		logger.For(ctx).WithError(firstErr).Error("SaveCandidates failed after retries; falling back to local file")
		if fallbackErr := s.writeDegradedFallback(records); fallbackErr != nil {
			return true, errs.New(errs.IntegrityViolation, "mongo.SaveCandidates", fallbackErr)
		}
		return true, nil
	}
	return false, nil
}

func upsertBatchWithBackoff(ctx context.Context, coll *mongo.Collection, batch []model.CandidateRecord) error {
	models := make([]mongo.WriteModel, len(batch))
	now := time.Now()
	for i, rec := range batch {
		list := make([]bson.M, len(rec.CurationList))
		for j, item := range rec.CurationList {
			list[j] = bson.M{"curation_id": string(item.ItemID), "score": item.Score}
		}
		models[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.M{"cust_no": string(rec.CustNo)}).
			SetUpdate(bson.M{
				"$set":         bson.M{"curation_list": list, "modi_dt": now, "cust_no": string(rec.CustNo)},
				"$setOnInsert": bson.M{"create_dt": now},
			}).
			SetUpsert(true)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		return err
	}, bo)
}

func (s *Store) writeDegradedFallback(records []model.CandidateRecord) error {
	dir := s.degradedFallback
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("candidates-%d.json", time.Now().UnixNano()))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(records)
}

// FetchAnonymousRecs reads the fixed global_data/anonymous_recs document
// used by the coalescer for anonymous requests.
func (s *Store) FetchAnonymousRecs(ctx context.Context) ([]model.ItemId, error) {
	var doc struct {
		CurationIDs []string `bson:"curation_ids"`
	}
	err := s.db.Collection(globalDataCollection).FindOne(ctx, bson.M{"_id": anonymousRecsID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.ExternalUnavailable, "mongo.FetchAnonymousRecs", err)
	}
	ids := make([]model.ItemId, len(doc.CurationIDs))
	for i, id := range doc.CurationIDs {
		ids[i] = model.ItemId(id)
	}
	return ids, nil
}

// syncOnce captures only the first error reported by concurrent workers.
type syncOnce struct {
	mu sync.Mutex
}

func (s *syncOnce) setFirst(dst *error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *dst == nil {
		*dst = err
	}
}
