// Package coalesce is the request coalescer: a single-producer,
// multiple-consumer queue drained on a ticker, dispatching to a bounded
// worker pool. Coalescing never merges two customers' work; it amortizes
// wake-ups and gives the dispatcher one place to apply shared rate limits.
package coalesce

import (
	"context"
	"math/rand"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/model"
)

// Ranker is the subset of internal/online/ranking.Engine the coalescer
// dispatches work to.
type Ranker interface {
	Rank(ctx context.Context, custNo model.CustomerId) ([]model.ScoredItem, error)
}

// AnonymousSource supplies the fixed anonymous fallback list.
type AnonymousSource interface {
	FetchAnonymousRecs(ctx context.Context) ([]model.ItemId, error)
}

type request struct {
	ctx    context.Context
	custNo model.CustomerId
	reply  chan<- reply
}

type reply struct {
	items []model.ScoredItem
	err   error
}

// Coalescer batches per-customer ranking requests, amortizing wake-ups and
// giving the dispatcher a single point to apply shared rate limits.
type Coalescer struct {
	ranker   Ranker
	anon     AnonymousSource
	interval time.Duration
	poolSize int
	recCount int
	queue    chan request
}

func New(ranker Ranker, anon AnonymousSource, interval time.Duration, poolSize, recommendationCount int) *Coalescer {
	if interval <= 0 {
		interval = time.Second
	}
	if poolSize <= 0 {
		poolSize = 8
	}
	return &Coalescer{
		ranker:   ranker,
		anon:     anon,
		interval: interval,
		poolSize: poolSize,
		recCount: recommendationCount,
		queue:    make(chan request, 1024),
	}
}

// Run drives the dispatcher loop until ctx is cancelled. Call it once from
// the server's startup goroutine.
func (c *Coalescer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	wp := workerpool.New(c.poolSize)
	defer wp.StopWait()

	for {
		select {
		case <-ctx.Done():
			c.drain(wp)
			return
		case <-ticker.C:
			c.dispatchPending(wp)
		}
	}
}

// dispatchPending drains whatever is currently queued without blocking for
// more; each entry is submitted to the bounded worker pool independently.
func (c *Coalescer) dispatchPending(wp *workerpool.WorkerPool) {
	for {
		select {
		case req := <-c.queue:
			c.submit(wp, req)
		default:
			return
		}
	}
}

func (c *Coalescer) drain(wp *workerpool.WorkerPool) {
	for {
		select {
		case req := <-c.queue:
			c.submit(wp, req)
		default:
			return
		}
	}
}

func (c *Coalescer) submit(wp *workerpool.WorkerPool, req request) {
	wp.Submit(func() {
		if req.ctx.Err() != nil {
			return // caller cancelled; reply handle is already abandoned
		}
		items, err := c.ranker.Rank(req.ctx, req.custNo)
		select {
		case req.reply <- reply{items: items, err: err}:
		case <-req.ctx.Done():
		}
	})
}

// Request enqueues a ranking request and blocks until the result is ready
// or ctx is cancelled. Cancellation frees the reply handle without
// affecting any other in-flight request.
func (c *Coalescer) Request(ctx context.Context, custNo model.CustomerId) ([]model.ScoredItem, error) {
	replyCh := make(chan reply, 1)
	select {
	case c.queue <- request{ctx: ctx, custNo: custNo, reply: replyCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-replyCh:
		return r.items, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Anonymous bypasses the coalescer entirely and returns a shuffled prefix of
// the fixed anonymous_recs list.
func (c *Coalescer) Anonymous(ctx context.Context) ([]model.ItemId, error) {
	ids, err := c.anon.FetchAnonymousRecs(ctx)
	if err != nil {
		logger.For(ctx).WithError(err).Warn("anonymous-recs fetch degraded to empty")
		return nil, nil
	}
	if len(ids) == 0 {
		return ids, nil
	}

	shuffled := make([]model.ItemId, len(ids))
	copy(shuffled, ids)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	n := c.recCount
	if n <= 0 || n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n], nil
}
