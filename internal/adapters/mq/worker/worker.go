// Package worker runs the keyed shard pool. Every task is routed by the hash
// of its route key, so all work on one pair or one job runs on a single
// goroutine and needs no locking above the store.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/talentmatch/internal/adapters/mq/queue"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/okian/talentmatch/pkg/metrics"
)

const (
	defaultShardMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultQueueSize       = 10000
	metricsUpdateInterval  = 5 * time.Second
	poolShutdownTimeout    = 30 * time.Second
)

// Handler processes one task.
type Handler interface {
	Handle(ctx context.Context, t model.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t model.Task) error

func (f HandlerFunc) Handle(ctx context.Context, t model.Task) error { return f(ctx, t) }

// Worker drains one shard queue.
type Worker struct {
	id      int
	queue   queue.Queue
	handler Handler
	pool    *Pool

	done chan struct{}
	log  logger.Logger
}

// Run processes tasks until the queue is closed and drained, or until the
// pool is stopped.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.pool.stop:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			w.process(ctx, t)
		}
	}
}

func (w *Worker) process(ctx context.Context, t model.Task) { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	start := time.Now()
	metrics.RecordQueueDequeue()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		w.pool.processed.Add(1)
	}()

	if err := w.handler.Handle(ctx, t); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", string(t.Kind))
		w.log.Error(ctx, "task failed",
			logger.String("kind", string(t.Kind)),
			logger.String("jobId", t.Key.JobID),
			logger.String("resumeId", t.Key.ResumeID),
			logger.Error(err),
		)
	}
}

// Pool owns one queue and one worker per shard.
type Pool struct {
	workers   []*Worker
	queues    []*queue.InMemoryQueue
	queueSize int
	handler   Handler

	stop      chan struct{}
	stopped   atomic.Bool
	processed atomic.Int64
	lastRate  time.Time

	logger logger.Logger
}

// NewPool creates a pool around handler.
func NewPool(handler Handler, opts ...Option) *Pool {
	p := &Pool{
		queueSize: defaultQueueSize,
		handler:   handler,
		stop:      make(chan struct{}),
		lastRate:  time.Now(),
		logger:    logger.Get().Named("worker-pool"),
	}
	shards := runtime.NumCPU() * defaultShardMultiplier
	cfg := poolConfig{shards: shards}
	for _, opt := range opts {
		opt(p, &cfg)
	}

	p.workers = make([]*Worker, cfg.shards)
	p.queues = make([]*queue.InMemoryQueue, cfg.shards)
	for i := 0; i < cfg.shards; i++ {
		q := queue.NewInMemoryQueue(queue.WithCapacity(p.queueSize))
		p.queues[i] = q
		p.workers[i] = &Worker{
			id:      i,
			queue:   q,
			handler: handler,
			pool:    p,
			done:    make(chan struct{}),
			log:     p.logger.Named("shard-" + strconv.Itoa(i)),
		}
	}

	metrics.UpdateWorkerCount(cfg.shards)
	metrics.UpdateQueueCapacity(cfg.shards * p.queueSize)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return p
}

// Shards reports the number of shards.
func (p *Pool) Shards() int { return len(p.workers) }

// ShardFor returns the shard index owning routeKey.
func (p *Pool) ShardFor(routeKey string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(routeKey))
	return int(h.Sum32() % uint32(len(p.workers)))
}

// Dispatch enqueues t on its shard without blocking. It returns false when
// the shard is full or the pool is shutting down.
func (p *Pool) Dispatch(ctx context.Context, t model.Task) bool { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	if t.RouteKey == "" {
		t.RouteKey = model.PairRoute(t.Key)
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	return p.queues[p.ShardFor(t.RouteKey)].Enqueue(ctx, t)
}

// Pending is the number of tasks waiting across all shards.
func (p *Pool) Pending() int {
	n := 0
	for _, q := range p.queues {
		n += q.Len()
	}
	return n
}

// Start launches every shard worker and the metrics updater.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

func (p *Pool) updateMetrics() {
	size := p.Pending()
	capacity := len(p.queues) * p.queueSize
	metrics.UpdateQueueSize(size)
	if capacity > 0 {
		metrics.UpdateQueueUtilization(float64(size) / float64(capacity))
	}

	now := time.Now()
	if elapsed := now.Sub(p.lastRate).Seconds(); elapsed > 0 {
		metrics.UpdateWorkerMessagesPerSecond(float64(p.processed.Swap(0)) / elapsed)
	}
	p.lastRate = now
}

// Shutdown closes every queue and waits for the workers to drain them. If
// ctx or the pool timeout expires first, workers are stopped with tasks
// still buffered.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	for _, q := range p.queues {
		if err := q.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var err error
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out",
				logger.Int("worker_id", i),
				logger.Int("pending", p.Pending()),
			)
			err = fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
		}
		if err != nil {
			break
		}
	}
	close(p.stop)
	return err
}
