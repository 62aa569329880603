package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	worker "github.com/okian/talentmatch/internal/adapters/mq/worker"
	model "github.com/okian/talentmatch/internal/domain/model"
	logging "github.com/okian/talentmatch/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// recordingHandler remembers the order tasks arrived in per route key and
// flags any key that was handled by two goroutines at once.
type recordingHandler struct {
	mu       sync.Mutex
	seen     map[string][]int
	inFlight map[string]int
	overlap  atomic.Bool
	handled  atomic.Int64
	failKind model.TaskKind
	delay    time.Duration
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(map[string][]int), inFlight: make(map[string]int)}
}

func (h *recordingHandler) Handle(_ context.Context, t model.Task) error {
	h.mu.Lock()
	h.inFlight[t.RouteKey]++
	if h.inFlight[t.RouteKey] > 1 {
		h.overlap.Store(true)
	}
	h.mu.Unlock()

	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	h.mu.Lock()
	h.inFlight[t.RouteKey]--
	h.seen[t.RouteKey] = append(h.seen[t.RouteKey], t.Generation)
	h.mu.Unlock()
	h.handled.Add(1)

	if t.Kind == h.failKind {
		return errors.New("handler failed")
	}
	return nil
}

func (h *recordingHandler) order(routeKey string) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.seen[routeKey]...)
}

func pairTask(job, resume string, gen int) model.Task {
	k := model.Key{JobID: job, ResumeID: resume}
	return model.Task{RouteKey: model.PairRoute(k), Kind: model.TaskRetry, Key: k, Generation: gen}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestPoolRouting(t *testing.T) {
	convey.Convey("Given a pool with four shards", t, func() {
		_ = logging.Init()
		h := newRecordingHandler()
		pool := worker.NewPool(h, worker.WithShards(4), worker.WithQueueSize(1000))

		convey.Convey("Then a route key always maps to the same shard", func() {
			convey.So(pool.Shards(), convey.ShouldEqual, 4)
			key := model.PairRoute(model.Key{JobID: "job-1", ResumeID: "res-1"})
			first := pool.ShardFor(key)
			for i := 0; i < 10; i++ {
				convey.So(pool.ShardFor(key), convey.ShouldEqual, first)
			}
			convey.So(first, convey.ShouldBeBetweenOrEqual, 0, 3)
		})

		convey.Convey("When tasks for many keys are dispatched", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h.delay = time.Millisecond
			pool.Start(ctx)

			const keys, perKey = 8, 20
			for g := 0; g < perKey; g++ {
				for k := 0; k < keys; k++ {
					convey.So(pool.Dispatch(ctx, pairTask("job-1", fmt.Sprintf("res-%d", k), g)), convey.ShouldBeTrue)
				}
			}
			convey.So(waitFor(func() bool { return h.handled.Load() == keys*perKey }), convey.ShouldBeTrue)

			convey.Convey("Then each key saw its tasks in dispatch order, one at a time", func() {
				convey.So(h.overlap.Load(), convey.ShouldBeFalse)
				for k := 0; k < keys; k++ {
					order := h.order(model.PairRoute(model.Key{JobID: "job-1", ResumeID: fmt.Sprintf("res-%d", k)}))
					convey.So(order, convey.ShouldHaveLength, perKey)
					for i := range order {
						convey.So(order[i], convey.ShouldEqual, i)
					}
				}
			})
		})
	})
}

func TestPoolBackpressure(t *testing.T) {
	convey.Convey("Given a single shard with room for one task that is not running", t, func() {
		_ = logging.Init()
		pool := worker.NewPool(newRecordingHandler(), worker.WithShards(1), worker.WithQueueSize(1))
		ctx := context.Background()

		convey.Convey("Then the second dispatch is refused", func() {
			convey.So(pool.Dispatch(ctx, pairTask("job-1", "res-1", 1)), convey.ShouldBeTrue)
			convey.So(pool.Dispatch(ctx, pairTask("job-1", "res-2", 1)), convey.ShouldBeFalse)
			convey.So(pool.Pending(), convey.ShouldEqual, 1)
		})

		convey.Convey("Then a task without a route key is routed by its pair", func() {
			tk := pairTask("job-1", "res-1", 1)
			tk.RouteKey = ""
			convey.So(pool.Dispatch(ctx, tk), convey.ShouldBeTrue)
		})
	})
}

func TestPoolErrorsAndShutdown(t *testing.T) {
	convey.Convey("Given a running pool whose handler fails some tasks", t, func() {
		_ = logging.Init()
		h := newRecordingHandler()
		h.failKind = model.TaskPurge
		pool := worker.NewPool(h, worker.WithShards(2), worker.WithQueueSize(100))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("When a task fails", func() {
			bad := pairTask("job-1", "res-1", 1)
			bad.Kind = model.TaskPurge
			convey.So(pool.Dispatch(ctx, bad), convey.ShouldBeTrue)
			convey.So(pool.Dispatch(ctx, pairTask("job-1", "res-1", 2)), convey.ShouldBeTrue)

			convey.Convey("Then the shard keeps processing", func() {
				convey.So(waitFor(func() bool { return h.handled.Load() == 2 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When shutting down with work buffered", func() {
			h.delay = time.Millisecond
			for i := 0; i < 50; i++ {
				pool.Dispatch(ctx, pairTask("job-2", fmt.Sprintf("res-%d", i), i))
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()

			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then buffered tasks are drained first", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(h.handled.Load(), convey.ShouldEqual, 50)
			})

			convey.Convey("Then later dispatches are refused and a second shutdown is a no-op", func() {
				convey.So(pool.Dispatch(ctx, pairTask("job-2", "late", 1)), convey.ShouldBeFalse)
				convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}

func TestHandlerFunc(t *testing.T) {
	convey.Convey("HandlerFunc adapts a function", t, func() {
		var got model.TaskKind
		h := worker.HandlerFunc(func(_ context.Context, t model.Task) error {
			got = t.Kind
			return nil
		})
		convey.So(h.Handle(context.Background(), model.Task{Kind: model.TaskJobSweep}), convey.ShouldBeNil)
		convey.So(got, convey.ShouldEqual, model.TaskJobSweep)
	})
}
