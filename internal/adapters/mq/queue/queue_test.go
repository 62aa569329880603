package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
)

func task(i int) Task {
	k := model.Key{JobID: "job-1", ResumeID: fmt.Sprintf("res-%d", i)}
	return Task{RouteKey: model.PairRoute(k), Kind: model.TaskRetry, Key: k}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, task(1)) {
		t.Fatal("expected enqueue to succeed")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.Key.ResumeID != "res-1" {
		t.Errorf("expected res-1, got %v", got.Key.ResumeID)
	}
	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, task(1)) || !q.Enqueue(ctx, task(2)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, task(3)) {
		t.Error("expected enqueue to fail when full")
	}
	if q.Len() != 2 || q.Capacity() != 2 {
		t.Errorf("expected len 2 cap 2, got %d/%d", q.Len(), q.Capacity())
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if q.Enqueue(ctx, task(1)) {
		t.Error("expected enqueue to fail for a cancelled context")
	}
}

func TestInMemoryQueue_PreservesOrder(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if !q.Enqueue(ctx, task(i)) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	ch := q.Dequeue(ctx)
	for i := 0; i < 100; i++ {
		got := <-ch
		if want := fmt.Sprintf("res-%d", i); got.Key.ResumeID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got.Key.ResumeID)
		}
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(50))
	ctx := context.Background()
	const producers, perProducer = 10, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				for !q.Enqueue(ctx, task(p*perProducer+j)) {
					time.Sleep(time.Millisecond)
				}
			}
		}(p)
	}

	seen := make(map[string]struct{}, producers*perProducer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for tk := range q.Dequeue(ctx) {
			seen[tk.Key.ResumeID] = struct{}{}
		}
	}()

	wg.Wait()
	_ = q.Close()
	<-done

	if len(seen) != producers*perProducer {
		t.Errorf("expected %d distinct tasks, got %d", producers*perProducer, len(seen))
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, task(1)) || !q.Enqueue(ctx, task(2)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, task(3)) {
		t.Error("expected enqueue to fail after closing")
	}

	drained := 0
	timeout := time.After(100 * time.Millisecond)
	ch := q.Dequeue(ctx)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if drained != 2 {
					t.Errorf("expected 2 buffered tasks after close, got %d", drained)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			drained++
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
}
