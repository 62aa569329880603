// Package repository implements the correlation and result stores: an
// in-process store, a Redis store and a PostgreSQL store.
package repository

import (
	"context"
	"time"

	"github.com/okian/talentmatch/internal/domain/correlation"
	"github.com/okian/talentmatch/pkg/metrics"
)

// Store is everything the service needs from a backend.
type Store interface {
	correlation.CorrelationStore
	correlation.ResultStore

	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

func observeStore(store, op string, start time.Time) {
	metrics.RecordStoreLatency(store, op, float64(time.Since(start).Microseconds())/1000)
}
