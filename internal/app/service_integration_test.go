package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	service "github.com/okian/talentmatch/internal/app"
	"github.com/okian/talentmatch/internal/config"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// TestService_Redis runs the full pipeline on Redis storage, a Redis stream
// publisher and the stream ingest path.
func TestService_Redis(t *testing.T) {
	addr := os.Getenv("TALENTMATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TALENTMATCH_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.FlushDB(ctx).Err())

	cfg := testConfig()
	cfg.Storage.Kind = config.StorageRedis
	cfg.Storage.RedisAddr = addr
	cfg.Publisher.Kind = config.PublisherRedis
	cfg.Publisher.Stream = "it.matches"
	cfg.Ingest.RedisStream = true
	cfg.Ingest.Stream = "it.events"
	cfg.Ingest.Group = "it"

	svc, err := service.New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Shutdown(ctx) })

	// The job goes through the stream, the resume through HTTP.
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: cfg.Ingest.Stream,
		Values: map[string]any{"event": jobEvent},
	}).Err())
	rec := httptest.NewRecorder()
	svc.Handler(ctx).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(resumeEvent("res-1"))))
	require.Equal(t, http.StatusAccepted, rec.Code)

	key := model.Key{JobID: "job-1", ResumeID: "res-1"}
	require.Eventually(t, func() bool {
		r, ok, err := svc.Store().GetResult(ctx, key)
		return err == nil && ok && r.Published
	}, 10*time.Second, 20*time.Millisecond)

	msgs, err := client.XRange(ctx, cfg.Publisher.Stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, string(model.EventMatchScored), msgs[0].Values["type"])

	pending, err := client.XPending(ctx, cfg.Ingest.Stream, cfg.Ingest.Group).Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}
