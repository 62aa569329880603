package publisher_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/talentmatch/internal/adapters/publisher"
	"github.com/okian/talentmatch/internal/domain/dedupe"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

func init() { _ = logger.Init() }

func failedEnvelope(id string) model.Envelope {
	return model.Envelope{
		ID:         id,
		Type:       model.EventMatchFailed,
		OccurredAt: time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC),
		Data:       model.MatchFailed{JobID: "job-1", ResumeID: "res-1", Cause: model.CauseMissingJobData},
	}
}

func TestMemory(t *testing.T) {
	Convey("The memory bus keeps envelopes in order", t, func() {
		ctx := context.Background()
		m := publisher.NewMemory()
		So(m.Publish(ctx, failedEnvelope("a")), ShouldBeNil)
		scored := model.Envelope{ID: "b", Type: model.EventMatchScored}
		So(m.Publish(ctx, scored), ShouldBeNil)

		So(m.Len(), ShouldEqual, 2)
		So(m.Envelopes()[0].ID, ShouldEqual, "a")
		So(m.OfType(model.EventMatchScored), ShouldHaveLength, 1)
		So(m.Publish(ctx, model.Envelope{}), ShouldEqual, publisher.ErrEmptyID)
	})
}

func TestLog(t *testing.T) {
	Convey("The log publisher writes one JSON line per envelope", t, func() {
		var buf bytes.Buffer
		p := publisher.NewLog(&buf, logger.NewNop())
		So(p.Publish(context.Background(), failedEnvelope("a")), ShouldBeNil)
		So(p.Publish(context.Background(), failedEnvelope("b")), ShouldBeNil)

		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		So(lines, ShouldHaveLength, 2)

		var got struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Data struct {
				Cause string `json:"cause"`
			} `json:"data"`
		}
		So(json.Unmarshal(lines[0], &got), ShouldBeNil)
		So(got.ID, ShouldEqual, "a")
		So(got.Type, ShouldEqual, "match.failed")
		So(got.Data.Cause, ShouldEqual, "missing_job_data")
	})
}

type flakyPublisher struct {
	fail  int
	calls int
}

func (f *flakyPublisher) Publish(context.Context, model.Envelope) error {
	f.calls++
	if f.fail > 0 {
		f.fail--
		return errors.New("broker down")
	}
	return nil
}

func TestIdempotent(t *testing.T) {
	Convey("Given an idempotent publisher", t, func() {
		ctx := context.Background()
		next := &flakyPublisher{}
		p := publisher.NewIdempotent(next, dedupe.NewInMemoryDeduper(), logger.NewNop())

		Convey("A repeated id is published once", func() {
			So(p.Publish(ctx, failedEnvelope("a")), ShouldBeNil)
			So(p.Publish(ctx, failedEnvelope("a")), ShouldBeNil)
			So(p.Publish(ctx, failedEnvelope("b")), ShouldBeNil)
			So(next.calls, ShouldEqual, 2)
		})

		Convey("A failed publish can be retried", func() {
			next.fail = 1
			So(p.Publish(ctx, failedEnvelope("a")), ShouldNotBeNil)
			So(p.Publish(ctx, failedEnvelope("a")), ShouldBeNil)
			So(next.calls, ShouldEqual, 2)
		})

		Convey("Envelopes without an id are refused", func() {
			So(p.Publish(ctx, model.Envelope{Type: model.EventMatchFailed}), ShouldEqual, publisher.ErrEmptyID)
			So(next.calls, ShouldEqual, 0)
		})
	})
}

func TestRedisStream(t *testing.T) {
	addr := os.Getenv("TALENTMATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TALENTMATCH_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	stream := "tm_test_matches_" + time.Now().Format("150405.000000")
	defer client.Del(ctx, stream)

	p := publisher.NewRedisStream(client, publisher.WithStream(stream))
	require.NoError(t, p.Publish(ctx, failedEnvelope("env-1")))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "env-1", entries[0].Values["id"])
	require.Equal(t, "match.failed", entries[0].Values["type"])
	require.Contains(t, entries[0].Values["data"], `"cause":"missing_job_data"`)
}
