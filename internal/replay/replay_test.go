package replay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/talentmatch/internal/adapters/publisher"
	service "github.com/okian/talentmatch/internal/app"
	"github.com/okian/talentmatch/internal/config"
	"github.com/okian/talentmatch/internal/domain/event"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/internal/replay"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestReadEvents(t *testing.T) {
	convey.Convey("Given a JSON Lines stream", t, func() {
		in := strings.Join([]string{
			`{"type":"job.requirements.extracted","data":{"jobId":"j1","requirements":{"skills":[]}}}`,
			``,
			`{"type":"resume.parsed","data":{"jobId":"j1","resumeId":"r1"}}`,
			`{"type":"resume.parsed","data":{"jobId":"j1","resumeId":"r1"}}`,
			`{"type":"resume.parse.failed","data":{"jobId":"j1","resumeId":"r2"}}`,
		}, "\n")

		events, err := replay.ReadEvents(strings.NewReader(in))

		convey.Convey("Then blank lines are skipped and pairs are distinct", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(events, convey.ShouldHaveLength, 4)
			convey.So(events[0].Type, convey.ShouldEqual, model.EventJobRequirementsExtracted)
			convey.So(replay.Pairs(events), convey.ShouldResemble, []model.Key{
				{JobID: "j1", ResumeID: "r1"},
				{JobID: "j1", ResumeID: "r2"},
			})
		})

		convey.Convey("Then a broken line reports its number", func() {
			_, err := replay.ReadEvents(strings.NewReader("{}\n{"))
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "line 2")
		})
	})
}

func TestSynthetic(t *testing.T) {
	convey.Convey("Given 25 synthetic pairs", t, func() {
		now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
		events, err := replay.Synthetic(25, 7, now)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then there are three jobs and every event decodes", func() {
			convey.So(events, convey.ShouldHaveLength, 28)
			convey.So(replay.Pairs(events), convey.ShouldHaveLength, 25)

			codec, err := event.NewCodec()
			convey.So(err, convey.ShouldBeNil)
			for _, ev := range events {
				_, err := codec.Decode(ev.Raw)
				convey.So(err, convey.ShouldBeNil)
			}
		})

		convey.Convey("Then the same seed yields the same pairs in the same order", func() {
			again, _ := replay.Synthetic(25, 7, now)
			for i := range events {
				convey.So(again[i].Key, convey.ShouldResemble, events[i].Key)
			}
		})
	})
}

func TestSubmit(t *testing.T) {
	convey.Convey("Given a server that pushes back once", t, func() {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch calls.Add(1) {
			case 1:
				w.WriteHeader(http.StatusTooManyRequests)
			case 2:
				w.WriteHeader(http.StatusUnprocessableEntity)
			default:
				w.WriteHeader(http.StatusAccepted)
			}
		}))
		defer srv.Close()

		client := replay.NewClient(srv.URL, time.Second)
		events := []replay.Event{{Raw: []byte(`{}`)}, {Raw: []byte(`{}`)}}

		st, err := replay.Submit(context.Background(), client, events, 1, 3)

		convey.Convey("Then the refused event is retried", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(st.Retried, convey.ShouldEqual, 1)
			convey.So(st.Rejected, convey.ShouldEqual, 1)
			convey.So(st.Accepted, convey.ShouldEqual, 1)
		})
	})
}

func TestRunAgainstService(t *testing.T) {
	convey.Convey("Given a running service", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.WorkerCount = 4
		cfg.Publisher.Kind = config.PublisherMemory
		svc, err := service.New(ctx, cfg, service.WithPublisher(publisher.NewMemory()))
		convey.So(err, convey.ShouldBeNil)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		srv := httptest.NewServer(svc.Handler(ctx))
		defer func() {
			srv.Close()
			_ = svc.Shutdown(ctx)
		}()

		convey.Convey("When 30 synthetic pairs are replayed with verification", func() {
			st, err := replay.Run(ctx, replay.Config{
				BaseURL:       srv.URL,
				Synthetic:     30,
				Seed:          1,
				Workers:       4,
				Verify:        true,
				VerifyTimeout: 10 * time.Second,
				PollInterval:  20 * time.Millisecond,
			})

			convey.Convey("Then every pair is scored", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(st.Accepted, convey.ShouldEqual, 33)
				convey.So(st.Pairs, convey.ShouldEqual, 30)
				convey.So(st.Scored, convey.ShouldEqual, 30)
				convey.So(st.Unsettled, convey.ShouldEqual, 0)
			})
		})
	})
}
