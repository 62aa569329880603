package correlation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/talentmatch/internal/adapters/publisher"
	"github.com/okian/talentmatch/internal/adapters/repository"
	"github.com/okian/talentmatch/internal/domain/correlation"
	"github.com/okian/talentmatch/internal/domain/dedupe"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingPublisher struct {
	mu   sync.Mutex
	envs []model.Envelope
	fail int
}

func (p *recordingPublisher) Publish(_ context.Context, env model.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("bus down")
	}
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) ofType(t model.EventType) []model.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Envelope
	for _, e := range p.envs {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type stubScorer struct {
	calls    int
	failNext int
	always   bool
	score    int
}

func (s *stubScorer) Score(_ context.Context, job model.JobRequirementProfile, c model.CandidateProfile) (model.MatchResult, error) {
	s.calls++
	if s.always || s.failNext > 0 {
		s.failNext--
		return model.MatchResult{}, errors.New("model unavailable")
	}
	return model.MatchResult{
		JobID:        job.JobID,
		ResumeID:     c.ResumeID,
		OverallScore: s.score,
		Confidence:   1,
		MatchMode:    model.MatchModeLexical,
		ComputedAt:   time.Now(),
	}, nil
}

// harness runs tasks synchronously on one goroutine, the way a single shard
// would, with a clock the test moves by hand.
type harness struct {
	ctx     context.Context
	store   *repository.MemoryStore
	pub     *recordingPublisher
	scorer  *stubScorer
	now     time.Time
	queue   []model.Task
	delays  []time.Duration
	errs    []error
	corr    *correlation.Correlator
	sweeper *correlation.Sweeper
}

func newHarness(opts ...correlation.Option) *harness {
	return buildHarness(func(p correlation.Publisher) correlation.Publisher { return p }, opts...)
}

// newDedupedHarness publishes through the same id-based dedupe the service
// puts in front of the bus.
func newDedupedHarness() *harness {
	return buildHarness(func(p correlation.Publisher) correlation.Publisher {
		return publisher.NewIdempotent(p, dedupe.NewInMemoryDeduper(), logger.NewNop())
	})
}

func buildHarness(wrap func(correlation.Publisher) correlation.Publisher, opts ...correlation.Option) *harness {
	h := &harness{
		ctx:    context.Background(),
		store:  repository.NewMemoryStore(),
		pub:    &recordingPublisher{},
		scorer: &stubScorer{score: 80},
		now:    t0,
	}
	clock := func() time.Time { return h.now }
	base := []correlation.Option{
		correlation.WithClock(clock),
		correlation.WithDispatcher(h),
		correlation.WithLogger(logger.NewNop()),
		correlation.WithBackoff(correlation.NewBackoff(time.Second, 2, 0)),
		correlation.WithAfterFunc(func(d time.Duration, f func()) {
			h.delays = append(h.delays, d)
			f()
		}),
	}
	h.corr = correlation.New(h.store, h.store, wrap(h.pub), h.scorer, append(base, opts...)...)
	h.sweeper = correlation.NewSweeper(h.store, h,
		correlation.WithSweepClock(clock),
		correlation.WithSweepWindow(h.corr.Window()),
		correlation.WithSweepRetention(h.corr.Retention()),
		correlation.WithSweepLogger(logger.NewNop()))
	return h
}

func (h *harness) Dispatch(_ context.Context, t model.Task) bool {
	h.queue = append(h.queue, t)
	return true
}

func (h *harness) drain() {
	for len(h.queue) > 0 {
		t := h.queue[0]
		h.queue = h.queue[1:]
		if err := h.corr.Handle(h.ctx, t); err != nil {
			h.errs = append(h.errs, err)
		}
	}
}

func (h *harness) send(ev model.Event) {
	route := model.JobRoute(ev.JobID())
	key := model.Key{JobID: ev.JobID(), ResumeID: ev.ResumeID()}
	if key.ResumeID != "" {
		route = model.PairRoute(key)
	}
	h.Dispatch(h.ctx, model.Task{RouteKey: route, Kind: model.TaskEvent, Key: key, Event: &ev})
	h.drain()
}

func (h *harness) sweep() {
	_, err := h.sweeper.Sweep(h.ctx)
	So(err, ShouldBeNil)
	h.drain()
}

func (h *harness) pending(k model.Key) model.PendingCorrelation {
	p, ok, err := h.store.GetPending(h.ctx, k)
	So(err, ShouldBeNil)
	So(ok, ShouldBeTrue)
	return p
}

func jobEvent(jobID string) model.Event {
	return model.Event{
		ID:   "evt-job-" + jobID,
		Type: model.EventJobRequirementsExtracted,
		Job: &model.JobRequirementsExtracted{
			JobID:        jobID,
			Requirements: model.JobRequirementProfile{JobID: jobID, Skills: []model.RequiredSkill{{Name: "Go", Weight: 1, Required: true}}},
		},
	}
}

func resumeEvent(jobID, resumeID string) model.Event {
	return model.Event{
		ID:   "evt-res-" + resumeID,
		Type: model.EventResumeParsed,
		Resume: &model.ResumeParsed{
			JobID:    jobID,
			ResumeID: resumeID,
			Profile:  model.CandidateProfile{ResumeID: resumeID, Skills: []string{"Go"}},
		},
	}
}

func TestCorrelator(t *testing.T) {
	key := pairKey()

	Convey("Given a correlator over an in-memory store", t, func() {
		h := newHarness()

		Convey("Job then resume yields one scored event", func() {
			h.send(jobEvent("job-1"))
			h.send(resumeEvent("job-1", "res-1"))

			So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 1)
			So(h.pub.ofType(model.EventMatchFailed), ShouldBeEmpty)
			p := h.pending(key)
			So(p.State, ShouldEqual, model.StateScored)
			So(p.Notified, ShouldBeTrue)

			stored, ok, _ := h.store.GetResult(h.ctx, key)
			So(ok, ShouldBeTrue)
			So(stored.Published, ShouldBeTrue)
			So(stored.Result.OverallScore, ShouldEqual, 80)

			Convey("Redelivering the resume does not publish again", func() {
				h.now = h.now.Add(time.Minute)
				h.send(resumeEvent("job-1", "res-1"))
				So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 1)
				So(h.scorer.calls, ShouldEqual, 2)
				n, _ := h.store.CountResults(h.ctx)
				So(n, ShouldEqual, 1)
			})

			Convey("A changed score publishes a new version", func() {
				h.scorer.score = 60
				h.send(resumeEvent("job-1", "res-1"))
				scored := h.pub.ofType(model.EventMatchScored)
				So(scored, ShouldHaveLength, 2)
				So(scored[0].ID, ShouldNotEqual, scored[1].ID)
			})

			Convey("Sweeps after the window change nothing", func() {
				h.now = h.now.Add(time.Hour)
				h.sweep()
				h.sweep()
				So(h.pub.envs, ShouldHaveLength, 1)
			})
		})

		Convey("Resume then job is fanned out to the pair", func() {
			h.send(resumeEvent("job-1", "res-1"))
			So(h.pending(key).State, ShouldEqual, model.StateAwaitingJob)
			h.send(jobEvent("job-1"))
			So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 1)
			So(h.pending(key).State, ShouldEqual, model.StateScored)
		})

		Convey("A job shared by several resumes scores each pair", func() {
			h.send(jobEvent("job-1"))
			for _, id := range []string{"res-1", "res-2", "res-3"} {
				h.send(resumeEvent("job-1", id))
			}
			So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 3)
			list, err := h.store.ListByJob(h.ctx, "job-1", 10)
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 3)
		})

		Convey("A resume without a job fails once with missing_job_data", func() {
			h.send(resumeEvent("job-1", "res-1"))
			h.now = h.now.Add(correlation.DefaultWindow - time.Second)
			h.sweep()
			So(h.pub.envs, ShouldBeEmpty)

			h.now = h.now.Add(time.Second)
			h.sweep()
			h.sweep()
			failed := h.pub.ofType(model.EventMatchFailed)
			So(failed, ShouldHaveLength, 1)
			data := failed[0].Data.(model.MatchFailed)
			So(data.Cause, ShouldEqual, model.CauseMissingJobData)
			So(data.ResumeID, ShouldEqual, "res-1")

			Convey("and a late job still gets it scored", func() {
				h.send(jobEvent("job-1"))
				So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 1)
				So(h.pending(key).State, ShouldEqual, model.StateScored)
			})
		})

		Convey("A job nobody applies to is reported once as missing_resume_data", func() {
			h.send(jobEvent("job-1"))
			h.now = h.now.Add(correlation.DefaultWindow)
			h.sweep()
			h.sweep()
			failed := h.pub.ofType(model.EventMatchFailed)
			So(failed, ShouldHaveLength, 1)
			data := failed[0].Data.(model.MatchFailed)
			So(data.Cause, ShouldEqual, model.CauseMissingResumeData)
			So(data.JobID, ShouldEqual, "job-1")
			So(data.ResumeID, ShouldBeEmpty)

			Convey("and the registry entry is dropped after retention", func() {
				h.now = h.now.Add(correlation.DefaultRetention)
				h.sweep()
				_, ok, _ := h.store.GetJob(h.ctx, "job-1")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("A job with resumes is never reported as orphaned", func() {
			h.send(jobEvent("job-1"))
			h.send(resumeEvent("job-1", "res-1"))
			h.now = h.now.Add(correlation.DefaultWindow + correlation.DefaultRetention)
			h.sweep() // purges the settled pair
			h.sweep()
			So(h.pub.ofType(model.EventMatchFailed), ShouldBeEmpty)
			_, ok, _ := h.store.GetPending(h.ctx, key)
			So(ok, ShouldBeFalse)
		})

		Convey("A scorer that keeps failing ends in scoring_error after the retries", func() {
			h.scorer.always = true
			h.send(jobEvent("job-1"))
			h.send(resumeEvent("job-1", "res-1"))

			So(h.scorer.calls, ShouldEqual, correlation.DefaultMaxRetries+1)
			So(h.delays, ShouldResemble, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second})
			failed := h.pub.ofType(model.EventMatchFailed)
			So(failed, ShouldHaveLength, 1)
			So(failed[0].Data.(model.MatchFailed).Cause, ShouldEqual, model.CauseScoringError)
			So(h.pub.ofType(model.EventMatchScored), ShouldBeEmpty)
		})

		Convey("A transient scorer failure is retried to success", func() {
			h.scorer.failNext = 1
			h.send(jobEvent("job-1"))
			h.send(resumeEvent("job-1", "res-1"))
			So(h.scorer.calls, ShouldEqual, 2)
			So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 1)
			So(h.pending(key).Attempts, ShouldEqual, 0)
		})

		Convey("A failed resume parse is reported as upstream_failed", func() {
			h.send(model.Event{
				ID:           "evt-fail",
				Type:         model.EventResumeParseFailed,
				ResumeFailed: &model.ResumeParseFailed{JobID: "job-1", ResumeID: "res-1", Reason: "unreadable pdf"},
			})
			failed := h.pub.ofType(model.EventMatchFailed)
			So(failed, ShouldHaveLength, 1)
			So(failed[0].Data.(model.MatchFailed).Cause, ShouldEqual, model.CauseUpstreamFailed)
			So(failed[0].Data.(model.MatchFailed).Detail, ShouldEqual, "unreadable pdf")
		})

		Convey("A failed job settles every waiting pair", func() {
			h.send(resumeEvent("job-1", "res-1"))
			h.send(resumeEvent("job-1", "res-2"))
			h.send(model.Event{
				ID:        "evt-job-fail",
				Type:      model.EventJobRequirementsFailed,
				JobFailed: &model.JobRequirementsFailed{JobID: "job-1", Reason: "empty posting"},
			})
			failed := h.pub.ofType(model.EventMatchFailed)
			So(failed, ShouldHaveLength, 2)
			for _, f := range failed {
				So(f.Data.(model.MatchFailed).Cause, ShouldEqual, model.CauseUpstreamFailed)
			}

			Convey("and a resume arriving later fails immediately", func() {
				h.send(resumeEvent("job-1", "res-3"))
				So(h.pub.ofType(model.EventMatchFailed), ShouldHaveLength, 3)
			})
		})

		Convey("A failed job with no pairs is reported at job level", func() {
			h.send(model.Event{
				ID:        "evt-job-fail",
				Type:      model.EventJobRequirementsFailed,
				JobFailed: &model.JobRequirementsFailed{JobID: "job-9", Reason: "empty posting"},
			})
			failed := h.pub.ofType(model.EventMatchFailed)
			So(failed, ShouldHaveLength, 1)
			So(failed[0].Data.(model.MatchFailed).ResumeID, ShouldBeEmpty)
			h.now = h.now.Add(time.Hour)
			h.sweep()
			So(h.pub.ofType(model.EventMatchFailed), ShouldHaveLength, 1)
		})

		Convey("A failure that could not be published is republished by the sweeper", func() {
			h.pub.fail = 1
			h.send(resumeEvent("job-1", "res-1"))
			h.now = h.now.Add(correlation.DefaultWindow)
			h.sweep()
			So(h.pub.envs, ShouldBeEmpty)
			So(h.pending(key).Notified, ShouldBeFalse)

			h.sweep()
			So(h.pub.ofType(model.EventMatchFailed), ShouldHaveLength, 1)
			So(h.pending(key).Notified, ShouldBeTrue)
		})

		Convey("A result whose publish failed is retried until it goes out", func() {
			h.pub.fail = 1
			h.send(jobEvent("job-1"))
			h.send(resumeEvent("job-1", "res-1"))
			So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 1)
			So(h.scorer.calls, ShouldEqual, 2)
			stored, _, _ := h.store.GetResult(h.ctx, key)
			So(stored.Published, ShouldBeTrue)
		})

		Convey("Unknown tasks are rejected", func() {
			err := h.corr.Handle(h.ctx, model.Task{Kind: "bogus"})
			So(errors.Is(err, correlation.ErrUnknownTask), ShouldBeTrue)
		})
	})
}

func TestCorrelatorBehindDedupe(t *testing.T) {
	key := pairKey()

	Convey("Given a correlator publishing through the dedupe", t, func() {
		h := newDedupedHarness()

		Convey("A score that returns to an earlier value is published again", func() {
			h.send(jobEvent("job-1"))
			h.send(resumeEvent("job-1", "res-1"))
			h.scorer.score = 60
			h.send(resumeEvent("job-1", "res-1"))
			h.scorer.score = 80
			h.send(resumeEvent("job-1", "res-1"))

			scored := h.pub.ofType(model.EventMatchScored)
			So(scored, ShouldHaveLength, 3)
			So(scored[2].Data.(model.MatchScored).Result.OverallScore, ShouldEqual, 80)
			So(scored[0].ID, ShouldNotEqual, scored[2].ID)

			stored, _, _ := h.store.GetResult(h.ctx, key)
			So(stored.Result.OverallScore, ShouldEqual, 80)
			So(stored.Published, ShouldBeTrue)
		})

		Convey("The same failure after a reopen is published again", func() {
			h.send(resumeEvent("job-1", "res-1"))
			h.now = h.now.Add(correlation.DefaultWindow)
			h.sweep()

			h.now = h.now.Add(time.Minute)
			h.send(resumeEvent("job-1", "res-1"))
			So(h.pending(key).State, ShouldEqual, model.StateAwaitingJob)
			h.now = h.now.Add(correlation.DefaultWindow)
			h.sweep()

			failed := h.pub.ofType(model.EventMatchFailed)
			So(failed, ShouldHaveLength, 2)
			So(failed[0].ID, ShouldNotEqual, failed[1].ID)
			for _, f := range failed {
				So(f.Data.(model.MatchFailed).Cause, ShouldEqual, model.CauseMissingJobData)
			}
			So(h.pending(key).Notified, ShouldBeTrue)
		})
	})
}

func TestRescoreFailures(t *testing.T) {
	key := pairKey()

	Convey("Given a scored pair", t, func() {
		h := newHarness()
		h.send(jobEvent("job-1"))
		h.send(resumeEvent("job-1", "res-1"))
		So(h.scorer.calls, ShouldEqual, 1)

		Convey("A transient rescore failure is retried", func() {
			h.scorer.failNext = 1
			h.scorer.score = 60
			h.send(resumeEvent("job-1", "res-1"))

			So(h.scorer.calls, ShouldEqual, 3)
			So(h.delays, ShouldResemble, []time.Duration{time.Second})
			So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 2)
			stored, _, _ := h.store.GetResult(h.ctx, key)
			So(stored.Result.OverallScore, ShouldEqual, 60)
			p := h.pending(key)
			So(p.State, ShouldEqual, model.StateScored)
			So(p.Attempts, ShouldEqual, 0)
		})

		Convey("A rescore that keeps failing keeps the last result", func() {
			h.scorer.always = true
			h.send(resumeEvent("job-1", "res-1"))

			So(h.scorer.calls, ShouldEqual, 1+correlation.DefaultMaxRetries+1)
			So(h.delays, ShouldResemble, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second})
			So(h.pub.ofType(model.EventMatchFailed), ShouldBeEmpty)
			So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 1)
			stored, _, _ := h.store.GetResult(h.ctx, key)
			So(stored.Result.OverallScore, ShouldEqual, 80)
			p := h.pending(key)
			So(p.State, ShouldEqual, model.StateScored)
			So(p.Notified, ShouldBeTrue)
			So(p.Attempts, ShouldEqual, 0)

			Convey("and the sweeper does not start it again", func() {
				h.now = h.now.Add(time.Hour)
				h.sweep()
				So(h.scorer.calls, ShouldEqual, 1+correlation.DefaultMaxRetries+1)
			})
		})
	})
}

func TestLatePartner(t *testing.T) {
	key := pairKey()

	Convey("Given a resume whose window ran out before any sweep", t, func() {
		h := newHarness()
		h.send(resumeEvent("job-1", "res-1"))
		h.now = h.now.Add(correlation.DefaultWindow + time.Second)

		Convey("A job arriving now first settles the expired wait", func() {
			h.send(jobEvent("job-1"))

			failed := h.pub.ofType(model.EventMatchFailed)
			So(failed, ShouldHaveLength, 1)
			So(failed[0].Data.(model.MatchFailed).Cause, ShouldEqual, model.CauseMissingJobData)
			So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 1)
			So(h.pending(key).State, ShouldEqual, model.StateScored)

			Convey("and a later sweep has nothing left to report", func() {
				h.sweep()
				So(h.pub.ofType(model.EventMatchFailed), ShouldHaveLength, 1)
			})
		})
	})

	Convey("Given a job whose window ran out before any sweep", t, func() {
		h := newHarness()
		h.send(jobEvent("job-1"))
		h.now = h.now.Add(correlation.DefaultWindow + time.Second)

		Convey("A resume arriving now is still scored", func() {
			h.send(resumeEvent("job-1", "res-1"))
			So(h.pub.ofType(model.EventMatchScored), ShouldHaveLength, 1)
			So(h.pending(key).State, ShouldEqual, model.StateScored)
		})
	})
}

func TestSweeperStats(t *testing.T) {
	Convey("The sweeper reports what it saw", t, func() {
		h := newHarness()
		h.send(resumeEvent("job-1", "res-1"))
		h.send(jobEvent("job-2"))
		h.send(resumeEvent("job-2", "res-2"))

		st, err := h.sweeper.Sweep(h.ctx)
		So(err, ShouldBeNil)
		So(st.Pairs, ShouldEqual, 2)
		So(st.Open, ShouldEqual, 1)
		So(st.Jobs, ShouldEqual, 1)
		So(st.ByState[model.StateAwaitingJob], ShouldEqual, 1)
		So(st.ByState[model.StateScored], ShouldEqual, 1)
		So(h.sweeper.Stats().Pairs, ShouldEqual, 2)
	})
}

func init() {
	_ = logger.Init()
}
