package correlation_test

import (
	"testing"
	"time"

	"github.com/okian/talentmatch/internal/domain/correlation"
	"github.com/okian/talentmatch/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

func pairKey() model.Key { return model.Key{JobID: "job-1", ResumeID: "res-1"} }

func TestApply(t *testing.T) {
	Convey("Given a fresh pair", t, func() {
		p := model.NewPending(pairKey(), t0)
		job := &model.JobRequirementProfile{JobID: "job-1"}
		cand := &model.CandidateProfile{ResumeID: "res-1"}

		Convey("The first side moves it to waiting for the other", func() {
			next, act := correlation.Apply(p, correlation.Input{Signal: correlation.SignalResumeReceived, Candidate: cand}, t0)
			So(act, ShouldEqual, correlation.ActionNone)
			So(next.State, ShouldEqual, model.StateAwaitingJob)

			next, act = correlation.Apply(p, correlation.Input{Signal: correlation.SignalJobReceived, Job: job}, t0)
			So(act, ShouldEqual, correlation.ActionNone)
			So(next.State, ShouldEqual, model.StateAwaitingResume)
		})

		Convey("Both sides make it ready and ask for scoring", func() {
			next, _ := correlation.Apply(p, correlation.Input{Signal: correlation.SignalResumeReceived, Candidate: cand}, t0)
			next, act := correlation.Apply(next, correlation.Input{Signal: correlation.SignalJobReceived, Job: job}, t0)
			So(act, ShouldEqual, correlation.ActionScore)
			So(next.State, ShouldEqual, model.StateReady)
			So(next.Generation, ShouldEqual, 1)

			Convey("A stale score outcome is ignored", func() {
				same, act := correlation.Apply(next, correlation.Input{Signal: correlation.SignalScoreSucceeded, Generation: 0}, t0)
				So(act, ShouldEqual, correlation.ActionNone)
				So(same, ShouldResemble, next)
			})

			Convey("Success settles it as scored", func() {
				done, act := correlation.Apply(next, correlation.Input{Signal: correlation.SignalScoreSucceeded, Generation: 1}, t0)
				So(act, ShouldEqual, correlation.ActionNone)
				So(done.State, ShouldEqual, model.StateScored)
				So(done.SettledAt, ShouldNotBeNil)

				Convey("A redelivered resume asks for a rescore", func() {
					again, act := correlation.Apply(done, correlation.Input{Signal: correlation.SignalResumeReceived, Candidate: cand}, t0)
					So(act, ShouldEqual, correlation.ActionScore)
					So(again.State, ShouldEqual, model.StateScored)
					So(again.Generation, ShouldEqual, 2)

					Convey("A failed rescore retries, then keeps the pair scored", func() {
						in := correlation.Input{Signal: correlation.SignalScoreFailed, Generation: 2, MaxRetries: 2, Detail: "timeout"}
						cur := again
						for i := 0; i < 2; i++ {
							cur, act = correlation.Apply(cur, in, t0)
							So(act, ShouldEqual, correlation.ActionRetry)
							So(cur.State, ShouldEqual, model.StateScored)
						}
						_, act = correlation.Apply(cur, correlation.Input{Signal: correlation.SignalRetryDue, Generation: 2}, t0)
						So(act, ShouldEqual, correlation.ActionScore)

						cur, act = correlation.Apply(cur, in, t0)
						So(act, ShouldEqual, correlation.ActionKeep)
						So(cur.State, ShouldEqual, model.StateScored)
						So(cur.Attempts, ShouldEqual, 0)
						So(cur.Cause, ShouldBeEmpty)
					})
				})

				Convey("Upstream failure no longer applies", func() {
					_, act := correlation.Apply(done, correlation.Input{Signal: correlation.SignalUpstreamFailed}, t0)
					So(act, ShouldEqual, correlation.ActionNone)
				})
			})

			Convey("Failures retry until the budget is spent", func() {
				in := correlation.Input{Signal: correlation.SignalScoreFailed, Generation: 1, MaxRetries: 2, Detail: "boom"}
				cur := next
				var act correlation.Action
				for i := 0; i < 2; i++ {
					cur, act = correlation.Apply(cur, in, t0)
					So(act, ShouldEqual, correlation.ActionRetry)
					So(cur.State, ShouldEqual, model.StateReady)
				}
				cur, act = correlation.Apply(cur, in, t0)
				So(act, ShouldEqual, correlation.ActionFail)
				So(cur.State, ShouldEqual, model.StateFailed)
				So(cur.Cause, ShouldEqual, model.CauseScoringError)
				So(cur.Attempts, ShouldEqual, 3)
			})

			Convey("A due retry scores again only for the current generation", func() {
				_, act := correlation.Apply(next, correlation.Input{Signal: correlation.SignalRetryDue, Generation: 1}, t0)
				So(act, ShouldEqual, correlation.ActionScore)
				_, act = correlation.Apply(next, correlation.Input{Signal: correlation.SignalRetryDue, Generation: 7}, t0)
				So(act, ShouldEqual, correlation.ActionNone)
			})
		})

		Convey("The window elapsing decides the cause from what is missing", func() {
			onlyResume, _ := correlation.Apply(p, correlation.Input{Signal: correlation.SignalResumeReceived, Candidate: cand}, t0)
			failed, act := correlation.Apply(onlyResume, correlation.Input{Signal: correlation.SignalWindowElapsed}, t0)
			So(act, ShouldEqual, correlation.ActionFail)
			So(failed.Cause, ShouldEqual, model.CauseMissingJobData)

			onlyJob, _ := correlation.Apply(p, correlation.Input{Signal: correlation.SignalJobReceived, Job: job}, t0)
			failed, _ = correlation.Apply(onlyJob, correlation.Input{Signal: correlation.SignalWindowElapsed}, t0)
			So(failed.Cause, ShouldEqual, model.CauseMissingResumeData)

			Convey("unless a result already exists", func() {
				settled, act := correlation.Apply(onlyJob, correlation.Input{Signal: correlation.SignalWindowElapsed, HasResult: true}, t0)
				So(act, ShouldEqual, correlation.ActionNone)
				So(settled.State, ShouldEqual, model.StateScored)
				So(settled.Notified, ShouldBeTrue)
			})

			Convey("A late partner reopens the failed pair", func() {
				reopened, act := correlation.Apply(failed, correlation.Input{Signal: correlation.SignalResumeReceived, Candidate: cand}, t0.Add(time.Hour))
				So(act, ShouldEqual, correlation.ActionScore)
				So(reopened.State, ShouldEqual, model.StateReady)
				So(reopened.Cause, ShouldEqual, model.Cause(""))
				So(reopened.WindowStart.Equal(t0.Add(time.Hour)), ShouldBeTrue)
			})
		})

		Convey("Upstream failure settles an open pair", func() {
			failed, act := correlation.Apply(p, correlation.Input{Signal: correlation.SignalUpstreamFailed, Detail: "ocr failed"}, t0)
			So(act, ShouldEqual, correlation.ActionFail)
			So(failed.Cause, ShouldEqual, model.CauseUpstreamFailed)
			So(failed.Detail, ShouldEqual, "ocr failed")
			So(failed.Notified, ShouldBeFalse)
		})
	})
}

func TestBackoff(t *testing.T) {
	Convey("Backoff doubles from the base", t, func() {
		b := correlation.NewBackoff(time.Second, 2, 0)
		So(b.Delay(1), ShouldEqual, time.Second)
		So(b.Delay(2), ShouldEqual, 2*time.Second)
		So(b.Delay(3), ShouldEqual, 4*time.Second)
		So(b.Delay(0), ShouldEqual, time.Second)

		Convey("Jitter stays within bounds", func() {
			j := correlation.NewBackoff(time.Second, 2, 0.2)
			for i := 0; i < 100; i++ {
				d := j.Delay(2)
				So(d.Milliseconds(), ShouldBeBetweenOrEqual, 1600, 2400)
			}
		})
	})
}
