package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/okian/talentmatch/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWindow     = 10 * time.Minute
	DefaultRetention  = 24 * time.Hour
	DefaultMaxRetries = 3

	tracerName = "github.com/okian/talentmatch/internal/domain/correlation"
)

// Correlator owns every state change of correlation records. Handle must be
// called from the shard owning the task's route key; it is not safe to run
// two tasks for the same key concurrently.
type Correlator struct {
	store      CorrelationStore
	results    ResultStore
	publisher  Publisher
	scorer     Scorer
	dispatcher Dispatcher

	window     time.Duration
	retention  time.Duration
	maxRetries int
	backoff    *Backoff
	now        func() time.Time
	after      func(time.Duration, func())

	log    logger.Logger
	tracer trace.Tracer
}

// New creates a Correlator. A dispatcher is needed for job fan-out and
// retries; it can be set later with SetDispatcher when the worker pool is
// built around the correlator.
func New(store CorrelationStore, results ResultStore, publisher Publisher, scorer Scorer, opts ...Option) *Correlator {
	c := &Correlator{
		store:      store,
		results:    results,
		publisher:  publisher,
		scorer:     scorer,
		window:     DefaultWindow,
		retention:  DefaultRetention,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff(),
		now:        time.Now,
		after:      func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("correlator")
	}
	c.tracer = otel.Tracer(tracerName)
	return c
}

func (c *Correlator) SetDispatcher(d Dispatcher) { c.dispatcher = d }

func (c *Correlator) Window() time.Duration    { return c.window }
func (c *Correlator) Retention() time.Duration { return c.retention }

// Handle runs one task to completion.
func (c *Correlator) Handle(ctx context.Context, t model.Task) error {
	ctx, span := c.tracer.Start(ctx, "correlator.handle", trace.WithAttributes(
		attribute.String("task.kind", string(t.Kind)),
		attribute.String("job_id", t.Key.JobID),
		attribute.String("resume_id", t.Key.ResumeID),
	))
	defer span.End()

	var err error
	switch t.Kind {
	case model.TaskEvent:
		err = c.handleEvent(ctx, t.Event)
	case model.TaskJobAvailable:
		err = c.onJobAvailable(ctx, t.Key)
	case model.TaskUpstreamFailed:
		err = c.onSignal(ctx, t.Key, Input{Signal: SignalUpstreamFailed, Detail: t.Detail})
	case model.TaskRetry:
		err = c.onSignal(ctx, t.Key, Input{Signal: SignalRetryDue, Generation: t.Generation})
	case model.TaskWindowElapsed:
		err = c.onWindowElapsed(ctx, t.Key)
	case model.TaskRepublish:
		err = c.onRepublish(ctx, t.Key)
	case model.TaskPurge:
		err = c.onPurge(ctx, t.Key)
	case model.TaskJobSweep:
		err = c.onJobSweep(ctx, t.Key.JobID)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownTask, t.Kind)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Correlator) handleEvent(ctx context.Context, ev *model.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: event task without event", ErrUnknownTask)
	}
	switch {
	case ev.Job != nil:
		return c.onJob(ctx, *ev.Job)
	case ev.JobFailed != nil:
		return c.onJobFailed(ctx, *ev.JobFailed)
	case ev.Resume != nil:
		return c.onResume(ctx, *ev.Resume)
	case ev.ResumeFailed != nil:
		f := ev.ResumeFailed
		key := model.Key{JobID: f.JobID, ResumeID: f.ResumeID}
		p, _, err := c.load(ctx, key)
		if err != nil {
			return err
		}
		next, act := c.step(ctx, p, Input{Signal: SignalUpstreamFailed, Detail: f.Reason})
		return c.commit(ctx, next, act)
	}
	return fmt.Errorf("%w: event %s has no payload", ErrUnknownTask, ev.ID)
}

// onJob records the profile in the registry and fans it out to every pair
// already open for the job.
func (c *Correlator) onJob(ctx context.Context, j model.JobRequirementsExtracted) error {
	now := c.now().UTC()
	entry, ok, err := c.store.GetJob(ctx, j.JobID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !ok {
		entry = model.JobEntry{JobID: j.JobID}
	}
	profile := j.Requirements
	entry.Profile = &profile
	entry.ReceivedAt = &now
	entry.UpdatedAt = now
	if err := c.store.UpsertJob(ctx, entry); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if c.fanOut(ctx, j.JobID, model.TaskJobAvailable, "") > 0 && !entry.Claimed {
		entry.Claimed = true
		if err := c.store.UpsertJob(ctx, entry); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
	}
	return nil
}

func (c *Correlator) onJobFailed(ctx context.Context, f model.JobRequirementsFailed) error {
	now := c.now().UTC()
	entry, ok, err := c.store.GetJob(ctx, f.JobID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !ok {
		entry = model.JobEntry{JobID: f.JobID}
	}
	entry.FailedAt = &now
	entry.FailedReason = f.Reason
	entry.FailureReported = false
	entry.UpdatedAt = now
	if err := c.store.UpsertJob(ctx, entry); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if c.fanOut(ctx, f.JobID, model.TaskUpstreamFailed, f.Reason) > 0 {
		// Each pair reports for itself.
		entry.FailureReported = true
		entry.Claimed = true
		if err := c.store.UpsertJob(ctx, entry); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
		return nil
	}
	// Nobody to tell per pair; report the job itself.
	return c.reportJob(ctx, entry, model.CauseUpstreamFailed, f.Reason)
}

// fanOut dispatches kind to every pair of the job and returns how many pairs
// exist. A rejected dispatch is picked up by the sweeper.
func (c *Correlator) fanOut(ctx context.Context, jobID string, kind model.TaskKind, detail string) int {
	keys, err := c.store.ListPendingByJob(ctx, jobID)
	if err != nil {
		c.log.Warn(ctx, "list pairs for fan-out failed; sweeper will retry",
			logger.String("jobId", jobID), logger.Error(err))
		return 0
	}
	for _, k := range keys {
		t := model.Task{RouteKey: model.PairRoute(k), Kind: kind, Key: k, Detail: detail, EnqueuedAt: c.now()}
		if !c.dispatch(ctx, t) {
			c.log.Warn(ctx, "fan-out dispatch rejected; sweeper will retry",
				logger.String("jobId", k.JobID), logger.String("resumeId", k.ResumeID),
				logger.String("kind", string(kind)))
		}
	}
	return len(keys)
}

func (c *Correlator) onResume(ctx context.Context, r model.ResumeParsed) error {
	key := model.Key{JobID: r.JobID, ResumeID: r.ResumeID}
	p, _, err := c.load(ctx, key)
	if err != nil {
		return err
	}
	if p, err = c.expireIfDue(ctx, p); err != nil {
		return err
	}
	candidate := r.Profile
	p, act := c.step(ctx, p, Input{Signal: SignalResumeReceived, Candidate: &candidate})
	// Saved before the registry read so a concurrent job fan-out finds it.
	if err := c.save(ctx, p); err != nil {
		return err
	}
	entry, err := c.jobEntry(ctx, key.JobID)
	if err != nil {
		return err
	}
	if entry != nil && !entry.Claimed {
		// The job shard records that the job has applicants.
		c.dispatch(ctx, model.Task{RouteKey: model.JobRoute(key.JobID), Kind: model.TaskJobSweep, Key: model.Key{JobID: key.JobID}, EnqueuedAt: c.now()})
	}
	p, jobAct, _ := c.merge(ctx, p, entry)
	if jobAct != ActionNone {
		act = jobAct
	}
	return c.commit(ctx, p, act)
}

func (c *Correlator) onJobAvailable(ctx context.Context, key model.Key) error {
	p, ok, err := c.get(ctx, key)
	if err != nil || !ok {
		return err
	}
	if p, err = c.expireIfDue(ctx, p); err != nil {
		return err
	}
	entry, err := c.jobEntry(ctx, key.JobID)
	if err != nil {
		return err
	}
	next, act, applied := c.merge(ctx, p, entry)
	if !applied {
		return nil
	}
	return c.commit(ctx, next, act)
}

func (c *Correlator) jobEntry(ctx context.Context, jobID string) (*model.JobEntry, error) {
	entry, ok, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// merge applies the registry's view of the job to the pair: a newer profile
// is delivered, a failure settles the pair. applied is false when the
// registry had nothing new.
func (c *Correlator) merge(ctx context.Context, p model.PendingCorrelation, entry *model.JobEntry) (model.PendingCorrelation, Action, bool) {
	var in Input
	switch {
	case entry == nil:
		return p, ActionNone, false
	case entry.Failed():
		if p.State.Terminal() {
			return p, ActionNone, false
		}
		in = Input{Signal: SignalUpstreamFailed, Detail: entry.FailedReason}
	case entry.Available() && newerJob(p, *entry):
		in = Input{Signal: SignalJobReceived, Job: entry.Profile, JobAt: entry.ReceivedAt}
	default:
		return p, ActionNone, false
	}
	next, act := c.step(ctx, p, in)
	return next, act, true
}

func newerJob(p model.PendingCorrelation, entry model.JobEntry) bool {
	if entry.ReceivedAt == nil {
		return false
	}
	return p.JobReceivedAt == nil || entry.ReceivedAt.After(*p.JobReceivedAt)
}

// onSignal applies a signal to an existing pair.
func (c *Correlator) onSignal(ctx context.Context, key model.Key, in Input) error {
	p, ok, err := c.get(ctx, key)
	if err != nil || !ok {
		return err
	}
	next, act := c.step(ctx, p, in)
	if act == ActionNone && next.State == p.State {
		return nil
	}
	return c.commit(ctx, next, act)
}

func (c *Correlator) onWindowElapsed(ctx context.Context, key model.Key) error {
	p, ok, err := c.get(ctx, key)
	if err != nil || !ok {
		return err
	}
	if !p.State.Awaiting() || !p.Expired(c.now(), c.window) {
		return nil
	}
	_, has, err := c.results.GetResult(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	next, act := c.step(ctx, p, Input{Signal: SignalWindowElapsed, HasResult: has})
	return c.commit(ctx, next, act)
}

// expireIfDue settles a pair whose window ran out before the sweeper got to
// it, so a late partner opens a new cycle instead of completing the expired
// one. A failure that could not be published is left to the sweeper.
func (c *Correlator) expireIfDue(ctx context.Context, p model.PendingCorrelation) (model.PendingCorrelation, error) {
	if !p.State.Awaiting() || !p.Expired(c.now(), c.window) {
		return p, nil
	}
	if err := c.onWindowElapsed(ctx, p.Key); err != nil {
		if !errors.Is(err, ErrPublish) {
			return p, err
		}
		c.log.Warn(ctx, "expiry of late pair not published",
			logger.String("jobId", p.Key.JobID),
			logger.String("resumeId", p.Key.ResumeID),
			logger.Error(err))
	}
	next, _, err := c.load(ctx, p.Key)
	return next, err
}

// onRepublish retries the terminal event of a pair whose earlier publish did
// not go through.
func (c *Correlator) onRepublish(ctx context.Context, key model.Key) error {
	p, ok, err := c.get(ctx, key)
	if err != nil || !ok || !p.State.Terminal() || p.Notified {
		return err
	}
	if p.State == model.StateFailed {
		return c.notifyFailed(ctx, p)
	}
	stored, ok, err := c.results.GetResult(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !ok {
		// Scored without a stored result cannot happen through Apply; score
		// again from the held payloads.
		if p.Job == nil || p.Candidate == nil {
			return nil
		}
		p.Generation++
		return c.score(ctx, p)
	}
	if !stored.Published {
		if err := c.publishResult(ctx, stored); err != nil {
			return err
		}
	}
	p.Notified = true
	return c.save(ctx, p)
}

func (c *Correlator) onPurge(ctx context.Context, key model.Key) error {
	p, ok, err := c.get(ctx, key)
	if err != nil || !ok {
		return err
	}
	if !p.State.Terminal() || !p.Notified || p.SettledAt == nil || c.now().Before(p.SettledAt.Add(c.retention)) {
		return nil
	}
	if err := c.store.DeletePending(ctx, key); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	c.log.Debug(ctx, "purged settled pair", logger.String("jobId", key.JobID), logger.String("resumeId", key.ResumeID))
	return nil
}

// onJobSweep reports jobs nobody applied to and jobs whose failure report
// did not go out, then drops registry entries past retention.
func (c *Correlator) onJobSweep(ctx context.Context, jobID string) error {
	entry, ok, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !ok {
		return nil
	}
	keys, err := c.store.ListPendingByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if len(keys) > 0 {
		if entry.Claimed {
			return nil
		}
		entry.Claimed = true
		if err := c.store.UpsertJob(ctx, entry); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
		return nil
	}
	now := c.now()
	switch {
	case entry.Failed() && !entry.FailureReported:
		return c.reportJob(ctx, entry, model.CauseUpstreamFailed, entry.FailedReason)
	case entry.Available() && !entry.Claimed && !entry.OrphanReported && !now.Before(entry.ReceivedAt.Add(c.window)):
		return c.reportJob(ctx, entry, model.CauseMissingResumeData, "no resume arrived within the correlation window")
	}
	if now.Before(entry.UpdatedAt.Add(c.retention)) {
		return nil
	}
	if err := c.store.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	c.log.Debug(ctx, "dropped job registry entry", logger.String("jobId", jobID))
	return nil
}

// reportJob publishes a job-level match.failed and marks the entry reported.
func (c *Correlator) reportJob(ctx context.Context, entry model.JobEntry, cause model.Cause, detail string) error {
	key := model.Key{JobID: entry.JobID}
	cycle := timeCycle(entry.FailedAt)
	if cause == model.CauseMissingResumeData {
		cycle = timeCycle(entry.ReceivedAt)
	}
	if err := c.publish(ctx, FailedEnvelope(key, cause, detail, cycle, c.now().UTC())); err != nil {
		return err
	}
	metrics.RecordMatchFailed(string(cause))
	if cause == model.CauseMissingResumeData {
		entry.OrphanReported = true
	} else {
		entry.FailureReported = true
	}
	entry.UpdatedAt = c.now().UTC()
	if err := c.store.UpsertJob(ctx, entry); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	c.log.Info(ctx, "job reported failed", logger.String("jobId", entry.JobID), logger.String("cause", string(cause)))
	return nil
}

func (c *Correlator) get(ctx context.Context, key model.Key) (model.PendingCorrelation, bool, error) {
	p, ok, err := c.store.GetPending(ctx, key)
	if err != nil {
		return p, false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return p, ok, nil
}

// load returns the record for key or a fresh one.
func (c *Correlator) load(ctx context.Context, key model.Key) (model.PendingCorrelation, bool, error) {
	p, ok, err := c.get(ctx, key)
	if err != nil {
		return p, false, err
	}
	if !ok {
		return model.NewPending(key, c.now().UTC()), false, nil
	}
	return p, true, nil
}

// step applies in and records the transition.
func (c *Correlator) step(ctx context.Context, p model.PendingCorrelation, in Input) (model.PendingCorrelation, Action) {
	in.MaxRetries = c.maxRetries
	next, act := Apply(p, in, c.now().UTC())
	if next.State != p.State {
		metrics.RecordTransition(string(p.State), string(next.State))
		c.log.Debug(ctx, "transition",
			logger.String("jobId", p.Key.JobID),
			logger.String("resumeId", p.Key.ResumeID),
			logger.String("signal", in.Signal.String()),
			logger.String("from", string(p.State)),
			logger.String("to", string(next.State)),
			logger.String("action", act.String()))
	}
	return next, act
}

func (c *Correlator) save(ctx context.Context, p model.PendingCorrelation) error {
	if err := c.store.UpsertPending(ctx, p); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// commit persists p and then runs act.
func (c *Correlator) commit(ctx context.Context, p model.PendingCorrelation, act Action) error {
	if err := c.save(ctx, p); err != nil {
		return err
	}
	switch act {
	case ActionScore:
		return c.score(ctx, p)
	case ActionRetry:
		c.scheduleRetry(ctx, p)
	case ActionFail:
		return c.notifyFailed(ctx, p)
	case ActionKeep:
		metrics.RecordErrorByComponent("correlator", "rescore_exhausted")
		c.log.Error(ctx, "rescore gave up; keeping last stored result",
			logger.String("jobId", p.Key.JobID),
			logger.String("resumeId", p.Key.ResumeID),
			logger.Int("generation", p.Generation),
			logger.String("detail", p.Detail))
	}
	return nil
}

// score runs the scorer and delivers the result. Any failure on the way,
// storage and publish included, spends one attempt of the retry budget.
func (c *Correlator) score(ctx context.Context, p model.PendingCorrelation) error {
	start := time.Now()
	res, err := c.scorer.Score(ctx, *p.Job, *p.Candidate)
	metrics.RecordScoringLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err == nil {
		err = c.deliver(ctx, res, p.Generation)
	}
	if err != nil {
		metrics.RecordScoringError()
		c.log.Warn(ctx, "scoring attempt failed",
			logger.String("jobId", p.Key.JobID),
			logger.String("resumeId", p.Key.ResumeID),
			logger.Int("attempt", p.Attempts+1),
			logger.Error(err))
		next, act := c.step(ctx, p, Input{Signal: SignalScoreFailed, Detail: err.Error(), Generation: p.Generation})
		if next.State == model.StateScored && (errors.Is(err, ErrPublish) || errors.Is(err, ErrStore)) {
			// A rescore whose delivery broke; the sweeper republishes.
			next.Notified = false
		}
		return c.commit(ctx, next, act)
	}

	if res.Degraded {
		metrics.RecordDegradedResult()
	}
	metrics.RecordOverallScore(res.OverallScore)
	next, _ := c.step(ctx, p, Input{Signal: SignalScoreSucceeded, Generation: p.Generation})
	next.Notified = true
	c.log.Info(ctx, "match scored",
		logger.String("jobId", res.JobID),
		logger.String("resumeId", res.ResumeID),
		logger.Int("overallScore", res.OverallScore),
		logger.Bool("degraded", res.Degraded))
	return c.save(ctx, next)
}

// deliver stores and publishes res unless an identical result was already
// published, in which case only computedAt moves.
func (c *Correlator) deliver(ctx context.Context, res model.MatchResult, generation int) error {
	fp := res.Fingerprint()
	prev, ok, err := c.results.GetResult(ctx, res.Key())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if ok && prev.Published && prev.Fingerprint == fp {
		prev.Result.ComputedAt = res.ComputedAt
		if err := c.results.UpsertResult(ctx, prev); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
		metrics.RecordPublishSkipped()
		return nil
	}
	stored := model.StoredResult{Result: res, Fingerprint: fp, Generation: generation}
	if err := c.results.UpsertResult(ctx, stored); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return c.publishResult(ctx, stored)
}

func (c *Correlator) publishResult(ctx context.Context, stored model.StoredResult) error {
	if err := c.publish(ctx, ScoredEnvelope(stored.Result, stored.Fingerprint, stored.Generation, c.now().UTC())); err != nil {
		return err
	}
	stored.Published = true
	if err := c.results.UpsertResult(ctx, stored); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// notifyFailed publishes the failure of a settled pair. On publish error the
// record stays un-notified for the sweeper.
func (c *Correlator) notifyFailed(ctx context.Context, p model.PendingCorrelation) error {
	if err := c.publish(ctx, FailedEnvelope(p.Key, p.Cause, p.Detail, settlementCycle(p), c.now().UTC())); err != nil {
		return err
	}
	metrics.RecordMatchFailed(string(p.Cause))
	c.log.Info(ctx, "match failed",
		logger.String("jobId", p.Key.JobID),
		logger.String("resumeId", p.Key.ResumeID),
		logger.String("cause", string(p.Cause)),
		logger.String("detail", p.Detail))
	p.Notified = true
	return c.save(ctx, p)
}

func (c *Correlator) publish(ctx context.Context, env model.Envelope) error {
	if err := c.publisher.Publish(ctx, env); err != nil {
		metrics.RecordPublishError()
		return fmt.Errorf("%w: %s %s: %w", ErrPublish, env.Type, env.ID, err)
	}
	metrics.RecordPublished(string(env.Type))
	return nil
}

func (c *Correlator) scheduleRetry(ctx context.Context, p model.PendingCorrelation) {
	delay := c.backoff.Delay(p.Attempts)
	metrics.RecordScoringRetry()
	t := model.Task{RouteKey: model.PairRoute(p.Key), Kind: model.TaskRetry, Key: p.Key, Generation: p.Generation}
	log := c.log
	c.after(delay, func() {
		t.EnqueuedAt = c.now()
		if !c.dispatch(context.WithoutCancel(ctx), t) {
			log.Warn(context.Background(), "retry dispatch rejected; sweeper will retry",
				logger.String("jobId", t.Key.JobID), logger.String("resumeId", t.Key.ResumeID))
		}
	})
}

func (c *Correlator) dispatch(ctx context.Context, t model.Task) bool {
	if c.dispatcher == nil {
		return false
	}
	return c.dispatcher.Dispatch(ctx, t)
}
