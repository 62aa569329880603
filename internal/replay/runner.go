package replay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ErrUnsettled is returned by Run when verification times out with pairs
// still open.
var ErrUnsettled = errors.New("pairs did not settle")

const backpressureWait = time.Second

// Run loads or generates the events, submits them and, when asked, waits
// for every pair to settle.
func Run(ctx context.Context, cfg Config) (Stats, error) {
	cfg = cfg.withDefaults()
	log := logger.Get().Named("replay")
	start := time.Now()

	var (
		events []Event
		err    error
	)
	if cfg.Synthetic > 0 {
		events, err = Synthetic(cfg.Synthetic, cfg.Seed, time.Now().UTC())
	} else {
		events, err = ReadFile(cfg.File)
	}
	if err != nil {
		return Stats{}, err
	}

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return Stats{}, fmt.Errorf("service health check failed: %w", err)
	}
	log.Info(ctx, "replaying events",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("events", len(events)),
		logger.Int("workers", cfg.Workers),
	)

	st, err := Submit(ctx, client, events, cfg.Workers, cfg.MaxRetries)
	if err != nil {
		return st, err
	}

	if cfg.Verify {
		if err := Verify(ctx, client, Pairs(events), cfg.VerifyTimeout, cfg.PollInterval, &st); err != nil {
			st.Duration = time.Since(start)
			return st, err
		}
	}
	st.Duration = time.Since(start)
	log.Info(ctx, "replay finished",
		logger.Int("accepted", st.Accepted),
		logger.Int("rejected", st.Rejected),
		logger.Int("failed", st.Failed),
		logger.Int("retried", st.Retried),
		logger.Int("scored", st.Scored),
		logger.Int("matchFailed", st.MatchFail),
		logger.Duration("duration", st.Duration),
	)
	return st, nil
}

// Submit posts every event with at most workers in flight. A 429 is retried
// after a pause, up to maxRetries times per event.
func Submit(ctx context.Context, client *Client, events []Event, workers, maxRetries int) (Stats, error) {
	var accepted, rejected, failed, retried atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, ev := range events {
		g.Go(func() error {
			for attempt := 0; ; attempt++ {
				code, err := client.Post(gctx, ev.Raw)
				switch {
				case err != nil:
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(1)
					return nil
				case code == http.StatusAccepted:
					accepted.Add(1)
					return nil
				case code == http.StatusTooManyRequests && attempt < maxRetries:
					retried.Add(1)
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(backpressureWait):
					}
				case code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
					rejected.Add(1)
					return nil
				default:
					failed.Add(1)
					return nil
				}
			}
		})
	}
	err := g.Wait()

	return Stats{
		Events:   len(events),
		Accepted: int(accepted.Load()),
		Rejected: int(rejected.Load()),
		Failed:   int(failed.Load()),
		Retried:  int(retried.Load()),
	}, err
}

// Verify polls each pair until it is Scored or Failed. Pairs are dropped
// from the poll set as they settle.
func Verify(ctx context.Context, client *Client, pairs []model.Key, timeout, interval time.Duration, st *Stats) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st.Pairs = len(pairs)
	open := pairs
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var still []model.Key
		for i, key := range open {
			c, ok, err := client.Correlation(ctx, key)
			if err != nil {
				if ctx.Err() != nil {
					still = append(still, open[i:]...)
					break
				}
				return err
			}
			switch {
			case ok && c.State == model.StateScored:
				st.Scored++
			case ok && c.State == model.StateFailed:
				st.MatchFail++
			default:
				still = append(still, key)
			}
		}
		open = still
		st.Unsettled = len(open)
		if len(open) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %d of %d still open", ErrUnsettled, len(open), len(pairs))
		case <-ticker.C:
		}
	}
}
