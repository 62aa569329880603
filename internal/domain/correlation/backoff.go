package correlation

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes base × factor^(n-1) × (1 ± jitter) for retry n (1-based).
type Backoff struct {
	Base   time.Duration
	Factor float64
	Jitter float64

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultBackoff is 1s doubling with ±20% jitter.
func DefaultBackoff() *Backoff {
	return NewBackoff(time.Second, 2, 0.2)
}

func NewBackoff(base time.Duration, factor, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if factor < 1 {
		factor = 1
	}
	if jitter < 0 || jitter >= 1 {
		jitter = 0
	}
	return &Backoff{
		Base:   base,
		Factor: factor,
		Jitter: jitter,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
	}
}

// Delay returns the wait before retry n.
func (b *Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Base) * math.Pow(b.Factor, float64(n-1))
	if b.Jitter > 0 {
		b.mu.Lock()
		d *= 1 + b.Jitter*(2*b.rng.Float64()-1)
		b.mu.Unlock()
	}
	return time.Duration(d)
}
