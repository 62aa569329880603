package publisher

import (
	"context"
	"sync"

	"github.com/okian/talentmatch/internal/domain/model"
)

// Memory keeps published envelopes in order. It backs the in-process bus and
// tests.
type Memory struct {
	mu   sync.RWMutex
	envs []model.Envelope
}

// NewMemory returns an empty bus.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, env model.Envelope) error {
	if env.ID == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	m.envs = append(m.envs, env)
	m.mu.Unlock()
	return nil
}

// Envelopes returns a copy of everything published so far.
func (m *Memory) Envelopes() []model.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Envelope, len(m.envs))
	copy(out, m.envs)
	return out
}

// OfType filters Envelopes by type.
func (m *Memory) OfType(t model.EventType) []model.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Envelope
	for _, e := range m.envs {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many envelopes were published.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.envs)
}
