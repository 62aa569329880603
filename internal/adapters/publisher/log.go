package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
)

// Log writes each envelope as one JSON line, for running without a broker.
type Log struct {
	mu  sync.Mutex
	w   io.Writer
	log logger.Logger
}

// NewLog writes to w, or stdout when w is nil.
func NewLog(w io.Writer, l logger.Logger) *Log {
	if w == nil {
		w = os.Stdout
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Log{w: w, log: l}
}

func (p *Log) Publish(ctx context.Context, env model.Envelope) error {
	if env.ID == "" {
		return ErrEmptyID
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	p.mu.Lock()
	_, err = p.w.Write(append(b, '\n'))
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	p.log.Debug(ctx, "envelope published",
		logger.String("id", env.ID),
		logger.String("type", string(env.Type)),
	)
	return nil
}
