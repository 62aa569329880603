package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/okian/talentmatch/internal/domain/model"
)

const maxLine = 4 << 20

// Event is one raw event and the pair it belongs to, if any.
type Event struct {
	Raw  []byte
	Type model.EventType
	Key  model.Key
}

// ReadFile loads a JSON Lines file.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadEvents(f)
}

// ReadEvents reads one event per non-blank line. Lines are not validated
// beyond peeking at the type and ids; the service decides what is valid.
func ReadEvents(r io.Reader) ([]Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	var out []Event
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := peek(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func peek(line []byte) (Event, error) {
	var env struct {
		Type string `json:"type"`
		Data struct {
			JobID    string `json:"jobId"`
			ResumeID string `json:"resumeId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, err
	}
	return Event{
		Raw:  bytes.Clone(line),
		Type: model.EventType(env.Type),
		Key:  model.Key{JobID: env.Data.JobID, ResumeID: env.Data.ResumeID},
	}, nil
}

// Pairs returns the distinct pair keys the events will correlate.
func Pairs(events []Event) []model.Key {
	seen := make(map[model.Key]struct{})
	var out []model.Key
	for _, ev := range events {
		if ev.Key.JobID == "" || ev.Key.ResumeID == "" {
			continue
		}
		if _, ok := seen[ev.Key]; ok {
			continue
		}
		seen[ev.Key] = struct{}{}
		out = append(out, ev.Key)
	}
	return out
}
