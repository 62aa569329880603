package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
)

// Client talks to the service's HTTP surface.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{base: baseURL, http: &http.Client{Timeout: timeout}}
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Post submits one raw event and returns the status code.
func (c *Client) Post(ctx context.Context, raw []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/events", bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Correlation is the subset of GET /correlations/{jobId}/{resumeId} used
// for verification.
type Correlation struct {
	State model.State `json:"state"`
	Cause model.Cause `json:"cause"`
}

// Correlation fetches the state of key. ok is false on 404.
func (c *Client) Correlation(ctx context.Context, key model.Key) (Correlation, bool, error) {
	resp, err := c.get(ctx, "/correlations/"+url.PathEscape(key.JobID)+"/"+url.PathEscape(key.ResumeID))
	if err != nil {
		return Correlation{}, false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Correlation{}, false, nil
	default:
		return Correlation{}, false, fmt.Errorf("correlation %s returned %d", key, resp.StatusCode)
	}
	var out Correlation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Correlation{}, false, err
	}
	return out, true, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}
