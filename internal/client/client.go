// Package client provides an HTTP client for the /admin/* endpoints of a
// running loyaltydesk server in demo mode.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// AdminClient talks to /admin/* endpoints.
type AdminClient struct {
	baseURL string
	http    *http.Client
}

// New creates an AdminClient for baseURL with a 10-second timeout.
func New(baseURL string) *AdminClient {
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *AdminClient) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return out, resp.StatusCode, nil
}

// expect fails unless the status is want, using error.message from the body
// when present.
func expect(op string, body []byte, status, want int) error {
	if status == want {
		return nil
	}
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return fmt.Errorf("%s returned status %d: %s", op, status, msg)
}

// Health checks GET /admin/health. Returns (ok, status text or error message).
func (c *AdminClient) Health(ctx context.Context) (bool, string) {
	body, status, err := c.do(ctx, http.MethodGet, "/admin/health", nil)
	if err != nil {
		return false, err.Error()
	}
	if status == http.StatusOK {
		return true, gjson.GetBytes(body, "status").String()
	}
	return false, fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body)))
}

// Reset calls POST /admin/reset.
func (c *AdminClient) Reset(ctx context.Context) error {
	body, status, err := c.do(ctx, http.MethodPost, "/admin/reset", nil)
	if err != nil {
		return err
	}
	return expect("reset", body, status, http.StatusOK)
}

// Snapshot writes GET /admin/state to w.
func (c *AdminClient) Snapshot(ctx context.Context, w io.Writer) error {
	body, status, err := c.do(ctx, http.MethodGet, "/admin/state", nil)
	if err != nil {
		return err
	}
	if err := expect("snapshot", body, status, http.StatusOK); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// LoadState replaces the server state with a snapshot via POST /admin/state.
func (c *AdminClient) LoadState(ctx context.Context, state []byte) error {
	if !gjson.ValidBytes(state) {
		return fmt.Errorf("state is not valid JSON")
	}
	body, status, err := c.do(ctx, http.MethodPost, "/admin/state", state)
	if err != nil {
		return err
	}
	return expect("load state", body, status, http.StatusOK)
}

// AdvanceTime moves the simulated clock forward and returns the new
// simulated time.
func (c *AdminClient) AdvanceTime(ctx context.Context, d time.Duration) (string, error) {
	payload := fmt.Sprintf(`{"duration":%q}`, d.String())
	body, status, err := c.do(ctx, http.MethodPost, "/admin/time/advance", []byte(payload))
	if err != nil {
		return "", err
	}
	if err := expect("advance time", body, status, http.StatusOK); err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "simulated").String(), nil
}

// RunJob runs a background job now and returns its result fields as JSON.
func (c *AdminClient) RunJob(ctx context.Context, name string) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/admin/jobs/"+name, nil)
	if err != nil {
		return "", err
	}
	if err := expect("run job "+name, body, status, http.StatusOK); err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "result").Raw, nil
}
