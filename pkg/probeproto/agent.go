package probeproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the probe agent's HTTP client against the core's probe
// protocol surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a Client. token is empty until Register succeeds.
func NewClient(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, http: &http.Client{Timeout: 30 * time.Second}}
}

// Token returns the currently held bearer token.
func (c *Client) Token() string { return c.token }

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("probeproto: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("probeproto: %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Register registers this agent with the core and stores the returned
// bearer token for subsequent calls.
func (c *Client) Register(ctx context.Context, orgID, name, region string) error {
	var resp RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/v1/probe/register", RegisterRequest{
		OrgID: orgID, Name: name, Region: region,
	}, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// Heartbeat reports liveness and host telemetry.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/probe/heartbeat", req, nil)
}

// Claim asks for up to batchSize pending jobs. The server answers at once
// with whatever is pending (possibly none); it does not hold the request
// open waiting for new jobs, so callers poll.
func (c *Client) Claim(ctx context.Context, batchSize int) (*ClaimResponse, error) {
	var resp ClaimResponse
	if err := c.do(ctx, http.MethodPost, "/v1/probe/claim", ClaimRequest{BatchSize: batchSize}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitResult reports a completed job's check result.
func (c *Client) SubmitResult(ctx context.Context, req SubmitResultRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/probe/results", req, nil)
}
