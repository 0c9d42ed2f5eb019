// Package client talks to the ingest and realtime services.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// IngestResult is the body of a successful ingest or heartbeat response.
type IngestResult struct {
	Status  string `json:"status" yaml:"status"`
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Service string `json:"service,omitempty" yaml:"service,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int             `json:"-" yaml:"-"`
	Code       string          `json:"error" yaml:"error"`
	Message    string          `json:"message,omitempty" yaml:"message,omitempty"`
	Details    json.RawMessage `json:"details,omitempty" yaml:"-"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("ingest returned %d %s", e.StatusCode, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.Details) > 0 {
		msg += " " + string(e.Details)
	}
	return msg
}

type IngestClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewIngestClient(baseURL, token string) *IngestClient {
	return &IngestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one JSON event to /ingest/<category>. category is one of logs,
// metrics, security or heartbeat.
func (c *IngestClient) Send(ctx context.Context, category string, event []byte) (*IngestResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ingest/"+category, bytes.NewReader(event))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	var result IngestResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// SendJSON marshals event and sends it.
func (c *IngestClient) SendJSON(ctx context.Context, category string, event any) (*IngestResult, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, category, body)
}
