// Package workflow is a client for an n8n-style HTTP workflow engine.
// Workflows are triggered by POSTing a payload to their webhook path and
// answer with an execution identifier.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sellerpulse/automation-hub/pkg/logger"
)

// Config holds workflow engine connection settings.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	WebhookURL string        `yaml:"webhook_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RequestError is a non-2xx response from the workflow engine.
type RequestError struct {
	StatusCode int
	WorkflowID string
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("workflow %s trigger failed with status %d: %s", e.WorkflowID, e.StatusCode, e.Body)
}

// IsRetryable reports whether err is worth retrying: transport failures,
// timeouts and 5xx/429 responses are; other HTTP statuses are permanent.
func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode >= 500 || reqErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Transport-level errors from http.Client arrive wrapped in *url.Error
	// which implements net.Error, so anything left is structural
	// (marshalling, bad URL) and permanent.
	return errors.Is(err, context.DeadlineExceeded)
}

type triggerResponse struct {
	ExecutionID string `json:"execution_id"`
	ID          string `json:"id"`
}

// Client triggers workflows over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = cfg.BaseURL + "/webhook"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

// TriggerWorkflow fires the webhook for workflowID with payload and
// returns the engine's execution identifier. Engines that answer 2xx
// without a body get a synthetic identifier so callers always have one
// to correlate on.
func (c *Client) TriggerWorkflow(ctx context.Context, workflowID string, payload map[string]interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.cfg.WebhookURL, workflowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build workflow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-N8N-API-KEY", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("workflow request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &RequestError{
			StatusCode: resp.StatusCode,
			WorkflowID: workflowID,
			Body:       string(respBody),
		}
	}

	var tr triggerResponse
	if err := json.Unmarshal(respBody, &tr); err == nil {
		if tr.ExecutionID != "" {
			return tr.ExecutionID, nil
		}
		if tr.ID != "" {
			return tr.ID, nil
		}
	}

	return fmt.Sprintf("exec-%s", uuid.New().String()), nil
}
