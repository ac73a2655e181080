package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// InstagramConfig points at a Graph-style messaging API.
type InstagramConfig struct {
	BaseURL     string        `yaml:"base_url"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// InstagramAdapter sends direct messages through the Graph messaging API.
type InstagramAdapter struct {
	cfg        InstagramConfig
	httpClient *http.Client
}

func NewInstagramAdapter(cfg InstagramConfig) *InstagramAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &InstagramAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *InstagramAdapter) Name() string {
	return "instagram"
}

type instagramSendResponse struct {
	MessageID string `json:"message_id"`
}

func (a *InstagramAdapter) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"recipient": map[string]string{"id": msg.Recipient},
		"message":   map[string]string{"text": msg.Text},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal instagram message: %w", err)
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", a.cfg.BaseURL, a.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("instagram send failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("instagram send failed with status %d: %s", resp.StatusCode, respBody)
	}

	var sr instagramSendResponse
	if err := json.Unmarshal(respBody, &sr); err == nil && sr.MessageID != "" {
		return sr.MessageID, nil
	}
	return "", nil
}
