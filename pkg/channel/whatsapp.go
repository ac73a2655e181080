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

// WhatsAppConfig points at an Evolution-style WhatsApp API instance.
type WhatsAppConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Instance string        `yaml:"instance"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WhatsAppAdapter sends text messages through an Evolution API gateway.
type WhatsAppAdapter struct {
	cfg        WhatsAppConfig
	httpClient *http.Client
}

func NewWhatsAppAdapter(cfg WhatsAppConfig) *WhatsAppAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WhatsAppAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *WhatsAppAdapter) Name() string {
	return "whatsapp"
}

type whatsAppSendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

func (a *WhatsAppAdapter) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"number": msg.Recipient,
		"text":   msg.Text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal whatsapp message: %w", err)
	}

	url := fmt.Sprintf("%s/message/sendText/%s", a.cfg.BaseURL, a.cfg.Instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", a.cfg.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp send failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("whatsapp send failed with status %d: %s", resp.StatusCode, respBody)
	}

	var sr whatsAppSendResponse
	if err := json.Unmarshal(respBody, &sr); err == nil && sr.Key.ID != "" {
		return sr.Key.ID, nil
	}
	return "", nil
}
