package channel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// EmailConfig holds SMTP settings for the email adapter.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// EmailAdapter delivers messages over SMTP.
type EmailAdapter struct {
	cfg    EmailConfig
	dialer *gomail.Dialer
}

func NewEmailAdapter(cfg EmailConfig) *EmailAdapter {
	return &EmailAdapter{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (a *EmailAdapter) Name() string {
	return "email"
}

func (a *EmailAdapter) Send(ctx context.Context, msg Message) (string, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", a.cfg.From)
	m.SetHeader("To", msg.Recipient)

	subject := msg.Subject
	if subject == "" {
		subject = "Notification"
	}
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", msg.Text)

	messageID := fmt.Sprintf("<%s@automation-hub>", uuid.New().String())
	m.SetHeader("Message-ID", messageID)

	// gomail has no context support; honour cancellation before dialing.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if err := a.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("email send failed: %w", err)
	}
	return messageID, nil
}
