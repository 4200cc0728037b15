package email

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/PauFou/form-builder-sub001/internal/model"
)

// AlertMailer notifies operators about dead-lettered deliveries. Strictly
// best effort; callers log and move on when it fails.
type AlertMailer interface {
	SendDeadLetterAlert(ctx context.Context, entry *model.DeadLetterEntry, webhookURL string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AlertTo  string
}

type smtpMailer struct {
	dialer *gomail.Dialer
	from   string
	to     string
}

func NewSMTPMailer(cfg SMTPConfig) AlertMailer {
	return &smtpMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		to:     cfg.AlertTo,
	}
}

func (m *smtpMailer) SendDeadLetterAlert(_ context.Context, entry *model.DeadLetterEntry, webhookURL string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", fmt.Sprintf("Webhook delivery dead-lettered: %s", entry.DeliveryID))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Delivery %s to webhook %s (%s) failed permanently after %d attempts.\n\nReason: %s\n",
		entry.DeliveryID, entry.WebhookID, webhookURL, entry.Attempts, entry.Reason,
	))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send alert mail: %w", err)
	}
	return nil
}

// NoopMailer is used when SMTP alerts are disabled.
type NoopMailer struct{}

func (NoopMailer) SendDeadLetterAlert(context.Context, *model.DeadLetterEntry, string) error {
	return nil
}
