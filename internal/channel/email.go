package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"regexp"
	"time"

	mail "github.com/go-mail/mail/v2"
	"go.uber.org/zap"

	"notifyhub/internal/config"
	"notifyhub/internal/model"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const emailSendTimeout = 30 * time.Second

// Dialer is the part of the SMTP client the adapter uses.
type Dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailDirectory resolves a recipient id to an email address.
type EmailDirectory interface {
	GetEmail(ctx context.Context, recipientID string) (string, error)
}

// EmailAdapter delivers notifications over SMTP.
type EmailAdapter struct {
	cfg    config.SMTPConfig
	dialer Dialer
	users  EmailDirectory
	logger *zap.Logger
}

// NewEmailAdapter builds an adapter with a STARTTLS dialer from config.
func NewEmailAdapter(cfg config.SMTPConfig, users EmailDirectory, logger *zap.Logger) *EmailAdapter {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	return &EmailAdapter{
		cfg:    cfg,
		dialer: d,
		users:  users,
		logger: logger,
	}
}

// NewEmailAdapterWithDialer injects a custom dialer.
func NewEmailAdapterWithDialer(cfg config.SMTPConfig, dialer Dialer, users EmailDirectory, logger *zap.Logger) *EmailAdapter {
	return &EmailAdapter{
		cfg:    cfg,
		dialer: dialer,
		users:  users,
		logger: logger,
	}
}

func (a *EmailAdapter) Channel() model.Channel {
	return model.ChannelEmail
}

func (a *EmailAdapter) Send(ctx context.Context, n *model.Notification) *DeliveryResult {
	start := time.Now()

	if !a.cfg.Enabled {
		return failure(CodeGlobalDisabled, "email sending is globally disabled", false, 0, "")
	}

	address, err := a.users.GetEmail(ctx, n.RecipientID)
	if err != nil {
		return failure(CodeInvalidEmail, err.Error(), true, elapsedMs(start), "")
	}
	if !emailPattern.MatchString(address) {
		return failure(CodeInvalidEmail, fmt.Sprintf("malformed address %q", address), true, elapsedMs(start), address)
	}

	m := mail.NewMessage()
	m.SetHeader("From", a.cfg.From)
	m.SetHeader("To", address)
	m.SetHeader("Subject", n.Title)
	m.SetBody("text/plain", n.Body)

	if err := a.dialAndSend(m); err != nil {
		a.logger.Warn("Email send failed",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		return failure(CodeSendFailed, err.Error(), false, elapsedMs(start), address)
	}

	return &DeliveryResult{
		Success:        true,
		DeliveryTimeMs: elapsedMs(start),
		Target:         address,
	}
}

// dialAndSend bounds the blocking SMTP call so a hung connection resolves to
// an error instead of wedging the worker. An already-started send runs to
// completion even during shutdown; only the timer cuts it short.
func (a *EmailAdapter) dialAndSend(m *mail.Message) error {
	done := make(chan error, 1)
	go func() {
		done <- a.dialer.DialAndSend(m)
	}()

	timer := time.NewTimer(emailSendTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("smtp send timed out after %s", emailSendTimeout)
	}
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
