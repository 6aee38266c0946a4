package channel

import (
	"context"
	"errors"
	"testing"

	mail "github.com/go-mail/mail/v2"
	"go.uber.org/zap"

	"notifyhub/internal/config"
	"notifyhub/internal/model"
)

type fakeDialer struct {
	err  error
	sent []*mail.Message
}

func (f *fakeDialer) DialAndSend(m ...*mail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

type fakeDirectory struct {
	addresses map[string]string
}

func (f *fakeDirectory) GetEmail(ctx context.Context, recipientID string) (string, error) {
	addr, ok := f.addresses[recipientID]
	if !ok {
		return "", errors.New("recipient not found")
	}
	return addr, nil
}

func emailTestConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Enabled: true,
		Host:    "smtp.test",
		Port:    587,
		From:    "no-reply@test",
	}
}

func testNotification() *model.Notification {
	return &model.Notification{
		ID:          "n1",
		RecipientID: "u1",
		Type:        "incident.reported",
		Title:       "Incident report",
		Body:        "details",
		Channel:     model.ChannelEmail,
	}
}

func TestEmailSendSuccess(t *testing.T) {
	dialer := &fakeDialer{}
	dir := &fakeDirectory{addresses: map[string]string{"u1": "parent@example.org"}}
	a := NewEmailAdapterWithDialer(emailTestConfig(), dialer, dir, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.ErrorCode, res.ErrorMessage)
	}
	if res.Target != "parent@example.org" {
		t.Errorf("target = %q, want recipient address", res.Target)
	}
	if len(dialer.sent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(dialer.sent))
	}
}

func TestEmailGloballyDisabled(t *testing.T) {
	cfg := emailTestConfig()
	cfg.Enabled = false
	dialer := &fakeDialer{}
	a := NewEmailAdapterWithDialer(cfg, dialer, &fakeDirectory{}, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success {
		t.Fatal("expected failure when sending is disabled")
	}
	if res.ErrorCode != CodeGlobalDisabled {
		t.Errorf("error code = %s, want %s", res.ErrorCode, CodeGlobalDisabled)
	}
	if res.Permanent {
		t.Error("global disable is an operator state, not a permanent recipient failure")
	}
	if len(dialer.sent) != 0 {
		t.Error("disabled adapter must not dial")
	}
}

func TestEmailUnknownRecipient(t *testing.T) {
	a := NewEmailAdapterWithDialer(emailTestConfig(), &fakeDialer{}, &fakeDirectory{}, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success || res.ErrorCode != CodeInvalidEmail {
		t.Fatalf("expected %s, got success=%v code=%s", CodeInvalidEmail, res.Success, res.ErrorCode)
	}
	if !res.Permanent {
		t.Error("missing address cannot be fixed by retrying")
	}
}

func TestEmailMalformedAddress(t *testing.T) {
	dir := &fakeDirectory{addresses: map[string]string{"u1": "not-an-address"}}
	a := NewEmailAdapterWithDialer(emailTestConfig(), &fakeDialer{}, dir, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success || res.ErrorCode != CodeInvalidEmail {
		t.Fatalf("expected %s, got success=%v code=%s", CodeInvalidEmail, res.Success, res.ErrorCode)
	}
	if !res.Permanent {
		t.Error("malformed address is permanent")
	}
}

func TestEmailSendCompletesDespiteCancelledContext(t *testing.T) {
	dialer := &fakeDialer{}
	dir := &fakeDirectory{addresses: map[string]string{"u1": "parent@example.org"}}
	a := NewEmailAdapterWithDialer(emailTestConfig(), dialer, dir, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a send that already started must run to completion during shutdown
	res := a.Send(ctx, testNotification())
	if !res.Success {
		t.Fatalf("expected the in-flight send to complete, got %s: %s", res.ErrorCode, res.ErrorMessage)
	}
	if len(dialer.sent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(dialer.sent))
	}
}

func TestEmailSMTPFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	dir := &fakeDirectory{addresses: map[string]string{"u1": "parent@example.org"}}
	a := NewEmailAdapterWithDialer(emailTestConfig(), dialer, dir, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success || res.ErrorCode != CodeSendFailed {
		t.Fatalf("expected %s, got success=%v code=%s", CodeSendFailed, res.Success, res.ErrorCode)
	}
	if res.Permanent {
		t.Error("SMTP failure should stay retryable")
	}
}
