package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/config"
	"notifyhub/internal/model"
)

type fakePushClient struct {
	sendErr       error
	multicast     *MulticastResult
	multicastErr  error
	sentTokens    []string
	multicastSent [][]string
}

func (f *fakePushClient) Send(ctx context.Context, token string, msg Message) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sentTokens = append(f.sentTokens, token)
	return "msg-1", nil
}

func (f *fakePushClient) SendMulticast(ctx context.Context, tokens []string, msg Message) (*MulticastResult, error) {
	if f.multicastErr != nil {
		return nil, f.multicastErr
	}
	f.multicastSent = append(f.multicastSent, tokens)
	return f.multicast, nil
}

type fakeTokenStore struct {
	tokens      []*model.DeviceToken
	deactivated []string
	touched     [][]string
}

func (f *fakeTokenStore) ListActiveForRecipient(ctx context.Context, recipientID string) ([]*model.DeviceToken, error) {
	return f.tokens, nil
}

func (f *fakeTokenStore) Deactivate(ctx context.Context, token string) error {
	f.deactivated = append(f.deactivated, token)
	return nil
}

func (f *fakeTokenStore) TouchUsed(ctx context.Context, tokens []string) error {
	f.touched = append(f.touched, tokens)
	return nil
}

func pushTestConfig() config.PushConfig {
	return config.PushConfig{Enabled: true}
}

func deviceTokens(tokens ...string) []*model.DeviceToken {
	out := make([]*model.DeviceToken, len(tokens))
	for i, tok := range tokens {
		out[i] = &model.DeviceToken{Token: tok, Active: true}
	}
	return out
}

func TestPushGloballyDisabled(t *testing.T) {
	cfg := pushTestConfig()
	cfg.Enabled = false
	a := NewPushAdapter(cfg, &fakePushClient{}, &fakeTokenStore{}, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success || res.ErrorCode != CodeGlobalDisabled {
		t.Fatalf("expected %s, got success=%v code=%s", CodeGlobalDisabled, res.Success, res.ErrorCode)
	}
}

func TestPushNoClient(t *testing.T) {
	a := NewPushAdapter(pushTestConfig(), nil, &fakeTokenStore{}, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success || res.ErrorCode != CodeSendFailed {
		t.Fatalf("expected %s, got success=%v code=%s", CodeSendFailed, res.Success, res.ErrorCode)
	}
	if res.Permanent {
		t.Error("missing client is an operator state, retryable")
	}
}

func TestPushNoTokens(t *testing.T) {
	a := NewPushAdapter(pushTestConfig(), &fakePushClient{}, &fakeTokenStore{}, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success || res.ErrorCode != CodeNoTokens {
		t.Fatalf("expected %s, got success=%v code=%s", CodeNoTokens, res.Success, res.ErrorCode)
	}
}

func TestPushSingleTokenSuccess(t *testing.T) {
	client := &fakePushClient{}
	store := &fakeTokenStore{tokens: deviceTokens("tok-aaaaaaaaaaaaaaaa")}
	a := NewPushAdapter(pushTestConfig(), client, store, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.ErrorCode, res.ErrorMessage)
	}
	if len(store.touched) != 1 || len(store.touched[0]) != 1 {
		t.Fatalf("expected last_used_at touch for 1 token, got %v", store.touched)
	}
	if res.Target == "tok-aaaaaaaaaaaaaaaa" {
		t.Error("target must be a truncated token, not the raw token")
	}
}

func TestPushSingleTokenNotFound(t *testing.T) {
	client := &fakePushClient{sendErr: ErrTokenNotFound}
	store := &fakeTokenStore{tokens: deviceTokens("tok-dead")}
	a := NewPushAdapter(pushTestConfig(), client, store, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success || res.ErrorCode != CodeTokenNotFound {
		t.Fatalf("expected %s, got success=%v code=%s", CodeTokenNotFound, res.Success, res.ErrorCode)
	}
	if !res.Permanent {
		t.Error("unregistered token is a permanent failure")
	}
	if len(store.deactivated) != 1 || store.deactivated[0] != "tok-dead" {
		t.Fatalf("expected tok-dead deactivated, got %v", store.deactivated)
	}
}

func TestPushMulticastPartialSuccess(t *testing.T) {
	client := &fakePushClient{multicast: &MulticastResult{
		SuccessCount: 1,
		FailureCount: 1,
		Failures:     []TokenFailure{{Token: "tok-b", Err: ErrTokenNotFound}},
	}}
	store := &fakeTokenStore{tokens: deviceTokens("tok-a", "tok-b")}
	a := NewPushAdapter(pushTestConfig(), client, store, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if !res.Success {
		t.Fatalf("partial success still counts as delivered, got %s", res.ErrorCode)
	}
	if len(store.deactivated) != 1 || store.deactivated[0] != "tok-b" {
		t.Fatalf("expected tok-b deactivated, got %v", store.deactivated)
	}
	if len(store.touched) != 1 || len(store.touched[0]) != 1 || store.touched[0][0] != "tok-a" {
		t.Fatalf("only the surviving token should be touched, got %v", store.touched)
	}
}

func TestPushMulticastAllTokensGone(t *testing.T) {
	client := &fakePushClient{multicast: &MulticastResult{
		SuccessCount: 0,
		FailureCount: 2,
		Failures: []TokenFailure{
			{Token: "tok-a", Err: ErrTokenNotFound},
			{Token: "tok-b", Err: ErrTokenNotFound},
		},
	}}
	store := &fakeTokenStore{tokens: deviceTokens("tok-a", "tok-b")}
	a := NewPushAdapter(pushTestConfig(), client, store, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success {
		t.Fatal("zero successes is a failure")
	}
	if res.ErrorCode != CodeTokenNotFound || !res.Permanent {
		t.Fatalf("all tokens gone should be permanent %s, got code=%s permanent=%v",
			CodeTokenNotFound, res.ErrorCode, res.Permanent)
	}
	if len(store.deactivated) != 2 {
		t.Fatalf("both tokens should be deactivated, got %v", store.deactivated)
	}
	if len(store.touched) != 0 {
		t.Fatalf("no token should be touched, got %v", store.touched)
	}
}

func TestPushMulticastTransientFailure(t *testing.T) {
	client := &fakePushClient{multicast: &MulticastResult{
		SuccessCount: 0,
		FailureCount: 2,
		Failures: []TokenFailure{
			{Token: "tok-a", Err: errors.New("backend unavailable")},
			{Token: "tok-b", Err: ErrTokenNotFound},
		},
	}}
	store := &fakeTokenStore{tokens: deviceTokens("tok-a", "tok-b")}
	a := NewPushAdapter(pushTestConfig(), client, store, zap.NewNop())

	res := a.Send(context.Background(), testNotification())
	if res.Success || res.Permanent {
		t.Fatalf("mixed failure causes must stay retryable, got success=%v permanent=%v", res.Success, res.Permanent)
	}
	if res.ErrorCode != CodeSendFailed {
		t.Errorf("error code = %s, want %s", res.ErrorCode, CodeSendFailed)
	}
}

// blockingPushClient never answers until released, standing in for a wedged
// provider backend.
type blockingPushClient struct {
	release chan struct{}
}

func (c *blockingPushClient) Send(ctx context.Context, token string, msg Message) (string, error) {
	<-c.release
	return "", errors.New("released")
}

func (c *blockingPushClient) SendMulticast(ctx context.Context, tokens []string, msg Message) (*MulticastResult, error) {
	<-c.release
	return nil, errors.New("released")
}

func TestPushHungProviderResolvesToFailure(t *testing.T) {
	client := &blockingPushClient{release: make(chan struct{})}
	defer close(client.release)

	store := &fakeTokenStore{tokens: deviceTokens("tok-a")}
	a := NewPushAdapter(pushTestConfig(), client, store, zap.NewNop())
	a.sendTimeout = 50 * time.Millisecond

	results := make(chan *DeliveryResult, 1)
	go func() {
		results <- a.Send(context.Background(), testNotification())
	}()

	select {
	case res := <-results:
		if res.Success {
			t.Fatal("hung provider call must resolve to a failure")
		}
		if res.ErrorCode != CodeSendFailed {
			t.Errorf("error code = %s, want %s", res.ErrorCode, CodeSendFailed)
		}
		if res.Permanent {
			t.Error("timeout is transient, retries must stay allowed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return while the provider call was hung")
	}
}

// statefulTokenStore mirrors the real store's conditional deactivation:
// the update only applies while the row is still active, so repeating it is
// a no-op against the same single row.
type statefulTokenStore struct {
	rows map[string]*model.DeviceToken
}

func (s *statefulTokenStore) ListActiveForRecipient(ctx context.Context, recipientID string) ([]*model.DeviceToken, error) {
	var out []*model.DeviceToken
	for _, row := range s.rows {
		if row.RecipientID == recipientID && row.Active {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *statefulTokenStore) Deactivate(ctx context.Context, token string) error {
	if row, ok := s.rows[token]; ok && row.Active {
		row.Active = false
	}
	return nil
}

func (s *statefulTokenStore) TouchUsed(ctx context.Context, tokens []string) error {
	now := time.Now()
	for _, tok := range tokens {
		if row, ok := s.rows[tok]; ok {
			row.LastUsedAt = &now
		}
	}
	return nil
}

func TestTokenDeactivationIdempotent(t *testing.T) {
	store := &statefulTokenStore{rows: map[string]*model.DeviceToken{
		"tok-dead": {RecipientID: "u1", Token: "tok-dead", Active: true},
	}}
	client := &fakePushClient{sendErr: ErrTokenNotFound}
	a := NewPushAdapter(pushTestConfig(), client, store, zap.NewNop())
	ctx := context.Background()

	res := a.Send(ctx, testNotification())
	if res.ErrorCode != CodeTokenNotFound {
		t.Fatalf("error code = %s, want %s", res.ErrorCode, CodeTokenNotFound)
	}

	// deactivating again must not create, delete, or flip anything
	if err := store.Deactivate(ctx, "tok-dead"); err != nil {
		t.Fatalf("second Deactivate failed: %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(store.rows))
	}
	if store.rows["tok-dead"].Active {
		t.Fatal("token must stay inactive")
	}

	res = a.Send(ctx, testNotification())
	if res.ErrorCode != CodeNoTokens {
		t.Fatalf("deactivated token still listed as active, got %s", res.ErrorCode)
	}
}

func TestPushStatus(t *testing.T) {
	a := NewPushAdapter(pushTestConfig(), nil, &fakeTokenStore{}, zap.NewNop())
	s := a.Status()
	if !s.Enabled {
		t.Error("enabled flag should mirror config")
	}
	if s.Initialized || s.SDKInstalled {
		t.Error("nil client must report uninitialized")
	}
}
