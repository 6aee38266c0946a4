package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/config"
	"notifyhub/internal/model"
	"notifyhub/pkg/circuitbreaker"
)

// Sentinel errors a push provider client may return per token.
var (
	ErrTokenNotFound  = errors.New("token not registered with provider")
	ErrInvalidMessage = errors.New("message rejected by provider")
)

const pushSendTimeout = 30 * time.Second

// Message is the provider-neutral push payload.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

type TokenFailure struct {
	Token string
	Err   error
}

// MulticastResult is the provider's per-batch report.
type MulticastResult struct {
	SuccessCount int
	FailureCount int
	Failures     []TokenFailure
}

// Client is the injected push provider boundary.
type Client interface {
	Send(ctx context.Context, token string, msg Message) (string, error)
	SendMulticast(ctx context.Context, tokens []string, msg Message) (*MulticastResult, error)
}

// ProviderStatus reports provider readiness as structured state instead of
// raising past the adapter boundary.
type ProviderStatus struct {
	Enabled          bool `json:"enabled"`
	Initialized      bool `json:"initialized"`
	SDKInstalled     bool `json:"sdkInstalled"`
	CredentialsExist bool `json:"credentialsExist"`
}

// PushTokenStore is the device-token surface the adapter needs.
type PushTokenStore interface {
	ListActiveForRecipient(ctx context.Context, recipientID string) ([]*model.DeviceToken, error)
	Deactivate(ctx context.Context, token string) error
	TouchUsed(ctx context.Context, tokens []string) error
}

// PushAdapter delivers notifications to all of a recipient's active device
// tokens, multicasting when there is more than one. Provider calls run behind
// a circuit breaker.
type PushAdapter struct {
	cfg         config.PushConfig
	client      Client
	tokens      PushTokenStore
	breaker     *circuitbreaker.CircuitBreaker
	sendTimeout time.Duration
	logger      *zap.Logger
}

func NewPushAdapter(cfg config.PushConfig, client Client, tokens PushTokenStore, logger *zap.Logger) *PushAdapter {
	return &PushAdapter{
		cfg:         cfg,
		client:      client,
		tokens:      tokens,
		breaker:     circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		sendTimeout: pushSendTimeout,
		logger:      logger,
	}
}

// execute runs a provider call under the breaker and bounds it so a hung
// provider resolves to an error instead of wedging the worker pass. A timeout
// counts as a breaker failure.
func (a *PushAdapter) execute(fn func() error) error {
	return a.breaker.Execute(func() error {
		done := make(chan error, 1)
		go func() {
			done <- fn()
		}()

		timer := time.NewTimer(a.sendTimeout)
		defer timer.Stop()

		select {
		case err := <-done:
			return err
		case <-timer.C:
			return fmt.Errorf("push send timed out after %s", a.sendTimeout)
		}
	})
}

func (a *PushAdapter) Channel() model.Channel {
	return model.ChannelPush
}

// Status reports provider readiness for the operational surface.
func (a *PushAdapter) Status() ProviderStatus {
	credentialsExist := false
	if a.cfg.CredentialsFile != "" {
		if _, err := os.Stat(a.cfg.CredentialsFile); err == nil {
			credentialsExist = true
		}
	}
	return ProviderStatus{
		Enabled:          a.cfg.Enabled,
		Initialized:      a.client != nil,
		SDKInstalled:     a.client != nil,
		CredentialsExist: credentialsExist,
	}
}

func (a *PushAdapter) Send(ctx context.Context, n *model.Notification) *DeliveryResult {
	start := time.Now()

	if !a.cfg.Enabled {
		return failure(CodeGlobalDisabled, "push sending is globally disabled", false, 0, "")
	}
	if a.client == nil {
		return failure(CodeSendFailed, "push provider client not initialized", false, 0, "")
	}

	tokens, err := a.tokens.ListActiveForRecipient(ctx, n.RecipientID)
	if err != nil {
		return failure(CodeSendFailed, err.Error(), false, elapsedMs(start), "")
	}
	if len(tokens) == 0 {
		return failure(CodeNoTokens, "recipient has no active device tokens", false, elapsedMs(start), "")
	}

	msg := Message{
		Title: n.Title,
		Body:  n.Body,
		Data:  n.Data,
	}

	if len(tokens) == 1 {
		return a.sendSingle(ctx, tokens[0].Token, msg, start)
	}
	return a.sendMulticast(ctx, tokens, msg, start)
}

func (a *PushAdapter) sendSingle(ctx context.Context, token string, msg Message, start time.Time) *DeliveryResult {
	var providerID string
	err := a.execute(func() error {
		var sendErr error
		providerID, sendErr = a.client.Send(ctx, token, msg)
		return sendErr
	})

	target := truncate(token)

	if err != nil {
		return a.classifySendError(ctx, err, token, target, start)
	}

	if err := a.tokens.TouchUsed(ctx, []string{token}); err != nil {
		a.logger.Warn("Failed to update token last_used_at", zap.Error(err))
	}

	return &DeliveryResult{
		Success:          true,
		ProviderResponse: map[string]any{"message_id": providerID},
		DeliveryTimeMs:   elapsedMs(start),
		Target:           target,
	}
}

func (a *PushAdapter) sendMulticast(ctx context.Context, tokens []*model.DeviceToken, msg Message, start time.Time) *DeliveryResult {
	tokenStrings := make([]string, len(tokens))
	for i, t := range tokens {
		tokenStrings[i] = t.Token
	}

	var report *MulticastResult
	err := a.execute(func() error {
		var sendErr error
		report, sendErr = a.client.SendMulticast(ctx, tokenStrings, msg)
		return sendErr
	})

	target := fmt.Sprintf("%d tokens", len(tokenStrings))

	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			return failure(CodeSendFailed, "push provider circuit open", false, elapsedMs(start), target)
		}
		return failure(CodeSendFailed, err.Error(), false, elapsedMs(start), target)
	}

	// deactivate tokens the provider no longer recognizes
	failedSet := make(map[string]bool, len(report.Failures))
	for _, f := range report.Failures {
		failedSet[f.Token] = true
		if errors.Is(f.Err, ErrTokenNotFound) {
			if err := a.tokens.Deactivate(ctx, f.Token); err != nil {
				a.logger.Warn("Failed to deactivate invalid token", zap.Error(err))
			}
		}
	}

	var succeeded []string
	for _, t := range tokenStrings {
		if !failedSet[t] {
			succeeded = append(succeeded, t)
		}
	}
	if len(succeeded) > 0 {
		if err := a.tokens.TouchUsed(ctx, succeeded); err != nil {
			a.logger.Warn("Failed to update token last_used_at", zap.Error(err))
		}
	}

	response := map[string]any{
		"success_count": report.SuccessCount,
		"failure_count": report.FailureCount,
	}

	if report.SuccessCount == 0 {
		allNotFound := len(report.Failures) > 0
		for _, f := range report.Failures {
			if !errors.Is(f.Err, ErrTokenNotFound) {
				allNotFound = false
				break
			}
		}
		code := CodeSendFailed
		if allNotFound {
			code = CodeTokenNotFound
		}
		return &DeliveryResult{
			Success:          false,
			Permanent:        allNotFound,
			ErrorCode:        code,
			ErrorMessage:     fmt.Sprintf("all %d tokens failed", report.FailureCount),
			ProviderResponse: response,
			DeliveryTimeMs:   elapsedMs(start),
			Target:           target,
		}
	}

	return &DeliveryResult{
		Success:          true,
		ProviderResponse: response,
		DeliveryTimeMs:   elapsedMs(start),
		Target:           target,
	}
}

func (a *PushAdapter) classifySendError(ctx context.Context, err error, token, target string, start time.Time) *DeliveryResult {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		return failure(CodeSendFailed, "push provider circuit open", false, elapsedMs(start), target)
	case errors.Is(err, ErrTokenNotFound):
		if derr := a.tokens.Deactivate(ctx, token); derr != nil {
			a.logger.Warn("Failed to deactivate invalid token", zap.Error(derr))
		}
		return failure(CodeTokenNotFound, "provider reported token not registered", true, elapsedMs(start), target)
	case errors.Is(err, ErrInvalidMessage):
		return failure(CodeInvalidMessage, err.Error(), true, elapsedMs(start), target)
	default:
		return failure(CodeSendFailed, err.Error(), false, elapsedMs(start), target)
	}
}

func truncate(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
