package channel

import (
	"context"

	"notifyhub/internal/model"
)

// Normalized error codes shared by all adapters. Provider-specific failures
// are folded into this closed set and never cross the adapter boundary as
// raw errors.
const (
	CodeGlobalDisabled = "GLOBAL_DISABLED"
	CodeInvalidEmail   = "INVALID_EMAIL"
	CodeUserDisabled   = "USER_DISABLED"
	CodeTypeDisabled   = "TYPE_DISABLED"
	CodeSendFailed     = "SEND_FAILED"
	CodeTokenNotFound  = "TOKEN_NOT_FOUND"
	CodeNoTokens       = "NO_TOKENS"
	CodeInvalidMessage = "INVALID_MESSAGE"
)

// DeliveryResult is the only thing an adapter ever returns. A hung or
// crashing provider call still resolves to one of these.
type DeliveryResult struct {
	Success bool
	// Permanent marks failures the provider positively classified as not
	// retryable (invalid token, malformed message). Transient failures leave
	// it false and let the attempts budget govern.
	Permanent        bool
	ErrorCode        string
	ErrorMessage     string
	ProviderResponse map[string]any
	DeliveryTimeMs   int64
	// Target identifies the recipient endpoint for the delivery log: an email
	// address or a truncated token.
	Target string
}

// Adapter sends one notification over a single channel.
type Adapter interface {
	Channel() model.Channel
	Send(ctx context.Context, n *model.Notification) *DeliveryResult
}

func failure(code, msg string, permanent bool, elapsed int64, target string) *DeliveryResult {
	return &DeliveryResult{
		Success:        false,
		Permanent:      permanent,
		ErrorCode:      code,
		ErrorMessage:   msg,
		DeliveryTimeMs: elapsed,
		Target:         target,
	}
}
