package model

import "time"

// Delivery log entry statuses. Skipped means a channel was not attempted
// because of preferences or configuration, which is neither success nor
// failure.
const (
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// DeliveryLog is one append-only audit record per (notification, channel,
// attempt). Rows are never updated after insertion.
type DeliveryLog struct {
	ID                  int64
	NotificationID      string
	Channel             Channel
	Status              string
	RecipientIdentifier string
	AttemptNumber       int
	ErrorCode           string
	ErrorMessage        string
	ResponseData        map[string]any
	DeliveryTimeMs      int64
	CreatedAt           time.Time
}
