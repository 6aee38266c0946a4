package model

import "time"

// Channel is the delivery medium requested for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelBoth  Channel = "both"
	ChannelNone  Channel = "none"
)

// Status is the queue lifecycle state. Transitions are
// pending -> processing -> sent | pending (retry) | failed.
// sent and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Notification is a queued delivery item.
type Notification struct {
	ID            string
	RecipientID   string
	Type          string
	Title         string
	Body          string
	Data          map[string]string
	Channel       Channel
	Status        Status
	Attempts      int
	LastAttemptAt *time.Time
	SentAt        *time.Time
	ErrorMessage  *string
	CreatedAt     time.Time
}
