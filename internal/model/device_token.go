package model

import "time"

// DeviceToken is a registered push target. Tokens reported invalid by the
// provider are deactivated, never hard-deleted right away.
type DeviceToken struct {
	ID          int64
	RecipientID string
	Token       string
	DeviceType  string
	Active      bool
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}
