package mq

import "time"

type NotificationSentPayload struct {
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	Type           string    `json:"type"`
	Channel        string    `json:"channel"`
	SentAt         time.Time `json:"sent_at"`
}

type NotificationFailedPayload struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
	Type           string `json:"type"`
	Error          string `json:"error"`
	Attempts       int    `json:"attempts"`
}
