package model

import "time"

// Toast is a transient UI alert raised for critical and medium notifications.
type Toast struct {
	ID             string           `json:"id"`
	NotificationID int64            `json:"notification_id"`
	Type           NotificationType `json:"type"`
	Priority       Priority         `json:"priority"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Sound          bool             `json:"sound"`
	CreatedAt      time.Time        `json:"created_at"`
}
