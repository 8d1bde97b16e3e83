package model

import "time"

type AckKind string

const (
	AckMarkRead    AckKind = "mark_read"
	AckMarkAllRead AckKind = "mark_all_read"
)

// PendingAck is a read mutation whose server call failed and is waiting to be
// retried by the ack outbox processor.
type PendingAck struct {
	ID             int64      `json:"id" db:"id"`
	Kind           AckKind    `json:"kind" db:"kind"`
	NotificationID int64      `json:"notification_id" db:"notification_id"`
	Attempts       int        `json:"attempts" db:"attempts"`
	LastError      *string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	NextAttemptAt  time.Time  `json:"next_attempt_at" db:"next_attempt_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}
