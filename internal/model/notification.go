package model

import (
	"fmt"
	"time"
)

type NotificationType string

const (
	NotificationTypeOrder      NotificationType = "order"
	NotificationTypeAlert      NotificationType = "alert"
	NotificationTypeInfo       NotificationType = "info"
	NotificationTypeIngredient NotificationType = "ingredient"
	NotificationTypeTable      NotificationType = "table"
)

// Priority governs interruption level: critical gets a toast and a sound,
// medium a toast only, low is stored silently.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Toasts() bool {
	return p == PriorityCritical || p == PriorityMedium
}

func (p Priority) Sounds() bool {
	return p == PriorityCritical
}

// NotificationRecord is one entry of the session's notification list.
// The related_* fields are lookup-only references to backend entities.
type NotificationRecord struct {
	ID                  int64            `json:"id" db:"id" validate:"required,gt=0"`
	Type                NotificationType `json:"type" db:"type" validate:"required,oneof=order alert info ingredient table"`
	Priority            Priority         `json:"priority" db:"priority" validate:"required,oneof=critical medium low"`
	Title               string           `json:"title" db:"title" validate:"required_without=Message,max=255"`
	Message             string           `json:"message" db:"message" validate:"required_without=Title"`
	IsRead              bool             `json:"is_read" db:"is_read"`
	RelatedOrder        *int64           `json:"related_order,omitempty" db:"related_order"`
	RelatedOfflineOrder *int64           `json:"related_offline_order,omitempty" db:"related_offline_order"`
	RelatedIngredient   *int64           `json:"related_ingredient,omitempty" db:"related_ingredient"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
}

// EntityKind names the backend entity a notification points at.
type EntityKind string

const (
	EntityOrder        EntityKind = "order"
	EntityOfflineOrder EntityKind = "offline_order"
	EntityIngredient   EntityKind = "ingredient"
)

// Related returns the first related entity reference, if any.
func (n NotificationRecord) Related() (EntityKind, int64, bool) {
	switch {
	case n.RelatedOrder != nil:
		return EntityOrder, *n.RelatedOrder, true
	case n.RelatedOfflineOrder != nil:
		return EntityOfflineOrder, *n.RelatedOfflineOrder, true
	case n.RelatedIngredient != nil:
		return EntityIngredient, *n.RelatedIngredient, true
	}
	return "", 0, false
}

// TimeAgo renders the age of the notification relative to now. It is
// computed on every render and never stored.
func (n NotificationRecord) TimeAgo(now time.Time) string {
	d := now.Sub(n.CreatedAt)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour")
	case d < 30*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day")
	default:
		return n.CreatedAt.Format("2006-01-02")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// NotificationView is what consumers render: the record plus derived fields.
type NotificationView struct {
	NotificationRecord
	TimeAgo string `json:"time_ago"`
	// Link points the consumer at the entity to open, e.g. "order/12".
	Link string `json:"link,omitempty"`
}

func NewNotificationView(n NotificationRecord, now time.Time) NotificationView {
	v := NotificationView{NotificationRecord: n, TimeAgo: n.TimeAgo(now)}
	if kind, id, ok := n.Related(); ok {
		v.Link = fmt.Sprintf("%s/%d", kind, id)
	}
	return v
}
