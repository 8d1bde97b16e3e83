package model

type StoreEventType string

const (
	StoreEventLoaded             StoreEventType = "store_loaded"
	StoreEventAdded              StoreEventType = "notification_added"
	StoreEventRead               StoreEventType = "notification_read"
	StoreEventAllRead            StoreEventType = "all_notifications_read"
	StoreEventRemoved            StoreEventType = "notification_removed"
	StoreEventUnreadCountChanged StoreEventType = "unread_count_changed"
)

// StoreEvent tells consumers what changed so they can re-render.
type StoreEvent struct {
	Type           StoreEventType      `json:"type"`
	Notification   *NotificationRecord `json:"notification,omitempty"`
	NotificationID int64               `json:"notification_id,omitempty"`
	UnreadCount    int                 `json:"unread_count"`
}
