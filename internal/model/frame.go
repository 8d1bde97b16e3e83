package model

import "encoding/json"

type FrameType string

// Server -> client frame types.
const (
	FrameNotification         FrameType = "notification"
	FramePong                 FrameType = "pong"
	FrameNotificationRead     FrameType = "notification_read"
	FrameAllNotificationsRead FrameType = "all_notifications_read"
)

// Client -> server frame types.
const (
	FramePing        FrameType = "ping"
	FrameMarkRead    FrameType = "mark_read"
	FrameMarkAllRead FrameType = "mark_all_read"
)

// ServerFrame is the tagged envelope pushed by the notification endpoint.
type ServerFrame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientFrame is sent fire-and-forget over the push channel.
type ClientFrame struct {
	Type           FrameType `json:"type"`
	NotificationID int64     `json:"notification_id,omitempty"`
}

func PingFrame() ClientFrame {
	return ClientFrame{Type: FramePing}
}

func MarkReadFrame(id int64) ClientFrame {
	return ClientFrame{Type: FrameMarkRead, NotificationID: id}
}

func MarkAllReadFrame() ClientFrame {
	return ClientFrame{Type: FrameMarkAllRead}
}
