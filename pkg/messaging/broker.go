package messaging

import (
	"context"
)

// Topics used by the notification agent.
const (
	TopicStoreEvents = "notifications.store"
	TopicToasts      = "notifications.toasts"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}
