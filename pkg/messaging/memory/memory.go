package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jwalitptl/restaurant-notify/pkg/messaging"
)

var ErrClosed = errors.New("broker closed")

const defaultBuffer = 100

// Broker is an in-process messaging.Broker. Slow subscribers lose messages
// rather than block publishers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan []byte
	nextID int
	closed bool
	buffer int
}

var _ messaging.Broker = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[string]map[int]chan []byte),
		buffer: defaultBuffer,
	}
}

func (b *Broker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan []byte)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan []byte, b.buffer)
	b.subs[channel][id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(channel, id)
	}()

	return ch, nil
}

func (b *Broker) unsubscribe(channel string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[channel][id]; ok {
		delete(b.subs[channel], id)
		close(ch)
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, channel)
	}
	return nil
}
