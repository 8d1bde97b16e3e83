// Package memory keeps the surfaced ledger and ack outbox in process memory.
// It is the default storage driver; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/internal/repository"
)

type surfacedRepository struct {
	mu  sync.RWMutex
	ids map[int64]time.Time
}

func NewSurfacedRepository() repository.SurfacedRepository {
	return &surfacedRepository{ids: make(map[int64]time.Time)}
}

func (r *surfacedRepository) MarkSurfaced(ctx context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; !ok {
		r.ids[id] = at
	}
	return nil
}

func (r *surfacedRepository) IsSurfaced(ctx context.Context, id int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok, nil
}

func (r *surfacedRepository) ListSurfacedSince(ctx context.Context, since time.Time) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int64
	for id, at := range r.ids {
		if !at.Before(since) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *surfacedRepository) DeleteSurfacedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, at := range r.ids {
		if at.Before(before) {
			delete(r.ids, id)
			n++
		}
	}
	return n, nil
}

type ackRepository struct {
	mu     sync.Mutex
	nextID int64
	acks   map[int64]*model.PendingAck
}

func NewAckRepository() repository.AckRepository {
	return &ackRepository{acks: make(map[int64]*model.PendingAck)}
}

func (r *ackRepository) Create(ctx context.Context, ack *model.PendingAck) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ack.ID = r.nextID
	if ack.CreatedAt.IsZero() {
		ack.CreatedAt = time.Now()
	}
	if ack.NextAttemptAt.IsZero() {
		ack.NextAttemptAt = ack.CreatedAt
	}
	stored := *ack
	r.acks[ack.ID] = &stored
	return nil
}

func (r *ackRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*model.PendingAck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*model.PendingAck
	for _, ack := range r.acks {
		if !ack.NextAttemptAt.After(now) {
			cp := *ack
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *ackRepository) MarkAttempt(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ack, ok := r.acks[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	ack.Attempts++
	ack.LastError = &errMsg
	ack.NextAttemptAt = nextAttemptAt
	ack.UpdatedAt = &now
	return nil
}

func (r *ackRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.acks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.acks, id)
	return nil
}

func (r *ackRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.acks), nil
}
