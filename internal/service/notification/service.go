package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/internal/repository"
	"github.com/jwalitptl/restaurant-notify/internal/restapi"
	apperrors "github.com/jwalitptl/restaurant-notify/pkg/errors"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/messaging"
	"github.com/jwalitptl/restaurant-notify/pkg/metrics"
)

const DefaultInitialLimit = 50

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// API is the backend's notification REST surface.
type API interface {
	List(ctx context.Context, limit int) ([]model.NotificationRecord, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) (model.NotificationRecord, error)
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id int64) error
}

// Transport is the push channel, used to relay read acks when REST fails.
type Transport interface {
	Send(frame model.ClientFrame) bool
}

type SurfacedSeeder interface {
	SeedAll(ctx context.Context, ids []int64)
}

type Config struct {
	InitialLimit int
}

// Store is the session's authoritative notification list and unread count.
//
// Read mutations are applied locally before the server is told, and a
// record never goes from read back to unread, not even across a reload.
// Failed server acks are relayed over the push channel when it is open,
// otherwise queued for the ack outbox processor.
type Store struct {
	api       API
	transport Transport
	acks      repository.AckRepository
	surfaced  SurfacedSeeder
	publisher messaging.Publisher
	logger    *logger.Logger
	metrics   *metrics.Metrics
	limit     int

	mu      sync.RWMutex
	records []model.NotificationRecord
	unread  int
	state   State
	// ids known to be read, kept across reloads
	readIDs map[int64]struct{}
	// ids inserted by delivery while a load was in flight
	insertedDuringLoad map[int64]struct{}
}

func NewStore(
	config Config,
	api API,
	transport Transport,
	acks repository.AckRepository,
	surfaced SurfacedSeeder,
	publisher messaging.Publisher,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Store {
	if config.InitialLimit <= 0 {
		config.InitialLimit = DefaultInitialLimit
	}
	return &Store{
		api:                api,
		transport:          transport,
		acks:               acks,
		surfaced:           surfaced,
		publisher:          publisher,
		logger:             logger.Component("store"),
		metrics:            metrics,
		limit:              config.InitialLimit,
		readIDs:            make(map[int64]struct{}),
		insertedDuringLoad: make(map[int64]struct{}),
	}
}

// LoadInitial replaces the list with the latest page from the server and
// seeds the unread count from the server's authoritative figure. On failure
// the store becomes empty but ready, keeping only pushes that arrived during
// the load, and the error is returned to the caller only.
func (s *Store) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateLoading
	s.insertedDuringLoad = make(map[int64]struct{})
	s.mu.Unlock()

	fetched, err := s.api.List(ctx, s.limit)
	if err != nil {
		s.logger.Error(err, "Failed to load notifications")
		s.mu.Lock()
		kept := make([]model.NotificationRecord, 0, len(s.insertedDuringLoad))
		for _, rec := range s.records {
			if rec.IsRead {
				// remembered so a later load cannot resurrect them as unread
				s.readIDs[rec.ID] = struct{}{}
			}
			if _, ok := s.insertedDuringLoad[rec.ID]; ok {
				kept = append(kept, rec)
			}
		}
		s.records = kept
		s.unread = countUnread(kept)
		s.state = StateReady
		s.insertedDuringLoad = make(map[int64]struct{})
		unread := s.unread
		s.updateGaugesLocked()
		s.mu.Unlock()
		s.publish(ctx, model.StoreEvent{Type: model.StoreEventLoaded, UnreadCount: unread})
		return fmt.Errorf("loading notifications: %w", err)
	}

	serverCount, countErr := s.api.UnreadCount(ctx)
	if countErr != nil {
		s.logger.Warn("Failed to fetch unread count, counting locally", "error", countErr.Error())
	}

	s.mu.Lock()
	for _, rec := range s.records {
		if rec.IsRead {
			s.readIDs[rec.ID] = struct{}{}
		}
	}

	seen := make(map[int64]struct{}, len(fetched))
	merged := make([]model.NotificationRecord, 0, len(fetched)+len(s.insertedDuringLoad))
	forcedRead, keptUnread := 0, 0

	// pushes that raced the fetch stay on top
	for _, rec := range s.records {
		if _, ok := s.insertedDuringLoad[rec.ID]; !ok {
			continue
		}
		if containsID(fetched, rec.ID) {
			continue
		}
		seen[rec.ID] = struct{}{}
		merged = append(merged, rec)
		if !rec.IsRead {
			keptUnread++
		}
	}

	for _, rec := range fetched {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		if _, read := s.readIDs[rec.ID]; read && !rec.IsRead {
			rec.IsRead = true
			forcedRead++
		}
		merged = append(merged, rec)
	}

	unread := 0
	if countErr == nil {
		unread = serverCount - forcedRead + keptUnread
	} else {
		unread = countUnread(merged)
	}
	if unread < 0 {
		unread = 0
	}

	s.records = merged
	s.unread = unread
	s.state = StateReady
	s.insertedDuringLoad = make(map[int64]struct{})
	s.readIDs = make(map[int64]struct{})
	ids := make([]int64, len(merged))
	for i, rec := range merged {
		ids[i] = rec.ID
		if rec.IsRead {
			s.readIDs[rec.ID] = struct{}{}
		}
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	if s.surfaced != nil {
		s.surfaced.SeedAll(ctx, ids)
	}

	s.logger.Info("Notifications loaded", "count", len(merged), "unread", unread)
	s.publish(ctx, model.StoreEvent{Type: model.StoreEventLoaded, UnreadCount: unread})
	return nil
}

// Has reports whether id is in the list.
func (s *Store) Has(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(id) >= 0
}

// Insert prepends rec unless its id is already present.
func (s *Store) Insert(rec model.NotificationRecord) bool {
	s.mu.Lock()
	if s.indexLocked(rec.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	if _, read := s.readIDs[rec.ID]; read {
		rec.IsRead = true
	}
	s.records = append([]model.NotificationRecord{rec}, s.records...)
	if !rec.IsRead {
		s.unread++
	}
	if s.state == StateLoading {
		s.insertedDuringLoad[rec.ID] = struct{}{}
	}
	unread := s.unread
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.publish(context.Background(), model.StoreEvent{
		Type:           model.StoreEventAdded,
		Notification:   &rec,
		NotificationID: rec.ID,
		UnreadCount:    unread,
	})
	return true
}

// MarkRead marks id read locally, then tells the server. Marking an
// already read record is a no-op. A failed server call is not rolled back.
func (s *Store) MarkRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return apperrors.NotFound("notification", nil)
	}
	if s.records[idx].IsRead {
		s.mu.Unlock()
		return nil
	}
	s.records[idx].IsRead = true
	s.readIDs[id] = struct{}{}
	if s.unread > 0 {
		s.unread--
	}
	unread := s.unread
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.publish(ctx, model.StoreEvent{Type: model.StoreEventRead, NotificationID: id, UnreadCount: unread})

	if _, err := s.api.MarkRead(ctx, id); err != nil {
		s.relay(ctx, model.MarkReadFrame(id), model.PendingAck{Kind: model.AckMarkRead, NotificationID: id}, err)
	}
	return nil
}

// MarkAllRead marks every record read and zeroes the count before the
// server call.
func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	for i := range s.records {
		s.records[i].IsRead = true
		s.readIDs[s.records[i].ID] = struct{}{}
	}
	s.unread = 0
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.publish(ctx, model.StoreEvent{Type: model.StoreEventAllRead, UnreadCount: 0})

	if err := s.api.MarkAllRead(ctx); err != nil {
		s.relay(ctx, model.MarkAllReadFrame(), model.PendingAck{Kind: model.AckMarkAllRead}, err)
	}
	return nil
}

// Remove deletes id on the server first and only then drops it locally.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if !s.Has(id) {
		return apperrors.NotFound("notification", nil)
	}

	if err := s.api.Delete(ctx, id); err != nil {
		if !errors.Is(err, restapi.ErrNotFound) {
			s.logger.Error(err, "Failed to delete notification", "notification_id", id)
			return apperrors.Unavailable("notification backend", err)
		}
		s.logger.Debug("Notification already gone on server", "notification_id", id)
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx >= 0 {
		if !s.records[idx].IsRead && s.unread > 0 {
			s.unread--
		}
		s.records = append(s.records[:idx], s.records[idx+1:]...)
	}
	delete(s.readIDs, id)
	unread := s.unread
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.publish(ctx, model.StoreEvent{Type: model.StoreEventRemoved, NotificationID: id, UnreadCount: unread})
	return nil
}

// RefreshUnreadCount overwrites the count with the server's figure.
// Last write wins against concurrent local mutations.
func (s *Store) RefreshUnreadCount(ctx context.Context) error {
	count, err := s.api.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("refreshing unread count: %w", err)
	}

	s.mu.Lock()
	changed := s.unread != count
	s.unread = count
	s.updateGaugesLocked()
	s.mu.Unlock()

	if changed {
		s.publish(ctx, model.StoreEvent{Type: model.StoreEventUnreadCountChanged, UnreadCount: count})
	}
	return nil
}

// Notifications returns a copy of the list, most recent first.
func (s *Store) Notifications() []model.NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.NotificationRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// relay gets a read ack to the server some other way after REST failed.
func (s *Store) relay(ctx context.Context, frame model.ClientFrame, ack model.PendingAck, cause error) {
	s.logger.Warn("Read ack failed over REST",
		"kind", string(ack.Kind),
		"notification_id", ack.NotificationID,
		"error", cause.Error())

	if s.transport != nil && s.transport.Send(frame) {
		s.logger.Debug("Read ack relayed over push channel", "kind", string(ack.Kind))
		return
	}
	if s.acks == nil {
		return
	}

	now := time.Now()
	ack.CreatedAt = now
	ack.NextAttemptAt = now
	if err := s.acks.Create(ctx, &ack); err != nil {
		s.logger.Error(err, "Failed to queue read ack", "kind", string(ack.Kind))
		return
	}
	s.metrics.AckOutboxSize.Inc()
}

func (s *Store) publish(ctx context.Context, event model.StoreEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, messaging.TopicStoreEvents, event); err != nil {
		s.logger.Debug("Failed to publish store event", "type", string(event.Type), "error", err.Error())
	}
}

func (s *Store) indexLocked(id int64) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) updateGaugesLocked() {
	s.metrics.UnreadCount.Set(float64(s.unread))
	s.metrics.StoredRecords.Set(float64(len(s.records)))
}

func containsID(records []model.NotificationRecord, id int64) bool {
	for _, rec := range records {
		if rec.ID == id {
			return true
		}
	}
	return false
}

func countUnread(records []model.NotificationRecord) int {
	n := 0
	for _, rec := range records {
		if !rec.IsRead {
			n++
		}
	}
	return n
}
