package delivery

import (
	"context"
	"sync"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/metrics"
	"github.com/jwalitptl/restaurant-notify/pkg/validator"
)

type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeDuplicate
	// OutcomeResurfaced: stored, but the user had already been alerted.
	OutcomeResurfaced
	OutcomeDelivered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInvalid:
		return "invalid"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeResurfaced:
		return "resurfaced"
	case OutcomeDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// Store is the part of the notification store delivery writes to.
type Store interface {
	Has(id int64) bool
	Insert(rec model.NotificationRecord) bool
}

// Alerter plays the audible alert. It must not block or panic.
type Alerter interface {
	Alert(ctx context.Context)
}

type Service struct {
	store     Store
	surfaced  *SurfacedSet
	toaster   Toaster
	alerter   Alerter
	validator validator.Validator
	logger    *logger.Logger
	metrics   *metrics.Metrics

	// serializes the has/surfaced/insert sequence across the push and
	// polling paths
	mu sync.Mutex
}

func NewService(
	store Store,
	surfaced *SurfacedSet,
	toaster Toaster,
	alerter Alerter,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		store:     store,
		surfaced:  surfaced,
		toaster:   toaster,
		alerter:   alerter,
		validator: validator.New(),
		logger:    logger.Component("delivery"),
		metrics:   metrics,
	}
}

// Deliver applies the dedup and priority policy to one inbound record.
func (s *Service) Deliver(ctx context.Context, rec model.NotificationRecord) Outcome {
	outcome := s.deliver(ctx, rec)
	s.metrics.NotificationsDelivered.WithLabelValues(string(rec.Priority), outcome.String()).Inc()
	return outcome
}

func (s *Service) deliver(ctx context.Context, rec model.NotificationRecord) Outcome {
	if err := s.validator.Validate(rec); err != nil {
		s.logger.Debug("Dropping invalid notification", "notification_id", rec.ID, "error", err.Error())
		return OutcomeInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store.Has(rec.ID) {
		s.logger.Debug("Duplicate notification ignored", "notification_id", rec.ID)
		return OutcomeDuplicate
	}

	if s.surfaced.Contains(ctx, rec.ID) {
		s.store.Insert(rec)
		return OutcomeResurfaced
	}

	s.surfaced.Add(ctx, rec.ID)
	if !s.store.Insert(rec) {
		return OutcomeDuplicate
	}

	if rec.Priority.Toasts() {
		if err := s.toaster.Show(ctx, rec); err != nil {
			s.logger.Error(err, "Failed to show toast", "notification_id", rec.ID)
		} else {
			s.metrics.ToastsShown.WithLabelValues(string(rec.Priority)).Inc()
		}
	}
	if rec.Priority.Sounds() && s.alerter != nil {
		s.alerter.Alert(ctx)
	}

	s.logger.Info("Notification delivered",
		"notification_id", rec.ID,
		"type", string(rec.Type),
		"priority", string(rec.Priority))
	return OutcomeDelivered
}
