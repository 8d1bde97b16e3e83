package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/restaurant-notify/internal/channel"
	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/internal/repository"
	"github.com/jwalitptl/restaurant-notify/internal/restapi"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/metrics"
)

const maxAckBackoff = 5 * time.Minute

// AckAPI is the subset of the REST client used to replay read mutations.
type AckAPI interface {
	MarkRead(ctx context.Context, id int64) (model.NotificationRecord, error)
	MarkAllRead(ctx context.Context) error
}

type AckOutboxConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxAttempts is how many batches may fail an entry before it is dropped.
	MaxAttempts int
}

// AckOutboxProcessor replays read mutations that neither the REST call nor
// the push channel could deliver.
type AckOutboxProcessor struct {
	repo    repository.AckRepository
	api     AckAPI
	config  AckOutboxConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewAckOutboxProcessor(
	repo repository.AckRepository,
	api AckAPI,
	config AckOutboxConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *AckOutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.MaxAttempts <= 0 {
		panic("MaxAttempts must be greater than 0")
	}

	return &AckOutboxProcessor{
		repo:    repo,
		api:     api,
		config:  config,
		logger:  logger.Component("ack_outbox"),
		metrics: metrics,
		now:     time.Now,
	}
}

func (p *AckOutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting ack outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down ack outbox processor")
			return
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process pending acks")
			}
		}
	}
}

// ProcessBatch replays the entries that are due.
func (p *AckOutboxProcessor) ProcessBatch(ctx context.Context) error {
	acks, err := p.repo.GetDue(ctx, p.now(), p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending acks: %w", err)
	}

	for _, ack := range acks {
		if err := p.processAck(ctx, ack); err != nil {
			p.logger.Warn("Pending ack not delivered",
				"ack_id", ack.ID,
				"kind", string(ack.Kind),
				"notification_id", ack.NotificationID,
				"error", err.Error())
		}
	}

	count, err := p.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending acks: %w", err)
	}
	p.metrics.AckOutboxSize.Set(float64(count))
	return nil
}

func (p *AckOutboxProcessor) processAck(ctx context.Context, ack *model.PendingAck) error {
	attempt := 0
	err := retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		if attempt > 0 {
			p.metrics.AckOutboxRetries.WithLabelValues(string(ack.Kind)).Inc()
		}
		attempt++
		return p.send(ctx, ack)
	})

	// a notification deleted in the meantime has nothing left to acknowledge
	if err == nil || errors.Is(err, restapi.ErrNotFound) {
		p.metrics.AckOutboxProcessed.Inc()
		if delErr := p.repo.Delete(ctx, ack.ID); delErr != nil {
			return fmt.Errorf("failed to delete delivered ack: %w", delErr)
		}
		return nil
	}

	if ack.Attempts+1 >= p.config.MaxAttempts {
		p.metrics.AckOutboxFailed.Inc()
		p.logger.Warn("Dropping pending ack after max attempts, leaving it to reconciliation",
			"ack_id", ack.ID,
			"attempts", ack.Attempts+1)
		if delErr := p.repo.Delete(ctx, ack.ID); delErr != nil {
			p.logger.Error(delErr, "Failed to delete exhausted ack", "ack_id", ack.ID)
		}
		return err
	}

	next := p.now().Add(channel.Backoff(p.config.PollInterval, maxAckBackoff, ack.Attempts+1))
	if markErr := p.repo.MarkAttempt(ctx, ack.ID, err.Error(), next); markErr != nil {
		p.logger.Error(markErr, "Failed to record ack attempt", "ack_id", ack.ID)
	}
	return err
}

func (p *AckOutboxProcessor) send(ctx context.Context, ack *model.PendingAck) error {
	switch ack.Kind {
	case model.AckMarkRead:
		_, err := p.api.MarkRead(ctx, ack.NotificationID)
		return err
	case model.AckMarkAllRead:
		return p.api.MarkAllRead(ctx)
	default:
		return fmt.Errorf("unknown ack kind %q", ack.Kind)
	}
}

// Helper retry function
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
