package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/internal/service/delivery"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
)

type UnreadRefresher interface {
	RefreshUnreadCount(ctx context.Context) error
}

type Poller interface {
	List(ctx context.Context, limit int) ([]model.NotificationRecord, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, rec model.NotificationRecord) delivery.Outcome
}

type ConnectionStatus interface {
	IsConnected() bool
}

type SurfacedPruner interface {
	Prune(ctx context.Context) (int64, error)
}

type ReconcilerConfig struct {
	Interval  time.Duration
	PollLimit int
}

// Reconciler periodically pulls the authoritative unread count. While the
// push channel is down it also polls the latest page, so REST becomes the
// delivery path once reconnects are exhausted.
type Reconciler struct {
	store    UnreadRefresher
	poller   Poller
	delivery Deliverer
	channel  ConnectionStatus
	surfaced SurfacedPruner
	config   ReconcilerConfig
	logger   *logger.Logger
}

func NewReconciler(
	store UnreadRefresher,
	poller Poller,
	delivery Deliverer,
	channel ConnectionStatus,
	surfaced SurfacedPruner,
	config ReconcilerConfig,
	logger *logger.Logger,
) *Reconciler {
	if config.Interval <= 0 {
		panic("Interval must be greater than 0")
	}
	if config.PollLimit <= 0 {
		panic("PollLimit must be greater than 0")
	}
	return &Reconciler{
		store:    store,
		poller:   poller,
		delivery: delivery,
		channel:  channel,
		surfaced: surfaced,
		config:   config,
		logger:   logger.Component("reconciler"),
	}
}

func (w *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("Starting reconciler", "interval", w.config.Interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down reconciler")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Warn("Reconciliation incomplete", "error", err.Error())
			}
		}
	}
}

// RunOnce performs a single reconciliation pass. Polling runs before the
// count refresh: the server's count already includes polled records, and
// inserting them afterwards would count them twice.
func (w *Reconciler) RunOnce(ctx context.Context) error {
	if w.surfaced != nil {
		if n, err := w.surfaced.Prune(ctx); err != nil {
			w.logger.Warn("Failed to prune surfaced ids", "error", err.Error())
		} else if n > 0 {
			w.logger.Debug("Pruned surfaced ids", "count", n)
		}
	}

	var pollErr error
	if !w.channel.IsConnected() {
		pollErr = w.poll(ctx)
	}

	var refreshErr error
	if err := w.store.RefreshUnreadCount(ctx); err != nil {
		refreshErr = fmt.Errorf("failed to refresh unread count: %w", err)
	}
	return errors.Join(pollErr, refreshErr)
}

func (w *Reconciler) poll(ctx context.Context) error {
	records, err := w.poller.List(ctx, w.config.PollLimit)
	if err != nil {
		return fmt.Errorf("failed to poll notifications: %w", err)
	}

	delivered := 0
	// newest first on the wire; replay oldest first so prepends keep order
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.IsRead {
			continue
		}
		if w.delivery.Deliver(ctx, rec) == delivery.OutcomeDelivered {
			delivered++
		}
	}
	if delivered > 0 {
		w.logger.Info("Delivered notifications by polling", "count", delivered)
	}
	return nil
}
