package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/internal/repository"
)

type ackRepository struct {
	db *sqlx.DB
}

func NewAckRepository(db *sqlx.DB) repository.AckRepository {
	return &ackRepository{db: db}
}

func (r *ackRepository) Create(ctx context.Context, ack *model.PendingAck) error {
	if ack == nil {
		return fmt.Errorf("ack cannot be nil")
	}
	if ack.CreatedAt.IsZero() {
		ack.CreatedAt = time.Now().UTC()
	}
	if ack.NextAttemptAt.IsZero() {
		ack.NextAttemptAt = ack.CreatedAt
	}

	query := r.db.Rebind(`
		INSERT INTO pending_acks (
			kind, notification_id, attempts, created_at, next_attempt_at
		) VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := r.db.QueryRowxContext(ctx, query,
		string(ack.Kind),
		ack.NotificationID,
		ack.Attempts,
		ack.CreatedAt.UTC(),
		ack.NextAttemptAt.UTC(),
	).Scan(&ack.ID)
	if err != nil {
		return fmt.Errorf("failed to queue %s ack: %w", ack.Kind, err)
	}
	return nil
}

func (r *ackRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*model.PendingAck, error) {
	query := r.db.Rebind(`
		SELECT id, kind, notification_id, attempts, last_error, created_at, next_attempt_at, updated_at
		FROM pending_acks
		WHERE next_attempt_at <= ?
		ORDER BY id ASC
		LIMIT ?
	`)
	var acks []*model.PendingAck
	if err := r.db.SelectContext(ctx, &acks, query, now.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to get due acks: %w", err)
	}
	return acks, nil
}

func (r *ackRepository) MarkAttempt(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	query := r.db.Rebind(`
		UPDATE pending_acks
		SET attempts = attempts + 1,
			last_error = ?,
			next_attempt_at = ?,
			updated_at = ?
		WHERE id = ?
	`)
	result, err := r.db.ExecContext(ctx, query, errMsg, nextAttemptAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record attempt for ack %d: %w", id, err)
	}
	return expectOne(result)
}

func (r *ackRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM pending_acks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete ack %d: %w", id, err)
	}
	return expectOne(result)
}

func (r *ackRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pending_acks`); err != nil {
		return 0, fmt.Errorf("failed to count acks: %w", err)
	}
	return n, nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func expectOne(result rowsAffected) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
