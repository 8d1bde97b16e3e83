package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/restaurant-notify/internal/repository"
)

type surfacedRepository struct {
	db *sqlx.DB
}

func NewSurfacedRepository(db *sqlx.DB) repository.SurfacedRepository {
	return &surfacedRepository{db: db}
}

func (r *surfacedRepository) MarkSurfaced(ctx context.Context, id int64, at time.Time) error {
	query := r.db.Rebind(`
		INSERT INTO surfaced_notifications (notification_id, surfaced_at)
		VALUES (?, ?)
		ON CONFLICT (notification_id) DO NOTHING
	`)
	if _, err := r.db.ExecContext(ctx, query, id, at.UTC()); err != nil {
		return fmt.Errorf("failed to mark notification %d surfaced: %w", id, err)
	}
	return nil
}

func (r *surfacedRepository) IsSurfaced(ctx context.Context, id int64) (bool, error) {
	var n int
	query := r.db.Rebind(`SELECT COUNT(*) FROM surfaced_notifications WHERE notification_id = ?`)
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		return false, fmt.Errorf("failed to look up surfaced notification %d: %w", id, err)
	}
	return n > 0, nil
}

func (r *surfacedRepository) ListSurfacedSince(ctx context.Context, since time.Time) ([]int64, error) {
	var ids []int64
	query := r.db.Rebind(`
		SELECT notification_id
		FROM surfaced_notifications
		WHERE surfaced_at >= ?
		ORDER BY notification_id
	`)
	if err := r.db.SelectContext(ctx, &ids, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list surfaced notifications: %w", err)
	}
	return ids, nil
}

func (r *surfacedRepository) DeleteSurfacedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM surfaced_notifications WHERE surfaced_at < ?`)
	result, err := r.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune surfaced notifications: %w", err)
	}
	return result.RowsAffected()
}
