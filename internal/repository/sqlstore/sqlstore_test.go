package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/internal/repository"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	assert.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, migrate(context.Background(), db))

	var versions int
	require.NoError(t, db.Get(&versions, "SELECT COUNT(*) FROM schema_version"))
	assert.Equal(t, len(migrations), versions)
}

func TestSurfacedRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSurfacedRepository(openTestDB(t))
	base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.MarkSurfaced(ctx, 1, base))
	require.NoError(t, repo.MarkSurfaced(ctx, 2, base.Add(time.Hour)))
	require.NoError(t, repo.MarkSurfaced(ctx, 2, base.Add(2*time.Hour)))

	ok, err := repo.IsSurfaced(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsSurfaced(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := repo.ListSurfacedSince(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	n, err := repo.DeleteSurfacedBefore(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err = repo.ListSurfacedSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestAckRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewAckRepository(openTestDB(t))
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	first := &model.PendingAck{Kind: model.AckMarkRead, NotificationID: 11, CreatedAt: now}
	second := &model.PendingAck{Kind: model.AckMarkAllRead, CreatedAt: now, NextAttemptAt: now.Add(time.Minute)}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	assert.NotZero(t, first.ID)
	assert.Greater(t, second.ID, first.ID)

	due, err := repo.GetDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(11), due[0].NotificationID)
	assert.Equal(t, model.AckMarkRead, due[0].Kind)
	assert.Nil(t, due[0].LastError)

	require.NoError(t, repo.MarkAttempt(ctx, first.ID, "502 bad gateway", now.Add(2*time.Minute)))

	due, err = repo.GetDue(ctx, now.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, second.ID, due[0].ID)

	due, err = repo.GetDue(ctx, now.Add(3*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, 1, due[0].Attempts)
	require.NotNil(t, due[0].LastError)
	assert.Equal(t, "502 bad gateway", *due[0].LastError)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, repo.Delete(ctx, first.ID))
	assert.ErrorIs(t, repo.Delete(ctx, first.ID), repository.ErrNotFound)
	assert.ErrorIs(t, repo.MarkAttempt(ctx, first.ID, "x", now), repository.ErrNotFound)
}

func TestGetDueHonoursLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewAckRepository(openTestDB(t))
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, &model.PendingAck{Kind: model.AckMarkRead, NotificationID: int64(i + 1), CreatedAt: now}))
	}

	due, err := repo.GetDue(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, due, 3)
	assert.Equal(t, int64(1), due[0].NotificationID)
}
