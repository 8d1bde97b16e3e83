package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jwalitptl/restaurant-notify/internal/model"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// SurfacedRepository remembers which notification ids were already
	// shown to the user, so a restarted agent never toasts them again.
	SurfacedRepository interface {
		MarkSurfaced(ctx context.Context, id int64, at time.Time) error
		IsSurfaced(ctx context.Context, id int64) (bool, error)
		ListSurfacedSince(ctx context.Context, since time.Time) ([]int64, error)
		DeleteSurfacedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// AckRepository is the outbox of read mutations the server has not
	// confirmed yet.
	AckRepository interface {
		Create(ctx context.Context, ack *model.PendingAck) error
		GetDue(ctx context.Context, now time.Time, limit int) ([]*model.PendingAck, error)
		MarkAttempt(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error
		Delete(ctx context.Context, id int64) error
		Count(ctx context.Context) (int, error)
	}
)
