package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/pkg/messaging"
)

type Toaster interface {
	Show(ctx context.Context, rec model.NotificationRecord) error
}

// BrokerToaster publishes toasts for the consumer API to render.
type BrokerToaster struct {
	publisher messaging.Publisher
	newID     func() string
	now       func() time.Time
}

func NewBrokerToaster(publisher messaging.Publisher) *BrokerToaster {
	return &BrokerToaster{
		publisher: publisher,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

func (t *BrokerToaster) Show(ctx context.Context, rec model.NotificationRecord) error {
	toast := model.Toast{
		ID:             t.newID(),
		NotificationID: rec.ID,
		Type:           rec.Type,
		Priority:       rec.Priority,
		Title:          rec.Title,
		Message:        rec.Message,
		Sound:          rec.Priority.Sounds(),
		CreatedAt:      t.now(),
	}
	if err := t.publisher.Publish(ctx, messaging.TopicToasts, toast); err != nil {
		return fmt.Errorf("failed to publish toast for notification %d: %w", rec.ID, err)
	}
	return nil
}
