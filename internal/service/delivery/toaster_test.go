package delivery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/pkg/messaging"
	membroker "github.com/jwalitptl/restaurant-notify/pkg/messaging/memory"
)

func TestBrokerToasterPublishesToast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := membroker.NewBroker()
	defer broker.Close()
	sub, err := broker.Subscribe(ctx, messaging.TopicToasts)
	require.NoError(t, err)

	toaster := NewBrokerToaster(broker)
	rec := record(42, model.PriorityCritical)
	rec.Message = "Table 7 is waiting"
	require.NoError(t, toaster.Show(ctx, rec))

	var raw []byte
	select {
	case raw = <-sub:
	case <-time.After(time.Second):
		t.Fatal("no toast published")
	}

	var toast model.Toast
	require.NoError(t, json.Unmarshal(raw, &toast))
	assert.Equal(t, int64(42), toast.NotificationID)
	assert.Equal(t, "Table 7 is waiting", toast.Message)
	assert.True(t, toast.Sound)
	_, err = uuid.Parse(toast.ID)
	assert.NoError(t, err)
}

func TestBrokerToasterIDsAreUnique(t *testing.T) {
	broker := membroker.NewBroker()
	defer broker.Close()

	toaster := NewBrokerToaster(broker)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := toaster.newID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
