package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/internal/repository/memory"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/metrics"
)

type fakeStore struct {
	mu      sync.Mutex
	records []model.NotificationRecord
}

func (s *fakeStore) Has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (s *fakeStore) Insert(rec model.NotificationRecord) bool {
	if s.Has(rec.ID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]model.NotificationRecord{rec}, s.records...)
	return true
}

type MockToaster struct {
	mock.Mock
}

func (m *MockToaster) Show(ctx context.Context, rec model.NotificationRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type countingAlerter struct {
	mu    sync.Mutex
	count int
}

func (a *countingAlerter) Alert(context.Context) {
	a.mu.Lock()
	a.count++
	a.mu.Unlock()
}

type fixture struct {
	svc      *Service
	store    *fakeStore
	toaster  *MockToaster
	alerter  *countingAlerter
	surfaced *SurfacedSet
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    &fakeStore{},
		toaster:  new(MockToaster),
		alerter:  &countingAlerter{},
		surfaced: NewSurfacedSet(time.Hour, time.Minute, nil, logger.Nop()),
		metrics:  metrics.New("test"),
	}
	f.svc = NewService(f.store, f.surfaced, f.toaster, f.alerter, logger.Nop(), f.metrics)
	return f
}

func record(id int64, p model.Priority) model.NotificationRecord {
	return model.NotificationRecord{
		ID:        id,
		Type:      model.NotificationTypeOrder,
		Priority:  p,
		Title:     "Order ready",
		CreatedAt: time.Now(),
	}
}

func TestPriorityGating(t *testing.T) {
	cases := []struct {
		priority model.Priority
		toast    bool
		sounds   int
	}{
		{model.PriorityCritical, true, 1},
		{model.PriorityMedium, true, 0},
		{model.PriorityLow, false, 0},
	}

	for _, tc := range cases {
		t.Run(string(tc.priority), func(t *testing.T) {
			f := newFixture(t)
			rec := record(10, tc.priority)
			if tc.toast {
				f.toaster.On("Show", mock.Anything, rec).Return(nil).Once()
			}

			assert.Equal(t, OutcomeDelivered, f.svc.Deliver(context.Background(), rec))
			assert.True(t, f.store.Has(10))
			assert.Equal(t, tc.sounds, f.alerter.count)
			f.toaster.AssertExpectations(t)
			if !tc.toast {
				f.toaster.AssertNotCalled(t, "Show", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	rec := record(3, model.PriorityCritical)
	f.toaster.On("Show", mock.Anything, rec).Return(nil).Once()

	assert.Equal(t, OutcomeDelivered, f.svc.Deliver(context.Background(), rec))
	assert.Equal(t, OutcomeDuplicate, f.svc.Deliver(context.Background(), rec))

	assert.Len(t, f.store.records, 1)
	assert.Equal(t, 1, f.alerter.count)
	f.toaster.AssertNumberOfCalls(t, "Show", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationsDelivered.WithLabelValues("critical", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ToastsShown.WithLabelValues("critical")))
}

func TestAlreadySurfacedIsStoredSilently(t *testing.T) {
	f := newFixture(t)
	f.surfaced.SeedAll(context.Background(), []int64{5})

	assert.Equal(t, OutcomeResurfaced, f.svc.Deliver(context.Background(), record(5, model.PriorityCritical)))
	assert.True(t, f.store.Has(5))
	assert.Zero(t, f.alerter.count)
	f.toaster.AssertNotCalled(t, "Show", mock.Anything, mock.Anything)
}

func TestInvalidRecordDropped(t *testing.T) {
	f := newFixture(t)

	bad := record(0, model.PriorityCritical)
	assert.Equal(t, OutcomeInvalid, f.svc.Deliver(context.Background(), bad))

	noText := record(9, model.PriorityLow)
	noText.Title = ""
	assert.Equal(t, OutcomeInvalid, f.svc.Deliver(context.Background(), noText))

	unknown := record(10, "urgent")
	assert.Equal(t, OutcomeInvalid, f.svc.Deliver(context.Background(), unknown))

	assert.Empty(t, f.store.records)
	assert.Zero(t, f.alerter.count)
}

func TestToastFailureStillDelivers(t *testing.T) {
	f := newFixture(t)
	rec := record(4, model.PriorityMedium)
	f.toaster.On("Show", mock.Anything, rec).Return(errors.New("broker down"))

	assert.Equal(t, OutcomeDelivered, f.svc.Deliver(context.Background(), rec))
	assert.True(t, f.store.Has(4))
	assert.Zero(t, testutil.ToFloat64(f.metrics.ToastsShown.WithLabelValues("medium")))
}

func TestSurfacedSetSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSurfacedRepository()

	before := NewSurfacedSet(time.Hour, time.Minute, repo, logger.Nop())
	before.Add(ctx, 21)
	before.SeedAll(ctx, []int64{22, 23})

	after := NewSurfacedSet(time.Hour, time.Minute, repo, logger.Nop())
	assert.Zero(t, after.Len())
	assert.True(t, after.Contains(ctx, 21))
	assert.False(t, after.Contains(ctx, 99))

	require.NoError(t, after.Warm(ctx))
	assert.Equal(t, 3, after.Len())
}

func TestSurfacedSetPrune(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSurfacedRepository()
	set := NewSurfacedSet(time.Hour, time.Minute, repo, logger.Nop())

	now := time.Now()
	set.now = func() time.Time { return now.Add(-2 * time.Hour) }
	set.Add(ctx, 1)
	set.now = func() time.Time { return now }
	set.Add(ctx, 2)

	n, err := set.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, _ := repo.IsSurfaced(ctx, 1)
	assert.False(t, ok)
}
