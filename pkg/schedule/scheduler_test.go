package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/reprise/pkg/store"
	"github.com/entrhq/reprise/pkg/types"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	fired []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, schedule types.Schedule) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = append(d.fired, schedule.ID)
	return nil
}

func (d *recordingDispatcher) firedIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.fired...)
}

func TestNextRunTime(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		timezone string
		wantNil  bool
	}{
		{"every minute", "* * * * *", "UTC", false},
		{"daily at nine", "0 9 * * *", "America/New_York", false},
		{"garbage expression", "not-a-cron", "UTC", true},
		{"too few fields", "* * *", "UTC", true},
		{"bad timezone", "* * * * *", "Mars/Olympus_Mons", true},
		{"local time when timezone empty", "*/5 * * * *", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRunTime(tt.expr, tt.timezone)
			if tt.wantNil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.True(t, got.After(time.Now().Add(-time.Second)))
			}
		})
	}
}

func TestNextRunTime_HonorsTimezone(t *testing.T) {
	after := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	// 09:00 in New York is 13:00 UTC during DST.
	next := nextRunAfter("0 9 * * *", "America/New_York", after)
	require.NotNil(t, next)
	assert.Equal(t, 13, next.UTC().Hour())
	assert.Equal(t, 28, next.UTC().Day())
}

func TestValidateCronExpression(t *testing.T) {
	assert.NoError(t, ValidateCronExpression("*/10 * * * *"))

	err := ValidateCronExpression("every tuesday")
	require.Error(t, err)
	assert.Equal(t, types.CodeCronParse, types.CodeOf(err))
}

func newTickScheduler(t *testing.T, st store.ScheduleStore) (*Scheduler, *recordingDispatcher) {
	t.Helper()
	d := &recordingDispatcher{}
	return NewScheduler(st, d, time.Minute), d
}

func seedSchedule(t *testing.T, st store.ScheduleStore, id, expr string, active bool) types.Schedule {
	t.Helper()
	sched := types.Schedule{
		ID:             id,
		WorkflowID:     "wf-" + id,
		CronExpression: expr,
		Timezone:       "UTC",
		IsActive:       active,
	}
	require.NoError(t, st.CreateSchedule(context.Background(), sched))
	return sched
}

func TestTick_FiresDueSchedulesOnce(t *testing.T) {
	st := store.NewMemoryStore()
	s, d := newTickScheduler(t, st)
	seedSchedule(t, st, "s1", "* * * * *", true)

	windowStart := time.Date(2026, 8, 28, 10, 0, 30, 0, time.UTC)
	now := windowStart.Add(time.Minute)

	s.tick(context.Background(), windowStart, now)
	assert.Equal(t, []string{"s1"}, d.firedIDs())

	// Same window again: the fire time is deduplicated.
	s.tick(context.Background(), windowStart, now)
	assert.Equal(t, []string{"s1"}, d.firedIDs())

	// The next minute fires again.
	s.tick(context.Background(), now, now.Add(time.Minute))
	assert.Equal(t, []string{"s1", "s1"}, d.firedIDs())
}

func TestTick_SkipsInactiveSchedules(t *testing.T) {
	st := store.NewMemoryStore()
	s, d := newTickScheduler(t, st)
	seedSchedule(t, st, "s1", "* * * * *", false)

	windowStart := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	s.tick(context.Background(), windowStart, windowStart.Add(time.Minute))
	assert.Empty(t, d.firedIDs())
}

func TestTick_SkipsNotYetDue(t *testing.T) {
	st := store.NewMemoryStore()
	s, d := newTickScheduler(t, st)
	seedSchedule(t, st, "s1", "0 23 * * *", true)

	windowStart := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	s.tick(context.Background(), windowStart, windowStart.Add(time.Minute))
	assert.Empty(t, d.firedIDs())
}

func TestTick_UnparseableExpressionIsSkippedNotFatal(t *testing.T) {
	st := store.NewMemoryStore()
	s, d := newTickScheduler(t, st)
	seedSchedule(t, st, "bad", "whenever", true)
	seedSchedule(t, st, "good", "* * * * *", true)

	windowStart := time.Date(2026, 8, 28, 10, 0, 30, 0, time.UTC)
	s.tick(context.Background(), windowStart, windowStart.Add(time.Minute))
	assert.Equal(t, []string{"good"}, d.firedIDs())
}

// staleListStore lists a schedule as active but reports it inactive when
// re-fetched, simulating deactivation between listing and fire time.
type staleListStore struct {
	store.ScheduleStore
	schedule types.Schedule
}

func (s *staleListStore) ListSchedules(ctx context.Context) ([]types.Schedule, error) {
	stale := s.schedule
	stale.IsActive = true
	return []types.Schedule{stale}, nil
}

func (s *staleListStore) GetSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	current := s.schedule
	current.IsActive = false
	return &current, nil
}

func TestTick_RechecksActiveAtFireTime(t *testing.T) {
	st := &staleListStore{schedule: types.Schedule{
		ID:             "s1",
		WorkflowID:     "wf-s1",
		CronExpression: "* * * * *",
		Timezone:       "UTC",
	}}
	d := &recordingDispatcher{}
	s := NewScheduler(st, d, time.Minute)

	windowStart := time.Date(2026, 8, 28, 10, 0, 30, 0, time.UTC)
	s.tick(context.Background(), windowStart, windowStart.Add(time.Minute))
	assert.Empty(t, d.firedIDs(), "deactivated schedule must not fire")
}

func TestScheduler_StartStop(t *testing.T) {
	st := store.NewMemoryStore()
	d := &recordingDispatcher{}
	s := NewScheduler(st, d, 10*time.Millisecond)

	s.Start(context.Background())
	s.Start(context.Background()) // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop() // second stop is a no-op
}
