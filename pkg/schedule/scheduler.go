package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/reprise/pkg/logging"
	"github.com/entrhq/reprise/pkg/store"
	"github.com/entrhq/reprise/pkg/types"
)

// DefaultPollInterval is how often the scheduler scans for due schedules.
const DefaultPollInterval = 30 * time.Second

// Dispatcher starts the run a due schedule asks for. The scheduler does not
// know how workflows execute; the caller wires the run orchestrator in.
type Dispatcher interface {
	Dispatch(ctx context.Context, schedule types.Schedule) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, schedule types.Schedule) error

func (f DispatcherFunc) Dispatch(ctx context.Context, schedule types.Schedule) error {
	return f(ctx, schedule)
}

// Scheduler polls the schedule store and dispatches runs whose cron fire
// time has arrived. Each fire time triggers at most one dispatch, and a
// schedule deactivated after being listed is re-checked and skipped at
// fire time.
type Scheduler struct {
	store      store.ScheduleStore
	dispatcher Dispatcher
	logger     *logging.Logger
	interval   time.Duration

	mu        sync.Mutex
	lastFired map[string]time.Time
	lastPoll  time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScheduler creates a scheduler polling at the given interval. A zero or
// negative interval means DefaultPollInterval.
func NewScheduler(st store.ScheduleStore, dispatcher Dispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger, _ := logging.NewLogger("scheduler")
	return &Scheduler{
		store:      st,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
		lastFired:  make(map[string]time.Time),
	}
}

// Start launches the poll loop. It returns immediately; Stop shuts the loop
// down and waits for it to exit.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.lastPoll = time.Now()
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				s.mu.Lock()
				windowStart := s.lastPoll
				s.lastPoll = now
				s.mu.Unlock()
				s.tick(loopCtx, windowStart, now)
			}
		}
	}()
}

// Stop halts the poll loop. In-flight dispatches are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// tick fires every schedule whose next run time fell inside
// (windowStart, now]. Fires are deduplicated per fire time: polling twice
// over the same window never double-dispatches.
func (s *Scheduler) tick(ctx context.Context, windowStart, now time.Time) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.logger.Errorf("failed to list schedules: %v", err)
		return
	}

	for _, sched := range schedules {
		if !sched.IsActive {
			continue
		}
		next := nextRunAfter(sched.CronExpression, sched.Timezone, windowStart)
		if next == nil {
			s.logger.Warnf("schedule %s has an unparseable expression %q, skipping", sched.ID, sched.CronExpression)
			continue
		}
		if next.After(now) {
			continue
		}

		s.mu.Lock()
		already := s.lastFired[sched.ID].Equal(*next)
		if !already {
			s.lastFired[sched.ID] = *next
		}
		s.mu.Unlock()
		if already {
			continue
		}

		// Re-fetch at fire time: a schedule deactivated since the listing
		// must not fire.
		current, err := s.store.GetSchedule(ctx, sched.ID)
		if err != nil || current == nil || !current.IsActive {
			s.logger.Infof("schedule %s no longer active at fire time, skipping", sched.ID)
			continue
		}

		s.logger.Infof("schedule %s due at %s, dispatching workflow %s", current.ID, next.Format(time.RFC3339), current.WorkflowID)
		if err := s.dispatcher.Dispatch(ctx, *current); err != nil {
			s.logger.Errorf("dispatch for schedule %s failed: %v", current.ID, err)
		}
	}
}
