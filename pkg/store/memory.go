package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/entrhq/reprise/pkg/types"
)

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	actions   map[string][]types.Action // workflowID -> actions
	schedules map[string]types.Schedule
	runs      map[string]types.Run
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions:   make(map[string][]types.Action),
		schedules: make(map[string]types.Schedule),
		runs:      make(map[string]types.Run),
	}
}

// BatchCreateActions appends a recording's actions in one call.
func (s *MemoryStore) BatchCreateActions(ctx context.Context, actions []types.Action) error {
	if len(actions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	workflowID := actions[0].WorkflowID
	s.actions[workflowID] = append(s.actions[workflowID], actions...)
	return nil
}

// ActionsByWorkflow returns a copy of the workflow's actions ordered by Order.
func (s *MemoryStore) ActionsByWorkflow(ctx context.Context, workflowID string) ([]types.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actions := append([]types.Action(nil), s.actions[workflowID]...)
	sort.Slice(actions, func(i, j int) bool { return actions[i].Order < actions[j].Order })
	return actions, nil
}

func (s *MemoryStore) CreateSchedule(ctx context.Context, schedule types.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[schedule.ID]; exists {
		return fmt.Errorf("schedule %q already exists", schedule.ID)
	}
	s.schedules[schedule.ID] = schedule
	return nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, exists := s.schedules[id]
	if !exists {
		return nil, fmt.Errorf("schedule %q not found", id)
	}
	return &schedule, nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context) ([]types.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		out = append(out, schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateSchedule(ctx context.Context, schedule types.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[schedule.ID]; !exists {
		return fmt.Errorf("schedule %q not found", schedule.ID)
	}
	s.schedules[schedule.ID] = schedule
	return nil
}

func (s *MemoryStore) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(s.schedules, id)
	return nil
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %q already exists", run.ID)
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %q not found", run.ID)
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %q not found", id)
	}
	return &run, nil
}

var _ Store = (*MemoryStore)(nil)
