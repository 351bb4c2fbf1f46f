// Package store defines the record store contract the engine persists
// through. The store itself is an external collaborator; the engine only
// needs plain CRUD with per-call atomicity. MemoryStore is the reference
// implementation used by tests and the CLI.
package store

import (
	"context"

	"github.com/entrhq/reprise/pkg/types"
)

// ActionStore persists recorded action sequences. Actions are written in
// one batch per recording to avoid write amplification.
type ActionStore interface {
	// BatchCreateActions persists a full recording atomically.
	BatchCreateActions(ctx context.Context, actions []types.Action) error

	// ActionsByWorkflow returns a workflow's actions ordered by Order.
	ActionsByWorkflow(ctx context.Context, workflowID string) ([]types.Action, error)
}

// ScheduleStore persists schedule rows.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, schedule types.Schedule) error
	GetSchedule(ctx context.Context, id string) (*types.Schedule, error)
	ListSchedules(ctx context.Context) ([]types.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule types.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
}

// RunStore persists runs and their logs.
type RunStore interface {
	CreateRun(ctx context.Context, run *types.Run) error
	UpdateRun(ctx context.Context, run *types.Run) error
	GetRun(ctx context.Context, id string) (*types.Run, error)
}

// Store is the full record store surface.
type Store interface {
	ActionStore
	ScheduleStore
	RunStore
}
