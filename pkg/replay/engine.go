// Package replay validates a recorded action sequence against a live page:
// it resolves each action's selector, visually highlights it, and walks the
// sequence step by step so an operator can confirm the recording still
// matches the site.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/reprise/pkg/logging"
	"github.com/entrhq/reprise/pkg/page"
	"github.com/entrhq/reprise/pkg/store"
	"github.com/entrhq/reprise/pkg/types"
)

// State is the engine's per-step machine: idle -> loading -> validating ->
// idle, or -> error on a resolution failure.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateValidating State = "validating"
	StateError      State = "error"
)

// StepResult reports one step's outcome to the caller.
type StepResult struct {
	Action types.Action
	Index  int
	Err    error
}

// Engine walks one workflow's recording against one live page.
type Engine struct {
	pg     page.Page
	store  store.ActionStore
	logger *logging.Logger

	// StepDelay is the fixed pause between steps in PlayAll. Deterministic
	// pacing, not adaptive: a human observer follows along.
	StepDelay time.Duration

	mu      sync.Mutex
	state   State
	actions []types.Action
	index   int
	lastErr error
}

// New creates a replay engine for the given page.
func New(pg page.Page, actionStore store.ActionStore, stepDelay time.Duration) *Engine {
	if stepDelay <= 0 {
		stepDelay = 800 * time.Millisecond
	}
	logger, _ := logging.NewLogger("replay")
	return &Engine{
		pg:        pg,
		store:     actionStore,
		logger:    logger,
		StepDelay: stepDelay,
		state:     StateIdle,
	}
}

// Load fetches the persisted action sequence for a workflow.
func (e *Engine) Load(ctx context.Context, workflowID string) error {
	e.setState(StateLoading)

	actions, err := e.store.ActionsByWorkflow(ctx, workflowID)
	if err != nil {
		e.failEngine(fmt.Errorf("failed to load actions for workflow %s: %w", workflowID, err))
		return e.LastError()
	}

	e.mu.Lock()
	e.actions = actions
	e.index = 0
	e.lastErr = nil
	e.state = StateIdle
	e.mu.Unlock()

	e.logger.Infof("loaded %d actions for workflow %s", len(actions), workflowID)
	return nil
}

// HighlightStep resolves one action's selector against the live page and
// visually marks it. Resolution failures (not found, ambiguous, timeout)
// put the engine in the error state but are recoverable per step: the
// operator can skip or retry without reloading the sequence.
func (e *Engine) HighlightStep(ctx context.Context, actionID string) error {
	e.mu.Lock()
	var target *types.Action
	for i := range e.actions {
		if e.actions[i].ID == actionID {
			target = &e.actions[i]
			break
		}
	}
	e.mu.Unlock()

	if target == nil {
		err := types.NewError(types.CodeSelectorResolution, "action %s not in the loaded sequence", actionID)
		e.failStep(err)
		return err
	}
	return e.highlight(ctx, *target)
}

func (e *Engine) highlight(ctx context.Context, action types.Action) error {
	// Navigation and screenshot steps have no element to mark.
	if action.Selector == "" {
		return nil
	}

	e.setState(StateValidating)

	count, err := e.pg.QueryCount(ctx, action.Selector)
	if err != nil {
		wrapped := types.WrapError(types.CodeSelectorResolution, err, "selector %q could not be evaluated", action.Selector)
		e.failStep(wrapped)
		return wrapped
	}
	switch {
	case count == 0:
		err := types.NewError(types.CodeSelectorResolution, "selector %q matched no elements", action.Selector)
		e.failStep(err)
		return err
	case count > 1:
		err := types.NewError(types.CodeSelectorResolution, "selector %q is ambiguous (%d matches)", action.Selector, count)
		e.failStep(err)
		return err
	}

	if err := e.pg.Highlight(ctx, action.Selector); err != nil {
		wrapped := types.WrapError(types.CodeSelectorResolution, err, "failed to highlight %q", action.Selector)
		e.failStep(wrapped)
		return wrapped
	}

	e.setState(StateIdle)
	return nil
}

// PlayAll walks every action in order with the fixed inter-step delay,
// reporting each outcome. Per-step failures do not stop the walk; ctx
// cancellation does.
func (e *Engine) PlayAll(ctx context.Context) ([]StepResult, error) {
	e.mu.Lock()
	actions := append([]types.Action(nil), e.actions...)
	e.index = 0
	e.mu.Unlock()

	results := make([]StepResult, 0, len(actions))
	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		err := e.highlight(ctx, action)
		results = append(results, StepResult{Action: action, Index: i, Err: err})

		e.mu.Lock()
		e.index = i + 1
		e.mu.Unlock()

		if i < len(actions)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(e.StepDelay):
			}
		}
	}
	return results, nil
}

// StepForward advances exactly one step. At the end of the sequence it is a
// no-op and returns nil, never an error.
func (e *Engine) StepForward(ctx context.Context) (*StepResult, error) {
	e.mu.Lock()
	if e.index >= len(e.actions) {
		e.mu.Unlock()
		return nil, nil
	}
	action := e.actions[e.index]
	index := e.index
	e.index++
	e.mu.Unlock()

	err := e.highlight(ctx, action)
	return &StepResult{Action: action, Index: index, Err: err}, nil
}

// Reset returns to the first step and clears any error without re-fetching
// the sequence.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index = 0
	e.lastErr = nil
	e.state = StateIdle
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Index returns the position of the next step.
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// LastError returns the most recent failure, or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// failStep records a recoverable, per-step failure.
func (e *Engine) failStep(err error) {
	e.mu.Lock()
	e.state = StateError
	e.lastErr = err
	e.mu.Unlock()
	e.logger.Warnf("step validation failed: %v", err)
}

// failEngine records a failure fatal to the whole walkthrough, such as a
// disconnected page or an unreadable store.
func (e *Engine) failEngine(err error) {
	e.mu.Lock()
	e.state = StateError
	e.lastErr = err
	e.actions = nil
	e.mu.Unlock()
	e.logger.Errorf("replay engine failed: %v", err)
}
