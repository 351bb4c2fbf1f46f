// Package runner executes recorded workflows for real: it acquires an
// authenticated page, replays each action against the live site under the
// domain scope guard, applies compiled step policies, and streams run logs
// to subscribers.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/reprise/pkg/logging"
	"github.com/entrhq/reprise/pkg/logic"
	"github.com/entrhq/reprise/pkg/page"
	"github.com/entrhq/reprise/pkg/scope"
	"github.com/entrhq/reprise/pkg/store"
	"github.com/entrhq/reprise/pkg/types"
)

const (
	// DefaultStepDelay paces consecutive actions against the live site.
	DefaultStepDelay = 800 * time.Millisecond

	// DefaultStreamBuffer is the per-subscriber event buffer size.
	DefaultStreamBuffer = 128
)

// AuthProvider supplies an authenticated page for a credential. Satisfied
// by vault.Vault.
type AuthProvider interface {
	GetAuthenticatedPage(ctx context.Context, cred types.Credential) (page.Page, error)
}

// PageFactory opens unauthenticated pages for workflows that need no login.
// Satisfied by page.Manager.
type PageFactory interface {
	NewPage(opts page.Options) (page.Page, error)
}

// Options configures the orchestrator.
type Options struct {
	// StepDelay is the pause between consecutive actions. Zero means
	// DefaultStepDelay.
	StepDelay time.Duration

	// ActionTimeout bounds each individual action. Zero means the page
	// default.
	ActionTimeout time.Duration

	// StreamBuffer is the per-subscriber buffer size for run streams.
	StreamBuffer int

	// PageOptions configures pages opened for login-free workflows.
	PageOptions page.Options
}

// activeRun tracks one in-flight execution.
type activeRun struct {
	run       *types.Run
	stream    *Stream
	cancel    context.CancelFunc
	cancelled bool
}

// Orchestrator runs workflows end to end and exposes their live streams.
type Orchestrator struct {
	vault  AuthProvider
	pages  PageFactory
	store  store.Store
	logger *logging.Logger
	opts   Options

	mu     sync.Mutex
	active map[string]*activeRun
}

// New creates a run orchestrator.
func New(vault AuthProvider, pages PageFactory, st store.Store, opts Options) *Orchestrator {
	if opts.StepDelay <= 0 {
		opts.StepDelay = DefaultStepDelay
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = DefaultStreamBuffer
	}
	logger, _ := logging.NewLogger("runner")
	return &Orchestrator{
		vault:  vault,
		pages:  pages,
		store:  st,
		logger: logger,
		opts:   opts,
	}
}

// Execute runs a workflow to completion and returns the finished run. The
// run always ends in a terminal status: SUCCESS, or FAILED carrying the
// error and the cancelled marker when stopped by request. Extra variables
// override the workflow's own.
func (o *Orchestrator) Execute(ctx context.Context, workflow types.Workflow, spec *logic.Spec, extraVars []types.Variable) (*types.Run, error) {
	run := types.NewRun(workflow.ID)
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &activeRun{
		run:    run,
		stream: NewStream(run.ID, o.opts.StreamBuffer),
		cancel: cancel,
	}
	o.mu.Lock()
	if o.active == nil {
		o.active = make(map[string]*activeRun)
	}
	o.active[run.ID] = state
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, run.ID)
		o.mu.Unlock()
	}()

	run.Status = types.RunRunning
	_ = o.store.UpdateRun(runCtx, run)
	o.emit(state, types.LogInfo, "", "run started for workflow %s", workflow.ID)

	err := o.executeRun(runCtx, state, workflow, spec, extraVars)
	return o.finish(ctx, state, err), err
}

func (o *Orchestrator) executeRun(ctx context.Context, state *activeRun, workflow types.Workflow, spec *logic.Spec, extraVars []types.Variable) error {
	guard, err := scope.NewGuard(workflow.Scope)
	if err != nil {
		return fmt.Errorf("invalid domain scope: %w", err)
	}

	pg, err := o.acquirePage(ctx, workflow)
	if err != nil {
		return err
	}
	defer pg.Close()

	actions, err := o.store.ActionsByWorkflow(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to load actions for workflow %s: %w", workflow.ID, err)
	}
	if len(actions) == 0 {
		return fmt.Errorf("workflow %s has no recorded actions", workflow.ID)
	}

	vars := mergeVariables(workflow.Variables, extraVars)

	if workflow.StartURL != "" {
		if err := o.navigate(ctx, pg, guard, workflow.StartURL); err != nil {
			return err
		}
	}

	for i, action := range actions {
		if err := o.checkCancelled(ctx, state); err != nil {
			return err
		}

		policy := spec.PolicyFor(action.ID)
		if policy.SkipIf != "" && variableValue(vars, policy.SkipIf) != "" {
			o.emit(state, types.LogInfo, action.ID, "step %d (%s) skipped: %s is set", i, action.Type, policy.SkipIf)
			continue
		}

		if err := o.executeStep(ctx, state, pg, guard, action, policy, vars, i); err != nil {
			if policy.ContinueOnError {
				o.emit(state, types.LogWarn, action.ID, "step %d failed, continuing: %v", i, err)
				continue
			}
			return err
		}

		if i < len(actions)-1 {
			select {
			case <-ctx.Done():
				return o.checkCancelled(ctx, state)
			case <-time.After(o.opts.StepDelay):
			}
		}
	}

	return o.runAssertions(ctx, state, pg, spec)
}

// executeStep runs one action with its retry budget.
func (o *Orchestrator) executeStep(ctx context.Context, state *activeRun, pg page.Page, guard *scope.Guard, action types.Action, policy logic.StepPolicy, vars []types.Variable, index int) error {
	applied, logged := substitute(action.Value, vars)
	o.emit(state, types.LogInfo, action.ID, "step %d: %s %s %s", index, action.Type, action.Selector, logged)

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			o.emit(state, types.LogWarn, action.ID, "step %d retry %d/%d: %v", index, attempt, policy.MaxRetries, lastErr)
		}
		if err := o.checkCancelled(ctx, state); err != nil {
			return err
		}

		lastErr = o.performAction(ctx, pg, guard, action, applied)
		if lastErr == nil {
			o.emit(state, types.LogDebug, action.ID, "step %d completed", index)
			return nil
		}
	}
	return fmt.Errorf("step %d (%s) failed after %d attempts: %w", index, action.Type, policy.MaxRetries+1, lastErr)
}

// performAction dispatches one action to the page.
func (o *Orchestrator) performAction(ctx context.Context, pg page.Page, guard *scope.Guard, action types.Action, value string) error {
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = o.opts.ActionTimeout
	}
	actOpts := page.ActionOptions{Timeout: timeout}

	if action.WaitFor != "" {
		if err := pg.WaitForSelector(ctx, action.WaitFor, page.WaitOptions{Timeout: timeout}); err != nil {
			return fmt.Errorf("wait for %q failed: %w", action.WaitFor, err)
		}
	}

	switch action.Type {
	case types.ActionNavigate:
		return o.navigate(ctx, pg, guard, value)
	case types.ActionClick:
		return pg.Click(ctx, action.Selector, actOpts)
	case types.ActionInput:
		return pg.Fill(ctx, action.Selector, value, actOpts)
	case types.ActionSelect:
		return pg.SelectOption(ctx, action.Selector, value, actOpts)
	case types.ActionHover:
		return pg.Hover(ctx, action.Selector, actOpts)
	case types.ActionKeyPress:
		return pg.Press(ctx, action.Selector, value, actOpts)
	case types.ActionScroll:
		var x, y float64
		if action.Coordinates != nil {
			x, y = action.Coordinates.X, action.Coordinates.Y
		}
		return pg.Scroll(ctx, x, y)
	case types.ActionWait:
		if action.Selector != "" {
			return pg.WaitForSelector(ctx, action.Selector, page.WaitOptions{Timeout: timeout})
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid wait duration %q: %w", value, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	case types.ActionScreenshot:
		_, err := pg.Screenshot(ctx)
		return err
	case types.ActionCustom:
		_, err := pg.Evaluate(ctx, value)
		return err
	default:
		return fmt.Errorf("unsupported action type %q", action.Type)
	}
}

// navigate loads a URL after the scope guard clears it.
func (o *Orchestrator) navigate(ctx context.Context, pg page.Page, guard *scope.Guard, url string) error {
	if guard.Classify(url) == scope.Blocked {
		return types.NewError(types.CodeNavigationFailed, "navigation to %s blocked by domain scope", url)
	}
	if err := pg.Navigate(ctx, url, page.NavigateOptions{Timeout: o.opts.ActionTimeout}); err != nil {
		return types.WrapError(types.CodeNavigationFailed, err, "failed to navigate to %s", url)
	}
	return nil
}

// runAssertions checks the compiled spec's post-run assertions against the
// final page state.
func (o *Orchestrator) runAssertions(ctx context.Context, state *activeRun, pg page.Page, spec *logic.Spec) error {
	if spec == nil {
		return nil
	}
	for _, a := range spec.Assertions {
		count, err := pg.QueryCount(ctx, a.Selector)
		if err != nil {
			return fmt.Errorf("assertion on %q could not be evaluated: %w", a.Selector, err)
		}
		ok := (count > 0) == a.Exists
		if !ok {
			msg := a.Message
			if msg == "" {
				msg = fmt.Sprintf("assertion on %q failed (exists=%t, matches=%d)", a.Selector, a.Exists, count)
			}
			return fmt.Errorf("%s", msg)
		}
		o.emit(state, types.LogDebug, "", "assertion on %q passed", a.Selector)
	}
	return nil
}

// acquirePage opens the page the run executes on, logging in when the
// workflow requires it.
func (o *Orchestrator) acquirePage(ctx context.Context, workflow types.Workflow) (page.Page, error) {
	if workflow.RequiresLogin {
		if workflow.Credential == nil {
			return nil, types.NewError(types.CodeLoginFailed, "workflow %s requires login but has no credential", workflow.ID)
		}
		return o.vault.GetAuthenticatedPage(ctx, *workflow.Credential)
	}
	return o.pages.NewPage(o.opts.PageOptions)
}

// checkCancelled maps context cancellation to a stop request.
func (o *Orchestrator) checkCancelled(ctx context.Context, state *activeRun) error {
	o.mu.Lock()
	cancelled := state.cancelled
	o.mu.Unlock()
	if cancelled {
		return fmt.Errorf("run stopped by request")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run context cancelled: %w", err)
	}
	return nil
}

// finish moves the run to its terminal status, persists it, and closes the
// stream with the terminal event.
func (o *Orchestrator) finish(ctx context.Context, state *activeRun, runErr error) *types.Run {
	run := state.run
	now := time.Now()
	run.FinishedAt = &now

	o.mu.Lock()
	cancelled := state.cancelled
	o.mu.Unlock()

	if runErr != nil {
		run.Status = types.RunFailed
		run.Error = runErr.Error()
		run.Cancelled = cancelled
		o.emit(state, types.LogError, "", "run failed: %v", runErr)
	} else {
		run.Status = types.RunSuccess
		o.emit(state, types.LogInfo, "", "run completed")
	}

	// Persist with a fresh context so a cancelled run still lands in a
	// terminal state in the store.
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Errorf("failed to persist run %s: %v", run.ID, err)
	}
	state.stream.finish(run.Status)
	return run
}

// emit appends a run log entry and publishes it to the stream.
func (o *Orchestrator) emit(state *activeRun, level types.LogLevel, actionID, format string, args ...any) {
	entry := types.RunLog{
		Timestamp: time.Now(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		ActionID:  actionID,
	}
	o.mu.Lock()
	state.run.Logs = append(state.run.Logs, entry)
	o.mu.Unlock()
	state.stream.publish(Event{Log: &entry})
	o.logger.Infof("run %s: %s", state.run.ID, entry.Message)
}

// ActiveRuns returns the IDs of runs currently executing.
func (o *Orchestrator) ActiveRuns() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// Stream subscribes to a run's live events. The second return is false when
// the run is not active.
func (o *Orchestrator) Stream(runID string) (<-chan Event, func(), bool) {
	o.mu.Lock()
	state, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	ch, cancel := state.stream.Subscribe()
	return ch, cancel, true
}

// Stop requests cooperative cancellation of an active run. It returns false
// when the run is unknown or already finished. The run ends FAILED with the
// cancelled marker.
func (o *Orchestrator) Stop(runID string) bool {
	o.mu.Lock()
	state, ok := o.active[runID]
	if ok {
		state.cancelled = true
	}
	o.mu.Unlock()
	if !ok {
		return false
	}
	state.cancel()
	return true
}
