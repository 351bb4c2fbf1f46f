// Package capture turns live browser events into an ordered, replayable
// action sequence. Browser callbacks feed a bounded queue consumed by a
// single appender goroutine, which decouples the asynchronous event source
// from the strict ordering invariant on the recorded actions.
package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/reprise/pkg/logging"
	"github.com/entrhq/reprise/pkg/page"
	"github.com/entrhq/reprise/pkg/scope"
	"github.com/entrhq/reprise/pkg/store"
	"github.com/entrhq/reprise/pkg/types"
)

// Config tunes a capture engine.
type Config struct {
	// Strategy selects how element selectors are built. Empty means hybrid.
	Strategy types.SelectorStrategy

	// AllowFallback permits a less specific selector instead of dropping
	// the action when no unique selector is found.
	AllowFallback bool

	// Screenshots attaches a best-effort screenshot to each recorded
	// action without blocking the event pipeline.
	Screenshots bool

	// IncludeNetwork and IncludeConsole fold network/console events into
	// the most recent action's metadata.
	IncludeNetwork bool
	IncludeConsole bool

	// QueueSize bounds the event queue. Zero means 256. Events beyond a
	// full queue are dropped with a warning rather than blocking the
	// browser callback.
	QueueSize int

	// NavigationTimeout bounds the initial navigation.
	NavigationTimeout time.Duration

	// Suggester backs the "ai" strategy; optional.
	Suggester Suggester
}

// Callbacks notify the operator about scope-driven pauses. Callbacks are
// invoked from the appender goroutine and must not block.
type Callbacks struct {
	OnRecordingPaused  func(url string)
	OnRecordingResumed func(url string)
}

// Engine records one workflow at a time against a single page.
type Engine struct {
	pg     page.Page
	guard  *scope.Guard
	store  store.ActionStore
	cfg    Config
	cb     Callbacks
	logger *logging.Logger

	mu         sync.Mutex
	workflowID string
	actions    []types.Action
	active     bool
	stopping   bool
	paused     bool
	queue      chan page.Event
	cancelSub  func()
	done       chan struct{}
}

// New creates a capture engine. The guard may be nil, in which case every
// navigation is in scope.
func New(pg page.Page, guard *scope.Guard, actionStore store.ActionStore, cfg Config, cb Callbacks) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	logger, _ := logging.NewLogger("capture")
	return &Engine{
		pg:     pg,
		guard:  guard,
		store:  actionStore,
		cfg:    cfg,
		cb:     cb,
		logger: logger,
	}
}

// StartCapture navigates to the starting URL and begins recording. The
// initial navigation becomes action 0; every subsequent qualifying event
// appends one action.
func (e *Engine) StartCapture(ctx context.Context, workflowID, url string) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return fmt.Errorf("capture already active for workflow %q", e.workflowID)
	}
	e.workflowID = workflowID
	e.actions = nil
	e.stopping = false
	e.paused = false
	e.mu.Unlock()

	if err := e.pg.Navigate(ctx, url, page.NavigateOptions{Timeout: e.cfg.NavigationTimeout}); err != nil {
		return types.WrapError(types.CodeNavigationFailed, err, "failed to navigate to %s", url)
	}

	// The queue and its consumer exist only once the navigation has
	// succeeded, so a Cleanup after a failed start has nothing to wait on.
	// The initial navigate action is appended before subscribing: no browser
	// event can claim order 0 ahead of it.
	queue := make(chan page.Event, e.cfg.QueueSize)
	done := make(chan struct{})

	e.mu.Lock()
	e.queue = queue
	e.done = done
	e.active = true
	e.appendLocked(e.navigateAction(url, false))
	e.mu.Unlock()

	go e.appendLoop(queue, done)

	cancel, err := e.pg.Subscribe(e.enqueue)
	if err != nil {
		e.mu.Lock()
		e.stopping = true
		e.active = false
		e.queue = nil
		e.actions = nil
		e.mu.Unlock()
		close(queue)
		<-done
		return fmt.Errorf("failed to subscribe to page events: %w", err)
	}

	e.mu.Lock()
	e.cancelSub = cancel
	e.mu.Unlock()

	e.logger.Infof("capture started for workflow %s at %s", workflowID, url)
	return nil
}

// enqueue runs in browser-driven callbacks. It must never block: a full
// queue drops the event, and events arriving once stopping is latched are
// dropped rather than appended to an already-flushed list.
func (e *Engine) enqueue(ev page.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping || e.queue == nil {
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.logger.Warnf("event queue full, dropping %s event", ev.Type)
	}
}

// appendLoop is the single consumer of the event queue. It receives its
// channels as arguments so that Stop/Cleanup can nil out the fields without
// racing the loop; closing the queue drains it and then signals done.
func (e *Engine) appendLoop(queue <-chan page.Event, done chan<- struct{}) {
	for ev := range queue {
		e.handle(ev)
	}
	close(done)
}

func (e *Engine) handle(ev page.Event) {
	switch ev.Type {
	case page.EventNavigated:
		e.handleNavigation(ev)
	case page.EventConsole:
		if e.cfg.IncludeConsole {
			e.attachToLast("console", map[string]any{"text": ev.Value, "detail": ev.Detail})
		}
	case page.EventRequest:
		if e.cfg.IncludeNetwork {
			e.attachToLast("network", map[string]any{"url": ev.URL, "detail": ev.Detail})
		}
	case page.EventClicked, page.EventInput, page.EventSelected, page.EventKeyPress, page.EventScrolled:
		e.handleInteraction(ev)
	}
}

func (e *Engine) handleNavigation(ev page.Event) {
	decision := e.guard.Classify(ev.URL)

	e.mu.Lock()
	switch decision {
	case scope.Blocked:
		wasPaused := e.paused
		e.paused = true
		e.mu.Unlock()
		if !wasPaused {
			e.logger.Warnf("navigation to %s is out of scope, capture paused", ev.URL)
			if e.cb.OnRecordingPaused != nil {
				e.cb.OnRecordingPaused(ev.URL)
			}
		}
		return

	case scope.Allowed, scope.SSOAllowed:
		if e.paused {
			// The pause itself and the navigation that ends it are control
			// flow, not recorded actions.
			if decision == scope.SSOAllowed || !e.guard.AutoResume() {
				e.mu.Unlock()
				return
			}
			e.paused = false
			e.mu.Unlock()
			e.logger.Infof("navigation back to %s, capture resumed", ev.URL)
			if e.cb.OnRecordingResumed != nil {
				e.cb.OnRecordingResumed(ev.URL)
			}
			return
		}
		e.appendLocked(e.navigateAction(ev.URL, decision == scope.SSOAllowed))
		e.mu.Unlock()
	}
}

func (e *Engine) handleInteraction(ev page.Event) {
	e.mu.Lock()
	paused := e.paused
	e.mu.Unlock()
	if paused {
		return
	}

	selector := ""
	if ev.Type != page.EventScrolled {
		var err error
		selector, err = buildSelector(context.Background(), e.pg, e.cfg.Strategy, e.cfg.AllowFallback, e.cfg.Suggester, ev.Detail)
		if err != nil {
			e.logger.Warnf("dropping %s event: %v", ev.Type, err)
			return
		}
	}

	e.mu.Lock()
	action := types.NewAction(e.workflowID, actionTypeFor(ev.Type), len(e.actions))
	action.Selector = selector
	action.Value = ev.Value
	if ev.X != 0 || ev.Y != 0 {
		action.Coordinates = &types.Coordinates{X: ev.X, Y: ev.Y}
	}
	for k, v := range ev.Detail {
		action.Metadata[k] = v
	}
	e.appendLocked(action)
	e.mu.Unlock()

	if e.cfg.Screenshots {
		go e.attachScreenshot(action.ID)
	}
}

// appendLocked appends an action, fixing its Order to keep the sequence
// strictly increasing and gapless. Caller holds e.mu.
func (e *Engine) appendLocked(action types.Action) {
	action.Order = len(e.actions)
	e.actions = append(e.actions, action)
}

func (e *Engine) navigateAction(url string, sso bool) types.Action {
	action := types.NewAction(e.workflowID, types.ActionNavigate, 0)
	action.Value = url
	if sso {
		action.Metadata["sso"] = true
	}
	return action
}

// attachToLast folds auxiliary capture data into the newest action's
// metadata.
func (e *Engine) attachToLast(key string, entry map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused || len(e.actions) == 0 {
		return
	}
	last := &e.actions[len(e.actions)-1]
	existing, _ := last.Metadata[key].([]map[string]any)
	last.Metadata[key] = append(existing, entry)
}

// attachScreenshot is fire-and-forget: a screenshot failure never blocks
// the next action from being recorded, and an action already flushed is
// simply skipped.
func (e *Engine) attachScreenshot(actionID string) {
	data, err := e.pg.Screenshot(context.Background())
	if err != nil {
		e.logger.Debugf("screenshot for action %s failed: %v", actionID, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.actions {
		if e.actions[i].ID == actionID {
			e.actions[i].Metadata["screenshot"] = base64.StdEncoding.EncodeToString(data)
			return
		}
	}
}

// StopCapture latches the stopping flag, drains in-flight events, flushes
// the recording to the store in one batch, and returns the final ordered
// list.
func (e *Engine) StopCapture(ctx context.Context) ([]types.Action, error) {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return nil, fmt.Errorf("capture is not active")
	}
	e.stopping = true
	cancel := e.cancelSub
	queue := e.queue
	done := e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Late events are rejected by the stopping latch, so closing is safe;
	// everything already enqueued is still processed before the flush.
	close(queue)
	<-done

	e.mu.Lock()
	actions := e.actions
	e.actions = nil
	e.active = false
	e.queue = nil
	e.cancelSub = nil
	e.mu.Unlock()

	if err := e.store.BatchCreateActions(ctx, actions); err != nil {
		return nil, fmt.Errorf("failed to persist recording: %w", err)
	}
	e.logger.Infof("capture stopped for workflow %s with %d actions", e.workflowID, len(actions))
	return actions, nil
}

// Resume lifts a scope pause when AutoResume is disabled.
func (e *Engine) Resume() {
	e.mu.Lock()
	wasPaused := e.paused
	e.paused = false
	e.mu.Unlock()
	if wasPaused && e.cb.OnRecordingResumed != nil {
		e.cb.OnRecordingResumed(e.pg.URL())
	}
}

// IsActive reflects subscription state, not page liveness.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// IsPaused reports whether capture is currently paused by scope.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Cleanup detaches event listeners and drops buffered state. Idempotent and
// safe to call even if capture was never started.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	cancel := e.cancelSub
	queue := e.queue
	done := e.done
	alreadyStopping := e.stopping
	e.stopping = true
	e.active = false
	e.cancelSub = nil
	e.queue = nil
	e.actions = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// A non-nil queue means the appender was started; draining it is the
	// only case with anything to wait for.
	if queue != nil && !alreadyStopping {
		close(queue)
		<-done
	}
}

func actionTypeFor(ev page.EventType) types.ActionType {
	switch ev {
	case page.EventClicked:
		return types.ActionClick
	case page.EventInput:
		return types.ActionInput
	case page.EventSelected:
		return types.ActionSelect
	case page.EventKeyPress:
		return types.ActionKeyPress
	case page.EventScrolled:
		return types.ActionScroll
	default:
		return types.ActionCustom
	}
}
