package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/reprise/pkg/page"
	"github.com/entrhq/reprise/pkg/scope"
	"github.com/entrhq/reprise/pkg/store"
	"github.com/entrhq/reprise/pkg/types"
)

func allowedGuard(t *testing.T) *scope.Guard {
	t.Helper()
	guard, err := scope.NewGuard(&types.DomainScopeConfig{
		BaseDomain:   "app.example.com",
		SSOProviders: []string{"*.auth0.com"},
		AutoResume:   true,
	})
	require.NoError(t, err)
	return guard
}

func clickEvent(id string) page.Event {
	return page.Event{
		Type:   page.EventClicked,
		X:      10, Y: 20,
		Detail: map[string]any{"tag": "button", "id": id},
	}
}

func inputEvent(name, value string) page.Event {
	return page.Event{
		Type:   page.EventInput,
		Value:  value,
		Detail: map[string]any{"tag": "input", "name": name},
	}
}

func newTestEngine(t *testing.T, pg *page.FakePage, guard *scope.Guard, cb Callbacks) (*Engine, *store.MemoryStore) {
	t.Helper()
	recordStore := store.NewMemoryStore()
	pg.SelectorCounts["#save"] = 1
	pg.SelectorCounts["#other"] = 1
	pg.SelectorCounts[`input[name="email"]`] = 1
	engine := New(pg, guard, recordStore, Config{AllowFallback: true}, cb)
	return engine, recordStore
}

func TestCapture_OrderingIsGaplessAndComplete(t *testing.T) {
	pg := page.NewFakePage()
	engine, recordStore := newTestEngine(t, pg, allowedGuard(t), Callbacks{})
	ctx := context.Background()

	require.NoError(t, engine.StartCapture(ctx, "wf-1", "https://app.example.com/"))
	assert.True(t, engine.IsActive())

	pg.Emit(clickEvent("save"))
	pg.Emit(inputEvent("email", "ops@example.com"))
	pg.Emit(clickEvent("other"))

	actions, err := engine.StopCapture(ctx)
	require.NoError(t, err)
	assert.False(t, engine.IsActive())

	// Initial navigation plus three qualifying events: no drops, no dupes.
	require.Len(t, actions, 4)
	for i, action := range actions {
		assert.Equal(t, i, action.Order)
		assert.Equal(t, "wf-1", action.WorkflowID)
	}
	assert.Equal(t, types.ActionNavigate, actions[0].Type)
	assert.Equal(t, types.ActionClick, actions[1].Type)
	assert.Equal(t, types.ActionInput, actions[2].Type)
	assert.Equal(t, "ops@example.com", actions[2].Value)

	// The recording was flushed to the store in one batch.
	persisted, err := recordStore.ActionsByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, persisted, 4)
}

// eagerEventPage delivers a scripted event the instant a subscription is
// attached, the way a busy page can fire before StartCapture returns.
type eagerEventPage struct {
	*page.FakePage
	ev page.Event
}

func (p *eagerEventPage) Subscribe(handler func(page.Event)) (func(), error) {
	cancel, err := p.FakePage.Subscribe(handler)
	if err != nil {
		return nil, err
	}
	handler(p.ev)
	return cancel, nil
}

func TestCapture_InitialNavigationAlwaysFirst(t *testing.T) {
	fake := page.NewFakePage()
	fake.SelectorCounts["#save"] = 1
	pg := &eagerEventPage{FakePage: fake, ev: clickEvent("save")}
	engine := New(pg, allowedGuard(t), store.NewMemoryStore(), Config{AllowFallback: true}, Callbacks{})
	ctx := context.Background()

	require.NoError(t, engine.StartCapture(ctx, "wf-1", "https://app.example.com/"))

	actions, err := engine.StopCapture(ctx)
	require.NoError(t, err)

	// The click raced subscription setup; the start navigation still owns
	// order 0.
	require.Len(t, actions, 2)
	assert.Equal(t, types.ActionNavigate, actions[0].Type)
	assert.Equal(t, 0, actions[0].Order)
	assert.Equal(t, types.ActionClick, actions[1].Type)
}

func TestCapture_BlockedNavigationPausesAndResumes(t *testing.T) {
	pg := page.NewFakePage()
	pausedCh := make(chan string, 1)
	resumedCh := make(chan string, 1)
	engine, _ := newTestEngine(t, pg, allowedGuard(t), Callbacks{
		OnRecordingPaused:  func(url string) { pausedCh <- url },
		OnRecordingResumed: func(url string) { resumedCh <- url },
	})
	ctx := context.Background()

	require.NoError(t, engine.StartCapture(ctx, "wf-1", "https://app.example.com/"))

	// navigate(0) recorded at start; then click(1), type(2) on allowed host.
	pg.Emit(clickEvent("save"))
	pg.Emit(inputEvent("email", "a@b.c"))

	// Blocked detour: pause fires, nothing recorded.
	pg.Emit(page.Event{Type: page.EventNavigated, URL: "https://evil.example.org/"})
	select {
	case url := <-pausedCh:
		assert.Contains(t, url, "evil.example.org")
	case <-time.After(2 * time.Second):
		t.Fatal("pause callback did not fire")
	}

	// Events while paused are dropped, not merged.
	pg.Emit(clickEvent("other"))

	// Back in scope: resume fires, the return navigation is not recorded.
	pg.Emit(page.Event{Type: page.EventNavigated, URL: "https://app.example.com/done"})
	select {
	case <-resumedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("resume callback did not fire")
	}

	actions, err := engine.StopCapture(ctx)
	require.NoError(t, err)

	require.Len(t, actions, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{actions[0].Order, actions[1].Order, actions[2].Order})
	assert.Equal(t, types.ActionNavigate, actions[0].Type)
	assert.Equal(t, types.ActionClick, actions[1].Type)
	assert.Equal(t, types.ActionInput, actions[2].Type)
}

func TestCapture_ManualResumeWhenAutoResumeDisabled(t *testing.T) {
	guard, err := scope.NewGuard(&types.DomainScopeConfig{
		BaseDomain: "app.example.com",
		AutoResume: false,
	})
	require.NoError(t, err)

	pg := page.NewFakePage()
	pausedCh := make(chan string, 1)
	resumedCh := make(chan string, 1)
	engine, _ := newTestEngine(t, pg, guard, Callbacks{
		OnRecordingPaused:  func(url string) { pausedCh <- url },
		OnRecordingResumed: func(url string) { resumedCh <- url },
	})
	ctx := context.Background()

	require.NoError(t, engine.StartCapture(ctx, "wf-1", "https://app.example.com/"))

	pg.Emit(page.Event{Type: page.EventNavigated, URL: "https://evil.example.org/"})
	<-pausedCh

	// Returning to scope does not resume on its own.
	pg.Emit(page.Event{Type: page.EventNavigated, URL: "https://app.example.com/back"})
	select {
	case <-resumedCh:
		t.Fatal("capture resumed without operator action")
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, engine.IsPaused())

	engine.Resume()
	<-resumedCh
	assert.False(t, engine.IsPaused())

	_, err = engine.StopCapture(ctx)
	require.NoError(t, err)
}

func TestCapture_SSODetourIsFlaggedNotBlocked(t *testing.T) {
	pg := page.NewFakePage()
	engine, _ := newTestEngine(t, pg, allowedGuard(t), Callbacks{})
	ctx := context.Background()

	require.NoError(t, engine.StartCapture(ctx, "wf-1", "https://app.example.com/"))
	pg.Emit(page.Event{Type: page.EventNavigated, URL: "https://tenant.auth0.com/authorize"})

	actions, err := engine.StopCapture(ctx)
	require.NoError(t, err)

	require.Len(t, actions, 2)
	assert.Equal(t, types.ActionNavigate, actions[1].Type)
	assert.Equal(t, true, actions[1].Metadata["sso"])
}

func TestCapture_LateEventsAfterStopAreDropped(t *testing.T) {
	pg := page.NewFakePage()
	engine, _ := newTestEngine(t, pg, allowedGuard(t), Callbacks{})
	ctx := context.Background()

	require.NoError(t, engine.StartCapture(ctx, "wf-1", "https://app.example.com/"))
	pg.Emit(clickEvent("save"))

	actions, err := engine.StopCapture(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	// A straggler arriving after stop must not panic or append anywhere.
	pg.Emit(clickEvent("other"))
	assert.False(t, engine.IsActive())
}

func TestCapture_NavigationFailureSurfaced(t *testing.T) {
	pg := page.NewFakePage()
	pg.FailOn["navigate"] = assert.AnError
	engine, _ := newTestEngine(t, pg, allowedGuard(t), Callbacks{})

	err := engine.StartCapture(context.Background(), "wf-1", "https://app.example.com/")
	require.Error(t, err)
	assert.Equal(t, types.CodeNavigationFailed, types.CodeOf(err))
	assert.False(t, engine.IsActive())
}

// cleanupWithin fails the test if Cleanup blocks instead of returning.
func cleanupWithin(t *testing.T, engine *Engine, d time.Duration) {
	t.Helper()
	doneCh := make(chan struct{})
	go func() {
		engine.Cleanup()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(d):
		t.Fatal("Cleanup did not return")
	}
}

func TestCapture_CleanupAfterFailedStartReturns(t *testing.T) {
	pg := page.NewFakePage()
	pg.FailOn["navigate"] = assert.AnError
	engine, _ := newTestEngine(t, pg, allowedGuard(t), Callbacks{})

	require.Error(t, engine.StartCapture(context.Background(), "wf-1", "https://app.example.com/"))

	cleanupWithin(t, engine, 2*time.Second)
	assert.False(t, engine.IsActive())
}

func TestCapture_CleanupAfterFailedSubscribeReturns(t *testing.T) {
	pg := page.NewFakePage()
	pg.FailOn["subscribe"] = assert.AnError
	engine, _ := newTestEngine(t, pg, allowedGuard(t), Callbacks{})

	require.Error(t, engine.StartCapture(context.Background(), "wf-1", "https://app.example.com/"))
	assert.False(t, engine.IsActive())

	cleanupWithin(t, engine, 2*time.Second)
}

func TestCapture_CleanupImmediatelyAfterStartReturns(t *testing.T) {
	pg := page.NewFakePage()
	engine, _ := newTestEngine(t, pg, allowedGuard(t), Callbacks{})

	require.NoError(t, engine.StartCapture(context.Background(), "wf-1", "https://app.example.com/"))

	cleanupWithin(t, engine, 2*time.Second)
	assert.Equal(t, 0, pg.SubscriberCount())
	assert.False(t, engine.IsActive())
}

func TestCapture_CleanupIdempotentWithoutStart(t *testing.T) {
	pg := page.NewFakePage()
	engine, _ := newTestEngine(t, pg, allowedGuard(t), Callbacks{})

	engine.Cleanup()
	engine.Cleanup()
	assert.False(t, engine.IsActive())
}

func TestCapture_CleanupDetachesSubscription(t *testing.T) {
	pg := page.NewFakePage()
	engine, _ := newTestEngine(t, pg, allowedGuard(t), Callbacks{})

	require.NoError(t, engine.StartCapture(context.Background(), "wf-1", "https://app.example.com/"))
	require.Equal(t, 1, pg.SubscriberCount())

	engine.Cleanup()
	assert.Equal(t, 0, pg.SubscriberCount())
	assert.False(t, engine.IsActive())
}

func TestCapture_ScreenshotFailureDoesNotBlockPipeline(t *testing.T) {
	pg := page.NewFakePage()
	pg.FailOn["screenshot"] = assert.AnError
	pg.SelectorCounts["#save"] = 1
	recordStore := store.NewMemoryStore()
	engine := New(pg, allowedGuard(t), recordStore, Config{AllowFallback: true, Screenshots: true}, Callbacks{})
	ctx := context.Background()

	require.NoError(t, engine.StartCapture(ctx, "wf-1", "https://app.example.com/"))
	pg.Emit(clickEvent("save"))

	actions, err := engine.StopCapture(ctx)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}
