package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/reprise/pkg/page"
	"github.com/entrhq/reprise/pkg/store"
	"github.com/entrhq/reprise/pkg/types"
)

func seedWorkflow(t *testing.T, st store.Store, workflowID string, selectors ...string) []types.Action {
	t.Helper()
	actions := make([]types.Action, 0, len(selectors))
	for i, sel := range selectors {
		action := types.NewAction(workflowID, types.ActionClick, i)
		action.Selector = sel
		actions = append(actions, action)
	}
	require.NoError(t, st.BatchCreateActions(context.Background(), actions))
	return actions
}

func newTestEngine(t *testing.T) (*Engine, *page.FakePage, store.Store) {
	t.Helper()
	pg := page.NewFakePage()
	st := store.NewMemoryStore()
	eng := New(pg, st, time.Millisecond)
	return eng, pg, st
}

func TestReplay_LoadAndPlayAll(t *testing.T) {
	eng, pg, st := newTestEngine(t)
	seedWorkflow(t, st, "wf-1", "#save", "#submit")
	pg.SelectorCounts["#save"] = 1
	pg.SelectorCounts["#submit"] = 1

	require.NoError(t, eng.Load(context.Background(), "wf-1"))
	assert.Equal(t, StateIdle, eng.State())

	results, err := eng.PlayAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.NoError(t, res.Err)
	}
	assert.Equal(t, []string{"highlight #save", "highlight #submit"}, pg.Calls)
	assert.Equal(t, StateIdle, eng.State())
}

func TestReplay_StepForward(t *testing.T) {
	eng, pg, st := newTestEngine(t)
	seedWorkflow(t, st, "wf-1", "#a", "#b")
	pg.SelectorCounts["#a"] = 1
	pg.SelectorCounts["#b"] = 1

	require.NoError(t, eng.Load(context.Background(), "wf-1"))

	res, err := eng.StepForward(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, "#a", res.Action.Selector)

	res, err = eng.StepForward(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Index)

	// Past the end is a no-op, not an error.
	res, err = eng.StepForward(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 2, eng.Index())
}

func TestReplay_SelectorNotFoundIsRecoverable(t *testing.T) {
	eng, pg, st := newTestEngine(t)
	actions := seedWorkflow(t, st, "wf-1", "#gone", "#still-there")
	pg.SelectorCounts["#still-there"] = 1

	require.NoError(t, eng.Load(context.Background(), "wf-1"))

	err := eng.HighlightStep(context.Background(), actions[0].ID)
	require.Error(t, err)
	assert.Equal(t, types.CodeSelectorResolution, types.CodeOf(err))
	assert.Equal(t, StateError, eng.State())

	// The sequence survives a per-step failure: the next step validates.
	require.NoError(t, eng.HighlightStep(context.Background(), actions[1].ID))
	assert.Equal(t, StateIdle, eng.State())
}

func TestReplay_AmbiguousSelector(t *testing.T) {
	eng, pg, st := newTestEngine(t)
	actions := seedWorkflow(t, st, "wf-1", ".btn")
	pg.SelectorCounts[".btn"] = 3

	require.NoError(t, eng.Load(context.Background(), "wf-1"))

	err := eng.HighlightStep(context.Background(), actions[0].ID)
	require.Error(t, err)
	assert.Equal(t, types.CodeSelectorResolution, types.CodeOf(err))
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestReplay_PlayAllContinuesPastFailures(t *testing.T) {
	eng, pg, st := newTestEngine(t)
	seedWorkflow(t, st, "wf-1", "#gone", "#here")
	pg.SelectorCounts["#here"] = 1

	require.NoError(t, eng.Load(context.Background(), "wf-1"))

	results, err := eng.PlayAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
}

func TestReplay_PlayAllStopsOnCancel(t *testing.T) {
	eng, pg, st := newTestEngine(t)
	seedWorkflow(t, st, "wf-1", "#a", "#b", "#c")
	pg.SelectorCounts["#a"] = 1
	pg.SelectorCounts["#b"] = 1
	pg.SelectorCounts["#c"] = 1
	eng.StepDelay = 50 * time.Millisecond

	require.NoError(t, eng.Load(context.Background(), "wf-1"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	results, err := eng.PlayAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, len(results), 3)
}

func TestReplay_ResetClearsErrorWithoutRefetch(t *testing.T) {
	eng, pg, st := newTestEngine(t)
	actions := seedWorkflow(t, st, "wf-1", "#gone")

	require.NoError(t, eng.Load(context.Background(), "wf-1"))
	require.Error(t, eng.HighlightStep(context.Background(), actions[0].ID))
	require.Equal(t, StateError, eng.State())

	eng.Reset()
	assert.Equal(t, StateIdle, eng.State())
	assert.NoError(t, eng.LastError())
	assert.Equal(t, 0, eng.Index())

	// Sequence is still loaded after reset.
	pg.SelectorCounts["#gone"] = 1
	res, err := eng.StepForward(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "#gone", res.Action.Selector)
}

func TestReplay_NavigationStepsSkipHighlight(t *testing.T) {
	eng, pg, st := newTestEngine(t)
	nav := types.NewAction("wf-1", types.ActionNavigate, 0)
	nav.Value = "https://app.example.com"
	require.NoError(t, st.BatchCreateActions(context.Background(), []types.Action{nav}))

	require.NoError(t, eng.Load(context.Background(), "wf-1"))
	results, err := eng.PlayAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Empty(t, pg.Calls)
}

func TestReplay_QueryFailureIsNonFatal(t *testing.T) {
	eng, pg, st := newTestEngine(t)
	actions := seedWorkflow(t, st, "wf-1", "#a")
	pg.FailOn["query"] = errors.New("page detached")

	require.NoError(t, eng.Load(context.Background(), "wf-1"))
	err := eng.HighlightStep(context.Background(), actions[0].ID)
	require.Error(t, err)
	assert.Equal(t, types.CodeSelectorResolution, types.CodeOf(err))
}

func TestReplay_UnknownActionID(t *testing.T) {
	eng, _, st := newTestEngine(t)
	seedWorkflow(t, st, "wf-1", "#a")
	require.NoError(t, eng.Load(context.Background(), "wf-1"))

	err := eng.HighlightStep(context.Background(), "no-such-action")
	require.Error(t, err)
	assert.Equal(t, types.CodeSelectorResolution, types.CodeOf(err))
}
