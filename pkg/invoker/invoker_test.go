package invoker

import (
	"context"
	"errors"
	"testing"

	"github.com/archflow/archflow/pkg/archerr"
	"github.com/archflow/archflow/pkg/execid"
	"github.com/archflow/archflow/pkg/flowctx"
	"github.com/archflow/archflow/pkg/interceptor"
	"github.com/archflow/archflow/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInvoker(registry Registry) (*Invoker, *tracker.Tracker) {
	tr := tracker.NewTracker(nil)
	chain := interceptor.NewChain()
	return NewInvoker(tr, chain, registry), tr
}

func TestExecuteCompletesTrackerRecordOnSuccess(t *testing.T) {
	inv, tr := newInvoker(MapRegistry{
		"echo": func(_ context.Context, input map[string]any) (any, error) {
			return input["msg"], nil
		},
	})

	result, err := inv.Execute(context.Background(), "echo", map[string]any{"msg": "hi"}, flowctx.New("f1"))
	require.NoError(t, err)
	assert.Equal(t, "hi", result)

	stats := tr.StatsSnapshot()
	assert.Equal(t, 1, stats.Completed)
}

func TestExecuteToolNotFoundFailsTrackerRecord(t *testing.T) {
	inv, tr := newInvoker(MapRegistry{})

	_, err := inv.Execute(context.Background(), "missing", nil, flowctx.New("f1"))
	require.Error(t, err)
	var notFound *archerr.ToolNotFoundError
	assert.ErrorAs(t, err, &notFound)

	stats := tr.StatsSnapshot()
	assert.Equal(t, 1, stats.Failed)
}

func TestExecuteToolErrorFailsTrackerRecord(t *testing.T) {
	boom := errors.New("boom")
	inv, tr := newInvoker(MapRegistry{
		"explode": func(context.Context, map[string]any) (any, error) {
			return nil, boom
		},
	})

	_, err := inv.Execute(context.Background(), "explode", nil, flowctx.New("f1"))
	require.ErrorIs(t, err, boom)

	stats := tr.StatsSnapshot()
	assert.Equal(t, 1, stats.Failed)
}

func TestExecuteChildAttachesToParent(t *testing.T) {
	inv, tr := newInvoker(MapRegistry{
		"noop": func(context.Context, map[string]any) (any, error) { return "ok", nil },
	})

	parentID, err := tr.StartRoot(execid.KindFlow)
	require.NoError(t, err)

	_, err = inv.ExecuteChild(context.Background(), parentID, "noop", nil, flowctx.New("f1"))
	require.NoError(t, err)

	children := tr.GetChildren(parentID)
	require.Len(t, children, 1)
	assert.Equal(t, execid.KindTool, children[0].Kind())
}

func TestExecuteChildUnknownParentReturnsError(t *testing.T) {
	inv, _ := newInvoker(MapRegistry{
		"noop": func(context.Context, map[string]any) (any, error) { return "ok", nil },
	})
	bogus, err := execid.NewRoot(execid.KindFlow)
	require.NoError(t, err)

	_, err = inv.ExecuteChild(context.Background(), bogus, "noop", nil, flowctx.New("f1"))
	require.Error(t, err)
	var pnf *archerr.ParentNotFoundError
	assert.ErrorAs(t, err, &pnf)
}
