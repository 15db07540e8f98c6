package tracker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/archflow/archflow/pkg/archerr"
	"github.com/archflow/archflow/pkg/execid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRootCreatesRunningRecord(t *testing.T) {
	tr := NewTracker(nil)
	id, err := tr.StartRoot(execid.KindFlow)
	require.NoError(t, err)

	rec, ok := tr.GetRecord(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.False(t, rec.HasEnd())
	assert.Empty(t, rec.Children)
}

func TestStartChildAttachesToParent(t *testing.T) {
	tr := NewTracker(nil)
	root, err := tr.StartRoot(execid.KindFlow)
	require.NoError(t, err)

	child, err := tr.StartChild(root, execid.KindTool)
	require.NoError(t, err)
	assert.Equal(t, root.Root(), child.Root())
	assert.Equal(t, root.Depth()+1, child.Depth())

	children := tr.GetChildren(root)
	require.Len(t, children, 1)
	assert.True(t, children[0].Equal(child))
}

func TestStartChildUnknownParentFails(t *testing.T) {
	tr := NewTracker(nil)
	bogus, err := execid.NewRoot(execid.KindFlow)
	require.NoError(t, err)

	_, err = tr.StartChild(bogus, execid.KindTool)
	require.Error(t, err)
	var pnf *archerr.ParentNotFoundError
	assert.ErrorAs(t, err, &pnf)
}

func TestSequenceIsGloballyMonotoneNotPerParent(t *testing.T) {
	tr := NewTracker(nil)
	rootA, _ := tr.StartRoot(execid.KindFlow)
	rootB, _ := tr.StartRoot(execid.KindFlow)

	childA1, _ := tr.StartChild(rootA, execid.KindTool)
	childB1, _ := tr.StartChild(rootB, execid.KindTool)
	childA2, _ := tr.StartChild(rootA, execid.KindTool)

	// Global monotonicity: each allocation strictly increases the
	// process-wide counter regardless of which parent requested it.
	assert.Less(t, rootA.Sequence(), rootB.Sequence())
	assert.Less(t, rootB.Sequence(), childA1.Sequence())
	assert.Less(t, childA1.Sequence(), childB1.Sequence())
	assert.Less(t, childB1.Sequence(), childA2.Sequence())
}

func TestCompleteSetsEndAndResult(t *testing.T) {
	tr := NewTracker(nil)
	id, _ := tr.StartRoot(execid.KindFlow)

	tr.Complete(id, "done")
	rec, ok := tr.GetRecord(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.True(t, rec.HasEnd())
	assert.Equal(t, "done", rec.Result)
}

func TestFailSetsEndAndError(t *testing.T) {
	tr := NewTracker(nil)
	id, _ := tr.StartRoot(execid.KindFlow)

	boom := errors.New("boom")
	tr.Fail(id, boom)
	rec, ok := tr.GetRecord(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, boom, rec.Err)
}

func TestCompleteIsIdempotent(t *testing.T) {
	tr := NewTracker(nil)
	id, _ := tr.StartRoot(execid.KindFlow)

	tr.Complete(id, "first")
	first, _ := tr.GetRecord(id)

	tr.Complete(id, "second")
	second, _ := tr.GetRecord(id)

	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, first.End, second.End)
}

func TestGetHierarchyPreOrder(t *testing.T) {
	tr := NewTracker(nil)
	root, _ := tr.StartRoot(execid.KindFlow)
	childA, _ := tr.StartChild(root, execid.KindAgent)
	_, _ = tr.StartChild(childA, execid.KindTool)
	_, _ = tr.StartChild(root, execid.KindAgent)

	hierarchy := tr.GetHierarchy(root)
	require.Len(t, hierarchy, 4)
	assert.True(t, hierarchy[0].ID.Equal(root))
	assert.True(t, hierarchy[1].ID.Equal(childA))
}

func TestRemoveCascadesToDescendants(t *testing.T) {
	tr := NewTracker(nil)
	root, _ := tr.StartRoot(execid.KindFlow)
	child, _ := tr.StartChild(root, execid.KindAgent)
	grandchild, _ := tr.StartChild(child, execid.KindTool)

	tr.Remove(root)

	_, ok := tr.GetRecord(root)
	assert.False(t, ok)
	_, ok = tr.GetRecord(child)
	assert.False(t, ok)
	_, ok = tr.GetRecord(grandchild)
	assert.False(t, ok)
}

func TestCleanupRemovesOldTerminalRecords(t *testing.T) {
	tr := NewTracker(nil)
	id, _ := tr.StartRoot(execid.KindFlow)
	tr.Complete(id, nil)

	stillRunning, _ := tr.StartRoot(execid.KindFlow)

	removed := tr.Cleanup(time.Now().Add(time.Second))
	assert.Equal(t, 1, removed)

	_, ok := tr.GetRecord(id)
	assert.False(t, ok)
	_, ok = tr.GetRecord(stillRunning)
	assert.True(t, ok)
}

func TestStatsSnapshot(t *testing.T) {
	tr := NewTracker(nil)
	a, _ := tr.StartRoot(execid.KindFlow)
	b, _ := tr.StartRoot(execid.KindFlow)
	c, _ := tr.StartRoot(execid.KindFlow)
	tr.Complete(a, nil)
	tr.Fail(b, errors.New("x"))

	stats := tr.StatsSnapshot()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	_ = c
}

func TestConcurrentStartChildAllocatesUniqueSequences(t *testing.T) {
	tr := NewTracker(nil)
	root, err := tr.StartRoot(execid.KindFlow)
	require.NoError(t, err)

	const n = 100
	seqs := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			child, err := tr.StartChild(root, execid.KindTool)
			require.NoError(t, err)
			seqs <- child.Sequence()
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "duplicate sequence %d", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)
	assert.Len(t, tr.GetChildren(root), n)
}
