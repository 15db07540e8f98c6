package streaming

import (
	"testing"
	"time"

	"github.com/archflow/archflow/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCreatesEmitterOnFirstUse(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	defer r.Close()
	e1 := r.Get("exec-1")
	e2 := r.Get("exec-1")
	assert.Same(t, e1, e2)
	assert.Equal(t, 1, r.Count())
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	defer r.Close()
	e := r.Get("exec-1")
	ch := e.Subscribe("sub-1")

	reached := e.BroadcastDelta("hello", 0)
	assert.Equal(t, 1, reached)

	select {
	case evt := <-ch:
		assert.Equal(t, event.DomainChat, evt.Domain)
		assert.Equal(t, event.TypeDelta, evt.Type)
		assert.Equal(t, "hello", evt.Data["content"])
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestSequenceIsMonotonePerEmitter(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	defer r.Close()
	e := r.Get("exec-1")
	ch := e.Subscribe("sub-1")

	e.BroadcastDelta("a", 0)
	e.BroadcastDelta("b", 1)

	first := <-ch
	second := <-ch
	assert.Less(t, first.Sequence, second.Sequence)
}

func TestCompleteStopsDeliveryAndClosesChannel(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	defer r.Close()
	e := r.Get("exec-1")
	ch := e.Subscribe("sub-1")

	e.Complete()

	// Drain the terminal end event.
	final, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, event.TypeEnd, final.Type)

	_, ok = <-ch
	assert.False(t, ok, "channel must be closed after completion")

	reached := e.BroadcastDelta("too late", 0)
	assert.Equal(t, 0, reached)
}

func TestOverflowDropsSlowSubscriber(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 1
	r := NewRegistry(cfg)
	defer r.Close()
	e := r.Get("exec-1")
	_ = e.Subscribe("slow")

	// Fill the queue, then overflow it.
	e.BroadcastDelta("one", 0)
	e.BroadcastDelta("two", 1)

	count, _ := e.Attr("_overflow.count")
	assert.Equal(t, 1, count)
}

func TestRegistryEvictsOldestWhenAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEmitters = 2
	r := NewRegistry(cfg)
	defer r.Close()
	first := r.Get("exec-1")
	r.Get("exec-2")
	r.Get("exec-3")

	require.Eventually(t, func() bool {
		return first.isCompleted()
	}, time.Second, 5*time.Millisecond)

	_, exists := r.Lookup("exec-1")
	assert.False(t, exists)
	assert.Equal(t, 2, r.Count())
}

func TestRegistryEvictsLeastRecentlyActiveNotOldestByRegistration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEmitters = 2
	r := NewRegistry(cfg)
	defer r.Close()

	first := r.Get("exec-1")
	second := r.Get("exec-2")

	// Keep exec-1 active after exec-2 was created, so it is not the
	// least-recently-active entry despite being registered first.
	first.Publish(event.ChatDelta("exec-1", "keepalive", 0))

	r.Get("exec-3")

	require.Eventually(t, func() bool {
		return second.isCompleted()
	}, time.Second, 5*time.Millisecond)

	_, exists := r.Lookup("exec-1")
	assert.True(t, exists, "the recently-active emitter must survive eviction")
	_, exists = r.Lookup("exec-2")
	assert.False(t, exists, "the least-recently-active emitter must be evicted")
}

func TestIdleReaperCompletesInactiveEmitters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	cfg.ReapInterval = 5 * time.Millisecond
	r := NewRegistry(cfg)
	defer r.Close()
	e := r.Get("exec-1")

	require.Eventually(t, func() bool {
		return e.isCompleted()
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return r.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveCompletesAndDetaches(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	defer r.Close()
	e := r.Get("exec-1")
	r.Remove("exec-1")

	assert.True(t, e.isCompleted())
	_, exists := r.Lookup("exec-1")
	assert.False(t, exists)
}
