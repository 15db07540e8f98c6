// Package streaming implements archflow's Streaming Event Bus:
// per-execution event emitters with bounded subscriber fan-out,
// overflow eviction, and an idle reaper, generalized from a single SSE
// connection handler (flusher, ctx.Done() teardown, ticker-driven
// heartbeat) into a registry of emitters feeding arbitrary subscribers.
package streaming

import (
	"sync"
	"time"

	"github.com/archflow/archflow/pkg/archerr"
	"github.com/archflow/archflow/pkg/event"
)

const (
	// DefaultMaxEmitters bounds the Registry's emitter population
	// (default 1000).
	DefaultMaxEmitters = 1000
	// DefaultMaxQueueSize bounds each subscriber's event queue (default 100).
	DefaultMaxQueueSize = 100
	// DefaultIdleTimeout reclaims an emitter after this long without
	// activity (default 5000ms).
	DefaultIdleTimeout = 5 * time.Second
)

// Emitter is a per-execution event publisher. Once Complete is called,
// no further events are delivered.
type Emitter struct {
	executionID string
	created time.Time
	maxQueueSize int

	mu sync.Mutex
	lastActivity time.Time
	completed bool
	subscribers map[string]chan event.Event
	attrs map[string]any
	nextSeq uint64
}

func newEmitter(executionID string, maxQueueSize int) *Emitter {
	now := time.Now()
	return &Emitter{
		executionID: executionID,
		created: now,
		lastActivity: now,
		maxQueueSize: maxQueueSize,
		subscribers: make(map[string]chan event.Event),
		attrs: make(map[string]any),
	}
}

// Subscribe registers subscriberID and returns a bounded receive-only
// channel of events. Re-subscribing with the same id replaces the prior
// channel.
func (e *Emitter) Subscribe(subscriberID string) <-chan event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan event.Event, e.maxQueueSize)
	e.subscribers[subscriberID] = ch
	if e.completed {
		close(ch)
	}
	return ch
}

// Unsubscribe detaches subscriberID and closes its channel.
func (e *Emitter) Unsubscribe(subscriberID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.subscribers[subscriberID]; ok {
		delete(e.subscribers, subscriberID)
		close(ch)
	}
}

// Publish writes evt to every subscriber. A subscriber whose queue is
// full is dropped: its channel is closed and it is removed from the
// fan-out set, with no event sent to it. The emitter counts drops under
// the "_overflow.count" attribute and keeps the latest OverflowError
// under "_overflow.last". Returns the number of subscribers it
// actually reached.
func (e *Emitter) Publish(evt event.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completed {
		return 0
	}
	now := time.Now()
	e.lastActivity = now
	evt.Sequence = e.nextSeq
	evt.Timestamp = now
	e.nextSeq++

	reached := 0
	for id, ch := range e.subscribers {
		select {
		case ch <- evt:
			reached++
		default:
			delete(e.subscribers, id)
			close(ch)
			overflows, _ := e.attrs["_overflow.count"].(int)
			e.attrs["_overflow.count"] = overflows + 1
			e.attrs["_overflow.last"] = &archerr.OverflowError{ExecutionID: e.executionID, SubscriberID: id}
		}
	}
	return reached
}

// BroadcastDelta is a convenience that builds a chat/delta event and
// publishes it. Returns the number of subscribers reached (0 if the
// emitter has no active subscribers or is already completed).
func (e *Emitter) BroadcastDelta(content string, index int) int {
	return e.Publish(event.ChatDelta(e.executionID, content, index))
}

// Complete marks the emitter terminal: it publishes a final chat/end
// event, then detaches and closes every subscriber channel. Subsequent
// Publish calls are dropped.
func (e *Emitter) Complete() {
	e.mu.Lock()
	if e.completed {
		e.mu.Unlock()
		return
	}
	e.completed = true
	final := event.ChatEnd(e.executionID, "stop", 0, 0, 0)
	final.Sequence = e.nextSeq
	final.Timestamp = time.Now()
	e.nextSeq++
	subs := e.subscribers
	e.subscribers = make(map[string]chan event.Event)
	e.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- final:
		default:
		}
		close(ch)
	}
}

// SetAttr stores an attribute on the emitter's attribute bag.
func (e *Emitter) SetAttr(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attrs[key] = value
}

// Attr retrieves an emitter attribute.
func (e *Emitter) Attr(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.attrs[key]
	return v, ok
}

// idleSince reports how long the emitter has gone without activity.
func (e *Emitter) idleSince(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.lastActivity)
}

// isCompleted reports whether Complete has already run.
func (e *Emitter) isCompleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// lastActive returns the instant of the emitter's most recent Publish,
// or its creation time if it has never published.
func (e *Emitter) lastActive() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActivity
}

// Registry owns the execution-id -> Emitter mapping, bounded in size
// with least-recently-active eviction, plus an idle reaper goroutine.
type Registry struct {
	maxEmitters int
	maxQueueSize int
	idleTimeout time.Duration

	mu sync.Mutex
	emitters map[string]*Emitter
	order []string // registration order, for O(n) removal bookkeeping

	stopOnce sync.Once
	stopCh chan struct{}
	doneCh chan struct{}
}

// Config configures a Registry's bounds.
type Config struct {
	MaxEmitters int
	MaxQueueSize int
	IdleTimeout time.Duration
	ReapInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxEmitters: DefaultMaxEmitters,
		MaxQueueSize: DefaultMaxQueueSize,
		IdleTimeout: DefaultIdleTimeout,
		ReapInterval: time.Second,
	}
}

// NewRegistry constructs a Registry and starts its idle-reaper goroutine.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxEmitters <= 0 {
		cfg.MaxEmitters = DefaultMaxEmitters
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Second
	}

	r := &Registry{
		maxEmitters: cfg.MaxEmitters,
		maxQueueSize: cfg.MaxQueueSize,
		idleTimeout: cfg.IdleTimeout,
		emitters: make(map[string]*Emitter),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go r.reapLoop(cfg.ReapInterval)
	return r
}

// CreateEmitter explicitly creates (or returns the existing) emitter
// for executionID. When the registry is already at capacity, the
// least-recently-active emitter is evicted and completed before the
// new one is created.
func (r *Registry) CreateEmitter(executionID string) *Emitter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.emitters[executionID]; ok {
		return e
	}

	if len(r.emitters) >= r.maxEmitters {
		r.evictOldestLocked()
	}

	e := newEmitter(executionID, r.maxQueueSize)
	r.emitters[executionID] = e
	r.order = append(r.order, executionID)
	return e
}

// evictOldestLocked completes and removes the least-recently-active
// emitter (the one with the oldest lastActive, not necessarily the
// oldest by registration). Caller must hold r.mu.
func (r *Registry) evictOldestLocked() {
	var victimID string
	var oldest time.Time
	for id, e := range r.emitters {
		la := e.lastActive()
		if victimID == "" || la.Before(oldest) {
			victimID = id
			oldest = la
		}
	}
	if victimID == "" {
		return
	}
	e := r.emitters[victimID]
	delete(r.emitters, victimID)
	for i, id := range r.order {
		if id == victimID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	go e.Complete()
}

// Get returns the emitter for executionID, creating it on first use
// ("created on first emit for an execution id").
func (r *Registry) Get(executionID string) *Emitter {
	return r.CreateEmitter(executionID)
}

// Lookup returns the emitter for executionID without creating one.
func (r *Registry) Lookup(executionID string) (*Emitter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emitters[executionID]
	return e, ok
}

// Remove completes and detaches the emitter for executionID, if any.
func (r *Registry) Remove(executionID string) {
	r.mu.Lock()
	e, ok := r.emitters[executionID]
	if ok {
		delete(r.emitters, executionID)
		for i, id := range r.order {
			if id == executionID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		e.Complete()
	}
}

// Count returns the number of tracked emitters.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emitters)
}

func (r *Registry) reapLoop(interval time.Duration) {
	defer close(r.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

func (r *Registry) reapIdle() {
	now := time.Now()

	r.mu.Lock()
	var idle []string
	emitters := make([]*Emitter, 0)
	for id, e := range r.emitters {
		if e.isCompleted() || e.idleSince(now) >= r.idleTimeout {
			idle = append(idle, id)
			emitters = append(emitters, e)
		}
	}
	for _, id := range idle {
		delete(r.emitters, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, e := range emitters {
		e.Complete()
	}
}

// Close stops the idle reaper and completes every tracked emitter.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh

	r.mu.Lock()
	emitters := make([]*Emitter, 0, len(r.emitters))
	for _, e := range r.emitters {
		emitters = append(emitters, e)
	}
	r.emitters = make(map[string]*Emitter)
	r.order = nil
	r.mu.Unlock()

	for _, e := range emitters {
		e.Complete()
	}
}
