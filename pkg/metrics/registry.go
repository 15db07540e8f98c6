// Package metrics implements archflow's in-memory MetricsRegistry
// (the metrics registry) and the periodic Collector/Exporter (// §4.I), grounded on internal/tracing/metrics.go
// (atomic-guarded gauges observed through callbacks).
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// atomicFloat is a lock-free additive float64 accumulator implemented
// with a compare-and-swap loop over the IEEE-754 bit pattern, matching
// the documented "gauges are lock-free additive accumulators" shape —
// sync/atomic has no native float64 type, so CAS-on-bits is the
// standard idiom for this (used identically in, e.g., expvar-style
// float counters across the ecosystem).
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		newVal := math.Float64frombits(old) + delta
		if f.bits.CompareAndSwap(old, math.Float64bits(newVal)) {
			return
		}
	}
}

func (f *atomicFloat) set(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// history is an append-only sequence of recorded values for one key,
// guarded by its own mutex ("per-key histories are
// append-only lists under a per-key lock").
type history struct {
	mu sync.Mutex
	values []float64
}

func (h *history) record(v float64) {
	h.mu.Lock()
	h.values = append(h.values, v)
	h.mu.Unlock()
}

func (h *history) stat() Stat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return computeStat(h.values)
}

// Stat summarizes a per-key value history.
type Stat struct {
	Count int
	Min float64
	Max float64
	Mean float64
}

func computeStat(values []float64) Stat {
	if len(values) == 0 {
		return Stat{}
	}
	s := Stat{Count: len(values), Min: values[0], Max: values[0]}
	sum := 0.0
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Mean = sum / float64(len(values))
	return s
}

// Registry is archflow's lock-free (for counters/gauges) metrics
// store: counters (string -> int64), gauges/sums (string -> float64),
// and per-key value histories.
type Registry struct {
	counters sync.Map // string -> *atomic.Int64
	gauges sync.Map // string -> *atomicFloat
	history sync.Map // string -> *history
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// IncrCounter adds delta to the named counter, creating it at zero if
// absent.
func (r *Registry) IncrCounter(name string, delta int64) {
	v, _ := r.counters.LoadOrStore(name, &atomic.Int64{})
	v.(*atomic.Int64).Add(delta)
}

// Counter returns the current value of a counter (0 if never incremented).
func (r *Registry) Counter(name string) int64 {
	v, ok := r.counters.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// AddGauge adds delta to the named gauge (additive accumulator semantics).
func (r *Registry) AddGauge(name string, delta float64) {
	v, _ := r.gauges.LoadOrStore(name, &atomicFloat{})
	v.(*atomicFloat).add(delta)
}

// SetGauge overwrites the named gauge's value.
func (r *Registry) SetGauge(name string, value float64) {
	v, _ := r.gauges.LoadOrStore(name, &atomicFloat{})
	v.(*atomicFloat).set(value)
}

// Gauge returns the current value of a gauge (0 if never set).
func (r *Registry) Gauge(name string) float64 {
	v, ok := r.gauges.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomicFloat).load()
}

// RecordValue appends value to the named key's history.
func (r *Registry) RecordValue(key string, value float64) {
	v, _ := r.history.LoadOrStore(key, &history{})
	v.(*history).record(value)
}

// Stat returns the count/min/max/mean for a recorded-value key.
func (r *Registry) Stat(key string) Stat {
	v, ok := r.history.Load(key)
	if !ok {
		return Stat{}
	}
	return v.(*history).stat()
}

// Snapshot is an immutable point-in-time view of the registry,
// consumed by Exporters.
type Snapshot struct {
	Counters map[string]int64
	Gauges map[string]float64
	Stats map[string]Stat
}

// Snapshot captures the current registry state. Safe for concurrent
// use; iteration over sync.Map is inherently a best-effort snapshot
// ("iteration snapshots").
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Counters: make(map[string]int64),
		Gauges: make(map[string]float64),
		Stats: make(map[string]Stat),
	}
	r.counters.Range(func(k, v any) bool {
		snap.Counters[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	r.gauges.Range(func(k, v any) bool {
		snap.Gauges[k.(string)] = v.(*atomicFloat).load()
		return true
	})
	r.history.Range(func(k, v any) bool {
		snap.Stats[k.(string)] = v.(*history).stat()
		return true
	})
	return snap
}

// CounterKeys returns the sorted set of all counter names, for deterministic
// export ordering.
func (s Snapshot) CounterKeys() []string {
	keys := make([]string, 0, len(s.Counters))
	for k := range s.Counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Snapshot) GaugeKeys() []string {
	keys := make([]string, 0, len(s.Gauges))
	for k := range s.Gauges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Snapshot) StatKeys() []string {
	keys := make([]string, 0, len(s.Stats))
	for k := range s.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
