// Package sched holds the two scheduling primitives shared by the engines:
// a per-key debouncer for edit bursts and a serial task queue for index
// rewrites.
package sched

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrStale is returned by Handle.Check once a newer schedule for the same
// key exists.
var ErrStale = errors.New("sched: superseded by a newer schedule")

var (
	debounceCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kdts_debounce_total",
		Help: "Debounced schedules by outcome (fired, superseded, cancelled)",
	}, []string{"outcome"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kdts_task_queue_depth",
		Help: "Tasks waiting in the serial queue, by lane",
	}, []string{"lane"})
)

// Debouncer runs at most one pending callback per key. Scheduling a key
// again before its delay expires cancels the earlier callback and restarts
// the delay.
type Debouncer struct {
	mu     sync.Mutex
	gens   map[string]uint64
	timers map[string]*time.Timer
}

// NewDebouncer returns an empty debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{
		gens:   make(map[string]uint64),
		timers: make(map[string]*time.Timer),
	}
}

// Handle identifies one schedule of a key.
type Handle struct {
	d   *Debouncer
	key string
	gen uint64
}

// Generation is the counter value stamped when the handle was scheduled.
func (h Handle) Generation() uint64 { return h.gen }

// Stale reports whether the key was scheduled or cancelled since.
func (h Handle) Stale() bool { return h.d.Current(h.key) != h.gen }

// Check returns ErrStale when the handle is stale, so multi-step passes
// can bail out between steps.
func (h Handle) Check() error {
	if h.Stale() {
		return ErrStale
	}
	return nil
}

// Cancel stops the callback if it has not started and marks the handle
// stale. It reports whether a pending callback was stopped.
func (h Handle) Cancel() bool {
	d := h.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gens[h.key] != h.gen {
		return false
	}
	d.gens[h.key]++
	t, ok := d.timers[h.key]
	if !ok {
		return false
	}
	delete(d.timers, h.key)
	if t.Stop() {
		debounceCounter.WithLabelValues("cancelled").Inc()
		return true
	}
	return false
}

// Schedule arranges for fn to run after delay unless key is scheduled
// again first. fn receives the handle, whose generation it can compare
// with Current to detect that it was superseded while running.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func(Handle)) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok && t.Stop() {
		debounceCounter.WithLabelValues("superseded").Inc()
	}
	d.gens[key]++
	h := Handle{d: d, key: key, gen: d.gens[key]}
	d.timers[key] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.gens[key] != h.gen {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		debounceCounter.WithLabelValues("fired").Inc()
		fn(h)
	})
	return h
}

// Current returns the latest generation of key, 0 if never scheduled.
func (d *Debouncer) Current(key string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gens[key]
}

// Pending reports whether key has a callback waiting for its delay.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Stop cancels every pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, t := range d.timers {
		t.Stop()
		d.gens[key]++
		delete(d.timers, key)
	}
}
