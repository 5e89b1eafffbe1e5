package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/facts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/sched"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/validator"
)

var indexWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kdts_index_writes_total",
	Help: "Symbol index rewrites by outcome (written, unchanged, invalid)",
}, []string{"outcome"})

// WriteResult describes one symbol index rewrite.
type WriteResult struct {
	Delta facts.Delta
	// Written is false when the index on disk already matched.
	Written bool
}

// IndexWriter rewrites the on-disk symbol index one write at a time.
// Every write is validated against the index contract first.
type IndexWriter struct {
	dir       string
	queue     *sched.TaskQueue
	validator *validator.Validator

	mu   sync.Mutex
	last *facts.Tables
}

// NewIndexWriter starts a writer for the index in dir. Close it when done.
func NewIndexWriter(ctx context.Context, dir string) (*IndexWriter, error) {
	v, err := validator.NewFactsValidator()
	if err != nil {
		return nil, fmt.Errorf("creating index validator: %w", err)
	}
	return &IndexWriter{
		dir:       dir,
		queue:     sched.NewTaskQueue(ctx),
		validator: v,
	}, nil
}

// Write queues a rewrite on lane and waits for it to finish.
func (w *IndexWriter) Write(ctx context.Context, lane sched.Lane, tables facts.Tables) (WriteResult, error) {
	var res WriteResult
	log := ctxlog.FromContext(ctx)
	err := w.queue.Do(ctx, lane, func(context.Context) error {
		prev, ok, err := w.previous()
		if err != nil {
			log.Warn("index: ignoring unreadable index", "dir", w.dir, "err", err)
		}
		res.Delta = facts.ComputeDelta(prev, tables)
		if ok && res.Delta.Empty() {
			indexWrites.WithLabelValues("unchanged").Inc()
			return nil
		}
		if errs := w.validator.ValidationErrors(tables); len(errs) > 0 {
			indexWrites.WithLabelValues("invalid").Inc()
			return fmt.Errorf("symbol index contract violation: %v", errs)
		}
		if err := saveFactTablesCache(w.dir, tables); err != nil {
			return err
		}
		w.mu.Lock()
		w.last = &tables
		w.mu.Unlock()
		res.Written = true
		indexWrites.WithLabelValues("written").Inc()
		log.Debug("index: written", "dir", w.dir,
			"added", res.Delta.Added.Len(), "removed", res.Delta.Removed.Len())
		return nil
	})
	return res, err
}

func (w *IndexWriter) previous() (facts.Tables, bool, error) {
	w.mu.Lock()
	last := w.last
	w.mu.Unlock()
	if last != nil {
		return *last, true, nil
	}
	return loadFactTablesCache(w.dir)
}

// Pending returns the number of queued writes.
func (w *IndexWriter) Pending() int {
	return w.queue.Len(sched.Normal) + w.queue.Len(sched.Idle)
}

// Close waits for queued writes and stops the writer.
func (w *IndexWriter) Close() {
	w.queue.Close()
}
