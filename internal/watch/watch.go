// Package watch turns file system events under a workspace into debounced
// batches of changed paths.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/sched"
)

// DefaultDelay is used when Options.Delay is zero.
const DefaultDelay = 300 * time.Millisecond

const batchKey = "changes"

// Handler receives the sorted, distinct paths changed since the last batch.
type Handler func(ctx context.Context, changed []string)

// Options configures a Watcher.
type Options struct {
	Delay time.Duration
	// Ignore reports paths whose events are dropped. Ignored directories
	// are not watched at all.
	Ignore func(path string) bool
}

// Watcher watches a directory tree. Events are collected until no new one
// arrives for Delay, then handed to the handler as one batch.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	handler Handler
	opts    Options
	deb     *sched.Debouncer

	mu      sync.Mutex
	pending map[string]bool

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for root. Call Start to begin watching.
func New(root string, handler Handler, opts Options) (*Watcher, error) {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:    root,
		fsw:     fsw,
		handler: handler,
		opts:    opts,
		deb:     sched.NewDebouncer(),
		pending: make(map[string]bool),
		done:    make(chan struct{}),
	}, nil
}

// Start adds root and its subdirectories and processes events until ctx
// is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	return nil
}

// Stop ends watching. Pending batches are dropped.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.deb.Stop()
		_ = w.fsw.Close()
	})
}

func (w *Watcher) ignored(path string) bool {
	return w.opts.Ignore != nil && w.opts.Ignore(path)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	log := ctxlog.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						log.Warn("watch: cannot add directory", "path", event.Name, "err", err)
					}
					continue
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = true
			w.mu.Unlock()
			w.deb.Schedule(batchKey, w.opts.Delay, func(h sched.Handle) {
				w.flush(ctx, h)
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("watch: event error", "err", err)
		}
	}
}

func (w *Watcher) flush(ctx context.Context, h sched.Handle) {
	if h.Stale() {
		return
	}
	w.mu.Lock()
	changed := make([]string, 0, len(w.pending))
	for path := range w.pending {
		changed = append(changed, path)
	}
	clear(w.pending)
	w.mu.Unlock()
	if len(changed) == 0 || w.handler == nil {
		return
	}
	slices.Sort(changed)
	w.handler(ctx, changed)
}
