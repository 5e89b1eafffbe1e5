package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/config"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/indexer"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/sched"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/watch"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [path]",
		Short: "Lint the workspace and again after every burst of edits",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, rootArg(args))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := newWatchSession(ctx, cfg, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.lint(ctx, nil); err != nil {
				return err
			}

			w, err := watch.New(cfg.Root, s.changed, watch.Options{
				Delay:  time.Duration(cfg.Analysis.DebounceMS) * time.Millisecond,
				Ignore: watchIgnore(cfg),
			})
			if err != nil {
				return err
			}
			defer w.Stop()
			if err := w.Start(ctx); err != nil {
				return err
			}
			ctxlog.FromContext(ctx).Info("watch: watching", "root", cfg.Root)
			<-ctx.Done()
			return nil
		},
	}
}

// watchSession serializes lint passes. Edits that arrive while a pass is
// running queue behind it.
type watchSession struct {
	idx   *indexer.Indexer
	queue *sched.TaskQueue
	opts  *globalOptions
	out   io.Writer
}

func newWatchSession(ctx context.Context, cfg *config.Config, opts *globalOptions, out io.Writer) (*watchSession, error) {
	idx := indexer.NewWithConfig(cfg)
	if cfg.CacheEnabled() {
		w, err := indexer.NewIndexWriter(ctx, cfg.CacheDir())
		if err != nil {
			return nil, err
		}
		idx.Writer = w
		idx.Lane = sched.Idle
	}
	return &watchSession{
		idx:   idx,
		queue: sched.NewTaskQueue(ctx),
		opts:  opts,
		out:   out,
	}, nil
}

func (s *watchSession) close() {
	s.queue.Close()
	if s.idx.Writer != nil {
		s.idx.Writer.Close()
	}
}

func (s *watchSession) changed(ctx context.Context, paths []string) {
	if err := s.lint(ctx, paths); err != nil {
		ctxlog.FromContext(ctx).Warn("watch: lint failed", "err", err)
	}
}

// lint runs a full pass when changed is nil and a refresh otherwise.
func (s *watchSession) lint(ctx context.Context, changed []string) error {
	log := ctxlog.FromContext(ctx)
	return s.queue.Do(ctx, sched.Normal, func(qctx context.Context) error {
		qctx = ctxlog.WithLogger(qctx, log)
		var (
			res *indexer.LintResult
			err error
		)
		if changed == nil {
			res, err = s.idx.Run(qctx)
		} else {
			log.Debug("watch: changed", "files", changed)
			res, err = s.idx.Refresh(qctx, changed)
		}
		if res != nil {
			s.report(res, changed)
		}
		return err
	})
}

func (s *watchSession) report(res *indexer.LintResult, changed []string) {
	if s.opts.jsonOutput {
		_ = res.WriteJSON(s.out)
		return
	}
	if changed != nil {
		fmt.Fprintf(s.out, "\n--- %s: %s\n", time.Now().Format(time.TimeOnly), strings.Join(changed, ", "))
	}
	res.WriteText(s.out, s.opts.verbose)
}

// watchIgnore drops the cache directory, hidden directories and the
// configured ignore patterns.
func watchIgnore(cfg *config.Config) func(string) bool {
	cacheDir := cfg.CacheDir()
	return func(path string) bool {
		if path == cacheDir || strings.HasPrefix(path, cacheDir+string(filepath.Separator)) {
			return true
		}
		if strings.HasPrefix(filepath.Base(path), ".") {
			return true
		}
		return cfg.ShouldIgnoreFile(path)
	}
}
