package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"faststart/internal/ingest"
	"faststart/internal/logging"
	"faststart/internal/registry"
	"faststart/internal/services/faststart"
)

type checkResult struct {
	path      string
	name      string
	valid     bool
	optimized bool
	meta      registry.Metadata
	err       error
	rewritten bool
}

// newCheckCommand inspects files locally without a daemon. With --optimize
// the unoptimized ones are rewritten in place.
func newCheckCommand(ctx *commandContext) *cobra.Command {
	var optimize bool
	cmd := &cobra.Command{
		Use:   "check <path>...",
		Short: "Inspect files without a daemon; --optimize rewrites the ones that need it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Level:       "warn",
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stderr"},
			})
			if err != nil {
				return err
			}
			paths, err := absolutePaths(args)
			if err != nil {
				return err
			}

			expander := ingest.NewFSExpander(ingest.ExpanderOptions{
				Extensions: cfg.Ingest.Extensions,
				Exclude:    cfg.Ingest.Exclude,
				Logger:     logger,
			})
			files, err := expander.Expand(cmd.Context(), paths)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No video files found")
				return nil
			}

			svc := faststart.NewFromConfig(cfg, logger)
			results := make([]checkResult, len(files))
			for i, path := range files {
				results[i] = inspectFile(cmd.Context(), svc, path)
			}
			if optimize {
				if err := rewriteUnoptimized(cmd.Context(), svc, results, cfg.Optimize.MaxConcurrent); err != nil {
					return err
				}
			}
			renderCheckResults(out, results, shouldColorize(out))

			failed := 0
			for _, r := range results {
				if r.err != nil || !r.valid {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) could not be checked", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&optimize, "optimize", false, "Rewrite unoptimized files in place")
	return cmd
}

func inspectFile(ctx context.Context, svc *faststart.Service, path string) checkResult {
	r := checkResult{path: path, name: ingest.DisplayName(path)}
	valid, err := svc.Validate(ctx, path)
	if err != nil {
		r.err = err
		return r
	}
	r.valid = valid
	if !valid {
		return r
	}
	if r.optimized, err = svc.CheckOptimized(ctx, path); err != nil {
		r.err = err
		return r
	}
	if r.meta, err = svc.Metadata(ctx, path); err != nil {
		r.err = err
	}
	return r
}

// rewriteUnoptimized optimizes the valid, unoptimized results with at most
// limit rewrites in flight; limit <= 0 means unbounded.
func rewriteUnoptimized(ctx context.Context, svc *faststart.Service, results []checkResult, limit int) error {
	if limit <= 0 {
		limit = len(results)
	}
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for i := range results {
		r := &results[i]
		if r.err != nil || !r.valid || r.optimized {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := svc.Optimize(ctx, r.path, nil); err != nil {
				r.err = err
				return
			}
			r.optimized = true
			r.rewritten = true
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return errors.Join(errors.New("optimization interrupted; originals of unfinished files are untouched"), err)
	}
	return nil
}

func renderCheckResults(out io.Writer, results []checkResult, colorize bool) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		var state string
		var kind statusKind
		switch {
		case r.err != nil:
			state, kind = "Error: "+r.err.Error(), statusError
		case !r.valid:
			state, kind = "Truncated", statusError
		case r.rewritten:
			state, kind = "Optimized (rewritten)", statusOK
		case r.optimized:
			state, kind = "Optimized", statusOK
		default:
			state, kind = "Needs optimization", statusWarn
		}
		size, runtime, resolution := "-", "-", "-"
		if r.meta.SizeBytes > 0 {
			size = formatBytes(r.meta.SizeBytes)
			runtime = formatRuntime(r.meta.DurationSeconds)
			resolution = formatResolution(r.meta.Width, r.meta.Height)
		}
		rows = append(rows, []string{r.name, colorizeText(state, kind, colorize), size, runtime, resolution})
	}
	fmt.Fprint(out, renderTable(
		[]string{"File", "Fast start", "Size", "Duration", "Resolution"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
	fmt.Fprintln(out)
}
