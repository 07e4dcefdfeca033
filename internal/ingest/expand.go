package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sys/unix"

	"faststart/internal/fileutil"
	"faststart/internal/logging"
	"faststart/internal/services"
)

// ExpanderOptions configures an FSExpander.
type ExpanderOptions struct {
	// Extensions lists accepted video extensions including the dot.
	Extensions []string
	// Exclude holds doublestar patterns matched against slash-separated
	// absolute paths. A matching directory is not descended.
	Exclude []string
	// Folders receives every directory visited during expansion.
	Folders *fileutil.FolderSet
	// CleanupTemp removes leftover optimizer temp files from a folder the
	// first time it is visited.
	CleanupTemp bool
	Logger      *slog.Logger
}

// FSExpander resolves raw paths against the local filesystem.
type FSExpander struct {
	extensions []string
	exclude    []string
	folders    *fileutil.FolderSet
	cleanup    bool
	logger     *slog.Logger
}

// NewFSExpander constructs an expander. Invalid exclude patterns must be
// rejected by config validation beforehand; here they simply never match.
func NewFSExpander(opts ExpanderOptions) *FSExpander {
	exts := make([]string, 0, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	return &FSExpander{
		extensions: exts,
		exclude:    append([]string(nil), opts.Exclude...),
		folders:    opts.Folders,
		cleanup:    opts.CleanupTemp,
		logger:     logging.NewComponentLogger(opts.Logger, "expander"),
	}
}

// Expand returns the absolute paths of every accepted video file reachable
// from paths, deduplicated in discovery order. Inputs that cannot be stat'ed
// are skipped. An error is returned when ctx is cancelled or when no input
// could be stat'ed at all.
func (e *FSExpander) Expand(ctx context.Context, paths []string) ([]string, error) {
	seen := make(map[string]struct{})
	var result []string
	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		result = append(result, abs)
	}

	var statErrs []error
	for _, raw := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clean := filepath.Clean(strings.TrimSpace(raw))
		info, err := os.Stat(clean)
		if err != nil {
			e.logger.Debug("skipping inaccessible path",
				logging.String("path", clean),
				logging.Error(err),
			)
			statErrs = append(statErrs, err)
			continue
		}
		if !info.IsDir() {
			e.track(filepath.Dir(clean))
			if e.accept(clean) {
				add(clean)
			} else {
				e.logger.Debug("skipping non-video or temp file", logging.String("path", clean))
			}
			continue
		}
		if err := e.walk(ctx, clean, add); err != nil {
			return nil, err
		}
	}

	if len(paths) > 0 && len(statErrs) == len(paths) {
		return nil, services.Wrap(services.ErrDegraded, "ingest", "expand paths",
			fmt.Sprintf("none of %d paths could be read", len(paths)), errors.Join(statErrs...))
	}
	e.logger.Debug("expanded paths",
		logging.Int("inputs", len(paths)),
		logging.Int("files", len(result)),
	)
	return result, nil
}

func (e *FSExpander) walk(ctx context.Context, root string, add func(string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			e.logger.Debug("walk error", logging.String("path", path), logging.Error(err))
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && e.excluded(path) {
				return fs.SkipDir
			}
			e.track(path)
			return nil
		}
		if e.accept(path) {
			add(path)
		}
		return nil
	})
}

// accept applies the extension, temp-file, exclude, and readability filters.
func (e *FSExpander) accept(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if len(e.extensions) > 0 && !containsString(e.extensions, ext) {
		return false
	}
	if fileutil.IsTempFile(path) {
		return false
	}
	if e.excluded(path) {
		return false
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		e.logger.Debug("skipping unreadable file", logging.String("path", path), logging.Error(err))
		return false
	}
	return true
}

func (e *FSExpander) excluded(path string) bool {
	if len(e.exclude) == 0 {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	candidate := filepath.ToSlash(abs)
	for _, pattern := range e.exclude {
		if ok, _ := doublestar.Match(pattern, candidate); ok {
			return true
		}
	}
	return false
}

func (e *FSExpander) track(dir string) {
	if e.folders == nil {
		return
	}
	if !e.folders.Track(dir) || !e.cleanup {
		return
	}
	removed, err := fileutil.CleanupTempFiles(dir, e.extensions...)
	if err != nil {
		logging.WarnWithContext(e.logger, "temp file cleanup incomplete", "temp_cleanup_failed",
			logging.String("dir", dir),
			logging.Error(err),
			logging.Impact("leftover temp files remain in the folder"),
			logging.Hint("remove *_tmp_* files manually"),
		)
	}
	if removed > 0 {
		e.logger.Info("removed leftover temp files", logging.String("dir", dir), logging.Int("count", removed))
	}
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
