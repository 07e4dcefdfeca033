package faststart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"faststart/internal/config"
	"faststart/internal/fileutil"
	"faststart/internal/logging"
	"faststart/internal/media/ffprobe"
	"faststart/internal/mp4"
	"faststart/internal/pipeline"
	"faststart/internal/registry"
)

const copyBufferSize = 1 << 20

// Options configures a Service.
type Options struct {
	// FFprobeBinary is the ffprobe executable; empty disables ffprobe.
	FFprobeBinary string
	Logger        *slog.Logger
}

// Service implements pipeline.Analyzer and pipeline.Optimizer on local files.
type Service struct {
	ffprobe string
	logger  *slog.Logger

	lookOnce  sync.Once
	ffprobeOK bool
}

// New constructs a Service.
func New(opts Options) *Service {
	return &Service{
		ffprobe: strings.TrimSpace(opts.FFprobeBinary),
		logger:  logging.NewComponentLogger(opts.Logger, "analyzer"),
	}
}

// NewFromConfig constructs a Service from the analyzer settings.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Service {
	return New(Options{FFprobeBinary: cfg.Analyzer.FFprobeBinary, Logger: logger})
}

// CheckOptimized reports whether the movie box precedes the media data.
func (s *Service) CheckOptimized(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	boxes, err := scanBoxes(path)
	if err != nil {
		return false, err
	}
	return mp4.IsFastStart(boxes)
}

// Validate reports whether every top-level box fits inside the file. A
// truncated file yields false with a nil error.
func (s *Service) Validate(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := scanBoxes(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, mp4.ErrTruncated):
		return false, nil
	default:
		return false, err
	}
}

// Metadata describes path. Size and modification time come from the file
// system; duration, dimensions, and codec come from ffprobe when available
// and from the movie box otherwise.
func (s *Service) Metadata(ctx context.Context, path string) (registry.Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return registry.Metadata{}, fmt.Errorf("stat: %w", err)
	}
	meta := registry.Metadata{
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime().UTC(),
	}

	if s.ffprobeAvailable() {
		result, err := ffprobe.Inspect(ctx, s.ffprobe, path)
		if err == nil {
			if video, ok := result.PrimaryVideo(); ok {
				meta.Width = video.Width
				meta.Height = video.Height
				meta.Codec = video.CodecName
			}
			if d := result.DurationSeconds(); d > 0 {
				meta.DurationSeconds = d
			}
			return meta, nil
		}
		if ctx.Err() != nil {
			return registry.Metadata{}, ctx.Err()
		}
		s.logger.Debug("ffprobe failed; reading movie header", logging.String("path", path), logging.Error(err))
	}

	movie, err := readMovie(path)
	if err != nil {
		return registry.Metadata{}, err
	}
	meta.DurationSeconds = movie.DurationSeconds
	meta.Width = movie.Width
	meta.Height = movie.Height
	meta.Codec = movie.Codec
	return meta, nil
}

// Optimize rewrites path with the movie box first. Files that are already
// fast start are left untouched.
func (s *Service) Optimize(ctx context.Context, path string, progress pipeline.ProgressFunc) error {
	report := func(percent float64, message string) {
		if progress != nil {
			progress(percent, message)
		}
	}
	report(0, "starting")

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	report(10, "parsing boxes")
	boxes, err := mp4.TopLevel(in, info.Size())
	if err != nil {
		return fmt.Errorf("parse atoms: %w", err)
	}
	if fast, err := mp4.IsFastStart(boxes); err != nil {
		return err
	} else if fast {
		report(100, "already optimized")
		return nil
	}
	layout, err := mp4.PlanFastStart(boxes)
	if err != nil {
		return err
	}

	report(20, "reading metadata")
	moov := make([]byte, layout.Movie.Size)
	if _, err := in.ReadAt(moov, layout.Movie.Offset); err != nil {
		return fmt.Errorf("read moov: %w", err)
	}
	if layout.NeedsSize(layout.Movie) {
		if err := mp4.SetSize(moov, layout.Movie.Size); err != nil {
			return fmt.Errorf("seal moov size: %w", err)
		}
	}
	report(30, "patching chunk offsets")
	if err := layout.PatchChunkOffsets(moov); err != nil {
		return fmt.Errorf("failed to patch moov: %w", err)
	}

	report(40, "creating temp file")
	tmp, err := fileutil.CreateTemp(path)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		_ = tmp.Close()
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return fmt.Errorf("set temp file mode: %w", err)
	}

	var total int64
	for _, box := range layout.Order {
		if box.Offset != layout.Movie.Offset {
			total += box.Size
		}
	}
	var written int64
	report(50, "writing")
	for _, box := range layout.Order {
		if box.Offset == layout.Movie.Offset {
			if _, err := tmp.Write(moov); err != nil {
				return fmt.Errorf("write moov: %w", err)
			}
			continue
		}
		offset, size := box.Offset, box.Size
		if layout.NeedsSize(box) {
			if err := writeSealedHeader(tmp, in, box); err != nil {
				return err
			}
			offset, size = box.Offset+box.HeaderSize, box.Size-box.HeaderSize
		}
		err := copyRange(ctx, tmp, in, offset, size, func(n int64) {
			written += n
			if total > 0 {
				report(50+45*float64(written)/float64(total), "writing media data")
			}
		})
		if err != nil {
			return err
		}
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	report(95, "replacing original")
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	success = true
	report(100, "done")
	s.logger.Debug("rewrote file", logging.String("path", path), logging.Int64("bytes", info.Size()))
	return nil
}

// writeSealedHeader copies the header of a size-0 box with its resolved size
// filled in.
func writeSealedHeader(dst io.Writer, src io.ReaderAt, box mp4.Box) error {
	header := make([]byte, box.HeaderSize)
	if _, err := src.ReadAt(header, box.Offset); err != nil {
		return fmt.Errorf("read %s header: %w", box.Type, err)
	}
	if err := mp4.SetSize(header, box.Size); err != nil {
		return fmt.Errorf("seal %s size: %w", box.Type, err)
	}
	if _, err := dst.Write(header); err != nil {
		return fmt.Errorf("write %s header: %w", box.Type, err)
	}
	return nil
}

func (s *Service) ffprobeAvailable() bool {
	if s.ffprobe == "" {
		return false
	}
	s.lookOnce.Do(func() {
		_, err := exec.LookPath(s.ffprobe)
		s.ffprobeOK = err == nil
	})
	return s.ffprobeOK
}

func scanBoxes(path string) ([]mp4.Box, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	boxes, err := mp4.TopLevel(file, info.Size())
	if err != nil {
		return boxes, fmt.Errorf("parse atoms: %w", err)
	}
	return boxes, nil
}

func readMovie(path string) (mp4.Movie, error) {
	file, err := os.Open(path)
	if err != nil {
		return mp4.Movie{}, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return mp4.Movie{}, fmt.Errorf("stat: %w", err)
	}
	boxes, err := mp4.TopLevel(file, info.Size())
	if err != nil && !errors.Is(err, mp4.ErrTruncated) {
		return mp4.Movie{}, fmt.Errorf("parse atoms: %w", err)
	}
	moov, ok := mp4.Find(boxes, mp4.TypeMoov)
	if !ok {
		return mp4.Movie{}, mp4.ErrNoMovie
	}
	return mp4.ReadMovie(file, moov)
}

// copyRange copies size bytes starting at offset from src to dst, checking
// ctx between chunks.
func copyRange(ctx context.Context, dst io.Writer, src io.ReaderAt, offset, size int64, onBytes func(int64)) error {
	reader := io.NewSectionReader(src, offset, size)
	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write temp file: %w", werr)
			}
			onBytes(int64(n))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
	}
}
