package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"
)

// newJSONHandler writes one object per line with the keys ts, level, msg and
// the record attributes. Levels use the console labels so `faststart logs
// --level` filters both formats alike.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := attr.Value.Any().(slog.Level); ok {
					attr.Value = slog.StringValue(levelLabel(level))
				}
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok {
					attr.Value = slog.StringValue(sourceLocation(src))
				}
			}
			return attr
		},
	}
	return slog.NewJSONHandler(w, &opts)
}

// sourceLocation renders "file.go:42", or "" without a source.
func sourceLocation(src *slog.Source) string {
	if src == nil || src.File == "" {
		return ""
	}
	return filepath.Base(src.File) + ":" + strconv.Itoa(src.Line)
}
