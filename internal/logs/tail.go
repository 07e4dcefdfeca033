package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const maxLineBytes = 1024 * 1024

// A record is one log entry: a header line plus the indented attribute lines
// the console handler writes under it. JSON records are a single line.
type record []string

func isContinuation(line string) bool {
	return strings.HasPrefix(line, "    ")
}

// Filter selects records. An empty filter matches everything.
type Filter struct {
	// Contains keeps records holding every listed substring, e.g. a file key.
	Contains []string
	// MinLevel drops records below this level (DEBUG, INFO, WARN, ERROR).
	MinLevel string
}

func (f Filter) match(rec record) bool {
	if len(rec) == 0 {
		return false
	}
	text := strings.Join(rec, "\n")
	for _, s := range f.Contains {
		if s != "" && !strings.Contains(text, s) {
			return false
		}
	}
	if f.MinLevel == "" {
		return true
	}
	return levelRank(headerLevel(rec[0])) >= levelRank(f.MinLevel)
}

var levels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

func levelRank(level string) int {
	level = strings.ToUpper(strings.TrimSpace(level))
	for i, l := range levels {
		if l == level {
			return i
		}
	}
	return 1
}

// headerLevel finds the level label of a console header or the "level" key
// of a JSON line. Unknown lines count as INFO.
func headerLevel(line string) string {
	upper := strings.ToUpper(line)
	for _, l := range levels {
		if strings.Contains(upper, " "+l+" ") || strings.Contains(upper, `"LEVEL":"`+l+`"`) {
			return l
		}
	}
	return "INFO"
}

// collector groups lines into records and hands matching ones to emit.
type collector struct {
	filter  Filter
	emit    func(string)
	pending record
}

func (c *collector) add(line string) {
	if isContinuation(line) && len(c.pending) > 0 {
		c.pending = append(c.pending, line)
		return
	}
	c.flush()
	c.pending = record{line}
}

func (c *collector) flush() {
	if c.filter.match(c.pending) {
		for _, line := range c.pending {
			c.emit(line)
		}
	}
	c.pending = nil
}

// Last returns the lines of up to limit trailing records of path that pass
// filter, and the offset of the end of the file. A missing file yields no
// lines and offset 0.
func Last(path string, limit int, filter Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		return nil, info.Size(), nil
	}

	ring := make([]record, limit)
	count, idx := 0, 0
	var current record
	c := &collector{filter: filter}
	c.emit = func(line string) { current = append(current, line) }
	keep := func() {
		if len(current) == 0 {
			return
		}
		ring[idx] = current
		idx = (idx + 1) % limit
		count = min(count+1, limit)
		current = nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if !isContinuation(line) {
			c.flush()
			keep()
		}
		c.add(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	c.flush()
	keep()

	var lines []string
	start := 0
	if count == limit {
		start = idx
	}
	for i := range count {
		lines = append(lines, ring[(start+i)%limit]...)
	}
	return lines, info.Size(), nil
}

// Follow calls emit for every line of each matching record appended to path
// after offset, until ctx is done. poll is a fallback wakeup for filesystems
// that do not deliver events; zero selects one second.
func Follow(ctx context.Context, path string, offset int64, filter Filter, poll time.Duration, emit func(string)) error {
	if poll <= 0 {
		poll = time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()
	// The directory is watched so replacement and late creation are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log directory: %w", err)
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	c := &collector{filter: filter, emit: emit}
	var partial string
	for {
		offset, partial, err = readFrom(path, offset, partial, c)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Create) {
				offset, partial = 0, ""
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", err)
		case <-ticker.C:
		}
	}
}

// readFrom feeds complete lines after offset to c and returns the new offset
// plus any trailing partial line. The handler writes each record in a single
// write, so reaching the end of the file without a partial line completes the
// pending record.
func readFrom(path string, offset int64, partial string, c *collector) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, "", nil
		}
		return offset, partial, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, partial, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset, partial = 0, ""
	}
	if info.Size() == offset {
		return offset, partial, nil
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, partial, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		chunk, err := reader.ReadString('\n')
		offset += int64(len(chunk))
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return offset, partial, fmt.Errorf("read log file: %w", err)
			}
			partial += chunk
			if partial == "" {
				c.flush()
			}
			return offset, partial, nil
		}
		c.add(strings.TrimRight(partial+chunk, "\r\n"))
		partial = ""
	}
}
