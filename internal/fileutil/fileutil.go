// Package fileutil manages the sibling temp files written while a video is
// rewritten in place, and the set of folders whose leftovers get swept.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const tempMarker = "_tmp_"

// CreateTemp creates the sibling temp file used while rewriting path:
// "{stem}_tmp_{random}{ext}" in the same directory, so the final rename stays
// on one filesystem.
func CreateTemp(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	file, err := os.CreateTemp(dir, stem+tempMarker+"*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return file, nil
}

// IsTempFile reports whether path looks like a rewrite temp file for one of
// the given extensions. With no extensions every extension qualifies.
func IsTempFile(path string, extensions ...string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if len(extensions) > 0 && !hasExtension(ext, extensions) {
		return false
	}
	stem := strings.TrimSuffix(base, ext)
	idx := strings.LastIndex(stem, tempMarker)
	return idx > 0 && idx+len(tempMarker) < len(stem)
}

func hasExtension(ext string, extensions []string) bool {
	for _, candidate := range extensions {
		if strings.EqualFold(ext, candidate) {
			return true
		}
	}
	return false
}

// CleanupTempFiles removes rewrite temp files directly inside dir and returns
// how many were removed. Subdirectories are not descended.
func CleanupTempFiles(dir string, extensions ...string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !IsTempFile(entry.Name(), extensions...) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// FolderSet remembers every folder touched during a session.
type FolderSet struct {
	mu      sync.Mutex
	folders map[string]struct{}
}

// NewFolderSet returns an empty set.
func NewFolderSet() *FolderSet {
	return &FolderSet{folders: make(map[string]struct{})}
}

// Track records dir and reports whether it was new.
func (s *FolderSet) Track(dir string) bool {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[dir]; ok {
		return false
	}
	s.folders[dir] = struct{}{}
	return true
}

// Folders returns the tracked folders sorted.
func (s *FolderSet) Folders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.folders))
	for dir := range s.folders {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}
