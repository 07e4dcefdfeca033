package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsTempFile(t *testing.T) {
	cases := []struct {
		path string
		exts []string
		want bool
	}{
		{"/v/movie_tmp_123.mp4", nil, true},
		{"/v/movie_tmp_123.mp4", []string{".mp4"}, true},
		{"/v/movie_tmp_123.MP4", []string{".mp4"}, true},
		{"/v/movie_tmp_123.mov", []string{".mp4"}, false},
		{"/v/movie.mp4", nil, false},
		{"/v/_tmp_123.mp4", nil, false},
		{"/v/movie_tmp_.mp4", nil, false},
		{"/v/a_tmp_b_tmp_c.mp4", nil, true},
	}
	for _, tc := range cases {
		if got := IsTempFile(tc.path, tc.exts...); got != tc.want {
			t.Fatalf("IsTempFile(%q, %v) = %v, want %v", tc.path, tc.exts, got, tc.want)
		}
	}
}

func TestCreateTempIsRecognized(t *testing.T) {
	dir := t.TempDir()
	file, err := CreateTemp(filepath.Join(dir, "clip.mp4"))
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer file.Close()
	if filepath.Dir(file.Name()) != dir {
		t.Fatalf("temp file must be a sibling, got %s", file.Name())
	}
	if !strings.HasPrefix(filepath.Base(file.Name()), "clip_tmp_") || !IsTempFile(file.Name(), ".mp4") {
		t.Fatalf("unexpected temp name %s", file.Name())
	}
}

func TestCleanupTempFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a_tmp_1.mp4", "b_tmp_2.mp4", "keep.mp4", "notes_tmp_1.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub_tmp_1.mp4"), 0o755); err != nil {
		t.Fatal(err)
	}

	removed, err := CleanupTempFiles(dir, ".mp4")
	if err != nil {
		t.Fatalf("CleanupTempFiles: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	for _, name := range []string{"keep.mp4", "notes_tmp_1.txt", "sub_tmp_1.mp4"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s should remain: %v", name, err)
		}
	}
}

func TestFolderSet(t *testing.T) {
	set := NewFolderSet()
	dir := t.TempDir()
	if !set.Track(dir) {
		t.Fatal("first track should report new")
	}
	if set.Track(filepath.Join(dir, ".")) {
		t.Fatal("cleaned duplicate should not be new")
	}
	set.Track(filepath.Join(dir, "b"))
	folders := set.Folders()
	if len(folders) != 2 || folders[0] != dir {
		t.Fatalf("unexpected folders %v", folders)
	}
}
