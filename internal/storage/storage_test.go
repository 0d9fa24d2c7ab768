package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCachedVideoIgnoresQueryString(t *testing.T) {
	l := &Layout{Root: "store"}
	a := l.CachedVideo("https://cdn.example.com/clip.mp4?token=abc")
	b := l.CachedVideo("https://cdn.example.com/clip.mp4?token=xyz")
	c := l.CachedVideo("https://cdn.example.com/other.mp4")

	if a != b {
		t.Errorf("signed URLs of the same object got different cache paths:\n%s\n%s", a, b)
	}
	if a == c {
		t.Error("different objects share a cache path")
	}
	base := filepath.Base(a)
	if !strings.HasPrefix(base, "vid-") || !strings.HasSuffix(base, ".mp4") {
		t.Errorf("unexpected cache name %q", base)
	}
}

func TestLayoutPaths(t *testing.T) {
	l := &Layout{Root: "store"}
	if got := l.CombinedVideo("abc", 2); filepath.Base(got) != "combined-2.mp4" {
		t.Errorf("combined name = %q", filepath.Base(got))
	}
	if got := l.FinalVideo("abc", 1); filepath.Base(got) != "final-1.mp4" {
		t.Errorf("final name = %q", filepath.Base(got))
	}
	if got := l.TempClip("abc", 0); filepath.Base(got) != "temp-clip-0.mp4" {
		t.Errorf("temp clip name = %q", filepath.Base(got))
	}
	if got := l.TaskPath("abc", ScriptJSON); !strings.Contains(got, filepath.Join("tasks", "abc")) {
		t.Errorf("task path %q not under the task dir", got)
	}
}

func TestNewLayoutCreatesDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	l, err := NewLayout(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{"tasks", "cache_videos", "cache_music", "songs"} {
		if fi, err := os.Stat(filepath.Join(root, dir)); err != nil || !fi.IsDir() {
			t.Errorf("missing directory %s", dir)
		}
	}
	if _, err := l.TaskDir("task-1"); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(filepath.Join(root, "tasks", "task-1")); err != nil || !fi.IsDir() {
		t.Error("task dir not created")
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	if err := WriteAtomic(path, strings.NewReader("payload")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("content = %q", data)
	}

	// No temp files may survive.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want 1", len(entries))
	}

	// Overwrite replaces the content whole.
	if err := WriteAtomic(path, strings.NewReader("second")); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "second" {
		t.Errorf("overwrite content = %q", data)
	}
}

func TestFileNonEmpty(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	empty := filepath.Join(dir, "empty")
	full := filepath.Join(dir, "full")
	os.WriteFile(empty, nil, 0o644)
	os.WriteFile(full, []byte("x"), 0o644)

	if FileNonEmpty(missing) {
		t.Error("missing file reported non-empty")
	}
	if FileNonEmpty(empty) {
		t.Error("empty file reported non-empty")
	}
	if !FileNonEmpty(full) {
		t.Error("non-empty file reported empty")
	}
}
