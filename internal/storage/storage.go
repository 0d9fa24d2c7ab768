package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Canonical artifact names inside a task directory.
const (
	ScriptJSON  = "script.json"
	AudioMP3    = "audio.mp3"
	SubtitleSRT = "subtitle.srt"
	ConcatList  = "concat_list.txt"
	TitlePNG    = "title.png"
	FontTTF     = "font.ttf"
)

// Layout maps task ids and cache keys to filesystem paths under one
// configurable root. All temp files live under the owning task directory.
type Layout struct {
	Root string
}

// NewLayout creates the root-level directories.
func NewLayout(root string) (*Layout, error) {
	l := &Layout{Root: root}
	for _, dir := range []string{
		l.tasksRoot(), l.videoCacheDir(), l.musicCacheDir(), l.SongsDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create dir %s", dir)
		}
	}
	return l, nil
}

func (l *Layout) tasksRoot() string     { return filepath.Join(l.Root, "tasks") }
func (l *Layout) videoCacheDir() string { return filepath.Join(l.Root, "cache_videos") }
func (l *Layout) musicCacheDir() string { return filepath.Join(l.Root, "cache_music") }

// SongsDir is the shared background music library.
func (l *Layout) SongsDir() string { return filepath.Join(l.Root, "songs") }

// TaskDir returns (and creates) the exclusive directory of one task.
func (l *Layout) TaskDir(taskID string) (string, error) {
	dir := filepath.Join(l.tasksRoot(), taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create task dir %s", dir)
	}
	return dir, nil
}

// TaskPath joins an artifact name onto the task directory without creating it.
func (l *Layout) TaskPath(taskID, name string) string {
	return filepath.Join(l.tasksRoot(), taskID, name)
}

// CombinedVideo names the k-th composed intermediate, 1-based.
func (l *Layout) CombinedVideo(taskID string, k int) string {
	return l.TaskPath(taskID, fmt.Sprintf("combined-%d.mp4", k))
}

// FinalVideo names the k-th deliverable, 1-based.
func (l *Layout) FinalVideo(taskID string, k int) string {
	return l.TaskPath(taskID, fmt.Sprintf("final-%d.mp4", k))
}

// TempClip names the i-th per-slice encode inside the task directory.
func (l *Layout) TempClip(taskID string, i int) string {
	return l.TaskPath(taskID, fmt.Sprintf("temp-clip-%d.mp4", i))
}

// CachedVideo content-addresses a stock clip by its URL with the query
// string stripped, so signed URLs of the same object share one entry.
func (l *Layout) CachedVideo(url string) string {
	return filepath.Join(l.videoCacheDir(), "vid-"+hashURL(stripQuery(url))+".mp4")
}

// CachedMusic content-addresses a downloaded music file by full URL.
func (l *Layout) CachedMusic(url string) string {
	return filepath.Join(l.musicCacheDir(), "music-"+hashURL(url)+".mp3")
}

func stripQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

func hashURL(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// WriteAtomic streams r into path via a temp name in the same directory
// followed by a rename, so concurrent readers never observe a partial file.
func WriteAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}

// FileNonEmpty reports whether path exists with a size above zero.
func FileNonEmpty(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}
