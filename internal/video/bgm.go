package video

import (
	"context"
	"math/rand"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"clipforge/internal/config"
	"clipforge/internal/storage"
)

// SelectBGM resolves the background music file for one render. An empty
// return with no error means no BGM. A custom file given as a URL is
// downloaded through the music cache.
func SelectBGM(ctx context.Context, bgmType config.BgmType, bgmFile string, layout *storage.Layout) (string, error) {
	switch bgmType {
	case config.BgmNone, "":
		return "", nil
	case config.BgmCustom:
		if strings.HasPrefix(bgmFile, "http://") || strings.HasPrefix(bgmFile, "https://") {
			return fetchBGM(ctx, bgmFile, layout)
		}
		if !storage.FileNonEmpty(bgmFile) {
			return "", errors.Errorf("custom bgm file %s missing or empty", bgmFile)
		}
		return bgmFile, nil
	case config.BgmRandom:
		files, err := filepath.Glob(filepath.Join(layout.SongsDir(), "*.mp3"))
		if err != nil {
			return "", err
		}
		if len(files) == 0 {
			return "", errors.Errorf("no bgm files in %s", layout.SongsDir())
		}
		return files[rand.Intn(len(files))], nil
	}
	return "", errors.Errorf("unsupported bgm_type %q", bgmType)
}

func fetchBGM(ctx context.Context, url string, layout *storage.Layout) (string, error) {
	dest := layout.CachedMusic(url)
	if storage.FileNonEmpty(dest) {
		return dest, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetch bgm %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("fetch bgm %s: HTTP %d", url, resp.StatusCode)
	}
	if err := storage.WriteAtomic(dest, resp.Body); err != nil {
		return "", err
	}
	return dest, nil
}
