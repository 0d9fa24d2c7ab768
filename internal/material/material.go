package material

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"clipforge/internal/config"
	"clipforge/internal/media"
	"clipforge/internal/storage"
)

// Translator converts search terms to English when a term finds nothing.
type Translator interface {
	TranslateTerms(ctx context.Context, terms []string) []string
}

// Request carries one acquisition run.
type Request struct {
	TaskID          string
	Terms           []string
	Source          config.VideoSource
	Aspect          config.Aspect
	ConcatMode      config.ConcatMode
	AudioDuration   float64
	MaxClipDuration int
}

// Acquirer searches stock sources and downloads validated clips into the
// shared cache. Cached files are shared by path across tasks.
type Acquirer struct {
	Provider   SearchProvider
	Translator Translator
	Layout     *storage.Layout
	LocalDir   string
	HTTPClient *http.Client
	MaxWorkers int
	Log        *logrus.Logger

	// validate is swapped in tests; it defaults to an ffprobe check.
	validate func(path string) error
}

// NewAcquirer wires an acquirer for one stock source.
func NewAcquirer(provider SearchProvider, translator Translator, layout *storage.Layout, cfg config.MaterialConfig, log *logrus.Logger) *Acquirer {
	return &Acquirer{
		Provider:   provider,
		Translator: translator,
		Layout:     layout,
		LocalDir:   cfg.LocalDir,
		HTTPClient: &http.Client{Timeout: cfg.DownloadTimeout},
		MaxWorkers: cfg.MaxWorkers,
		Log:        log,
		validate:   validateClip,
	}
}

// Acquire returns local paths of validated clips whose capped durations
// cover the narration. An empty result means the stage failed.
func (a *Acquirer) Acquire(ctx context.Context, req Request) ([]string, error) {
	if req.Source == config.SourceLocal {
		return a.acquireLocal(req)
	}

	candidates := a.search(ctx, req)
	if len(candidates) == 0 {
		return nil, errors.New("no stock candidates found")
	}

	// Rough count of clips needed to cover the narration at ~3s each.
	needed := int(req.AudioDuration/3) + 3
	if req.ConcatMode == config.ConcatRandom {
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	}
	if needed > len(candidates) {
		needed = len(candidates)
	}

	capDur := float64(req.MaxClipDuration)
	var paths []string
	var total float64

	// First batch in parallel, bounded by the worker pool.
	batch := a.downloadBatch(ctx, candidates[:needed])
	for i, p := range batch {
		if p == "" {
			continue
		}
		paths = append(paths, p)
		total += minFloat(candidates[i].Duration, capDur)
		if total > req.AudioDuration {
			break
		}
	}

	// Top up sequentially until the narration is covered or candidates
	// run out.
	for i := needed; i < len(candidates) && total <= req.AudioDuration; i++ {
		p, err := a.download(ctx, candidates[i])
		if err != nil {
			a.Log.Warnf("[material] download failed, dropping candidate: %v", err)
			continue
		}
		paths = append(paths, p)
		total += minFloat(candidates[i].Duration, capDur)
	}

	if len(paths) == 0 {
		return nil, errors.New("no materials passed validation")
	}
	a.Log.Infof("[material] acquired %d clips covering %.1fs of %.1fs narration",
		len(paths), total, req.AudioDuration)
	return paths, nil
}

// search runs one query per term, translating and retrying once when a
// term yields nothing. URLs already seen are skipped; discovery order is
// preserved.
func (a *Acquirer) search(ctx context.Context, req Request) []Info {
	var candidates []Info
	seen := make(map[string]bool)

	add := func(infos []Info) {
		for _, info := range infos {
			key := stripQuery(info.URL)
			if seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, info)
		}
	}

	for _, term := range req.Terms {
		infos, err := a.Provider.Search(ctx, term, req.MaxClipDuration, req.Aspect)
		if err != nil {
			a.Log.Warnf("[material] search %q failed: %v", term, err)
			continue
		}
		if len(infos) == 0 && a.Translator != nil {
			translated := a.Translator.TranslateTerms(ctx, []string{term})
			if len(translated) == 1 && !strings.EqualFold(translated[0], term) {
				a.Log.Infof("[material] retrying %q as %q", term, translated[0])
				infos, _ = a.Provider.Search(ctx, translated[0], req.MaxClipDuration, req.Aspect)
			}
		}
		add(infos)
	}
	return candidates
}

// downloadBatch fetches candidates in parallel and returns a slice aligned
// with the input; failed downloads leave an empty slot.
func (a *Acquirer) downloadBatch(ctx context.Context, candidates []Info) []string {
	results := make([]string, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.MaxWorkers)
	for i, info := range candidates {
		i, info := i, info
		g.Go(func() error {
			p, err := a.download(gctx, info)
			if err != nil {
				a.Log.Warnf("[material] download failed, dropping candidate: %v", err)
				return nil
			}
			results[i] = p
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// download fetches one clip through the URL cache and validates it.
func (a *Acquirer) download(ctx context.Context, info Info) (string, error) {
	dest := a.Layout.CachedVideo(info.URL)
	if storage.FileNonEmpty(dest) {
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetch %s", info.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("fetch %s: HTTP %d", info.URL, resp.StatusCode)
	}
	if err := storage.WriteAtomic(dest, resp.Body); err != nil {
		return "", err
	}

	if err := a.validate(dest); err != nil {
		os.Remove(dest)
		return "", errors.Wrapf(err, "invalid clip from %s", info.Provider)
	}
	return dest, nil
}

// acquireLocal serves clips from a user-managed directory, still probing
// each file so corrupt clips never reach the composer.
func (a *Acquirer) acquireLocal(req Request) ([]string, error) {
	if a.LocalDir == "" {
		return nil, errors.New("local material dir not configured")
	}
	pattern := filepath.Join(a.LocalDir, "*.mp4")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, f := range files {
		if err := a.validate(f); err != nil {
			a.Log.Warnf("[material] skipping local clip %s: %v", f, err)
			continue
		}
		paths = append(paths, f)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no usable materials in %s", a.LocalDir)
	}
	return paths, nil
}

func validateClip(path string) error {
	md, err := media.Probe(path)
	if err != nil {
		return err
	}
	if md.Duration <= 0 || md.FPS <= 0 {
		return errors.Errorf("duration %.2f fps %.2f", md.Duration, md.FPS)
	}
	return nil
}

func stripQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
