package material

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"clipforge/internal/config"
)

// Pixabay searches the Pixabay video API. Unlike Pexels, renditions rarely
// match the target exactly, so the first rendition at least as wide as the
// target is taken.
type Pixabay struct {
	APIKey     string
	HTTPClient *http.Client
}

// NewPixabay builds the provider with the spec'd search timeouts.
func NewPixabay(apiKey string, timeout time.Duration) *Pixabay {
	return &Pixabay{APIKey: apiKey, HTTPClient: &http.Client{Timeout: timeout}}
}

func (p *Pixabay) Name() string { return "pixabay" }

type pixabayResponse struct {
	Hits []struct {
		Duration float64 `json:"duration"`
		Videos   map[string]struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"videos"`
	} `json:"hits"`
}

// Rendition keys in descending quality order.
var pixabaySizes = []string{"large", "medium", "small", "tiny"}

func (p *Pixabay) Search(ctx context.Context, term string, minDuration int, aspect config.Aspect) ([]Info, error) {
	if p.APIKey == "" {
		return nil, errors.New("pixabay api key not configured")
	}
	targetW, _ := aspect.Resolution()

	q := url.Values{}
	q.Set("key", p.APIKey)
	q.Set("q", term)
	q.Set("per_page", "50")
	q.Set("video_type", "all")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://pixabay.com/api/videos/?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "pixabay search")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("pixabay returned HTTP %d", resp.StatusCode)
	}

	var parsed pixabayResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "parse pixabay response")
	}
	return selectPixabay(parsed, minDuration, targetW), nil
}

func selectPixabay(resp pixabayResponse, minDuration, targetW int) []Info {
	var infos []Info
	for _, hit := range resp.Hits {
		if hit.Duration < float64(minDuration) {
			continue
		}
		for _, size := range pixabaySizes {
			r, ok := hit.Videos[size]
			if !ok || r.URL == "" {
				continue
			}
			if r.Width >= targetW {
				infos = append(infos, Info{Provider: "pixabay", URL: r.URL, Duration: hit.Duration})
				break
			}
		}
	}
	return infos
}
