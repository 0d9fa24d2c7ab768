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

// Info describes one downloadable stock clip.
type Info struct {
	Provider string
	URL      string
	Duration float64
}

// SearchProvider finds stock clips for one search term.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, term string, minDuration int, aspect config.Aspect) ([]Info, error)
}

// Pexels searches the Pexels video API. A rendition is accepted only when
// its dimensions equal the target resolution exactly.
type Pexels struct {
	APIKey     string
	HTTPClient *http.Client
}

// NewPexels builds the provider with the spec'd search timeouts.
func NewPexels(apiKey string, timeout time.Duration) *Pexels {
	return &Pexels{APIKey: apiKey, HTTPClient: &http.Client{Timeout: timeout}}
}

func (p *Pexels) Name() string { return "pexels" }

type pexelsResponse struct {
	Videos []struct {
		Duration   float64 `json:"duration"`
		VideoFiles []struct {
			Width  int    `json:"width"`
			Height int    `json:"height"`
			Link   string `json:"link"`
		} `json:"video_files"`
	} `json:"videos"`
}

func (p *Pexels) Search(ctx context.Context, term string, minDuration int, aspect config.Aspect) ([]Info, error) {
	if p.APIKey == "" {
		return nil, errors.New("pexels api key not configured")
	}
	targetW, targetH := aspect.Resolution()

	q := url.Values{}
	q.Set("query", term)
	q.Set("per_page", "20")
	q.Set("orientation", orientation(aspect))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.pexels.com/videos/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.APIKey)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "pexels search")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("pexels returned HTTP %d", resp.StatusCode)
	}

	var parsed pexelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "parse pexels response")
	}
	return selectPexels(parsed, minDuration, targetW, targetH), nil
}

func selectPexels(resp pexelsResponse, minDuration, targetW, targetH int) []Info {
	var infos []Info
	for _, v := range resp.Videos {
		if v.Duration < float64(minDuration) {
			continue
		}
		for _, f := range v.VideoFiles {
			if f.Width == targetW && f.Height == targetH {
				infos = append(infos, Info{Provider: "pexels", URL: f.Link, Duration: v.Duration})
				break
			}
		}
	}
	return infos
}

func orientation(aspect config.Aspect) string {
	switch aspect {
	case config.AspectPortrait:
		return "portrait"
	case config.AspectSquare:
		return "square"
	default:
		return "landscape"
	}
}
