package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"clipforge/internal/config"
)

// Provider produces text from a prompt. The pipeline neither knows nor
// cares which backend serves it.
type Provider interface {
	Name() string
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ChatProvider talks to an OpenAI-compatible chat completion endpoint
// (Groq, OpenAI, DeepSeek and friends all speak this shape).
type ChatProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewChatProvider builds a provider from one configured endpoint.
func NewChatProvider(pc config.LLMProvider, timeout time.Duration) *ChatProvider {
	return &ChatProvider{
		name:       pc.Name,
		baseURL:    strings.TrimSuffix(pc.BaseURL, "/"),
		apiKey:     pc.APIKey,
		model:      pc.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *ChatProvider) Name() string { return p.name }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateText sends one chat completion request and returns the raw text.
func (p *ChatProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", errors.Errorf("provider %s has no api key", p.name)
	}

	reqBody := chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "%s request", p.name)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", errors.Wrapf(err, "parse %s response", p.name)
	}
	if parsed.Error != nil {
		return "", errors.Errorf("%s error: %s", p.name, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.Errorf("%s returned no choices", p.name)
	}
	return parsed.Choices[0].Message.Content, nil
}

// maxAttempts is the per-call retry budget for a single provider.
const maxAttempts = 3

// GenerateWithRetry retries a provider with linear backoff. It returns an
// empty string with the last error when all attempts fail.
func GenerateWithRetry(ctx context.Context, p Provider, prompt string, log *logrus.Logger) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := p.GenerateText(ctx, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if err == nil {
			err = errors.New("empty response")
		}
		lastErr = err
		log.WithField("provider", p.Name()).
			Warnf("generate attempt %d failed: %v", attempt, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return "", lastErr
}

// Race fans a prompt out to every provider and returns the first usable
// answer. Losers are abandoned; their goroutines exit when the shared
// context is cancelled or their request finishes.
func Race(ctx context.Context, providers []Provider, prompt string, timeout time.Duration, log *logrus.Logger) (string, error) {
	if len(providers) == 0 {
		return "", errors.New("no llm providers configured")
	}
	if len(providers) == 1 {
		return GenerateWithRetry(ctx, providers[0], prompt, log)
	}

	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		provider string
		text     string
		err      error
	}
	results := make(chan result, len(providers))
	for _, p := range providers {
		p := p
		go func() {
			text, err := p.GenerateText(raceCtx, prompt)
			results <- result{provider: p.Name(), text: text, err: err}
		}()
	}

	var lastErr error
	for range providers {
		select {
		case <-raceCtx.Done():
			if lastErr == nil {
				lastErr = raceCtx.Err()
			}
			return "", lastErr
		case r := <-results:
			if r.err == nil && strings.TrimSpace(r.text) != "" {
				log.WithField("provider", r.provider).Debug("race winner")
				return r.text, nil
			}
			if r.err != nil {
				lastErr = r.err
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("all providers returned empty text")
	}
	return "", lastErr
}
