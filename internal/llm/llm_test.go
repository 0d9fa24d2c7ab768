package llm

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type stubProvider struct {
	name    string
	replies []string // consumed in order; "" means error
	calls   int
	delay   time.Duration
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	i := s.calls
	s.calls++
	if i >= len(s.replies) || s.replies[i] == "" {
		return "", errors.New("stub failure")
	}
	return s.replies[i], nil
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestGenerateWithRetryEventuallySucceeds(t *testing.T) {
	p := &stubProvider{name: "stub", replies: []string{"", "", "a script"}}
	text, err := GenerateWithRetry(context.Background(), p, "prompt", quietLog())
	if err != nil {
		t.Fatal(err)
	}
	if text != "a script" {
		t.Errorf("text = %q", text)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
}

func TestGenerateWithRetryGivesUp(t *testing.T) {
	p := &stubProvider{name: "stub"}
	if _, err := GenerateWithRetry(context.Background(), p, "prompt", quietLog()); err == nil {
		t.Error("expected error after exhausted retries")
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
}

func TestRaceReturnsFirstUsableAnswer(t *testing.T) {
	fast := &stubProvider{name: "fast", replies: []string{"fast answer"}}
	slow := &stubProvider{name: "slow", replies: []string{"slow answer"}, delay: 2 * time.Second}

	start := time.Now()
	text, err := Race(context.Background(), []Provider{slow, fast}, "prompt", 10*time.Second, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	if text != "fast answer" {
		t.Errorf("text = %q", text)
	}
	if time.Since(start) > time.Second {
		t.Error("race waited for the slow provider")
	}
}

func TestRaceSkipsFailuresAndEmpties(t *testing.T) {
	failing := &stubProvider{name: "failing"}
	empty := &stubProvider{name: "empty", replies: []string{"   "}}
	good := &stubProvider{name: "good", replies: []string{"usable"}, delay: 50 * time.Millisecond}

	text, err := Race(context.Background(), []Provider{failing, empty, good}, "prompt", 5*time.Second, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	if text != "usable" {
		t.Errorf("text = %q", text)
	}
}

func TestRaceAllFail(t *testing.T) {
	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b"}
	if _, err := Race(context.Background(), []Provider{a, b}, "prompt", time.Second, quietLog()); err == nil {
		t.Error("expected error when every provider fails")
	}
}

func TestRaceNoProviders(t *testing.T) {
	if _, err := Race(context.Background(), nil, "prompt", time.Second, quietLog()); err == nil {
		t.Error("expected error with no providers")
	}
}
