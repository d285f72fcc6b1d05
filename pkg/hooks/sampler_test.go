package hooks

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/armorclaw/crashreport/pkg/capture"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func failureAt(msg string, line int) *capture.Exception {
	return capture.New(errors.New(msg), capture.Trace{{Function: "myaddon.Fn", File: "/addons21/myaddon/fn.go", Line: line}})
}

func TestSampler_SuppressesRepeatsInsideWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewSampler(SamplerConfig{Window: time.Minute, PerMinute: 100, Now: clock.Now})

	if !s.Allow(failureAt("boom", 1)) {
		t.Fatal("first occurrence should be allowed")
	}
	if s.Allow(failureAt("boom", 1)) {
		t.Error("repeat inside window should be suppressed")
	}
	if !s.Allow(failureAt("boom", 2)) {
		t.Error("same message elsewhere is a different failure")
	}

	clock.Advance(2 * time.Minute)
	if !s.Allow(failureAt("boom", 1)) {
		t.Error("repeat after window should be allowed")
	}
	if got := s.Count(failureAt("boom", 1)); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

func TestSampler_RateCap(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewSampler(SamplerConfig{Window: time.Hour, PerMinute: 2, Now: clock.Now})

	allowed := 0
	for i := 0; i < 5; i++ {
		if s.Allow(failureAt("distinct", i)) {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed = %d, want 2", allowed)
	}

	clock.Advance(time.Minute)
	if !s.Allow(failureAt("distinct", 99)) {
		t.Error("budget should refill after a minute")
	}
}

func TestSampler_CleanupDropsStaleRecords(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewSampler(SamplerConfig{Window: time.Minute, Now: clock.Now})

	s.Allow(failureAt("old", 1))
	clock.Advance(5 * time.Minute)
	s.Allow(failureAt("new", 1))

	if got := s.Count(failureAt("old", 1)); got != 0 {
		t.Errorf("stale record kept with count %d", got)
	}
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
