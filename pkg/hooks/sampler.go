package hooks

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/armorclaw/crashreport/pkg/capture"
)

// SamplerConfig configures report sampling
type SamplerConfig struct {
	// Window suppresses repeats of the same failure (default 5m)
	Window time.Duration

	// PerMinute caps reports across all failures (default 10)
	PerMinute int

	// Now is the clock (default time.Now)
	Now func() time.Time
}

// Sampler decides which captures are worth a report: repeats of the same
// failure inside the window are counted but not reported, and reports are
// capped per minute.
type Sampler struct {
	mu          sync.Mutex
	seen        map[string]*captureRecord
	window      time.Duration
	limiter     *rate.Limiter
	now         func() time.Time
	lastCleanup time.Time
}

type captureRecord struct {
	FirstSeen    time.Time
	LastSeen     time.Time
	LastReported time.Time
	Count        int
}

// NewSampler creates a sampler
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Sampler{
		seen:        make(map[string]*captureRecord),
		window:      cfg.Window,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), cfg.PerMinute),
		now:         cfg.Now,
		lastCleanup: cfg.Now(),
	}
}

// Allow records the capture and reports whether it should be reported
func (s *Sampler) Allow(exc *capture.Exception) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.maybeCleanup(now)

	key := exc.Fingerprint()
	record, exists := s.seen[key]
	if !exists {
		record = &captureRecord{FirstSeen: now}
		s.seen[key] = record
	}
	record.Count++
	record.LastSeen = now

	if exists && !record.LastReported.IsZero() && now.Sub(record.LastReported) < s.window {
		return false
	}
	if !s.limiter.AllowN(now, 1) {
		return false
	}

	record.LastReported = now
	return true
}

// Count returns how many times the failure behind exc was seen
func (s *Sampler) Count(exc *capture.Exception) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.seen[exc.Fingerprint()]; ok {
		return record.Count
	}
	return 0
}

// maybeCleanup drops records not seen for two windows. Caller holds mu.
func (s *Sampler) maybeCleanup(now time.Time) {
	if now.Sub(s.lastCleanup) < s.window {
		return
	}
	s.lastCleanup = now

	cutoff := now.Add(-2 * s.window)
	for key, record := range s.seen {
		if record.LastSeen.Before(cutoff) {
			delete(s.seen, key)
		}
	}
}
