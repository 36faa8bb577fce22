package engine

import (
	"sync"
	"time"
)

// DefaultSpeedWindow is the span of samples averaged by SpeedTracker.
const DefaultSpeedWindow = 5 * time.Second

type speedSample struct {
	at    time.Time
	bytes int64
}

// SpeedTracker averages throughput over a sliding window of byte samples.
type SpeedTracker struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	started time.Time
	samples []speedSample
}

// NewSpeedTracker creates a tracker; window <= 0 uses DefaultSpeedWindow.
func NewSpeedTracker(window time.Duration) *SpeedTracker {
	if window <= 0 {
		window = DefaultSpeedWindow
	}
	return &SpeedTracker{window: window, now: time.Now}
}

// Add records n bytes received now.
func (s *SpeedTracker) Add(n int64) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.started.IsZero() {
		s.started = now
	}
	s.samples = append(s.samples, speedSample{at: now, bytes: n})
	s.prune(now)
}

// BytesPerSecond returns the average over the window, or over the time since
// the first sample when that is shorter.
func (s *SpeedTracker) BytesPerSecond() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)
	if len(s.samples) == 0 {
		return 0
	}

	from := now.Add(-s.window)
	if s.started.After(from) {
		from = s.started
	}
	span := now.Sub(from)
	if span <= 0 {
		return 0
	}

	var total int64
	for _, sample := range s.samples {
		total += sample.bytes
	}
	return float64(total) / span.Seconds()
}

// prune drops samples older than the window. Must be called with s.mu held.
func (s *SpeedTracker) prune(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.samples = append(s.samples[:0], s.samples[i:]...)
	}
}

// ETA returns the seconds needed to transfer remaining bytes at bps, or 0
// when the speed is unknown.
func ETA(remaining uint64, bps float64) float64 {
	if bps <= 0 || remaining == 0 {
		return 0
	}
	return float64(remaining) / bps
}
