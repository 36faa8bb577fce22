// Package events fans engine notifications out to logs, channels and Redis.
package events

import (
	"log/slog"
	"sync"

	"github.com/BadgerOps/gamesync/internal/engine"
)

// LogSink writes every notification to a structured logger. Progress goes out
// at debug level so long runs stay quiet at the default level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) OnProgress(p engine.DownloadProgress) {
	s.logger.Debug("progress",
		"phase", p.Phase,
		"file", p.CurrentFile,
		"files", p.FinishedFiles,
		"total_files", p.TotalFiles,
		"bytes", p.FinishedBytes,
		"total_bytes", p.TotalBytes,
		"speed_bps", int64(p.SpeedBps),
		"eta_seconds", int64(p.ETASeconds),
	)
}

func (s *LogSink) OnVerifyResult(v engine.VerifyResult) {
	s.logger.Info("verify result",
		"total", v.TotalFiles,
		"ok", v.VerifiedOK,
		"redownloaded", v.Redownloaded,
		"failed", len(v.Failed),
		"pruned", len(v.Pruned),
	)
}

// Event is the envelope used by channel and Redis sinks.
type Event struct {
	Type     string                   `json:"type"`
	Progress *engine.DownloadProgress `json:"progress,omitempty"`
	Verify   *engine.VerifyResult     `json:"verify,omitempty"`
}

const (
	TypeProgress     = "progress"
	TypeVerifyResult = "verify_result"
)

// ChanSink delivers events to a buffered channel. Events are dropped when the
// reader falls behind.
type ChanSink struct {
	ch chan Event

	mu      sync.Mutex
	dropped int
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChanSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded.
func (s *ChanSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *ChanSink) OnProgress(p engine.DownloadProgress) {
	s.send(Event{Type: TypeProgress, Progress: &p})
}

func (s *ChanSink) OnVerifyResult(v engine.VerifyResult) {
	s.send(Event{Type: TypeVerifyResult, Verify: &v})
}

func (s *ChanSink) send(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Multi forwards every notification to each sink in order. Nil sinks are skipped.
type Multi []engine.Sink

// NewMulti builds a Multi from the non-nil sinks.
func NewMulti(sinks ...engine.Sink) Multi {
	var m Multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m Multi) OnProgress(p engine.DownloadProgress) {
	for _, s := range m {
		s.OnProgress(p)
	}
}

func (m Multi) OnVerifyResult(v engine.VerifyResult) {
	for _, s := range m {
		s.OnVerifyResult(v)
	}
}
