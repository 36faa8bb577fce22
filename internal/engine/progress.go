package engine

import "sync"

// FileEvent records a completed or failed file for the recent activity log.
type FileEvent struct {
	Path   string `json:"path"`
	Status string `json:"status"` // "completed", "skipped", "failed"
	Error  string `json:"error,omitempty"`
	Size   uint64 `json:"size,omitempty"`
}

// Tracker accumulates the progress of the running operation in a thread-safe
// manner. Observers call Wait() to block until the next update.
type Tracker struct {
	mu sync.Mutex

	phase         Phase
	totalFiles    int
	finishedFiles int
	failedFiles   int
	totalBytes    uint64
	finishedBytes uint64
	currentFile   string
	running       bool

	speed *SpeedTracker

	// Rolling log of recent completed/failed files (capped at 20)
	recentEvents []FileEvent

	// Notification channel: close-and-replace pattern.
	// Listeners call Wait() to get the current channel, then block on it.
	// Any update closes the old channel and replaces it with a new one.
	notify chan struct{}
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		speed:  NewSpeedTracker(DefaultSpeedWindow),
		notify: make(chan struct{}),
	}
}

// Start resets the counters for a new operation.
func (t *Tracker) Start(phase Phase, totalFiles int, totalBytes uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.phase = phase
	t.totalFiles = totalFiles
	t.totalBytes = totalBytes
	t.finishedFiles = 0
	t.failedFiles = 0
	t.finishedBytes = 0
	t.currentFile = ""
	t.recentEvents = nil
	t.running = true
	t.speed = NewSpeedTracker(DefaultSpeedWindow)
	t.signal()
}

// SetPhase switches the phase without resetting counters.
func (t *Tracker) SetPhase(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.signal()
}

// Stop marks the operation as finished.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.currentFile = ""
	t.signal()
}

// Running reports whether an operation is in progress.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Begin marks path as the file currently being processed.
func (t *Tracker) Begin(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentFile = path
	t.signal()
}

// AddBytes feeds the speed window. It does not signal; chunk rates are too
// high to wake observers for each one.
func (t *Tracker) AddBytes(n int64) {
	t.mu.Lock()
	speed := t.speed
	t.mu.Unlock()
	speed.Add(n)
}

// FileCompleted counts a file as finished and returns the resulting snapshot.
func (t *Tracker) FileCompleted(path string, size uint64, status string) DownloadProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.finishedFiles++
	t.finishedBytes += size
	t.addRecentEvent(FileEvent{Path: path, Status: status, Size: size})
	t.signal()
	return t.snapshotLocked()
}

// FileFailed counts a file as finished with an error. Its bytes still count
// so finished totals stay comparable with the declared totals.
func (t *Tracker) FileFailed(path string, size uint64, errMsg string) DownloadProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.finishedFiles++
	t.failedFiles++
	t.finishedBytes += size
	t.addRecentEvent(FileEvent{Path: path, Status: "failed", Error: errMsg, Size: size})
	t.signal()
	return t.snapshotLocked()
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() DownloadProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// RecentEvents returns the newest file events first.
func (t *Tracker) RecentEvents() []FileEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := make([]FileEvent, len(t.recentEvents))
	copy(events, t.recentEvents)
	return events
}

func (t *Tracker) snapshotLocked() DownloadProgress {
	bps := t.speed.BytesPerSecond()
	var remaining uint64
	if t.totalBytes > t.finishedBytes {
		remaining = t.totalBytes - t.finishedBytes
	}
	return DownloadProgress{
		Phase:         t.phase,
		TotalBytes:    t.totalBytes,
		FinishedBytes: t.finishedBytes,
		TotalFiles:    t.totalFiles,
		FinishedFiles: t.finishedFiles,
		CurrentFile:   t.currentFile,
		SpeedBps:      bps,
		ETASeconds:    ETA(remaining, bps),
	}
}

// Wait returns a channel that will be closed when the next update occurs.
// Callers should select on this channel alongside a timeout for heartbeats.
func (t *Tracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal closes the current notify channel and replaces it with a new one.
// Must be called with t.mu held.
func (t *Tracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// addRecentEvent prepends an event to the rolling log, capping at 20. Must be called with t.mu held.
func (t *Tracker) addRecentEvent(ev FileEvent) {
	t.recentEvents = append([]FileEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > 20 {
		t.recentEvents = t.recentEvents[:20]
	}
}
