package engine

import (
	"time"

	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// Phase names the kind of work a progress snapshot belongs to.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseUpdate   Phase = "update"
	PhaseVerify   Phase = "verify"
	PhasePatch    Phase = "patch"
)

// Operation names as recorded in the run history.
const (
	OpDownload    = "download"
	OpUpdateFull  = "update_full"
	OpUpdatePatch = "update_patch"
	OpVerify      = "verify"
)

// Target identifies one game installation and its manifest.
type Target struct {
	ManifestURL string
	InstallDir  string

	// Tracker, when set, receives the live progress of the run. Runs without
	// one get a private tracker.
	Tracker *Tracker
}

// DownloadProgress is emitted after each file completes. Counters are monotonic
// within a run.
type DownloadProgress struct {
	Phase         Phase   `json:"phase"`
	TotalBytes    uint64  `json:"total_bytes"`
	FinishedBytes uint64  `json:"finished_bytes"`
	TotalFiles    int     `json:"total_files"`
	FinishedFiles int     `json:"finished_files"`
	CurrentFile   string  `json:"current_file"`
	SpeedBps      float64 `json:"speed_bps"`
	ETASeconds    float64 `json:"eta_seconds"`
}

// VerifyResult is the terminal summary of an integrity verification.
// VerifiedOK counts every file that ended correct, including redownloaded ones.
type VerifyResult struct {
	TotalFiles   int      `json:"total_files"`
	VerifiedOK   int      `json:"verified_ok"`
	Redownloaded int      `json:"redownloaded"`
	Failed       []string `json:"failed"`
	Pruned       []string `json:"pruned,omitempty"`
}

// Sink receives fire-and-forget notifications. Implementations must not block.
type Sink interface {
	OnProgress(DownloadProgress)
	OnVerifyResult(VerifyResult)
}

// Report summarizes one operation.
type Report struct {
	Operation     string
	SessionTag    string
	FromVersion   string
	Version       string // manifest version confirmed by this run
	Phase         Phase
	TotalFiles    int
	FinishedFiles int
	Downloaded    int // files fetched, including redownloads
	Skipped       int // files already correct
	BytesReceived int64
	Failed        []*syncerr.FileError
	Verify        *VerifyResult
	StartTime     time.Time
	Duration      time.Duration
}

// OK reports whether every file was brought in line with the manifest.
func (r *Report) OK() bool {
	return r != nil && len(r.Failed) == 0
}

// FailedPaths lists the manifest paths of failed files.
func (r *Report) FailedPaths() []string {
	paths := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		paths = append(paths, f.Path)
	}
	return paths
}
