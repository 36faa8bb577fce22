package store

import "time"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// OperationRun records one download, update or verify execution
type OperationRun struct {
	ID               int64
	Operation        string // "download", "update_full", "update_patch", "verify"
	InstallDir       string
	SessionTag       string
	FromVersion      string // local version before the run, if known
	ManifestVersion  string // version confirmed by the manifest
	StartTime        time.Time
	EndTime          time.Time
	FilesTotal       int
	FilesDownloaded  int
	FilesSkipped     int
	FilesFailed      int
	BytesTransferred int64
	Status           string // "running", "success", "partial", "failed", "cancelled"
	ErrorMessage     string
}

// FailedFileRecord is a dead letter queue entry for a file that could not be
// brought in line with the manifest
type FailedFileRecord struct {
	ID           int64
	InstallDir   string
	FilePath     string // manifest dest path
	URL          string
	ExpectedMD5  string
	ExpectedSize int64
	Error        string
	RetryCount   int
	RunID        int64
	FirstFailure time.Time
	LastFailure  time.Time
	Resolved     bool
}
