// Package syncerr defines the error taxonomy shared by every sync operation.
// Callers classify failures with errors.Is against the sentinels below.
package syncerr

import (
	"context"
	"errors"
)

var (
	// ErrNetwork covers connect/timeout failures and non-2xx responses that
	// survived the internal retries.
	ErrNetwork = errors.New("network error")

	// ErrManifestParse is returned for malformed or incomplete manifest and
	// resource index documents. It is never retried.
	ErrManifestParse = errors.New("manifest parse error")

	// ErrNoCDNAvailable means no CDN candidate passed both availability flags.
	ErrNoCDNAvailable = errors.New("no CDN node available")

	// ErrIntegrityMismatch means a file hash was still wrong after a redownload.
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	// ErrPatchToolUntrusted means the diff tool binary failed the size, hash
	// or magic-number gate and was deleted.
	ErrPatchToolUntrusted = errors.New("patch tool untrusted")

	// ErrPathTraversal means a manifest or staged path resolved outside its root.
	ErrPathTraversal = errors.New("path traversal")

	// ErrCancelled is a user-requested stop. Work done so far is resumable.
	ErrCancelled = errors.New("cancelled")

	// ErrIncrementalUnsupported means no patch config matches the local version.
	ErrIncrementalUnsupported = errors.New("incremental patch unsupported")

	// ErrInsufficientSpace means the target volume cannot hold the missing bytes.
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// FileError records a per-file failure that is accumulated into a run report
// instead of aborting the batch.
type FileError struct {
	Path string
	Err  error
}

// Error returns the error message
func (e *FileError) Error() string {
	if e.Err == nil {
		return e.Path
	}
	return e.Path + ": " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Err
}

// NewFileError creates a new per-file error
func NewFileError(path string, err error) *FileError {
	return &FileError{Path: path, Err: err}
}

// Cancelled wraps a context error so it matches both ErrCancelled and the
// original context error.
func Cancelled(cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return &cancelledError{cause: cause}
}

type cancelledError struct {
	cause error
}

func (e *cancelledError) Error() string {
	return "cancelled: " + e.cause.Error()
}

func (e *cancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *cancelledError) Unwrap() error {
	return e.cause
}

// IsCancelled reports whether err is a cooperative cancellation, including
// bare context errors that escaped wrapping.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err is a structural failure that must abort the
// whole operation rather than be recorded against a single file.
func IsFatal(err error) bool {
	return errors.Is(err, ErrManifestParse) ||
		errors.Is(err, ErrNoCDNAvailable) ||
		errors.Is(err, ErrPatchToolUntrusted) ||
		errors.Is(err, ErrInsufficientSpace) ||
		IsCancelled(err)
}
