// Package engine drives full downloads, reconciliation updates, incremental
// patches and integrity verification of a game installation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/gamesync/internal/checksum"
	"github.com/BadgerOps/gamesync/internal/download"
	"github.com/BadgerOps/gamesync/internal/manifest"
	"github.com/BadgerOps/gamesync/internal/metrics"
	"github.com/BadgerOps/gamesync/internal/staging"
	"github.com/BadgerOps/gamesync/internal/store"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// ManifestSource fetches launcher documents.
type ManifestSource interface {
	FetchManifest(ctx context.Context, manifestURL string) (*manifest.Manifest, error)
	FetchResourceIndex(ctx context.Context, cdnURL, indexPath string) (*manifest.ResourceIndex, error)
}

// Fetcher downloads one file with resume support.
type Fetcher interface {
	DownloadWithResume(ctx context.Context, req download.Request) (*download.Result, error)
}

// Merger moves a staged tree into the install directory.
type Merger interface {
	Merge(ctx context.Context, stagingRoot, targetRoot, tag string) (*staging.Result, error)
}

// PatchApplier runs the diff tool.
type PatchApplier interface {
	Apply(ctx context.Context, oldDir, diffFile, outDir string) error
}

// PatchToolFunc returns a vetted patch tool, fetching it if needed.
type PatchToolFunc func(ctx context.Context) (PatchApplier, error)

// RunStore records operation history. *store.Store satisfies it.
type RunStore interface {
	CreateRun(run *store.OperationRun) error
	UpdateRun(run *store.OperationRun) error
	AddFailedFile(rec *store.FailedFileRecord) error
	ResolveFailedPath(installDir, filePath string) (bool, error)
}

// Options wires a Syncer. Manifests and Fetcher are required.
type Options struct {
	Manifests ManifestSource
	Fetcher   Fetcher
	Merger    Merger
	PatchTool PatchToolFunc
	Store     RunStore
	Sink      Sink
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// ResourcePackDirs are install-relative directories pruned by Verify.
	ResourcePackDirs []string
	// DeltaExtensions mark patch assets consumed by the diff tool.
	DeltaExtensions []string

	// MinFreeSpaceMargin is extra headroom required by the download preflight.
	MinFreeSpaceMargin int64
	// FreeSpace reports available bytes on the volume holding path.
	FreeSpace func(path string) (uint64, error)

	// NewSessionTag scopes staging and rollback directories.
	NewSessionTag func() string
}

// Syncer runs operations against install directories. Operations on distinct
// directories may run concurrently; each run keeps its own progress tracker.
// Callers must not run two operations against the same directory at once.
type Syncer struct {
	opts   Options
	logger *slog.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(opts Options) *Syncer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FreeSpace == nil {
		opts.FreeSpace = diskFree
	}
	if opts.NewSessionTag == nil {
		opts.NewSessionTag = func() string { return uuid.NewString()[:8] }
	}
	if len(opts.DeltaExtensions) == 0 {
		opts.DeltaExtensions = []string{".krdiff", ".hdiff"}
	}
	return &Syncer{
		opts:   opts,
		logger: opts.Logger,
	}
}

// resolve fetches the manifest and picks the CDN.
func (s *Syncer) resolve(ctx context.Context, target Target) (*manifest.Manifest, manifest.CDNNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, manifest.CDNNode{}, syncerr.Cancelled(err)
	}
	m, err := s.opts.Manifests.FetchManifest(ctx, target.ManifestURL)
	if err != nil {
		return nil, manifest.CDNNode{}, err
	}
	cdn, err := manifest.SelectCDN(m.CDNs)
	if err != nil {
		return nil, manifest.CDNNode{}, err
	}
	s.logger.Info("resolved manifest", "version", m.Version, "cdn", cdn.URL, "priority", int64(cdn.Priority))
	return m, cdn, nil
}

// run carries the bookkeeping shared by every operation.
type run struct {
	s       *Syncer
	target  Target
	report  *Report
	record  *store.OperationRun
	logger  *slog.Logger
	tracker *Tracker
}

func (s *Syncer) begin(op string, phase Phase, target Target, fromVersion string) *run {
	tag := s.opts.NewSessionTag()
	tracker := target.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	r := &run{
		s:       s,
		target:  target,
		tracker: tracker,
		report: &Report{
			Operation:   op,
			SessionTag:  tag,
			FromVersion: fromVersion,
			Phase:       phase,
			StartTime:   time.Now(),
		},
		logger: s.logger.With("operation", op, "session", tag),
	}
	r.tracker.Start(phase, 0, 0)

	if s.opts.Store != nil {
		rec := &store.OperationRun{
			Operation:   op,
			InstallDir:  target.InstallDir,
			SessionTag:  tag,
			FromVersion: fromVersion,
			StartTime:   r.report.StartTime,
			Status:      store.StatusRunning,
		}
		if err := s.opts.Store.CreateRun(rec); err != nil {
			r.logger.Warn("failed to record run start", "error", err)
		} else {
			r.record = rec
		}
	}
	r.logger.Info("starting operation", "install_dir", target.InstallDir, "from_version", fromVersion)
	return r
}

// plan sets the totals once the resource index is known.
func (r *run) plan(version string, idx *manifest.ResourceIndex) {
	r.report.Version = version
	r.report.TotalFiles = idx.Len()
	r.tracker.Start(r.report.Phase, idx.Len(), idx.TotalSize())
}

// relabel switches a running operation to another kind, e.g. an automatic
// update that found a usable patch.
func (r *run) relabel(op string, phase Phase) {
	r.report.Operation = op
	r.report.Phase = phase
	r.tracker.SetPhase(phase)
}

// onChunk feeds the speed window and byte counters.
func (r *run) onChunk(n int64) {
	r.report.BytesReceived += n
	r.tracker.AddBytes(n)
	r.s.opts.Metrics.AddBytes(n)
}

// request builds a fetch for dest. A file the fetcher will keep is announced
// through OnChunk without touching the network, so such requests carry no
// byte callback.
func (r *run) request(url, dest string, overwrite bool) download.Request {
	req := download.Request{URL: url, DestPath: dest, Overwrite: overwrite, OnChunk: r.onChunk}
	if !overwrite {
		if fi, err := os.Stat(dest); err == nil && fi.Mode().IsRegular() {
			req.OnChunk = nil
		}
	}
	return req
}

// done records a finished file and emits a progress event.
func (r *run) done(entry manifest.ResourceEntry, result string) {
	r.report.FinishedFiles++
	switch result {
	case metrics.ResultDownloaded:
		r.report.Downloaded++
	case metrics.ResultSkipped, metrics.ResultVerified:
		r.report.Skipped++
	}
	status := "completed"
	if result == metrics.ResultSkipped || result == metrics.ResultVerified {
		status = "skipped"
	}
	progress := r.tracker.FileCompleted(entry.Dest, entry.Size, status)
	r.s.opts.Metrics.FileDone(r.report.Operation, result)
	r.s.opts.Metrics.SetSpeed(progress.SpeedBps)
	r.emit(progress)

	if r.s.opts.Store != nil && result == metrics.ResultDownloaded {
		if _, err := r.s.opts.Store.ResolveFailedPath(r.target.InstallDir, entry.Dest); err != nil {
			r.logger.Warn("failed to resolve dead letter entry", "path", entry.Dest, "error", err)
		}
	}
}

// fail records a per-file failure without aborting the run.
func (r *run) fail(entry manifest.ResourceEntry, url string, err error) {
	fe := syncerr.NewFileError(entry.Dest, err)
	r.report.Failed = append(r.report.Failed, fe)
	r.report.FinishedFiles++
	r.logger.Warn("file failed", "path", entry.Dest, "error", err)

	progress := r.tracker.FileFailed(entry.Dest, entry.Size, err.Error())
	r.s.opts.Metrics.FileDone(r.report.Operation, metrics.ResultFailed)
	r.emit(progress)

	if r.s.opts.Store != nil {
		rec := &store.FailedFileRecord{
			InstallDir:   r.target.InstallDir,
			FilePath:     entry.Dest,
			URL:          url,
			ExpectedMD5:  entry.MD5,
			ExpectedSize: int64(entry.Size),
			Error:        err.Error(),
		}
		if r.record != nil {
			rec.RunID = r.record.ID
		}
		if err := r.s.opts.Store.AddFailedFile(rec); err != nil {
			r.logger.Warn("failed to record failed file", "path", entry.Dest, "error", err)
		}
	}
}

func (r *run) emit(p DownloadProgress) {
	if r.s.opts.Sink != nil {
		r.s.opts.Sink.OnProgress(p)
	}
}

// finish closes the run and returns err unchanged.
func (r *run) finish(err error) (*Report, error) {
	r.report.Duration = time.Since(r.report.StartTime)
	r.tracker.Stop()

	status := store.StatusSuccess
	switch {
	case syncerr.IsCancelled(err):
		status = store.StatusCancelled
	case err != nil:
		status = store.StatusFailed
	case len(r.report.Failed) > 0:
		status = store.StatusPartial
	}

	if r.record != nil {
		r.record.Operation = r.report.Operation
		r.record.ManifestVersion = r.report.Version
		r.record.EndTime = time.Now()
		r.record.FilesTotal = r.report.TotalFiles
		r.record.FilesDownloaded = r.report.Downloaded
		r.record.FilesSkipped = r.report.Skipped
		r.record.FilesFailed = len(r.report.Failed)
		r.record.BytesTransferred = r.report.BytesReceived
		r.record.Status = status
		switch {
		case err != nil:
			r.record.ErrorMessage = err.Error()
		case len(r.report.Failed) > 0:
			r.record.ErrorMessage = fmt.Sprintf("%d files failed", len(r.report.Failed))
		}
		if uerr := r.s.opts.Store.UpdateRun(r.record); uerr != nil {
			r.logger.Warn("failed to record run end", "error", uerr)
		}
	}
	r.s.opts.Metrics.RunFinished(r.report.Operation, status, r.report.Duration)

	attrs := []any{
		"status", status,
		"version", r.report.Version,
		"files", r.report.TotalFiles,
		"downloaded", r.report.Downloaded,
		"skipped", r.report.Skipped,
		"failed", len(r.report.Failed),
		"bytes", r.report.BytesReceived,
		"duration", r.report.Duration.Truncate(time.Millisecond),
	}
	switch {
	case syncerr.IsCancelled(err):
		r.logger.Info("operation cancelled", attrs...)
	case err != nil:
		r.logger.Error("operation failed", append(attrs, "error", err)...)
	default:
		r.logger.Info("operation finished", attrs...)
	}
	return r.report, err
}

// fetchVerified downloads entry to dest and checks its MD5. A mismatch after
// a resumed transfer is retried once from scratch, since a stale partial is
// the usual cause; a second mismatch is an integrity failure.
func (r *run) fetchVerified(ctx context.Context, url, dest string, entry manifest.ResourceEntry, overwrite bool) (*download.Result, error) {
	var last *download.Result
	for attempt := 1; attempt <= 2; attempt++ {
		res, err := r.s.opts.Fetcher.DownloadWithResume(ctx, r.request(url, dest, overwrite || attempt > 1))
		if err != nil {
			return nil, err
		}
		last = res

		ok, err := checksum.Matches(dest, entry.MD5)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", entry.Dest, err)
		}
		if ok {
			return res, nil
		}

		r.s.opts.Metrics.Mismatch()
		r.logger.Warn("hash mismatch after download", "path", entry.Dest, "attempt", attempt, "resumed", res.Resumed, "skipped", res.Skipped)
		if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		_ = os.Remove(dest + download.TempSuffix)
	}
	return last, fmt.Errorf("%w: %s does not match md5 %s", syncerr.ErrIntegrityMismatch, entry.Dest, entry.MD5)
}

func (s *Syncer) isDelta(dest string) bool {
	lower := strings.ToLower(dest)
	for _, ext := range s.opts.DeltaExtensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
