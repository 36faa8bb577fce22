package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BadgerOps/gamesync/internal/checksum"
	"github.com/BadgerOps/gamesync/internal/manifest"
	"github.com/BadgerOps/gamesync/internal/metrics"
	"github.com/BadgerOps/gamesync/internal/safety"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// Update brings the install to the manifest version. It applies an
// incremental patch when the manifest offers one for localVersion and falls
// back to a full comparison otherwise. The manifest is fetched once.
func (s *Syncer) Update(ctx context.Context, target Target, localVersion string) (*Report, error) {
	r := s.begin(OpUpdateFull, PhaseUpdate, target, localVersion)

	m, cdn, err := s.resolve(ctx, target)
	if err != nil {
		return r.finish(err)
	}

	if localVersion != "" {
		pc, err := m.PatchFor(localVersion)
		switch {
		case err != nil:
			r.logger.Info("no incremental patch available, running full comparison", "local_version", localVersion, "reason", err)
		case !s.canPatch():
			r.logger.Info("patch tool not configured, running full comparison", "local_version", localVersion)
		default:
			r.relabel(OpUpdatePatch, PhasePatch)
			return r.finish(s.updatePatch(ctx, r, m, cdn, pc))
		}
	}
	return r.finish(s.updateFull(ctx, r, m, cdn))
}

// UpdateFull hashes every manifest file and redownloads the ones that differ.
// Per-file failures are collected in the report.
func (s *Syncer) UpdateFull(ctx context.Context, target Target, localVersion string) (*Report, error) {
	r := s.begin(OpUpdateFull, PhaseUpdate, target, localVersion)

	m, cdn, err := s.resolve(ctx, target)
	if err != nil {
		return r.finish(err)
	}
	return r.finish(s.updateFull(ctx, r, m, cdn))
}

// UpdatePatch applies the incremental patch from localVersion to the
// manifest version. It fails with syncerr.ErrIncrementalUnsupported when the
// manifest has no usable patch for localVersion.
func (s *Syncer) UpdatePatch(ctx context.Context, target Target, localVersion string) (*Report, error) {
	r := s.begin(OpUpdatePatch, PhasePatch, target, localVersion)

	m, cdn, err := s.resolve(ctx, target)
	if err != nil {
		return r.finish(err)
	}
	pc, err := m.PatchFor(localVersion)
	if err != nil {
		return r.finish(err)
	}
	return r.finish(s.updatePatch(ctx, r, m, cdn, pc))
}

func (s *Syncer) canPatch() bool {
	return s.opts.PatchTool != nil && s.opts.Merger != nil
}

func (s *Syncer) updateFull(ctx context.Context, r *run, m *manifest.Manifest, cdn manifest.CDNNode) error {
	idx, err := s.opts.Manifests.FetchResourceIndex(ctx, cdn.URL, m.IndexFile)
	if err != nil {
		return err
	}
	r.plan(m.Version, idx)

	for _, entry := range idx.Entries {
		if err := ctx.Err(); err != nil {
			return syncerr.Cancelled(err)
		}

		url := manifest.ResourceURL(cdn.URL, m.ResourcesBasePath, entry.Dest)
		dest, err := safety.SafeJoinUnder(r.target.InstallDir, entry.Dest)
		if err != nil {
			r.fail(entry, url, err)
			continue
		}

		r.tracker.Begin(entry.Dest)
		ok, err := checksum.Matches(dest, entry.MD5)
		if err != nil {
			r.fail(entry, url, fmt.Errorf("hashing: %w", err))
			continue
		}
		if ok {
			r.done(entry, metrics.ResultSkipped)
			continue
		}

		s.opts.Metrics.Mismatch()
		r.logger.Debug("hash mismatch, redownloading", "path", entry.Dest)
		if _, err := r.fetchVerified(ctx, url, dest, entry, true); err != nil {
			if syncerr.IsFatal(err) {
				return err
			}
			r.fail(entry, url, err)
			continue
		}
		r.done(entry, metrics.ResultDownloaded)
	}
	return nil
}

// updatePatch downloads the patch assets, runs the diff tool over the install
// and merges the result. Delta files land next to the install directory,
// everything else in a session-scoped staging directory beside it.
func (s *Syncer) updatePatch(ctx context.Context, r *run, m *manifest.Manifest, cdn manifest.CDNNode, pc *manifest.PatchConfig) error {
	if !s.canPatch() {
		return fmt.Errorf("%w: no patch tool or merger configured", syncerr.ErrIncrementalUnsupported)
	}

	idx, err := s.opts.Manifests.FetchResourceIndex(ctx, cdn.URL, pc.IndexFile)
	if err != nil {
		return err
	}
	r.plan(m.Version, idx)

	installDir, err := filepath.Abs(r.target.InstallDir)
	if err != nil {
		return err
	}
	parent := filepath.Dir(installDir)
	stagingDir := filepath.Join(parent, fmt.Sprintf(".%s-staging-%s", filepath.Base(installDir), r.report.SessionTag))

	var deltas []string
	merged := false
	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			r.logger.Warn("failed to remove staging directory", "path", stagingDir, "error", err)
		}
		// Delta files stay for resume unless the patch landed.
		if merged {
			for _, d := range deltas {
				if err := os.Remove(d); err != nil && !errors.Is(err, os.ErrNotExist) {
					r.logger.Warn("failed to remove delta file", "path", d, "error", err)
				}
			}
		}
	}()

	for _, entry := range idx.Entries {
		if err := ctx.Err(); err != nil {
			return syncerr.Cancelled(err)
		}

		root := stagingDir
		if s.isDelta(entry.Dest) {
			root = parent
		}
		url := manifest.ResourceURL(cdn.URL, pc.BaseURL, entry.Dest)
		dest, err := safety.SafeJoinUnder(root, entry.Dest)
		if err != nil {
			r.fail(entry, url, err)
			continue
		}

		r.tracker.Begin(entry.Dest)
		res, err := r.fetchVerified(ctx, url, dest, entry, false)
		if err != nil {
			if syncerr.IsFatal(err) {
				return err
			}
			r.fail(entry, url, err)
			return fmt.Errorf("patch asset %s: %w", entry.Dest, err)
		}
		if root == parent {
			deltas = append(deltas, dest)
		}
		if res.Skipped {
			r.done(entry, metrics.ResultSkipped)
		} else {
			r.done(entry, metrics.ResultDownloaded)
		}
	}
	if len(r.report.Failed) > 0 {
		return fmt.Errorf("%d patch assets rejected", len(r.report.Failed))
	}

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return err
	}
	if len(deltas) > 0 {
		tool, err := s.opts.PatchTool(ctx)
		if err != nil {
			return err
		}
		for _, d := range deltas {
			if err := ctx.Err(); err != nil {
				return syncerr.Cancelled(err)
			}
			if err := tool.Apply(ctx, installDir, d, stagingDir); err != nil {
				return err
			}
		}
	}

	// Last cancellation point; once merged the install is at the new version.
	if err := ctx.Err(); err != nil {
		return syncerr.Cancelled(err)
	}
	res, err := s.opts.Merger.Merge(ctx, stagingDir, installDir, r.report.SessionTag)
	if err != nil {
		return fmt.Errorf("merging patch: %w", err)
	}
	merged = true
	r.logger.Info("patch merged", "files", res.Files, "replaced", res.Replaced, "deltas", len(deltas))
	return nil
}
