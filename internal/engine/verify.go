package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BadgerOps/gamesync/internal/checksum"
	"github.com/BadgerOps/gamesync/internal/download"
	"github.com/BadgerOps/gamesync/internal/manifest"
	"github.com/BadgerOps/gamesync/internal/metrics"
	"github.com/BadgerOps/gamesync/internal/safety"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// Verify hashes every manifest file and redownloads the ones that are
// missing or corrupt. Resource pack directories are pruned of files the
// manifest no longer lists before hashing starts.
func (s *Syncer) Verify(ctx context.Context, target Target) (*Report, error) {
	r := s.begin(OpVerify, PhaseVerify, target, "")

	m, cdn, err := s.resolve(ctx, target)
	if err != nil {
		return r.finish(err)
	}
	idx, err := s.opts.Manifests.FetchResourceIndex(ctx, cdn.URL, m.IndexFile)
	if err != nil {
		return r.finish(err)
	}
	r.plan(m.Version, idx)

	result := &VerifyResult{TotalFiles: idx.Len(), Failed: []string{}}
	r.report.Verify = result
	result.Pruned = s.prune(r, idx)

	for _, entry := range idx.Entries {
		if err := ctx.Err(); err != nil {
			return r.finish(syncerr.Cancelled(err))
		}

		url := manifest.ResourceURL(cdn.URL, m.ResourcesBasePath, entry.Dest)
		dest, err := safety.SafeJoinUnder(target.InstallDir, entry.Dest)
		if err != nil {
			r.fail(entry, url, err)
			result.Failed = append(result.Failed, entry.Dest)
			continue
		}

		r.tracker.Begin(entry.Dest)
		ok, err := checksum.Matches(dest, entry.MD5)
		if err != nil {
			r.fail(entry, url, fmt.Errorf("hashing: %w", err))
			result.Failed = append(result.Failed, entry.Dest)
			continue
		}
		if ok {
			result.VerifiedOK++
			r.done(entry, metrics.ResultVerified)
			continue
		}

		s.opts.Metrics.Mismatch()
		r.logger.Info("file missing or corrupt, redownloading", "path", entry.Dest)
		if _, err := r.fetchVerified(ctx, url, dest, entry, true); err != nil {
			if syncerr.IsFatal(err) {
				return r.finish(err)
			}
			r.fail(entry, url, err)
			result.Failed = append(result.Failed, entry.Dest)
			continue
		}
		result.VerifiedOK++
		result.Redownloaded++
		r.done(entry, metrics.ResultDownloaded)
	}

	if s.opts.Sink != nil {
		s.opts.Sink.OnVerifyResult(*result)
	}
	return r.finish(nil)
}

// prune removes regular files from the configured resource pack directories
// that no manifest entry names. Subdirectories are left alone. Partial
// downloads of listed files are kept so they can resume.
func (s *Syncer) prune(r *run, idx *manifest.ResourceIndex) []string {
	var pruned []string
	for _, dir := range s.opts.ResourcePackDirs {
		relDir := strings.Trim(strings.ReplaceAll(dir, "\\", "/"), "/")
		absDir, err := safety.SafeJoinUnder(r.target.InstallDir, relDir)
		if err != nil {
			r.logger.Warn("skipping resource pack directory", "dir", dir, "error", err)
			continue
		}

		keep := make(map[string]bool)
		for _, e := range idx.Entries {
			dest := strings.ReplaceAll(e.Dest, "\\", "/")
			if path.Dir(dest) == relDir {
				name := path.Base(dest)
				keep[name] = true
				keep[name+download.TempSuffix] = true
			}
		}

		entries, err := os.ReadDir(absDir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("failed to list resource pack directory", "dir", dir, "error", err)
			}
			continue
		}
		for _, de := range entries {
			if !de.Type().IsRegular() || keep[de.Name()] {
				continue
			}
			p := filepath.Join(absDir, de.Name())
			if err := os.Remove(p); err != nil {
				r.logger.Warn("failed to prune stale file", "path", p, "error", err)
				continue
			}
			rel := path.Join(relDir, de.Name())
			pruned = append(pruned, rel)
			s.opts.Metrics.FileDone(OpVerify, metrics.ResultPruned)
			r.logger.Info("pruned stale resource pack file", "path", rel)
		}
	}
	return pruned
}
