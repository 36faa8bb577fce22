package engine

import (
	"context"

	"github.com/BadgerOps/gamesync/internal/manifest"
	"github.com/BadgerOps/gamesync/internal/metrics"
	"github.com/BadgerOps/gamesync/internal/safety"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// Download installs every manifest file into an empty or partial install
// directory. Existing files are kept as-is and partial transfers resume.
// Files already written are not rolled back on cancellation.
func (s *Syncer) Download(ctx context.Context, target Target) (*Report, error) {
	r := s.begin(OpDownload, PhaseDownload, target, "")

	m, cdn, err := s.resolve(ctx, target)
	if err != nil {
		return r.finish(err)
	}
	idx, err := s.opts.Manifests.FetchResourceIndex(ctx, cdn.URL, m.IndexFile)
	if err != nil {
		return r.finish(err)
	}
	r.plan(m.Version, idx)

	if err := s.checkSpace(target.InstallDir, missingBytes(target.InstallDir, idx)); err != nil {
		return r.finish(err)
	}

	for _, entry := range idx.Entries {
		if err := ctx.Err(); err != nil {
			return r.finish(syncerr.Cancelled(err))
		}

		url := manifest.ResourceURL(cdn.URL, m.ResourcesBasePath, entry.Dest)
		dest, err := safety.SafeJoinUnder(target.InstallDir, entry.Dest)
		if err != nil {
			r.fail(entry, url, err)
			continue
		}

		r.tracker.Begin(entry.Dest)
		res, err := s.opts.Fetcher.DownloadWithResume(ctx, r.request(url, dest, false))
		if err != nil {
			if syncerr.IsFatal(err) {
				return r.finish(err)
			}
			r.fail(entry, url, err)
			continue
		}
		if res.Skipped {
			r.done(entry, metrics.ResultSkipped)
		} else {
			r.done(entry, metrics.ResultDownloaded)
		}
	}
	return r.finish(nil)
}
