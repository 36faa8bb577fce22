package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/BadgerOps/gamesync/internal/download"
	"github.com/BadgerOps/gamesync/internal/manifest"
	"github.com/BadgerOps/gamesync/internal/safety"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// diskFree reports free bytes on the volume holding path, walking up to the
// nearest existing ancestor.
func diskFree(path string) (uint64, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", dir, err)
	}
	return usage.Free, nil
}

// missingBytes estimates how many bytes a full download still has to write:
// entries without a final file, minus any partial already on disk.
func missingBytes(installDir string, idx *manifest.ResourceIndex) uint64 {
	var missing uint64
	for _, e := range idx.Entries {
		dest, err := safety.SafeJoinUnder(installDir, e.Dest)
		if err != nil {
			continue
		}
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		need := e.Size
		if fi, err := os.Stat(dest + download.TempSuffix); err == nil && uint64(fi.Size()) < need {
			need -= uint64(fi.Size())
		}
		missing += need
	}
	return missing
}

// checkSpace fails with syncerr.ErrInsufficientSpace when the volume cannot
// hold need bytes plus the configured margin.
func (s *Syncer) checkSpace(installDir string, need uint64) error {
	if need == 0 {
		return nil
	}
	free, err := s.opts.FreeSpace(installDir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("checking free space: %w", err)
		}
		s.logger.Warn("free space check unavailable, continuing", "path", installDir, "error", err)
		return nil
	}
	margin := uint64(0)
	if s.opts.MinFreeSpaceMargin > 0 {
		margin = uint64(s.opts.MinFreeSpaceMargin)
	}
	if free < need+margin {
		return fmt.Errorf("%w: need %d bytes (+%d margin), %d free under %s", syncerr.ErrInsufficientSpace, need, margin, free, installDir)
	}
	return nil
}
