// Package staging merges a staged file tree into a live installation with
// per-session backups, undoing every change when a step fails.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/BadgerOps/gamesync/internal/safety"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// RollbackDirName is the directory under the target root that holds backups
// of replaced files while a merge is in progress.
const RollbackDirName = ".rollback"

// Result summarizes a completed merge.
type Result struct {
	Files    int // staged files moved into the target
	Replaced int // of which replaced an existing file
}

// Merger moves staged files into a target tree.
type Merger struct {
	fs     afero.Fs
	logger *slog.Logger
	now    func() time.Time
}

// NewMerger creates a merger over fsys. Pass afero.NewOsFs() for real installs.
func NewMerger(fsys afero.Fs, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{fs: fsys, logger: logger, now: time.Now}
}

type opKind int

const (
	opBackup opKind = iota
	opPlace
	opMkdir
)

// journalEntry records one completed step so it can be reversed.
type journalEntry struct {
	kind   opKind
	target string
	backup string
}

// Merge moves every regular file under stagingRoot to the same relative path
// under targetRoot. Existing target files are first moved aside into
// targetRoot/.rollback/<tag>-<timestamp>/. If any step fails, or ctx is
// cancelled between files, all completed steps are reversed in reverse order
// and the target is left as it was.
func (m *Merger) Merge(ctx context.Context, stagingRoot, targetRoot, tag string) (*Result, error) {
	files, err := m.stagedFiles(stagingRoot)
	if err != nil {
		return nil, err
	}

	sessionDir := filepath.Join(targetRoot, RollbackDirName, fmt.Sprintf("%s-%s", tag, m.now().UTC().Format("20060102T150405")))
	var journal []journalEntry
	result := &Result{}

	fail := func(err error) (*Result, error) {
		m.logger.Warn("merge failed, rolling back", "target", targetRoot, "steps", len(journal), "error", err)
		if rbErr := m.rollback(journal); rbErr != nil {
			m.logger.Error("rollback incomplete", "target", targetRoot, "error", rbErr)
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		} else {
			m.removeSessionDir(targetRoot, sessionDir)
		}
		return nil, err
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return fail(syncerr.Cancelled(err))
		}

		dst, err := safety.SafeJoinUnder(targetRoot, rel)
		if err != nil {
			return fail(err)
		}
		src := filepath.Join(stagingRoot, rel)

		if fi, err := m.fs.Stat(dst); err == nil {
			if fi.IsDir() {
				return fail(fmt.Errorf("merge %s: target is a directory", rel))
			}
			backup := filepath.Join(sessionDir, rel)
			if err := m.mkdirAll(filepath.Dir(backup), nil); err != nil {
				return fail(err)
			}
			if err := m.move(dst, backup); err != nil {
				return fail(fmt.Errorf("backing up %s: %w", rel, err))
			}
			journal = append(journal, journalEntry{kind: opBackup, target: dst, backup: backup})
			result.Replaced++
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fail(fmt.Errorf("stat %s: %w", dst, err))
		}

		if err := m.mkdirAll(filepath.Dir(dst), &journal); err != nil {
			return fail(err)
		}
		if err := m.move(src, dst); err != nil {
			return fail(fmt.Errorf("placing %s: %w", rel, err))
		}
		journal = append(journal, journalEntry{kind: opPlace, target: dst})
		result.Files++
	}

	m.removeSessionDir(targetRoot, sessionDir)
	m.logger.Debug("merge complete", "target", targetRoot, "files", result.Files, "replaced", result.Replaced)
	return result, nil
}

// stagedFiles lists regular files under root as slash-free relative paths in lexical order.
func (m *Merger) stagedFiles(root string) ([]string, error) {
	var files []string
	err := afero.Walk(m.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking staging tree %s: %w", root, err)
	}
	return files, nil
}

// mkdirAll creates dir and its missing parents, journaling each one it creates
// when journal is non-nil.
func (m *Merger) mkdirAll(dir string, journal *[]journalEntry) error {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := m.fs.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := m.fs.Mkdir(missing[i], 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating directory %s: %w", missing[i], err)
		}
		if journal != nil {
			*journal = append(*journal, journalEntry{kind: opMkdir, target: missing[i]})
		}
	}
	return nil
}

// move renames src to dst, falling back to copy-then-delete when rename fails.
func (m *Merger) move(src, dst string) error {
	if err := m.fs.Rename(src, dst); err == nil {
		return nil
	}
	if err := m.copyFile(src, dst); err != nil {
		_ = m.fs.Remove(dst)
		return err
	}
	if err := m.fs.Remove(src); err != nil {
		_ = m.fs.Remove(dst)
		return fmt.Errorf("removing %s after copy: %w", src, err)
	}
	return nil
}

func (m *Merger) copyFile(src, dst string) error {
	in, err := m.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := m.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// rollback reverses journal newest first, continuing past individual failures.
func (m *Merger) rollback(journal []journalEntry) error {
	var errs []error
	for i := len(journal) - 1; i >= 0; i-- {
		e := journal[i]
		switch e.kind {
		case opPlace:
			if err := m.fs.Remove(e.target); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		case opBackup:
			if err := m.move(e.backup, e.target); err != nil {
				errs = append(errs, fmt.Errorf("restoring %s: %w", e.target, err))
			}
		case opMkdir:
			if entries, err := afero.ReadDir(m.fs, e.target); err == nil && len(entries) == 0 {
				_ = m.fs.Remove(e.target)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Merger) removeSessionDir(targetRoot, sessionDir string) {
	if err := m.fs.RemoveAll(sessionDir); err != nil {
		m.logger.Warn("failed to remove rollback directory", "path", sessionDir, "error", err)
		return
	}
	rollbackRoot := filepath.Join(targetRoot, RollbackDirName)
	if entries, err := afero.ReadDir(m.fs, rollbackRoot); err == nil && len(entries) == 0 {
		_ = m.fs.Remove(rollbackRoot)
	}
}
