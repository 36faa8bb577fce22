// Package localversion persists the version of the last successful sync in a
// small JSON sidecar inside the install directory.
package localversion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// FileName is the sidecar's name inside the install directory.
const FileName = ".gamesync-version.json"

// Info is the sidecar content.
type Info struct {
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes the sidecar through an afero filesystem.
type Store struct {
	fs  afero.Fs
	now func() time.Time
}

// New creates a sidecar store. Pass afero.NewOsFs() for real installs.
func New(fsys afero.Fs) *Store {
	return &Store{fs: fsys, now: time.Now}
}

// Path returns the sidecar path for installDir.
func Path(installDir string) string {
	return filepath.Join(installDir, FileName)
}

// Read returns the recorded version, or "" when no sidecar exists.
func (s *Store) Read(installDir string) (string, error) {
	info, err := s.ReadInfo(installDir)
	if err != nil || info == nil {
		return "", err
	}
	return info.Version, nil
}

// ReadInfo returns the full sidecar, or nil when none exists.
func (s *Store) ReadInfo(installDir string) (*Info, error) {
	data, err := afero.ReadFile(s.fs, Path(installDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading local version: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", Path(installDir), err)
	}
	info.Version = strings.TrimSpace(info.Version)
	return &info, nil
}

// Write records version through a temp file and rename so readers never see
// a partial sidecar.
func (s *Store) Write(installDir, version string) error {
	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("refusing to record an empty version")
	}
	if err := s.fs.MkdirAll(installDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", installDir, err)
	}

	data, err := json.MarshalIndent(Info{Version: version, UpdatedAt: s.now().UTC()}, "", "  ")
	if err != nil {
		return err
	}

	path := Path(installDir)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing local version: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("committing local version: %w", err)
	}
	return nil
}
