// Package patchtool fetches, vets and runs the external binary-diff apply tool.
//
// The tool is downloaded from the network and executed with write access to the
// game install, so every copy passes a size, digest and magic-number gate
// before it is made executable.
package patchtool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BadgerOps/gamesync/internal/checksum"
	"github.com/BadgerOps/gamesync/internal/download"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// Fetcher downloads one file.
type Fetcher interface {
	DownloadWithResume(ctx context.Context, req download.Request) (*download.Result, error)
}

// Config describes where the tool comes from and how it is trusted.
type Config struct {
	PrimaryURL string
	MirrorURL  string
	Path       string   // cached binary location
	MinSize    int64    // files this size or smaller are rejected
	Allowlist  []string // SHA-256 hex digests; empty disables the digest check
	GOOS       string   // platform whose executable format is expected; "" means runtime.GOOS
}

// Manager resolves a trusted copy of the tool.
type Manager struct {
	cfg      Config
	fetcher  Fetcher
	logger   *slog.Logger
	onReject func(reason string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithRejectHook registers a callback invoked with the gate check that failed.
func WithRejectHook(fn func(reason string)) Option {
	return func(m *Manager) {
		m.onReject = fn
	}
}

// NewManager creates a patch tool manager.
func NewManager(cfg Config, fetcher Fetcher, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	m := &Manager{cfg: cfg, fetcher: fetcher, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure returns a gated, executable copy of the tool. A cached copy is
// re-checked on every call; a cached copy that fails is deleted and fetched
// again. A freshly fetched copy that fails is deleted and the error matches
// syncerr.ErrPatchToolUntrusted.
func (m *Manager) Ensure(ctx context.Context) (*Tool, error) {
	if m.cfg.Path == "" {
		return nil, fmt.Errorf("patch tool path is not configured")
	}

	if _, err := os.Stat(m.cfg.Path); err == nil {
		gateErr := m.gate(m.cfg.Path)
		if gateErr == nil {
			m.logger.Debug("reusing cached patch tool", "path", m.cfg.Path)
			return m.activate()
		}
		m.logger.Warn("cached patch tool rejected, fetching a fresh copy", "path", m.cfg.Path, "error", gateErr)
	}

	if err := m.fetch(ctx); err != nil {
		return nil, err
	}
	if err := m.gate(m.cfg.Path); err != nil {
		return nil, err
	}
	return m.activate()
}

// fetch tries the primary source, then the mirror.
func (m *Manager) fetch(ctx context.Context) error {
	var errs []error
	for _, src := range []struct{ name, url string }{
		{"primary", m.cfg.PrimaryURL},
		{"mirror", m.cfg.MirrorURL},
	} {
		if src.url == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return syncerr.Cancelled(err)
		}

		_, err := m.fetcher.DownloadWithResume(ctx, download.Request{
			URL:       src.url,
			DestPath:  m.cfg.Path,
			Overwrite: true,
		})
		if err == nil {
			m.logger.Info("fetched patch tool", "source", src.name, "url", src.url, "path", m.cfg.Path)
			return nil
		}
		if syncerr.IsCancelled(err) {
			return err
		}
		m.logger.Warn("patch tool fetch failed", "source", src.name, "url", src.url, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", src.name, err))
	}
	if len(errs) == 0 {
		return fmt.Errorf("patch tool has no download source configured")
	}
	return fmt.Errorf("fetching patch tool: %w", errors.Join(errs...))
}

// gate runs the size, digest and magic checks, deleting path on failure.
func (m *Manager) gate(path string) error {
	reject := func(reason string, format string, args ...any) error {
		_ = os.Remove(path)
		if m.onReject != nil {
			m.onReject(reason)
		}
		m.logger.Error("patch tool rejected", "path", path, "check", reason)
		return fmt.Errorf("%w: %s", syncerr.ErrPatchToolUntrusted, fmt.Sprintf(format, args...))
	}

	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat patch tool: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return reject("type", "%s is not a regular file", path)
	}
	if fi.Size() <= m.cfg.MinSize {
		return reject("size", "size %d does not exceed minimum %d", fi.Size(), m.cfg.MinSize)
	}

	if len(m.cfg.Allowlist) > 0 {
		sum, err := checksum.FileSHA256(path)
		if err != nil {
			return fmt.Errorf("hashing patch tool: %w", err)
		}
		if !allowed(sum, m.cfg.Allowlist) {
			return reject("sha256", "sha256 %s is not allow-listed", sum)
		}
	} else {
		m.logger.Warn("patch tool sha256 allow-list is empty, skipping digest check", "path", path)
	}

	head, err := readHead(path, 4)
	if err != nil {
		return fmt.Errorf("reading patch tool header: %w", err)
	}
	if ok, checked := MagicMatches(m.cfg.GOOS, head); checked && !ok {
		return reject("magic", "header %x is not a %s executable", head, m.cfg.GOOS)
	}
	return nil
}

func (m *Manager) activate() (*Tool, error) {
	if err := os.Chmod(m.cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("making patch tool executable: %w", err)
	}
	return &Tool{Path: m.cfg.Path, logger: m.logger}, nil
}

func allowed(sum string, list []string) bool {
	for _, want := range list {
		if checksum.Equal(sum, want) {
			return true
		}
	}
	return false
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:read], nil
}

var machoMagics = [][]byte{
	{0xfe, 0xed, 0xfa, 0xce},
	{0xfe, 0xed, 0xfa, 0xcf},
	{0xce, 0xfa, 0xed, 0xfe},
	{0xcf, 0xfa, 0xed, 0xfe},
	{0xca, 0xfe, 0xba, 0xbe},
}

// MagicMatches reports whether head starts with a native executable magic
// number for goos. checked is false for platforms without a known format.
func MagicMatches(goos string, head []byte) (ok, checked bool) {
	switch goos {
	case "linux", "freebsd", "netbsd", "openbsd":
		return bytes.HasPrefix(head, []byte{0x7f, 'E', 'L', 'F'}), true
	case "windows":
		return bytes.HasPrefix(head, []byte("MZ")), true
	case "darwin":
		for _, magic := range machoMagics {
			if bytes.HasPrefix(head, magic) {
				return true, true
			}
		}
		return false, true
	default:
		return false, false
	}
}

// Tool is a vetted diff-apply binary.
type Tool struct {
	Path   string
	logger *slog.Logger
}

// Apply runs the tool to rebuild oldDir with diffFile into outDir.
// A non-zero exit is returned as an error carrying the tool's stderr.
func (t *Tool) Apply(ctx context.Context, oldDir, diffFile, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating patch output %s: %w", outDir, err)
	}

	cmd := exec.CommandContext(ctx, t.Path, "-f", oldDir, diffFile, outDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := t.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("applying patch", "tool", filepath.Base(t.Path), "old", oldDir, "diff", diffFile, "out", outDir)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return syncerr.Cancelled(ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return fmt.Errorf("patch tool %s failed: %w: %s", filepath.Base(t.Path), err, msg)
	}
	logger.Debug("patch tool finished", "output", strings.TrimSpace(stdout.String()))
	return nil
}
