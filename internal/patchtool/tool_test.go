package patchtool

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/gamesync/internal/download"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeBinary(magic []byte, size int) []byte {
	data := bytes.Repeat([]byte{0x90}, size)
	copy(data, magic)
	return data
}

var elfBinary = fakeBinary([]byte{0x7f, 'E', 'L', 'F'}, 4096)

type toolServer struct {
	*httptest.Server
	hits int32
}

func newToolServer(t *testing.T, status int, body []byte) *toolServer {
	ts := &toolServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.hits, 1)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newManager(cfg Config, rejects *[]string) *Manager {
	fetcher := download.NewClient(discardLogger())
	return NewManager(cfg, fetcher, discardLogger(), WithRejectHook(func(reason string) {
		if rejects != nil {
			*rejects = append(*rejects, reason)
		}
	}))
}

func TestEnsureFetchesAndActivates(t *testing.T) {
	srv := newToolServer(t, http.StatusOK, elfBinary)
	path := filepath.Join(t.TempDir(), "hpatchz")

	tool, err := newManager(Config{PrimaryURL: srv.URL, Path: path, MinSize: 1024, GOOS: "linux"}, nil).Ensure(context.Background())
	require.NoError(t, err)
	require.Equal(t, path, tool.Path)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o755), fi.Mode().Perm())
	}
}

func TestEnsureFallsBackToMirror(t *testing.T) {
	primary := newToolServer(t, http.StatusNotFound, []byte("gone"))
	mirror := newToolServer(t, http.StatusOK, elfBinary)
	path := filepath.Join(t.TempDir(), "hpatchz")

	_, err := newManager(Config{PrimaryURL: primary.URL, MirrorURL: mirror.URL, Path: path, MinSize: 1024, GOOS: "linux"}, nil).Ensure(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&primary.hits))
	require.EqualValues(t, 1, atomic.LoadInt32(&mirror.hits))
}

func TestEnsureBothSourcesFail(t *testing.T) {
	primary := newToolServer(t, http.StatusNotFound, nil)
	mirror := newToolServer(t, http.StatusForbidden, nil)
	path := filepath.Join(t.TempDir(), "hpatchz")

	_, err := newManager(Config{PrimaryURL: primary.URL, MirrorURL: mirror.URL, Path: path, MinSize: 1024, GOOS: "linux"}, nil).Ensure(context.Background())
	require.ErrorIs(t, err, syncerr.ErrNetwork)
	require.NotErrorIs(t, err, syncerr.ErrPatchToolUntrusted)
}

func TestEnsureRejectsSmallFile(t *testing.T) {
	srv := newToolServer(t, http.StatusOK, fakeBinary([]byte{0x7f, 'E', 'L', 'F'}, 100))
	path := filepath.Join(t.TempDir(), "hpatchz")
	var rejects []string

	_, err := newManager(Config{PrimaryURL: srv.URL, Path: path, MinSize: 1024, GOOS: "linux"}, &rejects).Ensure(context.Background())
	require.ErrorIs(t, err, syncerr.ErrPatchToolUntrusted)
	require.Equal(t, []string{"size"}, rejects)
	require.NoFileExists(t, path)
}

func TestEnsureRejectsWrongMagic(t *testing.T) {
	srv := newToolServer(t, http.StatusOK, fakeBinary([]byte("MZ"), 4096))
	path := filepath.Join(t.TempDir(), "hpatchz")
	var rejects []string

	_, err := newManager(Config{PrimaryURL: srv.URL, Path: path, MinSize: 1024, GOOS: "linux"}, &rejects).Ensure(context.Background())
	require.ErrorIs(t, err, syncerr.ErrPatchToolUntrusted)
	require.Equal(t, []string{"magic"}, rejects)
	require.NoFileExists(t, path)
}

func TestEnsureAllowlist(t *testing.T) {
	sum := sha256.Sum256(elfBinary)
	good := hex.EncodeToString(sum[:])

	t.Run("listed digest passes", func(t *testing.T) {
		srv := newToolServer(t, http.StatusOK, elfBinary)
		path := filepath.Join(t.TempDir(), "hpatchz")
		_, err := newManager(Config{PrimaryURL: srv.URL, Path: path, MinSize: 1024, GOOS: "linux",
			Allowlist: []string{"00", good}}, nil).Ensure(context.Background())
		require.NoError(t, err)
	})

	t.Run("unlisted digest is deleted", func(t *testing.T) {
		srv := newToolServer(t, http.StatusOK, elfBinary)
		path := filepath.Join(t.TempDir(), "hpatchz")
		var rejects []string
		_, err := newManager(Config{PrimaryURL: srv.URL, Path: path, MinSize: 1024, GOOS: "linux",
			Allowlist: []string{"deadbeef"}}, &rejects).Ensure(context.Background())
		require.ErrorIs(t, err, syncerr.ErrPatchToolUntrusted)
		require.Equal(t, []string{"sha256"}, rejects)
		require.NoFileExists(t, path)
	})
}

func TestEnsureReusesCachedCopy(t *testing.T) {
	srv := newToolServer(t, http.StatusOK, elfBinary)
	path := filepath.Join(t.TempDir(), "hpatchz")
	require.NoError(t, os.WriteFile(path, elfBinary, 0o644))

	_, err := newManager(Config{PrimaryURL: srv.URL, Path: path, MinSize: 1024, GOOS: "linux"}, nil).Ensure(context.Background())
	require.NoError(t, err)
	require.Zero(t, atomic.LoadInt32(&srv.hits))
}

func TestEnsureReplacesCorruptCachedCopy(t *testing.T) {
	srv := newToolServer(t, http.StatusOK, elfBinary)
	path := filepath.Join(t.TempDir(), "hpatchz")
	require.NoError(t, os.WriteFile(path, []byte("truncated"), 0o644))

	_, err := newManager(Config{PrimaryURL: srv.URL, Path: path, MinSize: 1024, GOOS: "linux"}, nil).Ensure(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&srv.hits))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, elfBinary, got)
}

func TestMagicMatches(t *testing.T) {
	tests := []struct {
		goos    string
		head    []byte
		ok      bool
		checked bool
	}{
		{"linux", []byte{0x7f, 'E', 'L', 'F'}, true, true},
		{"linux", []byte("MZ\x90\x00"), false, true},
		{"windows", []byte("MZ\x90\x00"), true, true},
		{"windows", []byte{0x7f, 'E', 'L', 'F'}, false, true},
		{"darwin", []byte{0xcf, 0xfa, 0xed, 0xfe}, true, true},
		{"darwin", []byte{0xca, 0xfe, 0xba, 0xbe}, true, true},
		{"darwin", []byte{0x7f, 'E', 'L', 'F'}, false, true},
		{"plan9", []byte{0x00}, false, false},
		{"linux", []byte{0x7f}, false, true},
	}
	for _, tt := range tests {
		ok, checked := MagicMatches(tt.goos, tt.head)
		require.Equal(t, tt.ok, ok, "%s %x", tt.goos, tt.head)
		require.Equal(t, tt.checked, checked, "%s %x", tt.goos, tt.head)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-hpatchz")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestApplyPassesArguments(t *testing.T) {
	script := writeScript(t, `echo "$@" > "$4/args.txt"`+"\n")
	out := filepath.Join(t.TempDir(), "out")

	tool := &Tool{Path: script, logger: discardLogger()}
	require.NoError(t, tool.Apply(context.Background(), "/games/old", "/games/patch.krdiff", out))

	got, err := os.ReadFile(filepath.Join(out, "args.txt"))
	require.NoError(t, err)
	require.Equal(t, "-f /games/old /games/patch.krdiff "+out+"\n", string(got))
}

func TestApplyReportsStderr(t *testing.T) {
	script := writeScript(t, "echo 'diff data corrupt' >&2\nexit 3\n")

	tool := &Tool{Path: script, logger: discardLogger()}
	err := tool.Apply(context.Background(), t.TempDir(), "patch.krdiff", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "diff data corrupt")
}

func TestApplyCancelled(t *testing.T) {
	script := writeScript(t, "sleep 5\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tool := &Tool{Path: script, logger: discardLogger()}
	err := tool.Apply(ctx, t.TempDir(), "patch.krdiff", t.TempDir())
	require.ErrorIs(t, err, syncerr.ErrCancelled)
}
