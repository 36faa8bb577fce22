package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/gamesync/internal/checksum"
	"github.com/BadgerOps/gamesync/internal/download"
	"github.com/BadgerOps/gamesync/internal/manifest"
	"github.com/BadgerOps/gamesync/internal/staging"
	"github.com/BadgerOps/gamesync/internal/store"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves a fixed manifest and resource indexes keyed by path.
type fakeSource struct {
	manifest *manifest.Manifest
	indexes  map[string]*manifest.ResourceIndex
}

func (f *fakeSource) FetchManifest(ctx context.Context, manifestURL string) (*manifest.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.Cancelled(err)
	}
	m := *f.manifest
	return &m, nil
}

func (f *fakeSource) FetchResourceIndex(ctx context.Context, cdnURL, indexPath string) (*manifest.ResourceIndex, error) {
	idx, ok := f.indexes[indexPath]
	if !ok {
		return nil, fmt.Errorf("%w: no index %s", syncerr.ErrNetwork, indexPath)
	}
	return idx, nil
}

// fileServer serves in-memory files and counts requests per path.
type fileServer struct {
	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
	srv   *httptest.Server
}

func newFileServer(t *testing.T) *fileServer {
	fs := &fileServer{files: map[string][]byte{}, hits: map[string]int{}}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.hits[r.URL.Path]++
		data, ok := fs.files[r.URL.Path]
		fs.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fileServer) put(path string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path] = data
}

func (fs *fileServer) hitCount(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hits[path]
}

func (fs *fileServer) totalHits() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, h := range fs.hits {
		n += h
	}
	return n
}

type recordingSink struct {
	mu       sync.Mutex
	progress []DownloadProgress
	verify   []VerifyResult
	onFile   func(DownloadProgress)
}

func (s *recordingSink) OnProgress(p DownloadProgress) {
	s.mu.Lock()
	s.progress = append(s.progress, p)
	hook := s.onFile
	s.mu.Unlock()
	if hook != nil {
		hook(p)
	}
}

func (s *recordingSink) OnVerifyResult(v VerifyResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verify = append(s.verify, v)
}

func (s *recordingSink) last() DownloadProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[len(s.progress)-1]
}

type fixture struct {
	t       *testing.T
	server  *fileServer
	source  *fakeSource
	sink    *recordingSink
	install string
	opts    Options
}

// newFixture builds a game with the given files published under /res.
func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	server := newFileServer(t)

	idx := &manifest.ResourceIndex{}
	for _, dest := range sortedKeys(files) {
		data := []byte(files[dest])
		server.put("/res/"+dest, data)
		idx.Entries = append(idx.Entries, manifest.ResourceEntry{
			Dest: dest,
			MD5:  checksum.Bytes(data, checksum.MD5),
			Size: uint64(len(data)),
		})
	}

	f := &fixture{
		t:      t,
		server: server,
		source: &fakeSource{
			manifest: &manifest.Manifest{
				Version:           "2.0",
				ResourcesBasePath: "res",
				IndexFile:         "index.json",
				CDNs: []manifest.CDNNode{
					{URL: "http://unavailable.invalid", K1: true, K2: false, Priority: 9},
					{URL: server.srv.URL, K1: true, K2: true, Priority: 1},
				},
			},
			indexes: map[string]*manifest.ResourceIndex{"index.json": idx},
		},
		sink:    &recordingSink{},
		install: filepath.Join(t.TempDir(), "game"),
	}
	f.opts = Options{
		Manifests:     f.source,
		Fetcher:       download.NewClient(testLogger(), download.WithRetryCount(1)),
		Sink:          f.sink,
		Logger:        testLogger(),
		FreeSpace:     func(string) (uint64, error) { return 1 << 40, nil },
		NewSessionTag: func() string { return "testtag" },
	}
	return f
}

func (f *fixture) syncer() *Syncer {
	return NewSyncer(f.opts)
}

func (f *fixture) target() Target {
	return Target{ManifestURL: "http://launcher.invalid/manifest.json", InstallDir: f.install}
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.install, filepath.FromSlash(rel))
}

func (f *fixture) read(rel string) string {
	f.t.Helper()
	data, err := os.ReadFile(f.path(rel))
	require.NoError(f.t, err)
	return string(data)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestDownloadSingleEmptyFile(t *testing.T) {
	f := newFixture(t, map[string]string{"a.bin": ""})
	require.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", f.source.indexes["index.json"].Entries[0].MD5)

	report, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, "2.0", report.Version)
	require.Equal(t, 1, report.TotalFiles)
	require.Equal(t, 1, report.FinishedFiles)
	require.Equal(t, 1, report.Downloaded)

	last := f.sink.last()
	require.Equal(t, 1, last.TotalFiles)
	require.Equal(t, 1, last.FinishedFiles)

	fi, err := os.Stat(f.path("a.bin"))
	require.NoError(t, err)
	require.Zero(t, fi.Size())
}

func TestDownloadSkipsExistingFiles(t *testing.T) {
	f := newFixture(t, map[string]string{
		"Game/Binaries/game.exe": "binary",
		"Game/Content/pak0.pak":  "content",
	})

	first, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)
	require.Equal(t, "content", f.read("Game/Content/pak0.pak"))
	require.EqualValues(t, 13, first.BytesReceived)
	hits := f.server.totalHits()

	report, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)
	require.Equal(t, 2, report.Skipped)
	require.Zero(t, report.Downloaded)
	require.Equal(t, hits, f.server.totalHits())

	// Kept files count toward finished bytes but not toward transfer.
	require.Zero(t, report.BytesReceived)
	last := f.sink.last()
	require.EqualValues(t, 13, last.FinishedBytes)
	require.Zero(t, last.SpeedBps)
}

func TestOverlappingRunsKeepSeparateProgress(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "1", "b": "22", "c": "333"})
	s := f.syncer()
	other := f.target()
	other.InstallDir = filepath.Join(t.TempDir(), "other")

	trackerA := NewTracker()
	var (
		started  bool
		runningA bool
		reportB  *Report
		errB     error
	)
	f.sink.onFile = func(DownloadProgress) {
		if started {
			return
		}
		started = true
		reportB, errB = s.Download(context.Background(), other)
		runningA = trackerA.Running()
	}

	target := f.target()
	target.Tracker = trackerA
	reportA, err := s.Download(context.Background(), target)
	require.NoError(t, err)
	require.NoError(t, errB)
	require.Equal(t, 3, reportA.Downloaded)
	require.Equal(t, 3, reportB.Downloaded)

	require.True(t, runningA, "second run stopped the first run's tracker")
	require.False(t, trackerA.Running())
	snap := trackerA.Snapshot()
	require.Equal(t, 3, snap.FinishedFiles)
	require.EqualValues(t, 6, snap.FinishedBytes)

	require.Len(t, f.sink.progress, 6)
	for _, p := range f.sink.progress {
		require.LessOrEqual(t, p.FinishedFiles, p.TotalFiles)
		require.LessOrEqual(t, p.FinishedBytes, p.TotalBytes)
	}
}

func TestDownloadProgressIsMonotonic(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "1", "b": "22", "c": "333"})

	_, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)

	require.Len(t, f.sink.progress, 3)
	for i := 1; i < len(f.sink.progress); i++ {
		prev, cur := f.sink.progress[i-1], f.sink.progress[i]
		require.Greater(t, cur.FinishedFiles, prev.FinishedFiles)
		require.GreaterOrEqual(t, cur.FinishedBytes, prev.FinishedBytes)
	}
	require.EqualValues(t, 6, f.sink.last().FinishedBytes)
}

func TestDownloadRejectsTraversal(t *testing.T) {
	f := newFixture(t, map[string]string{"ok.bin": "fine"})
	idx := f.source.indexes["index.json"]
	idx.Entries = append([]manifest.ResourceEntry{{Dest: "../../etc/passwd", MD5: "d41d8cd98f00b204e9800998ecf8427e"}}, idx.Entries...)

	report, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Len(t, report.Failed, 1)
	require.ErrorIs(t, report.Failed[0], syncerr.ErrPathTraversal)
	require.Equal(t, []string{"../../etc/passwd"}, report.FailedPaths())
	require.Equal(t, "fine", f.read("ok.bin"))
	require.Equal(t, 2, report.FinishedFiles)

	_, err = os.Stat(filepath.Join(filepath.Dir(f.install), "etc"))
	require.True(t, os.IsNotExist(err))
}

func TestDownloadAccumulatesFileFailures(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "1", "b": "2"})
	f.server.mu.Lock()
	delete(f.server.files, "/res/a")
	f.server.mu.Unlock()

	report, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	require.ErrorIs(t, report.Failed[0], syncerr.ErrNetwork)
	require.Equal(t, "2", f.read("b"))
}

func TestDownloadInsufficientSpace(t *testing.T) {
	f := newFixture(t, map[string]string{"big.bin": "0123456789"})
	f.opts.FreeSpace = func(string) (uint64, error) { return 4, nil }

	_, err := f.syncer().Download(context.Background(), f.target())
	require.ErrorIs(t, err, syncerr.ErrInsufficientSpace)
	require.Zero(t, f.server.totalHits())
}

func TestDownloadCancelBetweenFiles(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "1", "b": "2", "c": "3"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sink.onFile = func(DownloadProgress) { cancel() }

	report, err := f.syncer().Download(ctx, f.target())
	require.ErrorIs(t, err, syncerr.ErrCancelled)
	require.True(t, syncerr.IsCancelled(err))
	require.Equal(t, 1, report.FinishedFiles)
	require.Equal(t, "1", f.read("a"))
	_, err = os.Stat(f.path("b"))
	require.True(t, os.IsNotExist(err))

	// Restarting picks up where the cancelled run stopped.
	f.sink.onFile = nil
	report, err = f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 2, report.Downloaded)
}

func TestDownloadNoCDN(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "1"})
	f.source.manifest.CDNs = []manifest.CDNNode{{URL: "http://x.invalid", K1: false, K2: true, Priority: 5}}

	_, err := f.syncer().Download(context.Background(), f.target())
	require.ErrorIs(t, err, syncerr.ErrNoCDNAvailable)
}

func TestUpdateFullIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]string{"a.pak": "alpha", "sub/b.pak": "bravo"})
	_, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)
	hits := f.server.totalHits()

	report, err := f.syncer().UpdateFull(context.Background(), f.target(), "1.0")
	require.NoError(t, err)
	require.Equal(t, OpUpdateFull, report.Operation)
	require.Zero(t, report.Downloaded)
	require.Equal(t, 2, report.Skipped)
	require.Equal(t, hits, f.server.totalHits())
}

func TestUpdateFullReplacesChangedFiles(t *testing.T) {
	f := newFixture(t, map[string]string{"a.pak": "alpha", "b.pak": "bravo"})
	_, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.path("b.pak"), []byte("stale"), 0o644))
	require.NoError(t, os.Remove(f.path("a.pak")))

	report, err := f.syncer().UpdateFull(context.Background(), f.target(), "1.0")
	require.NoError(t, err)
	require.Equal(t, 2, report.Downloaded)
	require.Equal(t, "alpha", f.read("a.pak"))
	require.Equal(t, "bravo", f.read("b.pak"))
}

func TestUpdateFullIntegrityMismatch(t *testing.T) {
	f := newFixture(t, map[string]string{"a.pak": "alpha"})
	f.server.put("/res/a.pak", []byte("tampered"))

	report, err := f.syncer().UpdateFull(context.Background(), f.target(), "1.0")
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	require.ErrorIs(t, report.Failed[0], syncerr.ErrIntegrityMismatch)
	require.Equal(t, 2, f.server.hitCount("/res/a.pak"))

	_, err = os.Stat(f.path("a.pak"))
	require.True(t, os.IsNotExist(err))
}

func TestUpdateAutoFallsBackToFull(t *testing.T) {
	f := newFixture(t, map[string]string{"a.pak": "alpha"})

	report, err := f.syncer().Update(context.Background(), f.target(), "1.0")
	require.NoError(t, err)
	require.Equal(t, OpUpdateFull, report.Operation)
	require.Equal(t, "alpha", f.read("a.pak"))
}

func TestUpdatePatchUnsupported(t *testing.T) {
	f := newFixture(t, map[string]string{"a.pak": "alpha"})

	_, err := f.syncer().UpdatePatch(context.Background(), f.target(), "0.9")
	require.ErrorIs(t, err, syncerr.ErrIncrementalUnsupported)
}

// fakeApplier writes a marker file into outDir for every delta it applies.
type fakeApplier struct {
	calls [][3]string
	err   error
}

func (a *fakeApplier) Apply(ctx context.Context, oldDir, diffFile, outDir string) error {
	a.calls = append(a.calls, [3]string{oldDir, diffFile, outDir})
	if a.err != nil {
		return a.err
	}
	return os.WriteFile(filepath.Join(outDir, "patched.txt"), []byte("patched"), 0o644)
}

func newPatchFixture(t *testing.T, applier *fakeApplier) *fixture {
	f := newFixture(t, map[string]string{"old.txt": "old"})
	f.server.put("/patch/game.krdiff", []byte("delta"))
	f.server.put("/patch/new/readme.txt", []byte("readme"))
	f.source.manifest.PatchConfigs = []manifest.PatchConfig{{
		FromVersion: "1.0",
		BaseURL:     "patch",
		IndexFile:   "patch/index.json",
		DeltaAssets: []json.RawMessage{json.RawMessage(`{"dest":"game.krdiff"}`)},
	}}
	f.source.indexes["patch/index.json"] = &manifest.ResourceIndex{Entries: []manifest.ResourceEntry{
		{Dest: "game.krdiff", MD5: checksum.Bytes([]byte("delta"), checksum.MD5), Size: 5},
		{Dest: "new/readme.txt", MD5: checksum.Bytes([]byte("readme"), checksum.MD5), Size: 6},
	}}
	f.opts.Merger = staging.NewMerger(afero.NewOsFs(), testLogger())
	f.opts.PatchTool = func(context.Context) (PatchApplier, error) { return applier, nil }

	require.NoError(t, os.MkdirAll(f.install, 0o755))
	require.NoError(t, os.WriteFile(f.path("old.txt"), []byte("old"), 0o644))
	return f
}

func TestUpdatePatchFlow(t *testing.T) {
	applier := &fakeApplier{}
	f := newPatchFixture(t, applier)
	parent := filepath.Dir(f.install)
	stagingDir := filepath.Join(parent, ".game-staging-testtag")

	report, err := f.syncer().Update(context.Background(), f.target(), "1.0")
	require.NoError(t, err)
	require.Equal(t, OpUpdatePatch, report.Operation)
	require.Equal(t, PhasePatch, report.Phase)
	require.Equal(t, 2, report.Downloaded)
	for _, p := range f.sink.progress {
		require.Equal(t, PhasePatch, p.Phase)
	}

	require.Len(t, applier.calls, 1)
	require.Equal(t, [3]string{f.install, filepath.Join(parent, "game.krdiff"), stagingDir}, applier.calls[0])

	require.Equal(t, "patched", f.read("patched.txt"))
	require.Equal(t, "readme", f.read("new/readme.txt"))
	require.Equal(t, "old", f.read("old.txt"))

	for _, gone := range []string{stagingDir, filepath.Join(parent, "game.krdiff"), f.path(staging.RollbackDirName)} {
		_, err := os.Stat(gone)
		require.True(t, os.IsNotExist(err), gone)
	}
}

func TestUpdatePatchToolFailureKeepsDeltas(t *testing.T) {
	applier := &fakeApplier{err: errors.New("hpatchz: exit status 1")}
	f := newPatchFixture(t, applier)
	parent := filepath.Dir(f.install)

	report, err := f.syncer().UpdatePatch(context.Background(), f.target(), "1.0")
	require.Error(t, err)
	require.Equal(t, OpUpdatePatch, report.Operation)

	_, err = os.Stat(filepath.Join(parent, "game.krdiff"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(parent, ".game-staging-testtag"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(f.path("new/readme.txt"))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, "old", f.read("old.txt"))
}

func TestUpdatePatchCancelledBeforeMerge(t *testing.T) {
	applier := &fakeApplier{}
	f := newPatchFixture(t, applier)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.opts.PatchTool = func(context.Context) (PatchApplier, error) {
		cancel()
		return applier, nil
	}

	_, err := f.syncer().UpdatePatch(ctx, f.target(), "1.0")
	require.ErrorIs(t, err, syncerr.ErrCancelled)
	require.Empty(t, applier.calls)
	_, err = os.Stat(f.path("new/readme.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestVerifyRepairsAndPrunes(t *testing.T) {
	f := newFixture(t, map[string]string{
		"paks/a.pak":    "alpha",
		"paks/b.pak":    "bravo",
		"Game/game.exe": "exe",
	})
	f.opts.ResourcePackDirs = []string{"paks"}
	_, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.path("paks/a.pak"), []byte("corrupt"), 0o644))
	require.NoError(t, os.Remove(f.path("Game/game.exe")))
	require.NoError(t, os.WriteFile(f.path("paks/stale.pak"), []byte("old"), 0o644))
	require.NoError(t, os.MkdirAll(f.path("paks/sub"), 0o755))
	require.NoError(t, os.WriteFile(f.path("paks/sub/keep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(f.path("Game/extra.txt"), []byte("x"), 0o644))

	report, err := f.syncer().Verify(context.Background(), f.target())
	require.NoError(t, err)
	require.NotNil(t, report.Verify)

	v := *report.Verify
	require.Equal(t, 3, v.TotalFiles)
	require.Equal(t, 3, v.VerifiedOK)
	require.Equal(t, 2, v.Redownloaded)
	require.Empty(t, v.Failed)
	require.Equal(t, []string{"paks/stale.pak"}, v.Pruned)

	require.Equal(t, "alpha", f.read("paks/a.pak"))
	require.Equal(t, "exe", f.read("Game/game.exe"))
	require.Equal(t, "x", f.read("paks/sub/keep.txt"))
	require.Equal(t, "x", f.read("Game/extra.txt"))

	require.Len(t, f.sink.verify, 1)
	require.Equal(t, v, f.sink.verify[0])
}

func TestVerifyReportsUnrepairableFiles(t *testing.T) {
	f := newFixture(t, map[string]string{"a.pak": "alpha", "b.pak": "bravo"})
	_, err := f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.path("a.pak"), []byte("corrupt"), 0o644))
	f.server.put("/res/a.pak", []byte("still wrong"))

	report, err := f.syncer().Verify(context.Background(), f.target())
	require.NoError(t, err)
	require.Equal(t, []string{"a.pak"}, report.Verify.Failed)
	require.Equal(t, 1, report.Verify.VerifiedOK)
	require.Zero(t, report.Verify.Redownloaded)
}

func TestStoreRecordsRuns(t *testing.T) {
	f := newFixture(t, map[string]string{"ok.bin": "fine", "missing.bin": "gone"})
	f.server.mu.Lock()
	delete(f.server.files, "/res/missing.bin")
	f.server.mu.Unlock()

	st, err := store.New(filepath.Join(t.TempDir(), "runs.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	f.opts.Store = st

	_, err = f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)

	runs, err := st.ListRuns(f.install, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, OpDownload, runs[0].Operation)
	require.Equal(t, store.StatusPartial, runs[0].Status)
	require.Equal(t, "2.0", runs[0].ManifestVersion)
	require.Equal(t, 1, runs[0].FilesFailed)
	require.Equal(t, "testtag", runs[0].SessionTag)

	failed, err := st.ListFailedFiles(f.install)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "missing.bin", failed[0].FilePath)
	require.Equal(t, runs[0].ID, failed[0].RunID)

	// A later successful download clears the dead letter entry.
	f.server.put("/res/missing.bin", []byte("gone"))
	_, err = f.syncer().Download(context.Background(), f.target())
	require.NoError(t, err)

	failed, err = st.ListFailedFiles(f.install)
	require.NoError(t, err)
	require.Empty(t, failed)

	last, err := st.LastSuccessfulRun(f.install)
	require.NoError(t, err)
	require.Equal(t, store.StatusSuccess, last.Status)
}

func TestStoreRecordsPatchOperation(t *testing.T) {
	f := newPatchFixture(t, &fakeApplier{})
	st, err := store.New(filepath.Join(t.TempDir(), "runs.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	f.opts.Store = st

	_, err = f.syncer().Update(context.Background(), f.target(), "1.0")
	require.NoError(t, err)

	runs, err := st.ListRuns(f.install, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, OpUpdatePatch, runs[0].Operation)
	require.Equal(t, "1.0", runs[0].FromVersion)
	require.Equal(t, store.StatusSuccess, runs[0].Status)
}

func TestUpdateAutoWithoutPatchToolRunsFull(t *testing.T) {
	f := newPatchFixture(t, &fakeApplier{})
	f.opts.PatchTool = nil

	report, err := f.syncer().Update(context.Background(), f.target(), "1.0")
	require.NoError(t, err)
	require.Equal(t, OpUpdateFull, report.Operation)
	require.Equal(t, 1, report.Skipped)

	_, err = os.Stat(filepath.Join(filepath.Dir(f.install), "game.krdiff"))
	require.True(t, os.IsNotExist(err))
}
