package safety

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BadgerOps/gamesync/internal/syncerr"
)

func TestSafeJoinUnder(t *testing.T) {
	root := t.TempDir()

	okPath, err := SafeJoinUnder(root, "Client/Content/Paks/pakchunk0.pak")
	if err != nil {
		t.Fatalf("SafeJoinUnder returned error: %v", err)
	}
	if !strings.HasPrefix(okPath, root) {
		t.Fatalf("path %q is not under root %q", okPath, root)
	}

	rejected := []string{
		"../../etc/passwd",
		"/abs/path.txt",
		"a/../../escape.txt",
		"..\\..\\windows\\system32",
		"C:/Windows/win.ini",
		"",
		".",
	}
	for _, p := range rejected {
		if _, err := SafeJoinUnder(root, p); !errors.Is(err, syncerr.ErrPathTraversal) {
			t.Errorf("SafeJoinUnder(%q) = %v, want ErrPathTraversal", p, err)
		}
	}
}

func TestCleanRelativePathNormalizes(t *testing.T) {
	got, err := CleanRelativePath("Client//Binaries/./Win64/game.exe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.FromSlash("Client/Binaries/Win64/game.exe")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, root+"/child/file.txt"); err != nil {
		t.Fatalf("EnsureUnderRoot failed for child path: %v", err)
	}
	if _, err := EnsureUnderRoot(root, root+"/../escape"); !errors.Is(err, syncerr.ErrPathTraversal) {
		t.Fatalf("expected escape path to fail with ErrPathTraversal, got %v", err)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	_, err := ReadAllWithLimit(strings.NewReader("abc"), 2)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	data, err := ReadAllWithLimit(io.NopCloser(strings.NewReader("abc")), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("unexpected data: %q", string(data))
	}
}

func TestValidateHTTPURL(t *testing.T) {
	if _, err := ValidateHTTPURL("https://cdn.example.com/launcher/manifest.json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, raw := range []string{"ftp://cdn.example.com/x", "https://user:pw@cdn.example.com/x", "http:///nohost"} {
		if _, err := ValidateHTTPURL(raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}
