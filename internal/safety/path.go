package safety

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// CleanRelativePath validates and normalizes a manifest-relative path.
// Manifest paths use forward slashes; absolute paths, drive letters and
// parent traversal segments are rejected with syncerr.ErrPathTraversal.
func CleanRelativePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: path is empty", syncerr.ErrPathTraversal)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte: %q", syncerr.ErrPathTraversal, p)
	}

	slashed := strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(slashed, "/") || filepath.VolumeName(p) != "" || hasDriveLetter(slashed) {
		return "", fmt.Errorf("%w: absolute paths are not allowed: %q", syncerr.ErrPathTraversal, p)
	}

	clean := filepath.Clean(filepath.FromSlash(slashed))
	if clean == "." {
		return "", fmt.Errorf("%w: path resolves to root: %q", syncerr.ErrPathTraversal, p)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: parent traversal is not allowed: %q", syncerr.ErrPathTraversal, p)
	}
	return clean, nil
}

// SafeJoinUnder joins a manifest-relative path under root and verifies the
// result stays inside root.
func SafeJoinUnder(root, rel string) (string, error) {
	cleanRel, err := CleanRelativePath(rel)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, cleanRel))
}

// EnsureUnderRoot verifies candidate resolves under root and returns an
// absolute normalized path. Symlinks are not followed.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("%w: compare paths: %v", syncerr.ErrPathTraversal, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes root: %q", syncerr.ErrPathTraversal, candidate)
	}
	return candAbs, nil
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
