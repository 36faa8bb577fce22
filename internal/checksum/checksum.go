// Package checksum streams local files through MD5 and SHA-256 digests.
package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"strings"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
)

const bufferSize = 1 << 20

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", a)
	}
}

// File computes the hex digest of the file at path.
func File(path string, algo Algorithm) (string, error) {
	h, err := algo.newHash()
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileMD5 returns the MD5 hex digest of path. A missing file yields an empty
// digest and no error, so it never matches an expected value.
func FileMD5(path string) (string, error) {
	sum, err := File(path, MD5)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return sum, err
}

// FileSHA256 returns the SHA-256 hex digest of path.
func FileSHA256(path string) (string, error) {
	return File(path, SHA256)
}

// Bytes returns the hex digest of data.
func Bytes(data []byte, algo Algorithm) string {
	h, err := algo.newHash()
	if err != nil {
		return ""
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares two hex digests case-insensitively. Empty digests never match.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Matches reports whether the file at path has the expected MD5 digest.
func Matches(path, expectedMD5 string) (bool, error) {
	actual, err := FileMD5(path)
	if err != nil {
		return false, err
	}
	return Equal(actual, expectedMD5), nil
}
