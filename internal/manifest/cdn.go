package manifest

import (
	"fmt"
	"strings"

	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// SelectCDN picks the available node with the highest priority. Ties keep the
// node listed first, so the choice is a pure function of the candidate list.
func SelectCDN(nodes []CDNNode) (CDNNode, error) {
	var (
		best  CDNNode
		found bool
	)
	for _, n := range nodes {
		if !n.Available() {
			continue
		}
		if !found || n.Priority > best.Priority {
			best = n
			found = true
		}
	}
	if !found {
		return CDNNode{}, fmt.Errorf("%w: %d candidates, none with both availability flags", syncerr.ErrNoCDNAvailable, len(nodes))
	}
	return best, nil
}

// JoinURL joins base and p, trimming exactly one slash on each side of the boundary.
func JoinURL(base, p string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}

// ResourceURL builds the download URL of a resource: CDN base, then the
// manifest's resources base path, then the percent-encoded destination.
func ResourceURL(cdnURL, basePath, dest string) string {
	return JoinURL(JoinURL(cdnURL, basePath), EscapePath(dest))
}

// EscapePath percent-encodes every byte of p except RFC 3986 unreserved
// characters, ':' and '/'. Backslashes are treated as separators.
func EscapePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")

	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if keepInPath(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

func keepInPath(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '_', '~', ':', '/':
		return true
	}
	return false
}
