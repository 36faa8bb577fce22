package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/BadgerOps/gamesync/internal/syncerr"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText returns body as UTF-8. Launcher documents served by some CDNs
// are GBK encoded, so invalid UTF-8 is retried as GBK before giving up.
func decodeText(body []byte) ([]byte, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	if utf8.Valid(body) {
		return body, nil
	}

	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: body is neither UTF-8 nor GBK: %v", syncerr.ErrManifestParse, err)
	}
	return decoded, nil
}

// ParseManifest decodes a launcher manifest document.
func ParseManifest(body []byte) (*Manifest, error) {
	text, err := decodeText(body)
	if err != nil {
		return nil, err
	}

	var doc manifestDocument
	if err := json.Unmarshal(text, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrManifestParse, err)
	}

	var missing []string
	if doc.Default == nil {
		return nil, fmt.Errorf("%w: missing \"default\" object", syncerr.ErrManifestParse)
	}
	d := doc.Default
	if d.Version == nil || strings.TrimSpace(*d.Version) == "" {
		missing = append(missing, "version")
	}
	if len(d.CDNList) == 0 {
		missing = append(missing, "cdnList")
	}
	if d.Config == nil || d.Config.IndexFile == nil || strings.TrimSpace(*d.Config.IndexFile) == "" {
		missing = append(missing, "config.indexFile")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", syncerr.ErrManifestParse, strings.Join(missing, ", "))
	}

	return &Manifest{
		Version:           strings.TrimSpace(*d.Version),
		ResourcesBasePath: d.ResourcesBasePath,
		CDNs:              d.CDNList,
		IndexFile:         *d.Config.IndexFile,
		PatchConfigs:      d.Config.PatchConfig,
	}, nil
}

// ParseResourceIndex decodes a resource index document.
func ParseResourceIndex(body []byte) (*ResourceIndex, error) {
	text, err := decodeText(body)
	if err != nil {
		return nil, err
	}

	var doc indexDocument
	if err := json.Unmarshal(text, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrManifestParse, err)
	}
	if doc.Resource == nil {
		return nil, fmt.Errorf("%w: missing \"resource\" array", syncerr.ErrManifestParse)
	}

	index := &ResourceIndex{Entries: make([]ResourceEntry, 0, len(*doc.Resource))}
	seen := make(map[string]int, len(*doc.Resource))
	for i, w := range *doc.Resource {
		if w.Dest == nil || strings.TrimSpace(*w.Dest) == "" {
			return nil, fmt.Errorf("%w: resource[%d] missing dest", syncerr.ErrManifestParse, i)
		}
		if w.MD5 == nil {
			return nil, fmt.Errorf("%w: resource[%d] (%s) missing md5", syncerr.ErrManifestParse, i, *w.Dest)
		}
		if w.Size == nil {
			return nil, fmt.Errorf("%w: resource[%d] (%s) missing size", syncerr.ErrManifestParse, i, *w.Dest)
		}
		if prev, dup := seen[*w.Dest]; dup {
			return nil, fmt.Errorf("%w: duplicate dest %q at resource[%d] and resource[%d]", syncerr.ErrManifestParse, *w.Dest, prev, i)
		}
		seen[*w.Dest] = i

		index.Entries = append(index.Entries, ResourceEntry{
			Dest: *w.Dest,
			MD5:  strings.ToLower(strings.TrimSpace(*w.MD5)),
			Size: uint64(*w.Size),
		})
	}
	return index, nil
}

// PatchFor returns the patch config that upgrades fromVersion, or
// syncerr.ErrIncrementalUnsupported when none exists or it carries no delta assets.
func (m *Manifest) PatchFor(fromVersion string) (*PatchConfig, error) {
	for i := range m.PatchConfigs {
		pc := &m.PatchConfigs[i]
		if pc.FromVersion != fromVersion {
			continue
		}
		if !pc.SupportsIncremental() {
			return nil, fmt.Errorf("%w: patch from %s lists no delta assets", syncerr.ErrIncrementalUnsupported, fromVersion)
		}
		if strings.TrimSpace(pc.IndexFile) == "" {
			return nil, fmt.Errorf("%w: patch from %s has no index file", syncerr.ErrIncrementalUnsupported, fromVersion)
		}
		return pc, nil
	}
	return nil, fmt.Errorf("%w: no patch from %q to %s", syncerr.ErrIncrementalUnsupported, fromVersion, m.Version)
}
