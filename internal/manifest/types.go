package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Manifest is the launcher document describing the current game version.
// It is fetched fresh for every operation and never cached.
type Manifest struct {
	Version           string
	ResourcesBasePath string
	CDNs              []CDNNode
	IndexFile         string
	PatchConfigs      []PatchConfig
}

// CDNNode is one candidate download origin.
type CDNNode struct {
	URL      string  `json:"url"`
	K1       Flag    `json:"K1"`
	K2       Flag    `json:"K2"`
	Priority Integer `json:"P"`
}

// Available reports whether both availability flags are set.
func (n CDNNode) Available() bool {
	return bool(n.K1) && bool(n.K2) && strings.TrimSpace(n.URL) != ""
}

// PatchConfig describes a delta path from FromVersion to the manifest version.
type PatchConfig struct {
	FromVersion string            `json:"version"`
	BaseURL     string            `json:"baseUrl"`
	IndexFile   string            `json:"indexFile"`
	DeltaAssets []json.RawMessage `json:"deltaAssets"`
}

// SupportsIncremental reports whether the config lists any delta assets.
func (p PatchConfig) SupportsIncremental() bool {
	return len(p.DeltaAssets) > 0
}

// ResourceEntry is one file of an installation.
type ResourceEntry struct {
	Dest string
	MD5  string
	Size uint64
}

// ResourceIndex is the ordered list of files that make up an installation.
// Order follows the remote document and only drives progress reporting.
type ResourceIndex struct {
	Entries []ResourceEntry
}

// Len returns the number of entries.
func (r *ResourceIndex) Len() int {
	return len(r.Entries)
}

// TotalSize sums the declared size of every entry.
func (r *ResourceIndex) TotalSize() uint64 {
	var total uint64
	for _, e := range r.Entries {
		total += e.Size
	}
	return total
}

// Flag is an availability flag that tolerates bool, number and string encodings.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = n != 0
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "", "0", "false", "no", "off":
			*f = false
		default:
			*f = true
		}
		return nil
	}

	return fmt.Errorf("invalid flag value %s", string(data))
}

// Integer is a number that may be encoded as a JSON number or a numeric string.
type Integer int64

// UnmarshalJSON implements json.Unmarshaler.
func (i *Integer) UnmarshalJSON(data []byte) error {
	n, err := parseUint(data, true)
	if err != nil {
		return err
	}
	*i = Integer(n)
	return nil
}

// size accepts the index's size field as a number or a string.
type size uint64

func (s *size) UnmarshalJSON(data []byte) error {
	n, err := parseUint(data, false)
	if err != nil {
		return err
	}
	*s = size(n)
	return nil
}

func parseUint(data []byte, allowNegative bool) (int64, error) {
	data = bytes.TrimSpace(data)
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		raw = strings.TrimSpace(s)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("invalid integer %q", raw)
		}
		n = int64(f)
	}
	if n < 0 && !allowNegative {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

// Wire documents. Required fields are pointers so absence is detectable.

type manifestDocument struct {
	Default *manifestBody `json:"default"`
}

type manifestBody struct {
	Version           *string         `json:"version"`
	ResourcesBasePath string          `json:"resourcesBasePath"`
	CDNList           []CDNNode       `json:"cdnList"`
	Config            *manifestConfig `json:"config"`
}

type manifestConfig struct {
	IndexFile   *string       `json:"indexFile"`
	PatchConfig []PatchConfig `json:"patchConfig"`
}

type indexDocument struct {
	Resource *[]resourceWire `json:"resource"`
}

type resourceWire struct {
	Dest *string `json:"dest"`
	MD5  *string `json:"md5"`
	Size *size   `json:"size"`
}
