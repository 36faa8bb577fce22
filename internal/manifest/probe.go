package manifest

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	probeTimeout    = 5 * time.Second
	probeMaxWorkers = 8
)

// ProbeResult is the outcome of a latency probe against one CDN node.
type ProbeResult struct {
	Node      CDNNode `json:"node"`
	Selected  bool    `json:"selected"`
	LatencyMs int     `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// ProbeCDNs sends a HEAD request to every node concurrently and reports
// latency. It is diagnostic only: selection stays with SelectCDN. Results keep
// the manifest order; unavailable nodes are listed but not contacted.
func ProbeCDNs(ctx context.Context, hc *http.Client, nodes []CDNNode) []ProbeResult {
	if hc == nil {
		hc = http.DefaultClient
	}
	results := make([]ProbeResult, len(nodes))
	selected, selErr := SelectCDN(nodes)

	sem := make(chan struct{}, probeMaxWorkers)
	var wg sync.WaitGroup

	for i, n := range nodes {
		results[i] = ProbeResult{Node: n}
		if selErr == nil && n == selected && !alreadySelected(results[:i]) {
			results[i].Selected = true
		}
		if !n.Available() {
			results[i].Error = "unavailable"
			continue
		}

		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
			if err != nil {
				results[idx].Error = err.Error()
				return
			}
			req.Header.Set("User-Agent", "gamesync/1.0")

			start := time.Now()
			resp, err := hc.Do(req)
			results[idx].LatencyMs = int(time.Since(start).Milliseconds())
			if err != nil {
				results[idx].Error = err.Error()
				return
			}
			resp.Body.Close()
		}(i, n.URL)
	}

	wg.Wait()
	return results
}

func alreadySelected(rs []ProbeResult) bool {
	for _, r := range rs {
		if r.Selected {
			return true
		}
	}
	return false
}

// ByLatency orders probe results fastest first, failures last.
func ByLatency(rs []ProbeResult) []ProbeResult {
	out := append([]ProbeResult(nil), rs...)
	sort.SliceStable(out, func(i, j int) bool {
		if (out[i].Error == "") != (out[j].Error == "") {
			return out[i].Error == ""
		}
		return out[i].LatencyMs < out[j].LatencyMs
	})
	return out
}
