package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeCDNs(t *testing.T) {
	var heads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
		}
	}))
	defer srv.Close()

	nodes := []CDNNode{
		{URL: srv.URL + "/a", K1: true, K2: true, Priority: 1},
		{URL: "http://down.invalid", K1: false, K2: true, Priority: 9},
		{URL: srv.URL + "/b", K1: true, K2: true, Priority: 5},
		{URL: "http://127.0.0.1:1", K1: true, K2: true, Priority: 2},
	}

	results := ProbeCDNs(context.Background(), srv.Client(), nodes)
	require.Len(t, results, 4)
	require.EqualValues(t, 2, heads.Load())

	require.Empty(t, results[0].Error)
	require.Equal(t, "unavailable", results[1].Error)
	require.True(t, results[2].Selected)
	require.False(t, results[0].Selected)
	require.NotEmpty(t, results[3].Error)

	ordered := ByLatency(results)
	require.Empty(t, ordered[0].Error)
	require.Empty(t, ordered[1].Error)
	require.NotEmpty(t, ordered[3].Error)
}
