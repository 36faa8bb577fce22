package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/gamesync/internal/manifest"
	"github.com/BadgerOps/gamesync/internal/safety"
)

func newCDNCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cdn",
		Short: "List the manifest's CDN nodes with probe latency",
		Long: `Fetch the manifest, mark the node gamesync would download from, and probe
each available node with a HEAD request. Probing never changes which node is
selected; that follows the manifest priority.`,
		Example: `  gamesync cdn
  gamesync cdn --manifest-url https://launcher.example.com/manifest.json`,
		RunE: cdnRun,
	}
}

func cdnRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalCfg.Game.ManifestURL == "" {
		return fmt.Errorf("game.manifest_url is required")
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := manifest.NewClient(logger,
		manifest.WithUserAgent(globalCfg.Download.UserAgent),
		manifest.WithBodyLimit(globalCfg.Download.ManifestBodyLimit),
	)
	m, err := client.FetchManifest(ctx, globalCfg.Game.ManifestURL)
	if err != nil {
		return err
	}

	results := manifest.ProbeCDNs(ctx, safety.NewHTTPClient(0), m.CDNs)
	printProbe(os.Stdout, m.Version, results)
	return nil
}

func printProbe(w io.Writer, version string, results []manifest.ProbeResult) {
	fmt.Fprintf(w, "Manifest version: %s\n\n", version)
	fmt.Fprintf(w, "%-3s %-50s %8s %10s  %s\n", "", "URL", "Priority", "Latency", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 84))
	for _, r := range manifest.ByLatency(results) {
		mark := ""
		if r.Selected {
			mark = "*"
		}
		status := "ok"
		if r.Error != "" {
			status = r.Error
		}
		latency := "-"
		if r.Error == "" {
			latency = fmt.Sprintf("%dms", r.LatencyMs)
		}
		fmt.Fprintf(w, "%-3s %-50s %8d %10s  %s\n", mark, r.Node.URL, int64(r.Node.Priority), latency, status)
	}
}
