package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/BadgerOps/gamesync/internal/config"
	"github.com/BadgerOps/gamesync/internal/engine"
	"github.com/BadgerOps/gamesync/internal/localversion"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// operation runs one engine call against the configured target.
type operation func(ctx context.Context, s *engine.Syncer, target engine.Target) (*engine.Report, error)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runOperation wires a session, runs op with a live progress line and prints
// the summary. The local version sidecar is written only when recordVersion
// is set and every file ended correct.
func runOperation(name string, recordVersion bool, op operation) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess, err := newSession(ctx, globalCfg)
	if err != nil {
		return err
	}
	defer sess.close()

	target := sess.target
	target.Tracker = engine.NewTracker()
	var stop func()
	if !quiet {
		stop = watchProgress(target.Tracker, os.Stderr)
	}
	report, err := op(ctx, sess.syncer, target)
	if stop != nil {
		stop()
	}

	if report != nil {
		printReport(os.Stdout, name, report)
	}

	switch {
	case syncerr.IsCancelled(err):
		return fmt.Errorf("%s cancelled; run it again to resume", name)
	case err != nil:
		return fmt.Errorf("%s failed: %w", name, err)
	case !report.OK():
		return fmt.Errorf("%s completed with %d failures", name, len(report.Failed))
	}

	if recordVersion && report.Version != "" {
		if err := localversion.New(afero.NewOsFs()).Write(sess.target.InstallDir, report.Version); err != nil {
			return fmt.Errorf("recording local version: %w", err)
		}
		logger.Info("local version recorded", "version", report.Version)
	}
	return nil
}

// watchProgress redraws a one-line progress summary whenever the tracker
// changes. The returned func stops the printer and waits for it to exit.
func watchProgress(tracker *engine.Tracker, w io.Writer) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			changed := tracker.Wait()
			select {
			case <-done:
				fmt.Fprintln(w)
				return
			case <-changed:
			case <-ticker.C:
			}
			if tracker.Running() {
				fmt.Fprintf(w, "\r%s", formatProgress(tracker.Snapshot()))
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func formatProgress(p engine.DownloadProgress) string {
	line := fmt.Sprintf("[%s] %d/%d files  %s/%s  %s/s",
		p.Phase,
		p.FinishedFiles, p.TotalFiles,
		config.FormatSize(int64(p.FinishedBytes)), config.FormatSize(int64(p.TotalBytes)),
		config.FormatSize(int64(p.SpeedBps)),
	)
	if p.ETASeconds > 0 {
		line += fmt.Sprintf("  eta %s", (time.Duration(p.ETASeconds) * time.Second).Truncate(time.Second))
	}
	return line + "   "
}

func printReport(w io.Writer, name string, r *engine.Report) {
	fmt.Fprintf(w, "\n=== %s SUMMARY ===\n", name)
	fmt.Fprintf(w, "Operation:   %s\n", r.Operation)
	if r.FromVersion != "" {
		fmt.Fprintf(w, "From:        %s\n", r.FromVersion)
	}
	fmt.Fprintf(w, "Version:     %s\n", r.Version)
	fmt.Fprintf(w, "Files:       %d/%d\n", r.FinishedFiles, r.TotalFiles)
	fmt.Fprintf(w, "Downloaded:  %d\n", r.Downloaded)
	fmt.Fprintf(w, "Skipped:     %d\n", r.Skipped)
	fmt.Fprintf(w, "Failed:      %d\n", len(r.Failed))
	fmt.Fprintf(w, "Bytes:       %s\n", config.FormatSize(r.BytesReceived))
	fmt.Fprintf(w, "Duration:    %s\n", r.Duration.Truncate(time.Millisecond))

	if v := r.Verify; v != nil {
		fmt.Fprintf(w, "Verified OK: %d\n", v.VerifiedOK)
		fmt.Fprintf(w, "Repaired:    %d\n", v.Redownloaded)
		if len(v.Pruned) > 0 {
			fmt.Fprintf(w, "Pruned:      %d\n", len(v.Pruned))
			for _, p := range v.Pruned {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		}
	}

	if len(r.Failed) > 0 {
		fmt.Fprintln(w, "Failed files:")
		for _, f := range r.Failed {
			fmt.Fprintf(w, "  - %s: %v\n", f.Path, f.Err)
		}
	}
}
