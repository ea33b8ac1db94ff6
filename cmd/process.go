package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Decide every capture currently in the upload directory",
	Long: `Process all pending captures in the intake directory once and exit.

Each capture is decided, recorded in the ledger and moved out of the intake
directory, exactly as the serve command would do it.

Examples:
  face-attendance process
  face-attendance process --json`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().Bool("json", false, "Output as JSON")
}

// ProcessResult summarizes a one-shot intake pass.
type ProcessResult struct {
	Processed  int   `json:"processed"`
	Successful int   `json:"successful"`
	Rejected   int   `json:"rejected"`
	DurationMs int64 `json:"duration_ms"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := os.MkdirAll(cfg.Paths.IntakeDir, 0o755); err != nil {
		return fmt.Errorf("creating intake dir: %w", err)
	}

	start := time.Now()
	n, err := a.newWatcher().ProcessNow(ctx)
	if err != nil {
		return fmt.Errorf("processing intake: %w", err)
	}
	snap := a.stats.Snapshot()

	result := ProcessResult{
		Processed:  n,
		Successful: snap.SuccessfulCount,
		Rejected:   snap.RejectedCount,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("Processed %d capture(s) in %s\n", result.Processed, formatDuration(time.Since(start)))
	fmt.Printf("  Present:  %d\n", result.Successful)
	fmt.Printf("  Rejected: %d\n", result.Rejected)
	for _, e := range snap.RecentEntries {
		fmt.Printf("  %-20s %-12s %s (%.3f)\n", e.Identity, e.Context, e.Method, e.Confidence)
	}
	return nil
}
