package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/kozaktomas/face-attendance/internal/engine"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [image]",
	Short: "Register faces in the enrollment gallery",
	Long: `Register a face image under an identity, or every image in a directory.

With --dir, each image is enrolled under the identity claimed by its filename
(S2_Math.jpg enrolls S2). Every image must contain exactly one face.

Examples:
  # Enroll one image
  face-attendance enroll photo.jpg --id S2

  # Enroll a directory of named photos with 8 workers
  face-attendance enroll --dir ./students --concurrency 8`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("id", "", "Identity to enroll the image under")
	enrollCmd.Flags().String("dir", "", "Enroll every image in this directory")
	enrollCmd.Flags().Int("concurrency", 5, "Number of parallel workers for --dir")
	enrollCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// EnrollResult summarizes a directory enrollment.
type EnrollResult struct {
	Success       bool              `json:"success"`
	Processed     int               `json:"processed"`
	Enrolled      int               `json:"enrolled"`
	Errors        map[string]string `json:"errors,omitempty"`
	DurationMs    int64             `json:"duration_ms"`
	DurationHuman string            `json:"duration_human,omitempty"`
}

func runEnroll(cmd *cobra.Command, args []string) error {
	id := mustGetString(cmd, "id")
	dir := mustGetString(cmd, "dir")
	switch {
	case dir == "" && len(args) == 0:
		return errors.New("either an image or --dir is required")
	case dir != "" && len(args) > 0:
		return errors.New("use either an image or --dir, not both")
	case dir == "" && id == "":
		return errors.New("--id is required when enrolling a single image")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if dir == "" {
		if err := a.engine.Enroll(ctx, id, args[0]); err != nil {
			return fmt.Errorf("enrolling %s: %w", args[0], err)
		}
		fmt.Printf("Enrolled %s as %s\n", args[0], id)
		return nil
	}
	return enrollDirectory(ctx, cmd, a, dir)
}

func enrollDirectory(ctx context.Context, cmd *cobra.Command, a *app, dir string) error {
	jsonOutput := mustGetBool(cmd, "json")
	startTime := time.Now()

	var bar *progressbar.ProgressBar
	opts := engine.BulkOptions{Concurrency: mustGetInt(cmd, "concurrency")}
	if !jsonOutput {
		opts.OnProgress = func(p engine.ProgressInfo) {
			if bar == nil {
				bar = progressbar.NewOptions(p.Total,
					progressbar.OptionSetDescription("Enrolling"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("faces"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			bar.Add(1)
		}
	}

	res, err := a.engine.EnrollDir(ctx, dir, opts)
	if err != nil {
		return err
	}
	if bar != nil {
		fmt.Println()
	}

	duration := time.Since(startTime)
	result := EnrollResult{
		Success:       len(res.Errors) == 0,
		Processed:     res.ProcessedCount,
		Enrolled:      res.EnrolledCount,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}
	if len(res.Errors) > 0 {
		result.Errors = make(map[string]string, len(res.Errors))
		for file, ferr := range res.Errors {
			result.Errors[file] = ferr.Error()
		}
	}

	if jsonOutput {
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Printf("Enrolled %d of %d image(s) in %s\n", result.Enrolled, result.Processed, result.DurationHuman)
	if len(result.Errors) > 0 {
		files := make([]string, 0, len(result.Errors))
		for file := range result.Errors {
			files = append(files, file)
		}
		sort.Strings(files)
		fmt.Printf("\nFailed (%d):\n", len(files))
		for _, file := range files {
			fmt.Printf("  %s: %s\n", file, result.Errors[file])
		}
	}
	return nil
}
