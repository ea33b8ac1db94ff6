package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/resolver"
	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Show the closest enrolled identities for an image",
	Long: `Embed the face in an image and rank it against the enrollment gallery.

Nothing is recorded in the ledger and the image is not moved.

Examples:
  face-attendance match capture.jpg
  face-attendance match capture.jpg --top 10 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Int("top", constants.DefaultTopMatches, "Number of matches to show")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

// MatchOutput is the ranked result for one image.
type MatchOutput struct {
	Image     string                   `json:"image"`
	Threshold float64                  `json:"threshold"`
	Matches   []attendance.MatchResult `json:"matches"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.engine.Match(ctx, args[0])
	if err != nil {
		return fmt.Errorf("matching %s: %w", args[0], err)
	}

	out := MatchOutput{
		Image:     args[0],
		Threshold: a.settings.Get().MatchThreshold,
		Matches:   resolver.Top(results, mustGetInt(cmd, "top")),
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}

	fmt.Printf("Top matches for %s (threshold %.2f):\n\n", out.Image, out.Threshold)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tIDENTITY\tCONFIDENCE\tPASSES")
	for i, m := range out.Matches {
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%v\n", i+1, m.Identity, m.Confidence, m.PassesThreshold)
	}
	return w.Flush()
}
