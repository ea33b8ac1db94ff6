package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/resolver"
	"github.com/spf13/cobra"
)

var lookalikesCmd = &cobra.Command{
	Use:   "lookalikes",
	Short: "List enrolled identities that the matcher could confuse",
	Long: `Build an HNSW index over every enrolled embedding and report pairs of
different identities whose closest embeddings score at or above the match
threshold. Such pairs are gallery data-quality warnings: a capture of one
could be accepted as the other.

Examples:
  face-attendance lookalikes
  face-attendance lookalikes --k 10 --threshold 0.85`,
	RunE: runLookalikes,
}

func init() {
	rootCmd.AddCommand(lookalikesCmd)

	lookalikesCmd.Flags().Int("k", constants.DefaultLookalikeNeighbors, "Neighbors inspected per embedding")
	lookalikesCmd.Flags().Float64("threshold", 0, "Similarity threshold (defaults to the match threshold)")
	lookalikesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runLookalikes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = a.settings.Get().MatchThreshold
	}

	index := resolver.BuildLookalikeIndex(a.gallery.Snapshot(), a.resolver.Metric())
	pairs := index.Pairs(threshold, mustGetInt(cmd, "k"))

	if mustGetBool(cmd, "json") {
		return outputJSON(pairs)
	}

	fmt.Printf("Indexed %d embeddings, threshold %.2f\n", index.Len(), threshold)
	if len(pairs) == 0 {
		fmt.Println("No lookalike identities found.")
		return nil
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tLOOKS LIKE\tSIMILARITY")
	for _, p := range pairs {
		fmt.Fprintf(w, "%s\t%s\t%.4f\n", p.A, p.B, p.Similarity)
	}
	return w.Flush()
}
