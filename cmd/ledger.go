package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and export the attendance ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print attendance records",
	Long: `Print attendance records, optionally filtered by date and identity.

Examples:
  face-attendance ledger show --today
  face-attendance ledger show --date 2026-03-02 --id S2`,
	RunE: runLedgerShow,
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write attendance records as CSV",
	Long: `Write attendance records as CSV in the layout of the current mode.

Examples:
  face-attendance ledger export --date 2026-03-02 > math.csv
  face-attendance ledger export --output all.csv`,
	RunE: runLedgerExport,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerExportCmd)

	for _, c := range []*cobra.Command{ledgerShowCmd, ledgerExportCmd} {
		c.Flags().String("date", "", "Only records for this date (YYYY-MM-DD)")
		c.Flags().Bool("today", false, "Only records for today")
	}
	ledgerShowCmd.Flags().String("id", "", "Only records for this identity")
	ledgerShowCmd.Flags().Bool("json", false, "Output as JSON")
	ledgerExportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
}

// ledgerDate resolves the --date and --today flags.
func ledgerDate(cmd *cobra.Command) (string, error) {
	if mustGetBool(cmd, "today") {
		return time.Now().Format(constants.DateLayout), nil
	}
	date := mustGetString(cmd, "date")
	if date == "" {
		return "", nil
	}
	if _, err := time.Parse(constants.DateLayout, date); err != nil {
		return "", fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", date)
	}
	return date, nil
}

// openLedgerOnly opens the ledger without the gallery or face service.
func openLedgerOnly(ctx context.Context) (ledger.Store, *config.SettingsStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	settings, err := config.OpenSettings(cfg.Settings.Path)
	if err != nil {
		return nil, nil, err
	}
	store, err := openLedger(ctx, cfg, settings.Get().Mode)
	if err != nil {
		return nil, nil, err
	}
	return store, settings, nil
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	date, err := ledgerDate(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, _, err := openLedgerOnly(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Query(ctx, date, attendance.NormalizeIdentity(mustGetString(cmd, "id")))
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		if records == nil {
			records = []attendance.Record{}
		}
		return outputJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("No attendance records.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tCONTEXT\tDATE\tTIME\tSTATUS\tMETHOD\tCONFIDENCE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.4f\n",
			r.Identity, r.Context, r.Date, r.Time.Format(constants.TimeLayout), r.Status, r.Method, r.Confidence)
	}
	return w.Flush()
}

func runLedgerExport(cmd *cobra.Command, args []string) error {
	date, err := ledgerDate(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, settings, err := openLedgerOnly(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	schema := ledger.SchemaForMode(settings.Get().Mode)
	if csvStore, ok := store.(*ledger.CSVStore); ok {
		schema = csvStore.Schema()
	}

	var out io.Writer = os.Stdout
	if path := mustGetString(cmd, "output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}

	n, err := ledger.Export(ctx, store, out, date, schema)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %d record(s)\n", n)
	return nil
}
