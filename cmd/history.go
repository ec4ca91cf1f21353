package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facelens/internal/types"
	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:         "history",
	Short:       "List recent face analyses stored in the database",
	Annotations: map[string]string{requiresDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		records, err := DB.ListAnalyses(cmd.Context(), historyLimit)
		if err != nil {
			utils.Die("Failed to list analyses", err, nil)
		}
		printHistory(os.Stdout, records)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(out io.Writer, records []types.AnalysisRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No analyses found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tCAPTURED\tSIZE\tOUTCOME\tPOSE (P/R/Y)\tREASON")
	fmt.Fprintln(w, "--\t--------\t----\t-------\t------------\t------")

	for _, r := range records {
		pose := "-"
		if r.Pitch != nil && r.Roll != nil && r.Yaw != nil {
			pose = fmt.Sprintf("%.1f/%.1f/%.1f", *r.Pitch, *r.Roll, *r.Yaw)
		}
		reason := r.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%dx%d\t%s\t%s\t%s\n", r.ID, r.CapturedAt.Local().Format("2006-01-02 15:04:05"),
			r.Width, r.Height, r.Outcome, pose, reason)
	}
	w.Flush()
}
