package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"witlab/cmd/wit/ui"
	"witlab/internal/store"
)

var (
	historyLimit       int
	historyExtractions bool
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries")
	historyCmd.Flags().BoolVar(&historyExtractions, "extractions", false, "Show IV extractions instead of predictions")
}

// historyCmd lists recorded predictions or extractions
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent predictions (or IV extractions) from the history database",
	RunE:  showHistory,
}

func showHistory(cmd *cobra.Command, args []string) error {
	if cfg.Storage.HistoryPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "History is disabled (storage.history_path is empty).")
		return nil
	}
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	h, err := store.Open(cfg.Storage.HistoryPath)
	if err != nil {
		return err
	}
	defer h.Close()

	styles := ui.NewStyles(ui.DetectTheme())
	var tbl *ui.SimpleTable
	if historyExtractions {
		entries, err := h.RecentExtractions(ctx, historyLimit)
		if err != nil {
			return err
		}
		tbl = extractionTable(entries)
	} else {
		entries, err := h.RecentPredictions(ctx, historyLimit)
		if err != nil {
			return err
		}
		tbl = predictionTable(entries)
	}

	out := tbl.View(styles)
	if out == "" {
		out = "No entries recorded yet."
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(out, "\n"))
	return nil
}

func predictionTable(entries []store.PredictionEntry) *ui.SimpleTable {
	tbl := ui.NewSimpleTable("Predictions", "Time", "Mode", "Formula", "PCE", "FF", "Voc", "Jsc", "Error")
	for _, e := range entries {
		tbl.AddRow(
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Mode,
			e.Formula,
			formatMetric(e.PCE),
			formatMetric(e.FF),
			formatMetric(e.Voc),
			formatMetric(e.Jsc),
			e.Error,
		)
	}
	return tbl
}

func extractionTable(entries []store.ExtractionEntry) *ui.SimpleTable {
	tbl := ui.NewSimpleTable("IV extractions", "Time", "File", "Metrics")
	for _, e := range entries {
		parts := make([]string, 0, len(e.Metrics))
		for _, k := range sortedKeys(e.Metrics) {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Metrics[k]))
		}
		tbl.AddRow(e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.File, strings.Join(parts, " "))
	}
	return tbl
}

func formatMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
