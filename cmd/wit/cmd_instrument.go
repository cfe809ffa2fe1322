package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"witlab/internal/instrument"
	"witlab/internal/store"
)

// ivCmd extracts IV metrics
var ivCmd = &cobra.Command{
	Use:   "iv [files...]",
	Short: "Extract Voc, Isc, FF and efficiency from IV files",
	Long: `Extracts metrics from IV instrument files named
IV_<n>_<YYYYMMDD>_<n>_<n>_CH<n>.txt. Relative paths resolve against the
experiment data folder.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLabTool(cmd, "exp_IV", map[string]any{"IV_file": args})
	},
}

// insituCmd validates in-situ files
var insituCmd = &cobra.Command{
	Use:   "insitu [files...]",
	Short: "Validate and summarize in-situ absorption CSV files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLabTool(cmd, "exp_Insitu", map[string]any{"InSitu_file": args})
	},
}

// watchCmd extracts IV files as they arrive
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and extract IV files as they are written",
	Long: `Watches a directory (default: the experiment data folder) and prints the
extraction report for every IV file once it stops changing. Runs until
interrupted or --timeout expires.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	dir := cfg.Storage.BaseFolder
	if len(args) == 1 {
		dir = args[0]
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	w, err := instrument.NewWatcher(dir, a.extractor, cfg.GetSettleDelay(), func(path string, rep *instrument.Report) {
		printReport(out, path, rep)
		a.recordReport(rep)
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	logger.Info("Watching for IV files", zap.String("dir", dir))
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl+C to stop)\n", dir)

	<-ctx.Done()
	w.Stop()
	stats := w.Stats()
	logger.Info("Watcher stopped", zap.Any("stats", stats))
	return nil
}

func printReport(out io.Writer, path string, rep *instrument.Report) {
	fmt.Fprintf(out, "== %s\n%s\n", path, rep.Render())
}

// recordReport stores watcher extractions in the history database.
func (a *app) recordReport(rep *instrument.Report) {
	if a.history == nil || rep.Aborted {
		return
	}
	for _, rec := range rep.Records {
		metrics := make(map[string]string, len(rec.Metrics))
		for _, m := range rec.Metrics {
			metrics[m.Name] = m.Value
		}
		if _, err := a.history.RecordExtraction(context.Background(), store.ExtractionEntry{
			SessionID: "watch",
			File:      rec.File,
			Metrics:   metrics,
		}); err != nil {
			logger.Warn("failed to record extraction", zap.String("file", rec.File), zap.Error(err))
			return
		}
	}
}
