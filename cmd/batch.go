package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	batchSource string
	batchLimit  int
	batchJSON   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Rescan the stored products of a source",
	Long:  "Rescans up to --limit stored products of --source with a bounded worker pool. Ctrl-C stops new scans; in-flight scans finish.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		limit := batchLimit
		if limit <= 0 {
			limit = cfg.Batch.DefaultLimit
		}

		res, err := env.Coordinator.Run(ctx, batchSource, limit)
		if err != nil {
			return eris.Wrap(err, "batch")
		}
		if res.Skipped > 0 {
			zap.L().Warn("batch interrupted", zap.Int("skipped", res.Skipped))
		}

		if batchJSON {
			return writeJSON(os.Stdout, res)
		}
		formatBatchResult(os.Stdout, res)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchSource, "source", "", "source reference to rescan (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max products to rescan (default from config)")
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "print the result as JSON")
	_ = batchCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(batchCmd)
}
