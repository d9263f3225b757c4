package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/compliance-cli/internal/scanner"
)

var (
	scanURL      string
	scanSource   string
	scanCategory string
	scanJSON     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a single product page",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Scanner.Scan(ctx, scanner.Request{
			URL:         scanURL,
			SourceRef:   scanSource,
			CategoryRef: scanCategory,
		})
		if err != nil {
			return eris.Wrapf(err, "scan %s", scanURL)
		}

		if scanJSON {
			return writeJSON(os.Stdout, res)
		}
		formatScanResult(os.Stdout, res)
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanURL, "url", "", "product page URL (required)")
	scanCmd.Flags().StringVar(&scanSource, "source", "", "source reference stored with the product")
	scanCmd.Flags().StringVar(&scanCategory, "category", "", "category reference stored with the product")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the result as JSON")
	_ = scanCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(scanCmd)
}
