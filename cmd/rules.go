package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/compliance-cli/internal/rules"
)

var rulesJSON bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the compliance rules products are checked against",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog := rules.NewEngine(rules.DefaultTable()).Catalog()
		if rulesJSON {
			return writeJSON(os.Stdout, catalog)
		}
		formatRules(os.Stdout, catalog)
		return nil
	},
}

func init() {
	rulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "print the catalog as JSON")
	rootCmd.AddCommand(rulesCmd)
}
