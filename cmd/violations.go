package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/store"
)

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "Review and work detected violations",
	Long:  "Commands for listing violations and moving them through assign, resolve and dismiss.",
}

// -- violations list --

var violationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List violations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		product, _ := cmd.Flags().GetString("product")
		status, _ := cmd.Flags().GetString("status")
		severity, _ := cmd.Flags().GetString("severity")
		rule, _ := cmd.Flags().GetString("rule")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		vs, err := st.ListViolations(ctx, store.ViolationFilter{
			ProductID: product,
			Status:    model.ViolationStatus(status),
			Severity:  model.Severity(severity),
			RuleID:    rule,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "violations list")
		}

		if asJSON {
			return writeJSON(os.Stdout, vs)
		}
		if len(vs) == 0 {
			fmt.Fprintln(os.Stderr, "No violations found.")
			return nil
		}
		formatViolations(os.Stdout, vs)
		return nil
	},
}

// -- violations assign/resolve/dismiss --

func newTransitionCmd(action, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   action + " <violation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			assignee, _ := cmd.Flags().GetString("to")
			notes, _ := cmd.Flags().GetString("notes")
			update, err := statusUpdateFor(action, assignee, notes)
			if err != nil {
				return err
			}

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			v, err := st.UpdateViolationStatus(ctx, args[0], update)
			if err != nil {
				return eris.Wrapf(err, "violations %s", action)
			}
			fmt.Fprintf(os.Stdout, "%s %s: %s\n", v.ID, v.RuleID, v.Status)
			return nil
		},
	}
	c.Flags().String("to", "", "assignee")
	c.Flags().String("notes", "", "resolution notes")
	return c
}

// -- violations product --

var violationsProductCmd = &cobra.Command{
	Use:   "product <product-id>",
	Short: "Show a product with its violations and scan history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		detail, err := loadProductDetail(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "violations product")
		}
		return writeJSON(os.Stdout, detail)
	},
}

func init() {
	violationsListCmd.Flags().String("product", "", "filter by product identity")
	violationsListCmd.Flags().String("status", "", "filter by status (open, in_progress, resolved, dismissed)")
	violationsListCmd.Flags().String("severity", "", "filter by severity (low, medium, high, critical)")
	violationsListCmd.Flags().String("rule", "", "filter by rule id")
	violationsListCmd.Flags().Int("limit", 50, "max violations to list")
	violationsListCmd.Flags().Bool("json", false, "print as JSON")

	violationsCmd.AddCommand(violationsListCmd)
	violationsCmd.AddCommand(newTransitionCmd(actionAssign, "Assign a violation and mark it in progress"))
	violationsCmd.AddCommand(newTransitionCmd(actionResolve, "Mark a violation resolved"))
	violationsCmd.AddCommand(newTransitionCmd(actionDismiss, "Dismiss a violation"))
	violationsCmd.AddCommand(violationsProductCmd)
	rootCmd.AddCommand(violationsCmd)
}
