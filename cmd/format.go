package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/scanner"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatScanResult(w io.Writer, res *scanner.Result) {
	fmt.Fprintf(w, "Product:    %s\n", res.ProductName)
	fmt.Fprintf(w, "Identity:   %s\n", res.Identity)
	fmt.Fprintf(w, "URL:        %s\n", res.URL)
	fmt.Fprintf(w, "Status:     %s\n", res.ComplianceStatus)
	fmt.Fprintf(w, "Score:      %.2f\n", res.Score)
	fmt.Fprintf(w, "Violations: %d\n", res.ViolationCount)
	if len(res.Violations) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tSEVERITY\tDESCRIPTION")
	for _, v := range res.Violations {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.RuleID, v.Severity, truncate(v.Description, 80))
	}
	tw.Flush() //nolint:errcheck
}

func formatBatchResult(w io.Writer, res *scanner.BatchResult) {
	fmt.Fprintf(w, "Source:     %s\n", res.SourceRef)
	fmt.Fprintf(w, "Scanned:    %d (ok %d, failed %d, skipped %d)\n",
		res.TotalScanned, res.SuccessfulScans, res.FailedScans, res.Skipped)
	b := res.StatusBreakdown
	fmt.Fprintf(w, "Statuses:   compliant %d, non_compliant %d, pending %d, under_review %d\n",
		b.Compliant, b.NonCompliant, b.Pending, b.UnderReview)
	fmt.Fprintf(w, "Duration:   %s\n", res.Duration.Round(time.Millisecond))

	var failed []scanner.Item
	for _, it := range res.Items {
		if it.Outcome == scanner.OutcomeFailed {
			failed = append(failed, it)
		}
	}
	if len(failed) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "URL\tSTAGE\tTYPE\tERROR")
	for _, it := range failed {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.URL, it.Stage, it.ErrorType, truncate(it.Error, 60))
	}
	tw.Flush() //nolint:errcheck
}

func formatRules(w io.Writer, catalog []model.ComplianceRule) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEVERITY\tTYPE\tNAME\tREFERENCE")
	for _, r := range catalog {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Severity, r.Category, r.Name, r.Reference)
	}
	tw.Flush() //nolint:errcheck
}

func formatViolations(w io.Writer, vs []model.Violation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRODUCT\tRULE\tSEVERITY\tSTATUS\tASSIGNEE\tDETECTED")
	for _, v := range vs {
		assignee := v.AssignedTo
		if assignee == "" {
			assignee = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, shortID(v.ProductID), v.RuleID, v.Severity, v.Status, assignee,
			v.DetectedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
