package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/slok/dpkgdrv/internal/model"
)

// TablePrinter prints driver information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintPlan prints the planned invocations, one row per invocation.
func (t *TablePrinter) PrintPlan(invocations []model.Invocation, totalSteps int) error {
	if len(invocations) == 0 {
		fmt.Fprintln(t.writer, "Nothing to do")
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKIND\tOPERATIONS\tSIZE\tCOMMAND")
	for i, inv := range invocations {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n",
			i+1,
			inv.Batch.Kind,
			len(inv.Batch.Operations),
			FormatSize(inv.Batch.Bytes()),
			strings.Join(inv.Args, " "),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(t.writer, "\n%d invocation(s), %d step(s)\n", len(invocations), totalSteps)

	return nil
}

// PrintRuns prints the journal runs in a table format.
func (t *TablePrinter) PrintRuns(runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tSTATUS\tOPERATIONS\tPROGRESS\tDURATION\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.Status,
			r.Operations,
			formatProgress(r),
			RunDuration(r),
			TimeAgo(r.StartedAt),
		)
	}

	return nil
}

// PrintRun prints the details of a run.
func (t *TablePrinter) PrintRun(r model.Run) error {
	fmt.Fprintf(t.writer, "ID:          %s\n", r.ID)
	fmt.Fprintf(t.writer, "Status:      %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(t.writer, "Error:       %s\n", r.Error)
	}
	fmt.Fprintf(t.writer, "Operations:  %d\n", r.Operations)
	fmt.Fprintf(t.writer, "Batches:     %d\n", r.Batches)
	fmt.Fprintf(t.writer, "Progress:    %s\n", formatProgress(r))
	fmt.Fprintf(t.writer, "Started:     %s\n", FormatTimestamp(r.StartedAt))
	if r.FinishedAt != nil {
		fmt.Fprintf(t.writer, "Finished:    %s\n", FormatTimestamp(*r.FinishedAt))
		fmt.Fprintf(t.writer, "Duration:    %s\n", RunDuration(r))
	}

	if len(r.Packages) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer)
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "PACKAGE\tOPERATIONS\tSTEPS\tFINISHED")
	for _, p := range r.Packages {
		kinds := make([]string, 0, len(p.Kinds))
		for _, k := range p.Kinds {
			kinds = append(kinds, string(k))
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n", p.Name, strings.Join(kinds, ","), p.DoneSteps, p.TotalSteps, yesNo(p.Finished()))
	}

	return nil
}

// PrintPackages prints catalog packages in a table format.
func (t *TablePrinter) PrintPackages(pkgs []model.Package) error {
	if len(pkgs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "NAME\tARCH\tINSTALLED\tCANDIDATE")
	for _, p := range pkgs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, orDash(p.Architecture), orDash(p.CurrentVersion), orDash(p.CandidateVersion))
	}

	return nil
}

// PrintChecks prints preflight check results followed by a summary.
func (t *TablePrinter) PrintChecks(results []model.CheckResult) error {
	for _, r := range results {
		fmt.Fprintf(t.writer, "  %s %-20s %s\n", checkIcon(r.Status), r.ID, r.Message)
	}

	fmt.Fprintln(t.writer)
	errs, warnings := model.CheckSummary(results)
	if errs == 0 && warnings == 0 {
		fmt.Fprintln(t.writer, "All checks passed!")
		return nil
	}

	var summary []string
	if errs > 0 {
		summary = append(summary, fmt.Sprintf("%d error(s)", errs))
	}
	if warnings > 0 {
		summary = append(summary, fmt.Sprintf("%d warning(s)", warnings))
	}
	fmt.Fprintln(t.writer, strings.Join(summary, ", "))

	return nil
}

// PrintMessage prints a simple message.
func (t *TablePrinter) PrintMessage(msg string) error {
	_, err := fmt.Fprintln(t.writer, msg)
	return err
}

func formatProgress(r model.Run) string {
	return fmt.Sprintf("%d/%d (%.0f%%)", r.DoneSteps, r.TotalSteps, r.Percentage())
}

func checkIcon(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
