package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/lakedeploy/lakedeploy/pkg/deploy"
)

// renderReport prints the per-phase summary table for one run.
func renderReport(out io.Writer, report *deploy.Report) {
	header := fmt.Sprintf("%s %s in %s", report.DeployAction, report.AppName, report.Environment)
	if report.DryRun {
		header += " (dry run)"
	}
	fmt.Fprintf(out, "\n%s\n", header)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Phase", "Action", "Duration", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, p := range report.Phases {
		action := string(p.Action)
		if p.Planned {
			action = "would " + action
		}
		detail := p.Detail
		if p.Err != nil {
			detail = p.Err.Error()
		}
		t.AppendRow(table.Row{p.Phase, action, formatDuration(p.Duration), detail})
	}
	t.Render()

	if report.Succeeded() {
		fmt.Fprintf(out, "Run %s succeeded.\n", report.RunID)
	} else {
		fmt.Fprintf(out, "Run %s failed: %s\n", report.RunID, report.FirstError().Error())
	}
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
