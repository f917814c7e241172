package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00CCFF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0055"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
)

// RenderSummary prints the units of a run as a table followed by skips and warnings.
func RenderSummary(w io.Writer, sum *engine.Summary) {
	if sum == nil {
		return
	}
	fmt.Fprintln(w, titleStyle.Render("INGESTION SUMMARY"))

	rows := make([][]string, 0, len(sum.Units))
	for _, u := range sum.Units {
		note := ""
		if u.Err != nil {
			note = u.Err.Error()
		} else if u.Result.Reused {
			note = "execution reused"
		}
		rows = append(rows, []string{
			string(u.Provider), u.Scope, u.Rule, u.Status.String(),
			strconv.Itoa(u.Matched), strconv.Itoa(u.Result.Inserted), note,
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("CLOUD", "ACCOUNT", "RULE", "OUTCOME", "MATCHED", "NEW", "NOTE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 3 && row >= 0 && row < len(sum.Units) {
				switch sum.Units[row].Status {
				case source.Fatal:
					return cellStyle.Foreground(lipgloss.Color("#FF0055"))
				case source.Skipped:
					return cellStyle.Foreground(lipgloss.Color("#F59E0B"))
				}
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())

	fmt.Fprintf(w, "%d recorded, %d skipped, %d fatal, %d new events, %d degraded in %s\n",
		sum.Recorded, sum.Skipped, sum.Fatal, sum.NewEvents, sum.Degraded, sum.Duration.Round(time.Millisecond))

	for _, s := range sum.Skips {
		fmt.Fprintln(w, errStyle.Render("[!] skipped "+s.String()))
	}
	for _, msg := range sum.Warnings {
		fmt.Fprintln(w, warnStyle.Render("[!] "+msg))
	}
}

// RenderExport prints one line per export file.
func RenderExport(w io.Writer, results []Result) {
	for _, r := range results {
		switch {
		case r.Fetched == 0:
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("[+] No %s events found in the given time range.", r.Provider)))
		case r.Written == 0:
			fmt.Fprintln(w, dimStyle.Render("[+] No new events to write in "+r.Location))
		default:
			fmt.Fprintln(w, titleStyle.UnsetMarginBottom().Render(fmt.Sprintf("[+] Wrote %d new events to %s", r.Written, r.Location)))
		}
	}
}
