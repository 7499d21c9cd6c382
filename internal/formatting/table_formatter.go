package formatting

import (
	"fmt"
	"io"
	"time"

	"atlasbridge/internal/agent"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mark3labs/mcp-go/mcp"
)

// maxCellWidth truncates long values so tables stay readable.
const maxCellWidth = 80

// TableFormatter renders CLI output as rich tables.
type TableFormatter struct {
	out io.Writer
}

// NewTableFormatter creates a formatter writing to out.
func NewTableFormatter(out io.Writer) *TableFormatter {
	return &TableFormatter{out: out}
}

// FormatToolsList renders the available MCP tools.
func (f *TableFormatter) FormatToolsList(tools []mcp.Tool) {
	if len(tools) == 0 {
		fmt.Fprintln(f.out, text.FgYellow.Sprint("No tools available"))
		return
	}

	t := f.createTable()
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("NAME"),
		text.FgHiCyan.Sprint("DESCRIPTION"),
	})
	for _, tool := range tools {
		t.AppendRow(table.Row{tool.Name, truncate(tool.Description)})
	}
	t.Render()

	fmt.Fprintf(f.out, "\n%s %s %s\n",
		text.FgHiBlue.Sprint("Total:"),
		text.FgHiWhite.Sprint(len(tools)),
		text.FgHiBlue.Sprint("tools"))
}

// FormatHistory renders a user's query history, oldest first.
func (f *TableFormatter) FormatHistory(records []agent.Record) {
	if len(records) == 0 {
		fmt.Fprintln(f.out, text.FgYellow.Sprint("No queries recorded"))
		return
	}

	t := f.createTable()
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("TIME"),
		text.FgHiCyan.Sprint("QUERY"),
		text.FgHiCyan.Sprint("OK"),
		text.FgHiCyan.Sprint("RESPONSE"),
	})
	for _, r := range records {
		ok := text.FgGreen.Sprint("yes")
		if !r.Success {
			ok = text.FgRed.Sprint("no")
		}
		t.AppendRow(table.Row{
			r.Timestamp.Format(time.RFC3339),
			truncate(r.Query),
			ok,
			truncate(r.Response),
		})
	}
	t.Render()
}

// FormatStats renders activity counters.
func (f *TableFormatter) FormatStats(stats agent.Stats) {
	t := f.createTable()
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("KEY"),
		text.FgHiCyan.Sprint("VALUE"),
	})
	t.AppendRow(table.Row{"users", stats.Users})
	t.AppendRow(table.Row{"total_queries", stats.TotalQueries})
	t.Render()
}

func (f *TableFormatter) createTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func truncate(s string) string {
	if len(s) > maxCellWidth {
		return s[:maxCellWidth-3] + "..."
	}
	return s
}
