package tail

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/drover-dev/drover/internal/engines"
	"github.com/drover-dev/drover/internal/logging"
)

// RenderRuns writes a table of logged runs, newest first.
func RenderRuns(w io.Writer, runs []logging.Run) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})

	tw.AppendHeader(table.Row{"Run ID", "Modified", "Size"})
	for _, run := range runs {
		tw.AppendRow(table.Row{
			run.RunID,
			run.ModTime.Local().Format(time.RFC3339),
			humanSize(run.Size),
		})
	}
	if len(runs) == 0 {
		tw.AppendRow(table.Row{"(no runs)", "-", "-"})
	}

	tw.Render()
}

// RenderEngines writes a table of registered engines.
func RenderEngines(w io.Writer, defs []*engines.Def) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)

	tw.AppendHeader(table.Row{"Name", "Mode", "Binary", "Auth", "Install"})
	for _, def := range defs {
		tw.AppendRow(table.Row{
			def.Name,
			def.Mode,
			def.Binary,
			strings.Join(def.AuthEnvVars, ", "),
			def.Install,
		})
	}

	tw.Render()
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
