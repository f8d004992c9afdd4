package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/kwv/rugmatch/match"
)

var summaryHeader = table.Row{"Rank", "Image Name", "Total Matches", "Inlier Matches"}

// summaryTable renders the full ranking with the counts right aligned.
func summaryTable(rows []match.SummaryRow, colorize bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if colorize {
		tw.SetStyle(table.StyleColoredBright)
	}
	tw.AppendHeader(summaryHeader)
	for _, r := range rows {
		tw.AppendRow(table.Row{r.Rank, r.CandidateID, r.MatchCount, r.InlierCount})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Rank", Align: text.AlignRight},
		{Name: "Total Matches", Align: text.AlignRight},
		{Name: "Inlier Matches", Align: text.AlignRight},
	})
	return tw.Render()
}

func warningLine(msg string, colorize bool) string {
	line := "Warning: " + msg
	if colorize {
		return text.FgYellow.Sprint(line)
	}
	return line
}

// shouldColorize reports whether w is a terminal.
func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
