package main

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/John-Robertt/cardx/internal/domain"
)

// renderSummary 在交互终端输出每个 bucket 的导出结果。
func renderSummary(w io.Writer, rr domain.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Bucket", "Cards", "Entries", "Errors", "Conf"})
	for _, b := range rr.Buckets {
		t.AppendRow(table.Row{b.Name, b.Cards, b.Entries, b.Errors, b.ConfPath})
	}
	t.AppendFooter(table.Row{"", "", "", "", summaryLine(rr)})
	t.Render()
}
