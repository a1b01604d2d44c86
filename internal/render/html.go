package render

import (
	"fmt"
	"io"
	"strings"
)

// WriteIndexHTML writes a small HTML page summarizing a decoded trace.
func WriteIndexHTML(w io.Writer, stats CallgraphStats, title string, hasCallgraphSVG bool) {
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: "Helvetica Neue", Helvetica, Arial, sans-serif; font-size: 14px; color: #1A1A1A; background: #F5F5F5; margin: 2em; max-width: 900px; }
h1 { font-size: 18px; font-weight: 600; margin-bottom: 0.5em; }
h2 { font-size: 14px; font-weight: 600; margin-top: 1.5em; border-bottom: 1px solid #ddd; padding-bottom: 4px; }
table { border-collapse: collapse; margin: 0.5em 0; }
th, td { text-align: left; padding: 3px 12px 3px 0; font-size: 13px; }
th { font-weight: 600; }
td.num { text-align: right; font-variant-numeric: tabular-nums; }
a { color: #0B3D91; }
.mbar { height: 6px; border-radius: 2px; display: inline-block; vertical-align: middle; background: #0B3D91; }
</style>
</head>
<body>
`, htmlEscape(title))

	fmt.Fprintf(w, "<h1>%s</h1>\n", htmlEscape(title))

	fmt.Fprintln(w, "<h2>Summary</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintf(w, "<tr><td>Functions</td><td class=\"num\">%d</td></tr>\n", stats.TotalFunctions)
	fmt.Fprintf(w, "<tr><td>Calls</td><td class=\"num\">%d</td></tr>\n", stats.TotalCalls)
	fmt.Fprintf(w, "<tr><td>Call-graph edges</td><td class=\"num\">%d</td></tr>\n", stats.TotalEdges)
	fmt.Fprintf(w, "<tr><td>Root functions</td><td class=\"num\">%d</td></tr>\n", stats.RootCalls)
	fmt.Fprintln(w, "</table>")

	if hasCallgraphSVG {
		fmt.Fprintln(w, "<h2>Graph</h2>")
		fmt.Fprintln(w, `<p><a href="callgraph.svg">Call graph</a></p>`)
	}

	writeTopTable(w, "Most-called functions", "Calls", stats.TopFunctions)
	writeTopTable(w, "Top callers", "Outgoing", stats.TopCallers)
	writeTopTable(w, "Top callees", "Incoming", stats.TopCallees)

	fmt.Fprintln(w, "</body></html>")
}

func writeTopTable(w io.Writer, heading, countLabel string, entries []NameCount) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "<h2>%s</h2>\n", htmlEscape(heading))
	fmt.Fprintln(w, "<table>")
	fmt.Fprintf(w, "<tr><th>Function</th><th>%s</th><th></th></tr>\n", htmlEscape(countLabel))
	maxCount := entries[0].Count
	for _, nc := range entries {
		barW := 0
		if maxCount > 0 {
			barW = nc.Count * 120 / maxCount
		}
		if barW < 2 {
			barW = 2
		}
		fmt.Fprintf(w, "<tr><td>%s</td><td class=\"num\">%d</td><td><span class=\"mbar\" style=\"width:%dpx\"></span></td></tr>\n",
			htmlEscape(nc.Name), nc.Count, barW)
	}
	fmt.Fprintln(w, "</table>")
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
