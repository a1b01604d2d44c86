package render

import (
	"fmt"
	"strings"

	"github.com/zboralski/lattice"
)

// CallgraphDOT renders a decoded trace's call graph as Graphviz DOT. roots
// (nodes with no incoming edge in g) are shaded with t.RootFill to mark
// calls that had no pending caller at ENTER time. maxNodes limits the
// number of nodes rendered (0 = all), keeping the busiest callers closest
// to the root.
func CallgraphDOT(g *lattice.Graph, title string, t Theme, maxNodes int) string {
	incoming := make(map[string]int, len(g.Nodes))
	outgoing := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		incoming[e.Callee]++
		outgoing[e.Caller]++
	}

	nodes := g.Nodes
	if maxNodes > 0 && len(nodes) > maxNodes {
		nodes = topNodesByDegree(nodes, outgoing, maxNodes)
	}
	renderSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		renderSet[n] = true
	}

	var b strings.Builder
	b.WriteString("digraph callgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [color=%q, penwidth=0.5, arrowsize=0.5, arrowhead=vee];\n", t.EdgeColor)
	if title != "" {
		b.WriteString("  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	for _, n := range nodes {
		id := dotID(n)
		label := truncLabel(n, 60)
		if incoming[n] == 0 {
			fmt.Fprintf(&b, "  %s [label=%q, fillcolor=%q];\n", id, label, t.RootFill)
		} else {
			fmt.Fprintf(&b, "  %s [label=%q];\n", id, label)
		}
	}
	b.WriteByte('\n')

	type edgeKey struct{ from, to string }
	counts := make(map[edgeKey]int)
	for _, e := range g.Edges {
		if !renderSet[e.Caller] || !renderSet[e.Callee] {
			continue
		}
		counts[edgeKey{e.Caller, e.Callee}]++
	}
	for k, count := range counts {
		fromID, toID := dotID(k.from), dotID(k.to)
		attrs := ""
		if count > 1 {
			attrs = fmt.Sprintf(" [penwidth=%.1f, label=<<font point-size=\"7\" color=\"%s\">%dx</font>>]",
				0.5+float64(count)*0.1, t.EdgeColor, count)
		}
		fmt.Fprintf(&b, "  %s -> %s%s;\n", fromID, toID, attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

// topNodesByDegree returns the n nodes with the highest outgoing-call
// count, preserving g.Nodes order among ties.
func topNodesByDegree(nodes []string, outgoing map[string]int, n int) []string {
	sorted := make([]string, len(nodes))
	copy(sorted, nodes)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && outgoing[sorted[j]] > outgoing[sorted[j-1]]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted[:n]
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string
	Count int
}

// CallgraphStats summarizes a decoded trace's call graph.
type CallgraphStats struct {
	TotalFunctions int
	TotalCalls     int
	TotalEdges     int
	RootCalls      int // function nodes with no incoming edge in the graph
	TopCallers     []NameCount // sorted desc, by outgoing edge count
	TopCallees     []NameCount // sorted desc, by incoming edge count
	TopFunctions   []NameCount // sorted desc, by call count
}

// ComputeStats computes call graph statistics from a built graph plus the
// per-function call counts callCounts (function name -> number of calls).
func ComputeStats(g *lattice.Graph, callCounts map[string]int, totalCalls int) CallgraphStats {
	stats := CallgraphStats{
		TotalFunctions: len(g.Nodes),
		TotalCalls:     totalCalls,
		TotalEdges:     len(g.Edges),
	}

	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	hasIncoming := make(map[string]bool)
	for _, e := range g.Edges {
		callerCount[e.Caller]++
		calleeCount[e.Callee]++
		hasIncoming[e.Callee] = true
	}
	for _, n := range g.Nodes {
		if !hasIncoming[n] {
			stats.RootCalls++
		}
	}

	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	stats.TopFunctions = topNMap(callCounts, 20)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].Count > entries[i].Count {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
