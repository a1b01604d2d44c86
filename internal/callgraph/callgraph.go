// Package callgraph builds a caller/callee graph from decoded trace calls.
package callgraph

import (
	"github.com/zboralski/lattice"

	"github.com/sailfish009/apitrace/internal/trace"
)

// Build constructs a lattice.Graph from decoded calls. An edge A->B means
// B's ENTER was observed while A was still pending (trace.Call.ParentNo),
// i.e. B was called from within A. A call whose parent no longer appears in
// calls (discarded on truncation, or a LEAVE with no matching ENTER)
// contributes a node but no edge for that leg.
func Build(calls []*trace.Call) *lattice.Graph {
	byNo := make(map[uint32]*trace.Call, len(calls))
	for _, c := range calls {
		byNo[c.No] = c
	}

	g := &lattice.Graph{}
	seenNode := make(map[string]struct{})
	addNode := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seenNode[name]; ok {
			return
		}
		seenNode[name] = struct{}{}
		g.Nodes = append(g.Nodes, name)
	}

	for _, c := range calls {
		callee := callName(c)
		addNode(callee)
		if !c.HasParent {
			continue
		}
		parent, ok := byNo[c.ParentNo]
		if !ok {
			continue
		}
		caller := callName(parent)
		addNode(caller)
		g.Edges = append(g.Edges, lattice.Edge{
			Caller: caller,
			Callee: callee,
		})
	}
	g.Dedup()
	return g
}

func callName(c *trace.Call) string {
	if c == nil || c.Sig == nil {
		return "?"
	}
	return c.Sig.Name
}
