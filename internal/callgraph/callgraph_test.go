package callgraph

import (
	"testing"

	"github.com/sailfish009/apitrace/internal/trace"
)

func sig(name string) *trace.FunctionSig { return &trace.FunctionSig{Name: name} }

// Scenario 11: ENTER(A) ENTER(B) LEAVE(B) LEAVE(A) emits B before A (LEAVE
// order) but the graph must still record B as called from within A.
func TestBuild_NestedEdge(t *testing.T) {
	a := &trace.Call{No: 0, Sig: sig("A")}
	b := &trace.Call{No: 1, Sig: sig("B"), HasParent: true, ParentNo: 0}

	g := Build([]*trace.Call{b, a})

	if len(g.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d: %+v", len(g.Edges), g.Edges)
	}
	e := g.Edges[0]
	if e.Caller != "A" || e.Callee != "B" {
		t.Fatalf("expected A->B, got %s->%s", e.Caller, e.Callee)
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d: %v", len(g.Nodes), g.Nodes)
	}
}

// A root call (no pending parent at ENTER time) contributes a node but no
// incoming edge.
func TestBuild_RootCallNoEdge(t *testing.T) {
	a := &trace.Call{No: 0, Sig: sig("A")}

	g := Build([]*trace.Call{a})

	if len(g.Edges) != 0 {
		t.Fatalf("expected no edges for a root call, got %+v", g.Edges)
	}
	if len(g.Nodes) != 1 || g.Nodes[0] != "A" {
		t.Fatalf("unexpected nodes: %v", g.Nodes)
	}
}

// A call whose recorded parent was itself dropped (e.g. truncated out of
// the decoded set) still contributes its own node, but no edge.
func TestBuild_MissingParentDropsEdgeNotNode(t *testing.T) {
	b := &trace.Call{No: 1, Sig: sig("B"), HasParent: true, ParentNo: 0}

	g := Build([]*trace.Call{b})

	if len(g.Edges) != 0 {
		t.Fatalf("expected no edges when parent is absent, got %+v", g.Edges)
	}
	if len(g.Nodes) != 1 || g.Nodes[0] != "B" {
		t.Fatalf("unexpected nodes: %v", g.Nodes)
	}
}
