package trace

// Call is one recorded invocation, emitted once its LEAVE event has been
// observed and correlated back to its matching ENTER.
type Call struct {
	No  uint32
	Sig *FunctionSig

	// Args is indexed by argument position. A nil entry means the wire
	// stream never carried that position (sparse encoding), which is
	// distinct from an entry holding an explicit NULL Value.
	Args []*Value

	// Ret is nil if the LEAVE event carried no CALL_RET.
	Ret *Value

	// HasParent and ParentNo record which call was innermost-pending when
	// this call's ENTER was observed: the caller still awaiting its own
	// LEAVE at that moment. internal/callgraph uses this to derive
	// caller/callee edges without re-deriving nesting from emission order,
	// which is LEAVE order and so cannot itself reconstruct who-called-whom.
	HasParent bool
	ParentNo  uint32
}

// pendingRegistry holds calls whose ENTER has been parsed but whose LEAVE
// has not yet arrived. Calls may complete out of call-number order when
// captures interleave nested calls, so lookup is by call number, not
// position.
type pendingRegistry struct {
	calls []*Call
}

func (p *pendingRegistry) push(c *Call) {
	p.calls = append(p.calls, c)
}

// top returns the most recently pushed call still awaiting its LEAVE, i.e.
// the call that was innermost-pending at this instant. It is the caller
// candidate for a new ENTER; nil if no call is currently pending.
func (p *pendingRegistry) top() *Call {
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

func (p *pendingRegistry) take(no uint32) (*Call, bool) {
	for i, c := range p.calls {
		if c.No == no {
			p.calls = append(p.calls[:i], p.calls[i+1:]...)
			return c, true
		}
	}
	return nil, false
}

func (p *pendingRegistry) drain() []*Call {
	out := p.calls
	p.calls = nil
	return out
}
