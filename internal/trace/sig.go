package trace

// FunctionSig is an interned descriptor for one traced function. It is
// created on first sighting of its id; a later reference to the bound id
// carries no body, unless it lands on an offset already recorded in the
// namespace's seen set, in which case the body is parsed and discarded.
type FunctionSig struct {
	ID       uint64
	Name     string
	ArgNames []string
}

// StructSig is an interned descriptor for a struct type.
type StructSig struct {
	ID          uint64
	Name        string
	MemberNames []string
}

// EnumSig is an interned descriptor binding one named enum constant.
type EnumSig struct {
	ID    uint64
	Name  string
	Value int64
}

// BitmaskFlag is one named flag of a BitmaskSig.
type BitmaskFlag struct {
	Name  string
	Value uint64
}

// BitmaskSig is an interned descriptor for a bitmask type. By convention a
// flag whose value is zero must be first; violations are reported through
// diag as advisories, never fatal.
type BitmaskSig struct {
	ID    uint64
	Flags []BitmaskFlag
}

// sigSeenSet records, for one signature namespace, the offsets at which a
// full definition body has already been parsed and installed. It is
// consulted (alongside "is id already bound") to decide whether a
// reference's body must be parsed, and makes re-emission at a
// offset that coincides with a prior one idempotent without ever
// comparing bodies byte-for-byte. See Parser.resolveXxxSig.
type sigSeenSet map[uint64]struct{}

func newSigSeenSet() sigSeenSet { return make(sigSeenSet) }

func (s sigSeenSet) has(offset uint64) bool {
	_, ok := s[offset]
	return ok
}

func (s sigSeenSet) mark(offset uint64) {
	s[offset] = struct{}{}
}
