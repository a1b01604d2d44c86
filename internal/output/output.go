// Package output writes decoded trace data to files for external tooling.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sailfish009/apitrace/internal/trace"
)

// CallRecord is the JSON-friendly projection of a trace.Call.
type CallRecord struct {
	No       uint32       `json:"no"`
	Function string       `json:"function"`
	Args     []*ValueView `json:"args"`
	Ret      *ValueView   `json:"ret,omitempty"`
	ParentNo *uint32      `json:"parent_no,omitempty"`
}

// ValueView is the JSON projection of a trace.Value. The payload fields
// beside Kind are populated per v.Kind: none for null (or for an enum or
// bitmask without a signature), Struct and Members for a struct, and one
// field for every other kind.
type ValueView struct {
	Kind string `json:"kind"`

	Bool    *bool    `json:"bool,omitempty"`
	SInt    *int64   `json:"sint,omitempty"`
	UInt    *uint64  `json:"uint,omitempty"`
	Float   *float64 `json:"float,omitempty"`
	String  *string  `json:"string,omitempty"`
	Enum    *string  `json:"enum,omitempty"`
	Bitmask *string  `json:"bitmask,omitempty"`

	Array   []*ValueView `json:"array,omitempty"`
	Struct  *string      `json:"struct,omitempty"`
	Members []*ValueView `json:"members,omitempty"`

	BlobLen *int    `json:"blob_len,omitempty"`
	Opaque  *uint64 `json:"opaque,omitempty"`
}

// ViewValue projects a decoded trace.Value into its JSON view. v may be nil
// for an unset sparse argument slot, in which case ViewValue returns nil.
func ViewValue(v *trace.Value) *ValueView {
	if v == nil {
		return nil
	}
	view := &ValueView{Kind: v.Kind.String()}
	switch v.Kind {
	case trace.KindBool:
		b := v.Bool
		view.Bool = &b
	case trace.KindSInt:
		n := v.SInt
		view.SInt = &n
	case trace.KindUInt:
		n := v.UInt
		view.UInt = &n
	case trace.KindFloat, trace.KindDouble:
		f := v.Double()
		view.Float = &f
	case trace.KindString:
		s := v.Str
		view.String = &s
	case trace.KindEnum:
		if v.EnumSig != nil {
			s := fmt.Sprintf("%s=%d", v.EnumSig.Name, v.EnumSig.Value)
			view.Enum = &s
		}
	case trace.KindBitmask:
		if v.BitmaskSig != nil {
			s := FormatBitmask(v.BitmaskSig, v.BitmaskVal)
			view.Bitmask = &s
		}
	case trace.KindArray:
		elems := make([]*ValueView, len(v.Array))
		for i := range v.Array {
			elems[i] = ViewValue(&v.Array[i])
		}
		view.Array = elems
	case trace.KindStruct:
		if v.StructSig != nil {
			name := v.StructSig.Name
			view.Struct = &name
		}
		members := make([]*ValueView, len(v.Members))
		for i := range v.Members {
			members[i] = ViewValue(&v.Members[i])
		}
		view.Members = members
	case trace.KindBlob:
		n := len(v.Blob)
		view.BlobLen = &n
	case trace.KindOpaque:
		a := v.Opaque
		view.Opaque = &a
	}
	return view
}

// FormatBitmask renders the non-zero flags set in val, in the signature's
// declaration order, joined with "|". If no such flag is set, it returns
// the name of the signature's zero-valued flag, or "none" if there is none.
func FormatBitmask(sig *trace.BitmaskSig, val uint64) string {
	var set []string
	for _, flag := range sig.Flags {
		if flag.Value == 0 {
			continue
		}
		if val&flag.Value == flag.Value {
			set = append(set, flag.Name)
		}
	}
	if len(set) == 0 {
		for _, flag := range sig.Flags {
			if flag.Value == 0 {
				return flag.Name
			}
		}
		return "none"
	}
	out := set[0]
	for _, s := range set[1:] {
		out += "|" + s
	}
	return out
}

// ViewCall projects a decoded trace.Call into its JSON view.
func ViewCall(c *trace.Call) CallRecord {
	name := "?"
	if c.Sig != nil {
		name = c.Sig.Name
	}
	args := make([]*ValueView, len(c.Args))
	for i, a := range c.Args {
		args[i] = ViewValue(a)
	}
	rec := CallRecord{
		No:       c.No,
		Function: name,
		Args:     args,
		Ret:      ViewValue(c.Ret),
	}
	if c.HasParent {
		no := c.ParentNo
		rec.ParentNo = &no
	}
	return rec
}

// WriteCallsJSON writes dir/calls.json: one CallRecord per decoded call, in
// the order the caller supplies (typically emission/LEAVE order).
func WriteCallsJSON(dir string, calls []*trace.Call) error {
	records := make([]CallRecord, len(calls))
	for i, c := range calls {
		records[i] = ViewCall(c)
	}
	return writeJSON(filepath.Join(dir, "calls.json"), records)
}

// SignatureTables is the JSON projection of a Parser's interned signature
// tables, for tools that want to render types without re-parsing the
// stream.
type SignatureTables struct {
	Functions map[uint64]*trace.FunctionSig `json:"functions"`
	Structs   map[uint64]*trace.StructSig   `json:"structs"`
	Enums     map[uint64]*trace.EnumSig     `json:"enums"`
	Bitmasks  map[uint64]*trace.BitmaskSig  `json:"bitmasks"`
}

// WriteSignaturesJSON writes dir/signatures.json from a Parser's interned
// tables.
func WriteSignaturesJSON(dir string, tables SignatureTables) error {
	return writeJSON(filepath.Join(dir, "signatures.json"), tables)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
