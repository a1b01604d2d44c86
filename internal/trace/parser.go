// Package trace implements the call-trace decoder: the recursive value
// parser, the per-namespace signature tables, and the ENTER/LEAVE event loop
// that correlates pending calls into completed trace.Call values.
package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sailfish009/apitrace/internal/diag"
	"github.com/sailfish009/apitrace/internal/tracefile"
	"github.com/sailfish009/apitrace/internal/wire"
)

// MaxVersion is the highest stream format version this parser understands.
const MaxVersion = 4

// MaxValueDepth bounds recursive ARRAY/STRUCT nesting so a pathological
// stream makes ParseCall return a diag.ErrFormatFatal error instead of
// exhausting the goroutine stack.
const MaxValueDepth = 1024

// Options configures a Parser.
type Options struct {
	// Mode controls reaction to structural decode problems. The zero value
	// is diag.ModeBestEffort.
	Mode diag.Mode
}

// Parser decodes one trace file's call stream.
type Parser struct {
	file    *tracefile.File
	version uint64
	mode    diag.Mode

	functions map[uint64]*FunctionSig
	structs   map[uint64]*StructSig
	enums     map[uint64]*EnumSig
	bitmasks  map[uint64]*BitmaskSig

	funcSeen    sigSeenSet
	structSeen  sigSeenSet
	enumSeen    sigSeenSet
	bitmaskSeen sigSeenSet

	pending    pendingRegistry
	nextCallNo uint32

	diags  diag.Diags
	closed bool
}

// Open opens path, selects its decompression flavor, and reads the leading
// version varint. It returns a format-fatal error if the declared version
// exceeds MaxVersion, without reading anything past that varint.
func Open(path string, opts Options) (*Parser, error) {
	f, err := tracefile.Open(path)
	if err != nil {
		return nil, err
	}
	version, err := wire.ReadUint(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("trace: read version: %w", err)
	}
	if version > MaxVersion {
		f.Close()
		return nil, fmt.Errorf("%w: stream version %d exceeds MaxVersion %d", diag.ErrFormatFatal, version, MaxVersion)
	}

	return &Parser{
		file:        f,
		version:     version,
		mode:        opts.Mode,
		functions:   make(map[uint64]*FunctionSig),
		structs:     make(map[uint64]*StructSig),
		enums:       make(map[uint64]*EnumSig),
		bitmasks:    make(map[uint64]*BitmaskSig),
		funcSeen:    newSigSeenSet(),
		structSeen:  newSigSeenSet(),
		enumSeen:    newSigSeenSet(),
		bitmaskSeen: newSigSeenSet(),
	}, nil
}

// Version returns the stream's declared format version.
func (p *Parser) Version() uint64 { return p.version }

// Diags returns the diagnostics accumulated so far, in encounter order.
func (p *Parser) Diags() []diag.Diag { return p.diags.Items() }

// Functions returns the interned function signature table, keyed by id.
func (p *Parser) Functions() map[uint64]*FunctionSig { return p.functions }

// Structs returns the interned struct signature table, keyed by id.
func (p *Parser) Structs() map[uint64]*StructSig { return p.structs }

// Enums returns the interned enum constant table, keyed by id.
func (p *Parser) Enums() map[uint64]*EnumSig { return p.enums }

// Bitmasks returns the interned bitmask type table, keyed by id.
func (p *Parser) Bitmasks() map[uint64]*BitmaskSig { return p.bitmasks }

// Close releases the byte source. Any calls still awaiting a LEAVE are
// reported as advisory diagnostics, never returned.
func (p *Parser) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	for _, c := range p.pending.drain() {
		p.diags.Addf(p.file.CurrentOffset(), diag.KindIncomplete,
			"call no=%d %s never received a LEAVE", c.No, callName(c))
	}
	return p.file.Close()
}

func callName(c *Call) string {
	if c.Sig != nil {
		return c.Sig.Name
	}
	return "?"
}

// ParseCall decodes events until the next call completes, returning
// diag.ErrEndOfStream once the byte source is cleanly exhausted between
// events.
func (p *Parser) ParseCall() (*Call, error) {
	for {
		tag, ok := p.file.GetByte()
		if !ok {
			for _, c := range p.pending.drain() {
				p.diags.Addf(p.file.CurrentOffset(), diag.KindIncomplete,
					"call no=%d %s never received a LEAVE", c.No, callName(c))
			}
			return nil, diag.ErrEndOfStream
		}

		switch tag {
		case wire.TagEnter:
			if err := p.parseEnter(); err != nil {
				if errors.Is(err, diag.ErrFormatFatal) {
					return nil, err
				}
				if p.mode == diag.ModeStrict {
					return nil, err
				}
				p.diags.Addf(p.file.CurrentOffset(), diag.KindTruncated, "enter: %v", err)
				continue
			}
		case wire.TagLeave:
			call, err := p.parseLeave()
			if err != nil {
				if errors.Is(err, diag.ErrFormatFatal) {
					return nil, err
				}
				if p.mode == diag.ModeStrict {
					return nil, err
				}
				p.diags.Addf(p.file.CurrentOffset(), diag.KindTruncated, "leave: %v", err)
				continue
			}
			if call == nil {
				continue
			}
			return call, nil
		default:
			return nil, fmt.Errorf("%w: unknown event tag %d at offset 0x%x", diag.ErrFormatFatal, tag, p.file.CurrentOffset())
		}
	}
}

func (p *Parser) parseEnter() error {
	sig, err := p.resolveFunctionSig()
	if err != nil {
		return err
	}

	call := &Call{No: p.nextCallNo, Sig: sig}
	p.nextCallNo++
	if parent := p.pending.top(); parent != nil {
		call.HasParent = true
		call.ParentNo = parent.No
	}

	if err := p.parseCallDetails(call); err != nil {
		return err
	}
	p.pending.push(call)
	return nil
}

func (p *Parser) parseLeave() (*Call, error) {
	no, err := wire.ReadUint(p.file)
	if err != nil {
		return nil, err
	}

	call, found := p.pending.take(uint32(no))
	if !found {
		// No matching ENTER: tolerate it by skipping this LEAVE's detail
		// stream and reporting no call, per §4.5.
		var discard Call
		if err := p.parseCallDetails(&discard); err != nil {
			return nil, err
		}
		p.diags.Addf(p.file.CurrentOffset(), diag.KindInvalid, "leave: no pending call no=%d", no)
		return nil, nil
	}

	if err := p.parseCallDetails(call); err != nil {
		return nil, err
	}
	return call, nil
}

// parseCallDetails reads CALL_ARG/CALL_RET entries into call until
// CALL_END. It is shared by both the ENTER and LEAVE detail streams, since
// the original format allows either event to carry argument or return
// value updates (by-reference output arguments surface on LEAVE).
func (p *Parser) parseCallDetails(call *Call) error {
	for {
		tag, ok := p.file.GetByte()
		if !ok {
			return fmt.Errorf("eof in call detail stream")
		}
		switch tag {
		case wire.TagCallEnd:
			return nil
		case wire.TagCallArg:
			index, err := wire.ReadUint(p.file)
			if err != nil {
				return err
			}
			v, err := p.parseValue(0)
			if err != nil {
				return err
			}
			if int(index) >= len(call.Args) {
				grown := make([]*Value, index+1)
				copy(grown, call.Args)
				call.Args = grown
			}
			call.Args[index] = &v
		case wire.TagCallRet:
			v, err := p.parseValue(0)
			if err != nil {
				return err
			}
			call.Ret = &v
		default:
			return fmt.Errorf("%w: unknown call-detail tag %d at offset 0x%x", diag.ErrFormatFatal, tag, p.file.CurrentOffset())
		}
	}
}

func (p *Parser) parseValue(depth int) (Value, error) {
	if depth > MaxValueDepth {
		return Value{}, fmt.Errorf("%w: value nesting exceeds MaxValueDepth %d", diag.ErrFormatFatal, MaxValueDepth)
	}

	tag, ok := p.file.GetByte()
	if !ok {
		return Value{}, fmt.Errorf("eof reading value tag")
	}

	switch tag {
	case wire.TagNull:
		return Value{Kind: KindNull}, nil
	case wire.TagFalse:
		return Value{Kind: KindBool, Bool: false}, nil
	case wire.TagTrue:
		return Value{Kind: KindBool, Bool: true}, nil
	case wire.TagSInt:
		u, err := wire.ReadUint(p.file)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindSInt, SInt: -int64(u)}, nil
	case wire.TagUInt:
		u, err := wire.ReadUint(p.file)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUInt, UInt: u}, nil
	case wire.TagFloat:
		var buf [4]byte
		n, err := p.file.Read(buf[:])
		if err != nil {
			return Value{}, err
		}
		if n != len(buf) {
			return Value{}, fmt.Errorf("eof reading float value")
		}
		bits := binary.LittleEndian.Uint32(buf[:])
		return Value{Kind: KindFloat, Float32: math.Float32frombits(bits)}, nil
	case wire.TagDouble:
		var buf [8]byte
		n, err := p.file.Read(buf[:])
		if err != nil {
			return Value{}, err
		}
		if n != len(buf) {
			return Value{}, fmt.Errorf("eof reading double value")
		}
		bits := binary.LittleEndian.Uint64(buf[:])
		return Value{Kind: KindDouble, Float64: math.Float64frombits(bits)}, nil
	case wire.TagString:
		s, err := wire.ReadString(p.file, p.file)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindString, Str: s.String()}, nil
	case wire.TagEnum:
		sig, err := p.resolveEnumSig()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindEnum, EnumSig: sig}, nil
	case wire.TagBitmask:
		sig, err := p.resolveBitmaskSig()
		if err != nil {
			return Value{}, err
		}
		v, err := wire.ReadUint(p.file)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBitmask, BitmaskSig: sig, BitmaskVal: v}, nil
	case wire.TagArray:
		n, err := wire.ReadUint(p.file)
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, n)
		for i := range elems {
			v, err := p.parseValue(depth + 1)
			if err != nil {
				return Value{}, err
			}
			elems[i] = v
		}
		return Value{Kind: KindArray, Array: elems}, nil
	case wire.TagStruct:
		sig, err := p.resolveStructSig()
		if err != nil {
			return Value{}, err
		}
		members := make([]Value, len(sig.MemberNames))
		for i := range members {
			v, err := p.parseValue(depth + 1)
			if err != nil {
				return Value{}, err
			}
			members[i] = v
		}
		return Value{Kind: KindStruct, StructSig: sig, Members: members}, nil
	case wire.TagBlob:
		n, err := wire.ReadUint(p.file)
		if err != nil {
			return Value{}, err
		}
		buf := make([]byte, n)
		got, err := p.file.Read(buf)
		if err != nil {
			return Value{}, err
		}
		if uint64(got) != n {
			return Value{}, fmt.Errorf("eof reading blob value")
		}
		return Value{Kind: KindBlob, Blob: buf}, nil
	case wire.TagOpaque:
		u, err := wire.ReadUint(p.file)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindOpaque, Opaque: u}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown value tag %d at offset 0x%x", diag.ErrFormatFatal, tag, p.file.CurrentOffset())
	}
}


// resolveFunctionSig, resolveStructSig, resolveEnumSig and resolveBitmaskSig
// all implement the same re-emission protocol (§4.4): read id, capture the
// offset, and parse a body only if id is new or this exact offset has
// already been recorded for id's namespace — the latter only ever happens
// when the byte source's offsets are not globally unique, which makes
// re-emission detection idempotent rather than mandatory.

func (p *Parser) resolveFunctionSig() (*FunctionSig, error) {
	id, err := wire.ReadUint(p.file)
	if err != nil {
		return nil, err
	}
	offset := p.file.CurrentOffset()
	sig, bound := p.functions[id]

	if !bound || p.funcSeen.has(offset) {
		fresh, err := p.parseFunctionSigBody(id)
		if err != nil {
			return sig, err
		}
		if !bound {
			p.functions[id] = fresh
			p.funcSeen.mark(offset)
			sig = fresh
		}
	}
	if sig == nil {
		return nil, fmt.Errorf("%w: function id %d has no signature", diag.ErrFormatFatal, id)
	}
	return sig, nil
}

func (p *Parser) parseFunctionSigBody(id uint64) (*FunctionSig, error) {
	name, err := wire.ReadString(p.file, p.file)
	if err != nil {
		return nil, err
	}
	numArgs, err := wire.ReadUint(p.file)
	if err != nil {
		return nil, err
	}
	argNames := make([]string, numArgs)
	for i := range argNames {
		s, err := wire.ReadString(p.file, p.file)
		if err != nil {
			return nil, err
		}
		argNames[i] = s.String()
	}
	return &FunctionSig{ID: id, Name: name.String(), ArgNames: argNames}, nil
}

func (p *Parser) resolveStructSig() (*StructSig, error) {
	id, err := wire.ReadUint(p.file)
	if err != nil {
		return nil, err
	}
	offset := p.file.CurrentOffset()
	sig, bound := p.structs[id]

	if !bound || p.structSeen.has(offset) {
		fresh, err := p.parseStructSigBody(id)
		if err != nil {
			return sig, err
		}
		if !bound {
			p.structs[id] = fresh
			p.structSeen.mark(offset)
			sig = fresh
		}
	}
	if sig == nil {
		return nil, fmt.Errorf("%w: struct id %d has no signature", diag.ErrFormatFatal, id)
	}
	return sig, nil
}

func (p *Parser) parseStructSigBody(id uint64) (*StructSig, error) {
	name, err := wire.ReadString(p.file, p.file)
	if err != nil {
		return nil, err
	}
	numMembers, err := wire.ReadUint(p.file)
	if err != nil {
		return nil, err
	}
	memberNames := make([]string, numMembers)
	for i := range memberNames {
		s, err := wire.ReadString(p.file, p.file)
		if err != nil {
			return nil, err
		}
		memberNames[i] = s.String()
	}
	return &StructSig{ID: id, Name: name.String(), MemberNames: memberNames}, nil
}

func (p *Parser) resolveEnumSig() (*EnumSig, error) {
	id, err := wire.ReadUint(p.file)
	if err != nil {
		return nil, err
	}
	offset := p.file.CurrentOffset()
	sig, bound := p.enums[id]

	if !bound || p.enumSeen.has(offset) {
		fresh, err := p.parseEnumSigBody(id)
		if err != nil {
			return sig, err
		}
		if !bound {
			p.enums[id] = fresh
			p.enumSeen.mark(offset)
			sig = fresh
		}
	}
	if sig == nil {
		return nil, fmt.Errorf("%w: enum id %d has no signature", diag.ErrFormatFatal, id)
	}
	return sig, nil
}

func (p *Parser) parseEnumSigBody(id uint64) (*EnumSig, error) {
	name, err := wire.ReadString(p.file, p.file)
	if err != nil {
		return nil, err
	}
	v, err := p.parseValue(0)
	if err != nil {
		return nil, err
	}
	return &EnumSig{ID: id, Name: name.String(), Value: toSInt(v)}, nil
}

// toSInt converts a decoded Value to a signed 64-bit integer the way the
// original's Value::toSInt() does: SINT passes through, UINT is
// reinterpreted as signed, anything else is zero.
func toSInt(v Value) int64 {
	switch v.Kind {
	case KindSInt:
		return v.SInt
	case KindUInt:
		return int64(v.UInt)
	default:
		return 0
	}
}

func (p *Parser) resolveBitmaskSig() (*BitmaskSig, error) {
	id, err := wire.ReadUint(p.file)
	if err != nil {
		return nil, err
	}
	offset := p.file.CurrentOffset()
	sig, bound := p.bitmasks[id]

	if !bound || p.bitmaskSeen.has(offset) {
		fresh, err := p.parseBitmaskSigBody(id)
		if err != nil {
			return sig, err
		}
		if !bound {
			for i, flag := range fresh.Flags {
				if flag.Value == 0 && i != 0 {
					p.diags.Addf(offset, diag.KindInvalid, "bitmask id %d: zero-valued flag %q is not first", id, flag.Name)
				}
			}
			p.bitmasks[id] = fresh
			p.bitmaskSeen.mark(offset)
			sig = fresh
		}
	}
	if sig == nil {
		return nil, fmt.Errorf("%w: bitmask id %d has no signature", diag.ErrFormatFatal, id)
	}
	return sig, nil
}

func (p *Parser) parseBitmaskSigBody(id uint64) (*BitmaskSig, error) {
	numFlags, err := wire.ReadUint(p.file)
	if err != nil {
		return nil, err
	}
	flags := make([]BitmaskFlag, numFlags)
	for i := range flags {
		s, err := wire.ReadString(p.file, p.file)
		if err != nil {
			return nil, err
		}
		v, err := wire.ReadUint(p.file)
		if err != nil {
			return nil, err
		}
		flags[i] = BitmaskFlag{Name: s.String(), Value: v}
	}
	return &BitmaskSig{ID: id, Flags: flags}, nil
}
