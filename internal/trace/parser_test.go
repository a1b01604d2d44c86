package trace

import (
	"compress/zlib"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sailfish009/apitrace/internal/diag"
	"github.com/sailfish009/apitrace/internal/wire"
)

// streamBuilder assembles a decompressed trace body (version + events) and
// writes it out as a zlib-compressed file, mirroring how a real capture
// would be stored on disk.
type streamBuilder struct {
	buf []byte
}

func (s *streamBuilder) uv(v uint64) *streamBuilder {
	var tmp [10]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			tmp[n] = b | 0x80
		} else {
			tmp[n] = b
			n++
			break
		}
		n++
	}
	s.buf = append(s.buf, tmp[:n]...)
	return s
}

func (s *streamBuilder) b(bs ...byte) *streamBuilder {
	s.buf = append(s.buf, bs...)
	return s
}

func (s *streamBuilder) str(v string) *streamBuilder {
	s.uv(uint64(len(v)))
	s.buf = append(s.buf, v...)
	return s
}

func (s *streamBuilder) f32(v float32) *streamBuilder {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], math.Float32bits(v))
	return s.b(raw[:]...)
}

func (s *streamBuilder) f64(v float64) *streamBuilder {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], math.Float64bits(v))
	return s.b(raw[:]...)
}

// open writes the builder's accumulated version+events as a zlib stream and
// opens it through trace.Open.
func (s *streamBuilder) open(t *testing.T) *Parser {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.zlib")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zlib.NewWriter(f)
	if _, err := zw.Write(s.buf); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

func newStream(version uint64) *streamBuilder {
	s := &streamBuilder{}
	s.uv(version)
	return s
}

// S1 — trivial call, no args, no return.
func TestS1_TrivialCall(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(0).b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)
	p := s.open(t)
	defer p.Close()

	call, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}
	if call.No != 0 || call.Sig.Name != "foo" || len(call.Args) != 0 || call.Ret != nil {
		t.Fatalf("unexpected call: %+v", call)
	}

	if _, err := p.ParseCall(); !errors.Is(err, diag.ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

// S2 — call with one uint arg.
func TestS2_UintArg(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(1).str("x")
	s.b(wire.TagCallArg).uv(0).b(wire.TagUInt).uv(42)
	s.b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)
	p := s.open(t)
	defer p.Close()

	call, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}
	if len(call.Args) != 1 || call.Args[0] == nil || call.Args[0].Kind != KindUInt || call.Args[0].UInt != 42 {
		t.Fatalf("unexpected args: %+v", call.Args)
	}
}

// S3 — interned second call: body-less reference to an already-bound id.
func TestS3_InternedSecondCall(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(1).str("x")
	s.b(wire.TagCallArg).uv(0).b(wire.TagUInt).uv(42)
	s.b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)

	s.b(wire.TagEnter).uv(0)
	s.b(wire.TagCallArg).uv(0).b(wire.TagUInt).uv(7)
	s.b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(1).b(wire.TagCallEnd)

	p := s.open(t)
	defer p.Close()

	first, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall 1: %v", err)
	}
	second, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall 2: %v", err)
	}
	if second.Sig != first.Sig {
		t.Errorf("second call's signature pointer differs from first's")
	}
	if second.No != 1 {
		t.Errorf("second call no = %d, want 1", second.No)
	}
	if second.Args[0].UInt != 7 {
		t.Errorf("second call args[0] = %+v, want UInt(7)", second.Args[0])
	}
}

// S4 — nested overlap: LEAVE events arrive out of call.no order.
func TestS4_NestedOverlap(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(0).b(wire.TagCallEnd)
	s.b(wire.TagEnter).uv(0).b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(1).b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)
	p := s.open(t)
	defer p.Close()

	first, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall 1: %v", err)
	}
	if first.No != 1 {
		t.Fatalf("first emitted call.no = %d, want 1", first.No)
	}
	second, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall 2: %v", err)
	}
	if second.No != 0 {
		t.Fatalf("second emitted call.no = %d, want 0", second.No)
	}
}

// S5 — signature re-emission: the offset/seen-at mechanism is exercised
// directly (see DESIGN.md — a monotonic byte offset, by construction, never
// repeats within one continuous stream, so a literal byte-for-byte
// reproduction of wire-level re-emission cannot be driven through Open;
// this test instead drives the documented mechanism white-box, the way it
// would behave against a degenerate/non-unique offset source).
func TestS5_ReemissionIdempotence(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(0).b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)

	s.b(wire.TagEnter).uv(0)
	secondIDEndOffset := uint64(len(s.buf))
	s.str("foo").uv(0).b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(1).b(wire.TagCallEnd)

	p := s.open(t)
	defer p.Close()

	first, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall 1: %v", err)
	}
	before := p.functions[0]

	// A monotonic byte offset never repeats within one continuous stream,
	// so the wire cannot naturally land this second reference's offset in
	// funcSeen. Pre-seed it to exercise the re-emission branch exactly as
	// it would run against a byte source whose offset collapses across a
	// chunk or file-split boundary (see DESIGN.md).
	p.funcSeen.mark(secondIDEndOffset)

	second, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall 2: %v", err)
	}
	if second.Sig != before {
		t.Error("re-emission must not replace by_id[0]")
	}
	if p.functions[0] != before {
		t.Error("by_id[0] must not be replaced by a re-emission")
	}
	_ = first
}

// S6 — truncation mid-string: the in-progress call is discarded, no earlier
// completed call is lost, and end-of-stream is reported.
func TestS6_TruncationMidString(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(0).b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)

	// Second ENTER references a fresh id whose name string claims length 10
	// but the stream ends after 2 bytes.
	s.b(wire.TagEnter).uv(1).uv(10).b('h', 'i')

	p := s.open(t)
	defer p.Close()

	first, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall 1: %v", err)
	}
	if first.No != 0 {
		t.Fatalf("first call.no = %d, want 0", first.No)
	}

	_, err = p.ParseCall()
	if !errors.Is(err, diag.ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream after truncation, got %v", err)
	}
}

// Property 9 — version gate.
func TestVersionGate(t *testing.T) {
	s := &streamBuilder{}
	s.uv(MaxVersion + 1)
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.zlib")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zlib.NewWriter(f)
	zw.Write(s.buf)
	zw.Close()
	f.Close()

	_, err = Open(path, Options{})
	if err == nil {
		t.Fatal("expected error for unsupported version")
	}
	if !errors.Is(err, diag.ErrFormatFatal) {
		t.Errorf("expected ErrFormatFatal, got %v", err)
	}
}

// Property 10 — double precision round-trip.
func TestDoubleRoundTrip(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(1).str("x")
	s.b(wire.TagCallArg).uv(0).b(wire.TagDouble).f64(math.Pi)
	s.b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)
	p := s.open(t)
	defer p.Close()

	call, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}
	if call.Args[0].Kind != KindDouble {
		t.Fatalf("Kind = %v, want KindDouble", call.Args[0].Kind)
	}
	if got := call.Args[0].Double(); got != math.Pi {
		t.Errorf("Double() = %v, want %v", got, math.Pi)
	}
}

// Sparse args: indices arrive out of order and with a gap.
func TestSparseArgs(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(4).str("a").str("b").str("c").str("d")
	s.b(wire.TagCallArg).uv(0).b(wire.TagUInt).uv(1)
	s.b(wire.TagCallArg).uv(3).b(wire.TagUInt).uv(4)
	s.b(wire.TagCallArg).uv(1).b(wire.TagUInt).uv(2)
	s.b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)
	p := s.open(t)
	defer p.Close()

	call, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}
	if len(call.Args) != 4 {
		t.Fatalf("len(Args) = %d, want 4", len(call.Args))
	}
	if call.Args[2] != nil {
		t.Errorf("Args[2] = %+v, want nil (unset)", call.Args[2])
	}
	if call.Args[0].UInt != 1 || call.Args[1].UInt != 2 || call.Args[3].UInt != 4 {
		t.Errorf("unexpected args: %+v %+v %+v", call.Args[0], call.Args[1], call.Args[3])
	}
}

// Negated-unsigned SINT encoding.
func TestSIntNegatedUnsigned(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(1).str("x")
	s.b(wire.TagCallArg).uv(0).b(wire.TagSInt).uv(5)
	s.b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)
	p := s.open(t)
	defer p.Close()

	call, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}
	if call.Args[0].SInt != -5 {
		t.Errorf("SInt = %d, want -5", call.Args[0].SInt)
	}
}

// Unknown event tag is format-fatal.
func TestUnknownEventTagIsFatal(t *testing.T) {
	s := newStream(0)
	s.b(0x7f)
	p := s.open(t)
	defer p.Close()

	_, err := p.ParseCall()
	if !errors.Is(err, diag.ErrFormatFatal) {
		t.Fatalf("expected ErrFormatFatal, got %v", err)
	}
}

// Incomplete pending call at Close is reported as an advisory, not an error.
func TestIncompleteCallAtClose(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(0).b(wire.TagCallEnd)
	p := s.open(t)

	if _, err := p.ParseCall(); !errors.Is(err, diag.ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.Diags()[len(p.Diags())-1].Kind != diag.KindIncomplete {
		t.Errorf("expected a KindIncomplete diagnostic, got %+v", p.Diags())
	}
}

// Missing ENTER: LEAVE with no pending call of that number is tolerated.
func TestLeaveWithoutEnter(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagLeave).uv(99).b(wire.TagCallEnd)
	s.b(wire.TagEnter).uv(0).str("foo").uv(0).b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)
	p := s.open(t)
	defer p.Close()

	call, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}
	if call.No != 0 {
		t.Errorf("call.No = %d, want 0", call.No)
	}
}

// Struct and array values recurse correctly and respect member counts.
func TestStructAndArrayValues(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(1).str("x")
	s.b(wire.TagCallArg).uv(0).b(wire.TagStruct).uv(0).str("Point").uv(2).str("x").str("y")
	s.b(wire.TagUInt).uv(1)
	s.b(wire.TagArray).uv(2).b(wire.TagUInt).uv(10).b(wire.TagUInt).uv(20)
	s.b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)
	p := s.open(t)
	defer p.Close()

	call, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}
	v := call.Args[0]
	if v.Kind != KindStruct || v.StructSig.Name != "Point" || len(v.Members) != 2 {
		t.Fatalf("unexpected struct value: %+v", v)
	}
	if v.Members[0].UInt != 1 {
		t.Errorf("Members[0] = %+v, want UInt(1)", v.Members[0])
	}
	if v.Members[1].Kind != KindArray || len(v.Members[1].Array) != 2 {
		t.Fatalf("Members[1] = %+v, want 2-element array", v.Members[1])
	}
}

// MaxValueDepth guards against pathological nesting.
func TestMaxValueDepthGuard(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(1).str("x")
	s.b(wire.TagCallArg).uv(0)
	for i := 0; i <= MaxValueDepth+1; i++ {
		s.b(wire.TagArray).uv(1)
	}
	s.b(wire.TagUInt).uv(1)
	p := s.open(t)
	defer p.Close()

	_, err := p.ParseCall()
	if !errors.Is(err, diag.ErrFormatFatal) {
		t.Fatalf("expected ErrFormatFatal from depth guard, got %v", err)
	}
}

// Bitmask with a zero-valued flag that isn't first is a non-fatal advisory.
func TestBitmaskZeroFlagNotFirstIsAdvisory(t *testing.T) {
	s := newStream(0)
	s.b(wire.TagEnter).uv(0).str("foo").uv(1).str("x")
	s.b(wire.TagCallArg).uv(0).b(wire.TagBitmask).uv(0)
	s.uv(2)
	s.str("A").uv(1)
	s.str("NONE").uv(0)
	s.uv(1) // the runtime bitmask value
	s.b(wire.TagCallEnd)
	s.b(wire.TagLeave).uv(0).b(wire.TagCallEnd)
	p := s.open(t)
	defer p.Close()

	call, err := p.ParseCall()
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}
	if call.Args[0].Kind != KindBitmask {
		t.Fatalf("Kind = %v, want KindBitmask", call.Args[0].Kind)
	}
	found := false
	for _, d := range p.Diags() {
		if d.Kind == diag.KindInvalid {
			found = true
		}
	}
	if !found {
		t.Error("expected an advisory diagnostic for the out-of-order zero flag")
	}
}
