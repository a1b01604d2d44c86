// Package tracefile implements the call-trace byte source: it opens a
// compressed trace file, sniffs which of the two supported decompression
// flavors produced it, and exposes a byte-oriented reading interface with a
// stable, monotone logical offset.
package tracefile

import (
	"bufio"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
)

var (
	// ErrUnknownFlavor names an unrecognized compression flavor. Open does
	// not return it: a file without a zlib header is read as the
	// snappy-block flavor.
	ErrUnknownFlavor = errors.New("tracefile: unrecognized compression flavor")
)

// Flavor identifies which decompressor backs a File.
type Flavor int

const (
	FlavorZlib Flavor = iota
	FlavorSnappyBlock
)

func (f Flavor) String() string {
	switch f {
	case FlavorZlib:
		return "zlib"
	case FlavorSnappyBlock:
		return "snappy-block"
	default:
		return "unknown"
	}
}

// File is the decompressed byte source a trace.Parser reads from.
type File struct {
	f      *os.File
	dr     io.Reader
	closer io.Closer // non-nil when dr itself owns a resource to release
	flavor Flavor
	offset uint64
}

// Open opens path, sniffs its compression flavor by magic bytes, and
// returns a File ready to be read sequentially from the start of the
// decompressed stream.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tracefile: open: %w", err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("tracefile: peek magic: %w", err)
	}

	var dr io.Reader
	var closer io.Closer
	var flavor Flavor
	switch {
	case isZlibMagic(magic):
		zr, err := zlib.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("tracefile: zlib header: %w", err)
		}
		dr = zr
		closer = zr
		flavor = FlavorZlib
	default:
		dr = newSnappyBlockReader(br)
		flavor = FlavorSnappyBlock
	}

	return &File{f: f, dr: dr, closer: closer, flavor: flavor}, nil
}

// isZlibMagic reports whether b looks like an RFC1950 zlib header: CM (low
// nibble of the first byte) must be 8 (deflate), and the big-endian 16-bit
// value formed by both header bytes must be a multiple of 31 (the FCHECK
// constraint).
func isZlibMagic(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	cmf, flg := b[0], b[1]
	if cmf&0x0f != 8 {
		return false
	}
	return (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// Flavor reports which decompressor this File is using.
func (f *File) Flavor() Flavor { return f.flavor }

// GetByte returns the next decompressed byte, or ok=false at end of stream.
func (f *File) GetByte() (byte, bool) {
	var buf [1]byte
	// A reader may return the final byte together with io.EOF; the byte
	// still counts, and the next call reports end of stream.
	n, _ := f.dr.Read(buf[:])
	if n == 0 {
		return 0, false
	}
	f.offset++
	return buf[0], true
}

// Read fills buf completely, or short at end of stream; n reports how many
// bytes were actually read.
func (f *File) Read(buf []byte) (n int, err error) {
	n, err = io.ReadFull(f.dr, buf)
	f.offset += uint64(n)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return n, err
}

// CurrentOffset returns the number of decompressed bytes consumed so far.
// It is strictly increasing and stable for the lifetime of f, making it
// usable as a signature-table dictionary key.
func (f *File) CurrentOffset() uint64 { return f.offset }

// Close releases the decompressor and the underlying file.
func (f *File) Close() error {
	var err error
	if f.closer != nil {
		err = f.closer.Close()
	}
	if cerr := f.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// snappyBlockReader adapts the fast block-compressed flavor to io.Reader.
// The wire framing is: a sequence of blocks, each an 8-byte little-endian
// header (raw length, compressed length) followed by that many bytes of
// snappy block-compressed data.
type snappyBlockReader struct {
	src     *bufio.Reader
	pending []byte
	pos     int
}

func newSnappyBlockReader(src *bufio.Reader) *snappyBlockReader {
	return &snappyBlockReader{src: src}
}

func (s *snappyBlockReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.pending) {
		if err := s.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.pending[s.pos:])
	s.pos += n
	return n, nil
}

func (s *snappyBlockReader) fill() error {
	var hdr [8]byte
	if _, err := io.ReadFull(s.src, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return err
	}
	rawLen := binary.LittleEndian.Uint32(hdr[0:4])
	compLen := binary.LittleEndian.Uint32(hdr[4:8])

	comp := make([]byte, compLen)
	if _, err := io.ReadFull(s.src, comp); err != nil {
		return fmt.Errorf("tracefile: snappy block body: %w", err)
	}

	dst := make([]byte, rawLen)
	out, err := snappy.Decode(dst, comp)
	if err != nil {
		return fmt.Errorf("tracefile: snappy decode: %w", err)
	}
	s.pending = out
	s.pos = 0
	return nil
}
