package tracefile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpen_Zlib(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	want := []byte("hello trace stream")
	if _, err := zw.Write(want); err != nil {
		t.Fatal(err)
	}
	zw.Close()

	path := writeTemp(t, "trace.zlib", buf.Bytes())
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Flavor() != FlavorZlib {
		t.Fatalf("Flavor = %v, want FlavorZlib", f.Flavor())
	}

	got := make([]byte, len(want))
	n, err := f.Read(got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(want) || !bytes.Equal(got, want) {
		t.Errorf("Read = %q, want %q", got[:n], want)
	}
	if f.CurrentOffset() != uint64(len(want)) {
		t.Errorf("CurrentOffset = %d, want %d", f.CurrentOffset(), len(want))
	}
}

func writeSnappyBlock(t *testing.T, payload []byte) []byte {
	t.Helper()
	comp := snappy.Encode(nil, payload)
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(comp)))
	var out bytes.Buffer
	out.Write(hdr[:])
	out.Write(comp)
	return out.Bytes()
}

func TestOpen_SnappyBlock(t *testing.T) {
	want := []byte("hello fast trace stream")
	data := writeSnappyBlock(t, want)

	path := writeTemp(t, "trace.snap", data)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Flavor() != FlavorSnappyBlock {
		t.Fatalf("Flavor = %v, want FlavorSnappyBlock", f.Flavor())
	}

	var got []byte
	for {
		b, ok := f.GetByte()
		if !ok {
			break
		}
		got = append(got, b)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("GetByte stream = %q, want %q", got, want)
	}
}

func TestGetByte_EOF(t *testing.T) {
	data := writeSnappyBlock(t, []byte("ab"))
	path := writeTemp(t, "trace.snap", data)
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for i := 0; i < 2; i++ {
		if _, ok := f.GetByte(); !ok {
			t.Fatalf("byte %d: unexpected EOF", i)
		}
	}
	if _, ok := f.GetByte(); ok {
		t.Errorf("expected EOF after consuming all bytes")
	}
}
