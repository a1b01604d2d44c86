// Package diag provides shared diagnostics and error-handling modes for
// trace decoding.
package diag

import (
	"errors"
	"fmt"
)

// Kind classifies a diagnostic message.
type Kind string

const (
	KindTruncated  Kind = "truncated"
	KindInvalid    Kind = "invalid"
	KindUnknownTag Kind = "unknown_tag"
	KindOverflow   Kind = "overflow"
	KindIncomplete Kind = "incomplete_call"
)

// Diag records a non-fatal issue encountered during parsing.
type Diag struct {
	Offset uint64 `json:"offset"`
	Kind   Kind   `json:"kind"`
	Msg    string `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Offset, d.Msg)
}

// Diags accumulates diagnostics in encounter order.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(offset uint64, kind Kind, msg string) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(offset uint64, kind Kind, format string, args ...any) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Mode controls how the parser reacts to structural errors.
type Mode int

const (
	// ModeBestEffort accumulates diagnostics for advisory issues and keeps
	// decoding; this is the default used by the CLI.
	ModeBestEffort Mode = iota
	// ModeStrict returns the error of the first ENTER or LEAVE that fails to
	// decode (for example a truncated one) instead of recording it as a
	// diagnostic. Advisories such as a zero-valued bitmask flag that is not
	// first, or a LEAVE with no pending call, are still only recorded.
	ModeStrict
)

// ErrFormatFatal wraps an unrecoverable framing error: an unknown event,
// value, or call-detail tag, or an unsupported stream version. Once this
// error surfaces, the enclosing Parser's byte stream can no longer be
// trusted and decoding must stop.
var ErrFormatFatal = errors.New("trace: format fatal")

// ErrEndOfStream is returned by ParseCall when the underlying byte source is
// cleanly exhausted between events.
var ErrEndOfStream = errors.New("trace: end of stream")
