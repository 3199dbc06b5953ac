// Package rcwt writes Raw Captions With Time: an 11-byte file header, then
// one record per teletext line carrying a millisecond flight time stamp,
// a field-alternation byte and the 42-byte payload.
package rcwt

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// header: magic, writer class, writer version, format version tag.
var fileHeader = [11]byte{0xCC, 0xCC, 0xED, 0xCC, 0x00, 0x50, 0x00, 0x01, 0x00, 0x00, 0x00}

// HeaderSize is the RCWT file header length.
const HeaderSize = len(fileHeader)

// RecordSize is the per-line record length: u64 FTS, field byte, payload.
const RecordSize = 8 + 1 + packet.T42Size

// Writer frames lines into an RCWT stream. The header is written once, on
// the first record; ResetHeader re-arms it for a new output stream. The
// header state lives on the writer, not in a process-wide global, so
// concurrent pipelines do not interfere.
type Writer struct {
	w             io.Writer
	headerEmitted bool
	field         byte
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// ResetHeader re-arms header emission, for callers that reuse a Writer
// across output files.
func (w *Writer) ResetHeader() {
	w.headerEmitted = false
	w.field = 0
}

// WriteLine emits one record. The FTS is derived from the line's timecode
// at its timebase; the field byte alternates 0, 1, 0, ... per emitted
// line.
func (w *Writer) WriteLine(l *packet.Line) error {
	if !w.headerEmitted {
		if _, err := w.w.Write(fileHeader[:]); err != nil {
			return fmt.Errorf("rcwt: write header: %w", err)
		}
		w.headerEmitted = true
	}
	var rec [RecordSize]byte
	fts := l.Timecode.FrameNumber() * timecode.MillisPerFrame(l.Timecode.Timebase)
	binary.LittleEndian.PutUint64(rec[0:8], uint64(fts))
	rec[8] = w.field
	w.field ^= 1
	copy(rec[9:], l.Data[:])
	if _, err := w.w.Write(rec[:]); err != nil {
		return fmt.Errorf("rcwt: write record: %w", err)
	}
	return nil
}
