package mxf

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ttxtool/ttx-tool/internal/klv"
	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/t42"
	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// DefaultHeaderScanBytes bounds how far into the file the demuxer looks
// for the TimecodeComponent before giving up on it.
const DefaultHeaderScanBytes = 128 * 1024

// DefaultTimebase is used when a file carries no TimecodeComponent.
const DefaultTimebase = 25

// Options tune a Demuxer.
type Options struct {
	// HeaderScanBytes caps the TimecodeComponent search; 0 means
	// DefaultHeaderScanBytes.
	HeaderScanBytes int64
	// KeepKLV preserves each data element's key and BER length bytes in
	// Packet.RawHeader for passthrough output.
	KeepKLV bool
}

// RawElement is an opaque payload delivered for a key type the caller
// required via Require.
type RawElement struct {
	Key    [klv.KeySize]byte
	Type   klv.KeyType
	Offset int64
	Data   []byte
}

// Demuxer iterates an MXF stream one edit unit at a time. A System item
// opens a new edit unit; teletext Data essence within the unit becomes
// Lines; everything else is skipped unless required.
type Demuxer struct {
	r    io.ReadSeeker
	sc   *klv.Scanner
	opts Options

	startTC  timecode.Timecode
	hasTC    bool
	timebase int
	drop     bool

	cur        *packet.Packet
	curRaw     []RawElement
	frameIndex int64
	started    bool
	done       bool

	required map[klv.KeyType]bool
	scratch  []byte
	lastRaw  []RawElement
}

// NewDemuxer scans the header for the stream's TimecodeComponent, then
// positions the stream for edit-unit iteration. A file without one still
// demuxes: packets carry a synthesized timecode from 00:00:00:00 at
// timebase 25.
func NewDemuxer(r io.ReadSeeker, opts Options) (*Demuxer, error) {
	d := &Demuxer{
		r:        r,
		opts:     opts,
		timebase: DefaultTimebase,
		required: map[klv.KeyType]bool{klv.KeyData: true},
	}
	if d.opts.HeaderScanBytes <= 0 {
		d.opts.HeaderScanBytes = DefaultHeaderScanBytes
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := d.scanHeader(); err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	d.sc = klv.NewScanner(r, 0)
	if !d.hasTC {
		d.startTC = timecode.Zero(d.timebase, d.drop)
	}
	return d, nil
}

// scanHeader looks for the first TimecodeComponent within the scan cap.
func (d *Demuxer) scanHeader() error {
	sc := klv.NewScanner(d.r, 0)
	for sc.Pos() < d.opts.HeaderScanBytes {
		e, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return parseErr(sc.Pos(), "header scan", err)
		}
		if e.Type == klv.KeyTimecodeComponent {
			v, err := sc.Value(e)
			if err != nil {
				return parseErr(e.ValueOffset(), "timecode component payload", err)
			}
			comp, err := ParseTimecodeComponent(v)
			if err != nil {
				return parseErr(e.ValueOffset(), "timecode component", err)
			}
			start, err := comp.Start()
			if err != nil {
				return parseErr(e.ValueOffset(), "timecode component", err)
			}
			d.startTC = start
			d.timebase = comp.Timebase
			d.drop = comp.DropFrame
			d.hasTC = true
			return nil
		}
		if err := sc.Skip(e); err != nil {
			return parseErr(e.ValueOffset(), "header scan skip", err)
		}
	}
	return nil
}

// StartTimecode is the essence start timecode: from the TimecodeComponent
// when present, else synthesized.
func (d *Demuxer) StartTimecode() timecode.Timecode { return d.startTC }

// HasTimecodeComponent reports whether the header carried one.
func (d *Demuxer) HasTimecodeComponent() bool { return d.hasTC }

// Timebase is the edit rate the demuxer is decoding timecodes at.
func (d *Demuxer) Timebase() int { return d.timebase }

// Require asks the demuxer to deliver payloads of the given key types as
// RawElements alongside each packet instead of skipping them. Data essence
// is always required.
func (d *Demuxer) Require(types ...klv.KeyType) {
	for _, t := range types {
		d.required[t] = true
	}
}

// RawElements returns the required raw payloads that arrived in the most
// recently yielded packet's edit unit.
func (d *Demuxer) RawElements() []RawElement { return d.lastRaw }

// Next yields the next edit unit as a Packet. It returns io.EOF after the
// last unit, and checks ctx once per packet boundary.
func (d *Demuxer) Next(ctx context.Context) (*packet.Packet, error) {
	if d.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		e, err := d.sc.Next()
		if err == io.EOF {
			d.done = true
			if d.started && d.cur != nil {
				p := d.flush()
				return p, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, parseErr(d.sc.Pos(), "scan", err)
		}
		switch e.Type {
		case klv.KeySystem:
			p := d.beginUnit(e)
			if p != nil {
				return p, nil
			}
		case klv.KeyData:
			if err := d.onData(e); err != nil {
				return nil, err
			}
		default:
			if d.required[e.Type] && e.Type != klv.KeyData {
				v, err := d.sc.Value(e)
				if err != nil {
					return nil, parseErr(e.ValueOffset(), "required payload", err)
				}
				d.curRaw = append(d.curRaw, RawElement{
					Key: e.Key, Type: e.Type, Offset: e.KeyOffset,
					Data: append([]byte(nil), v...),
				})
			} else if err := d.sc.Skip(e); err != nil {
				return nil, parseErr(e.ValueOffset(), "skip", err)
			}
		}
	}
}

// beginUnit starts a new edit unit at a System item, returning the
// previous unit's packet if one was open.
func (d *Demuxer) beginUnit(e *klv.Element) *packet.Packet {
	var prev *packet.Packet
	if d.started {
		prev = d.flush()
	}
	d.started = true
	d.cur = packet.Get()
	d.curRaw = nil

	tc := d.startTC.AddFrames(d.frameIndex)
	if off := systemTimecodeOffset(e.Length); off >= 0 {
		d.scratch = d.ensureScratch(e.Length)
		if v, err := d.sc.ValueInto(e, d.scratch); err == nil {
			if dec, derr := timecode.FromSMPTEBytes(v[off:off+4], d.timebase, d.drop); derr == nil {
				tc = dec
			}
		}
	} else {
		_ = d.sc.Skip(e)
	}
	d.cur.Timecode = tc
	d.frameIndex++
	return prev
}

// onData parses a teletext data essence element into lines on the current
// packet. Data arriving before any System item opens a unit with the
// synthesized timecode.
func (d *Demuxer) onData(e *klv.Element) error {
	if !d.started || d.cur == nil {
		d.started = true
		d.cur = packet.Get()
		d.cur.Timecode = d.startTC.AddFrames(d.frameIndex)
		d.frameIndex++
	}
	d.scratch = d.ensureScratch(e.Length)
	v, err := d.sc.ValueInto(e, d.scratch)
	if err != nil {
		return parseErr(e.ValueOffset(), "data essence payload", err)
	}
	if d.opts.KeepKLV {
		hdr := append([]byte(nil), e.Key[:]...)
		hdr = klv.AppendBER(hdr, e.Length)
		d.cur.RawHeader = hdr
	}
	lines, err := ParseDataEssence(v)
	if err != nil {
		return parseErr(e.ValueOffset(), "data essence", err)
	}
	for _, l := range lines {
		d.cur.AddLine(l)
	}
	return nil
}

func (d *Demuxer) ensureScratch(n int64) []byte {
	if int64(cap(d.scratch)) < n {
		d.scratch = make([]byte, n)
	}
	return d.scratch[:n]
}

func (d *Demuxer) flush() *packet.Packet {
	p := d.cur
	d.cur = nil
	d.lastRaw = d.curRaw
	d.curRaw = nil
	return p
}

// ParseDataEssence decodes an ST 436-style data element: a 2-byte
// big-endian line count, then per line a 14-byte header followed by its
// payload. Teletext payloads become Lines; other line types are skipped.
func ParseDataEssence(b []byte) ([]packet.Line, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("data essence: short element (%d bytes)", len(b))
	}
	count := int(b[0])<<8 | int(b[1])
	pos := 2
	var lines []packet.Line
	for i := 0; i < count; i++ {
		h, err := packet.ParseANCHeader(b[pos:])
		if err != nil {
			return nil, fmt.Errorf("data essence line %d: %w", i, err)
		}
		pos += packet.ANCHeaderSize
		if pos+int(h.DataLength) > len(b) {
			return nil, fmt.Errorf("data essence line %d: payload runs past element", i)
		}
		payload := b[pos : pos+int(h.DataLength)]
		pos += int(h.DataLength)
		if !h.IsTeletext() {
			continue
		}
		l, err := lineFromPayload(payload)
		if err != nil {
			// a corrupt line does not poison the rest of the unit
			continue
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// lineFromPayload builds a Line from a raw 42-byte or VBI-sized payload.
func lineFromPayload(payload []byte) (packet.Line, error) {
	var l packet.Line
	switch len(payload) {
	case t42.LineSize:
		mag, row, err := t42.Address(payload)
		if err != nil {
			return l, err
		}
		copy(l.Data[:], payload)
		l.Magazine, l.Row = mag, row
		l.CachedFormat = packet.FormatT42
	case t42.VBISize, t42.VBIDoubleSize:
		raw, mag, row, err := t42.FromVBI(payload)
		if err != nil {
			return l, err
		}
		copy(l.Data[:], raw)
		l.Magazine, l.Row = mag, row
		l.CachedFormat = packet.FormatVBI
	default:
		return l, errors.New("unsupported teletext payload size")
	}
	return l, nil
}
