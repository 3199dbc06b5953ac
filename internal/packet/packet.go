// Package packet holds the in-memory records flowing through the toolkit:
// a Line is one 42-byte teletext payload with addressing and timing, a
// Packet is one frame's worth of lines sharing a SMPTE timecode.
package packet

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// T42Size is the fixed payload size of a teletext line.
const T42Size = 42

// Format tags the representation a line was decoded from or should be
// encoded to.
type Format int

const (
	FormatUnknown Format = iota
	FormatT42
	FormatVBI
	FormatVBIDouble
	FormatMXF
	FormatANC
	FormatRCWT
	FormatSTL
	FormatTS
)

func (f Format) String() string {
	switch f {
	case FormatT42:
		return "t42"
	case FormatVBI:
		return "vbi"
	case FormatVBIDouble:
		return "vbi-double"
	case FormatMXF:
		return "mxf"
	case FormatANC:
		return "anc"
	case FormatRCWT:
		return "rcwt"
	case FormatSTL:
		return "stl"
	case FormatTS:
		return "ts"
	default:
		return "unknown"
	}
}

// Line is a single teletext line. Data is always exactly 42 bytes; a line
// with Row 0 is a page header and carries metadata, not subtitle text.
type Line struct {
	Magazine int
	Row      int
	Timecode timecode.Timecode
	Data     [T42Size]byte
	// Format the line was decoded as, kept so re-encoding can skip work.
	CachedFormat Format
	// Text is an optional 7-bit preview. The parsers in this module do not
	// fill it; it stays empty unless a caller sets it.
	Text string
}

// Valid reports whether the line carries plausible teletext addressing.
func (l *Line) Valid() bool {
	return l.Magazine >= 1 && l.Magazine <= 8 && l.Row >= 0 && l.Row <= 31
}

// IsHeader reports whether the line is a page header row.
func (l *Line) IsHeader() bool { return l.Row == 0 }

// Clone copies the line. Trackers that outlive a pipeline step must clone:
// parser-owned line storage is recycled between packets.
func (l *Line) Clone() Line {
	return *l
}

// Packet is a frame-sized grouping of lines sharing one SMPTE timecode.
// Lines keep parser order. RawHeader optionally preserves the KLV key and
// length bytes of the source element for passthrough modes.
type Packet struct {
	Timecode  timecode.Timecode
	Lines     []Line
	RawHeader []byte
}

// AddLine appends a line, stamping it with the packet timecode.
func (p *Packet) AddLine(l Line) {
	l.Timecode = p.Timecode
	p.Lines = append(p.Lines, l)
}

// Reset clears the packet for reuse, keeping line capacity.
func (p *Packet) Reset() {
	p.Lines = p.Lines[:0]
	p.RawHeader = nil
}

var packetPool = sync.Pool{
	New: func() any { return &Packet{Lines: make([]Line, 0, 4)} },
}

// Get returns a pooled packet. Pooled packets must be Put back once the
// consumer is done with the iteration step; lines must not escape without
// Clone.
func Get() *Packet {
	return packetPool.Get().(*Packet)
}

// Put resets and recycles a packet obtained from Get.
func Put(p *Packet) {
	p.Reset()
	packetPool.Put(p)
}

// ANC line header layout (14 bytes, big-endian) as stored in MXF ST 436
// data essence:
//
//	0-1  line number
//	2    wrapping type
//	3    sample coding
//	4-5  sample count
//	6-9  reserved (array header)
//	10-11 data length
//	12   reserved
//	13   type tag (0x01 = teletext)
const (
	ANCHeaderSize   = 14
	ancTypeTeletext = 0x01
)

// ANCHeader is the decoded form of the 14-byte line header.
type ANCHeader struct {
	LineNumber   uint16
	WrappingType byte
	SampleCoding byte
	SampleCount  uint16
	DataLength   uint16
	TypeTag      byte
}

// IsTeletext reports whether the header tags a teletext payload.
func (h ANCHeader) IsTeletext() bool { return h.TypeTag == ancTypeTeletext }

// ParseANCHeader decodes a 14-byte line header.
func ParseANCHeader(b []byte) (ANCHeader, error) {
	if len(b) < ANCHeaderSize {
		return ANCHeader{}, fmt.Errorf("anc header: need %d bytes, have %d", ANCHeaderSize, len(b))
	}
	return ANCHeader{
		LineNumber:   binary.BigEndian.Uint16(b[0:2]),
		WrappingType: b[2],
		SampleCoding: b[3],
		SampleCount:  binary.BigEndian.Uint16(b[4:6]),
		DataLength:   binary.BigEndian.Uint16(b[10:12]),
		TypeTag:      b[13],
	}, nil
}

// AppendANCHeader encodes h into the 14-byte wire form.
func AppendANCHeader(dst []byte, h ANCHeader) []byte {
	var buf [ANCHeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.LineNumber)
	buf[2] = h.WrappingType
	buf[3] = h.SampleCoding
	binary.BigEndian.PutUint16(buf[4:6], h.SampleCount)
	binary.BigEndian.PutUint16(buf[10:12], h.DataLength)
	buf[13] = h.TypeTag
	return append(dst, buf[:]...)
}
