// Package tsx extracts EBU teletext (EN 300 472) from MPEG transport
// streams. PMT teletext descriptors pick the elementary stream; each PES
// packet's data units are unwrapped into T42 lines, one packet per PES.
package tsx

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astits"

	"github.com/ttxtool/ttx-tool/internal/format"
	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/t42"
	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// Handler adapts the TS parser to the format registry.
type Handler struct{}

// Format implements format.Handler.
func (Handler) Format() packet.Format { return packet.FormatTS }

// Open implements format.Handler.
func (Handler) Open(r io.Reader, opts format.ParserOptions) (format.Parser, error) {
	return &Parser{r: r, timebase: opts.Timebase}, nil
}

// Register adds the TS handler to a registry.
func Register(r *format.Registry) {
	r.Register(Handler{})
}

// Parser walks a transport stream, yielding one packet per teletext PES.
type Parser struct {
	r        io.Reader
	timebase int
	dmx      *astits.Demuxer
	ttxPIDs  map[uint16]bool
	firstPTS int64
	havePTS  bool
}

// Next implements format.Parser. Timecodes count frames from the first
// teletext PTS at the configured timebase.
func (p *Parser) Next(ctx context.Context) (*packet.Packet, error) {
	if p.dmx == nil {
		if p.timebase <= 0 {
			p.timebase = 25
		}
		p.dmx = astits.NewDemuxer(ctx, p.r)
		p.ttxPIDs = make(map[uint16]bool)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := p.dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("ts: %w", err)
		}
		if d.PMT != nil {
			for _, es := range d.PMT.ElementaryStreams {
				if es.StreamType == astits.StreamTypePrivateData {
					// EN 300 472 teletext rides private data; the
					// data identifier check in UnwrapPES rejects
					// other private payloads
					p.ttxPIDs[es.ElementaryPID] = true
					continue
				}
				for _, desc := range es.ElementaryStreamDescriptors {
					if desc.Teletext != nil {
						p.ttxPIDs[es.ElementaryPID] = true
					}
				}
			}
			continue
		}
		if d.PES == nil || !p.ttxPIDs[d.PID] {
			continue
		}
		pkt := packet.Get()
		pkt.Timecode = p.timecodeFor(d.PES)
		for _, raw := range UnwrapPES(d.PES.Data) {
			l, err := lineFromT42(raw)
			if err != nil {
				continue
			}
			pkt.AddLine(l)
		}
		if len(pkt.Lines) == 0 {
			packet.Put(pkt)
			continue
		}
		return pkt, nil
	}
}

func (p *Parser) timecodeFor(pes *astits.PESData) timecode.Timecode {
	tc := timecode.Zero(p.timebase, false)
	if pes.Header == nil || pes.Header.OptionalHeader == nil || pes.Header.OptionalHeader.PTS == nil {
		return tc
	}
	pts := pes.Header.OptionalHeader.PTS.Base
	if !p.havePTS {
		p.firstPTS = pts
		p.havePTS = true
	}
	frames := (pts - p.firstPTS) * int64(p.timebase) / 90000
	return tc.AddFrames(frames)
}

// reverseBits holds the LSB-first to MSB-first byte mapping: teletext
// bytes in a transport stream are transmitted bit-reversed relative to
// T42 order.
var reverseBits [256]byte

func init() {
	for i := range reverseBits {
		b := byte(i)
		b = b>>4 | b<<4
		b = b>>2&0x33 | b<<2&0xCC
		b = b>>1&0x55 | b<<1&0xAA
		reverseBits[i] = b
	}
}

const (
	dataUnitNonSubtitle = 0x02
	dataUnitSubtitle    = 0x03
	dataUnitLength      = 0x2C
	framingCode         = 0xE4
)

// UnwrapPES walks an EN 300 472 PES payload: a data identifier byte, then
// 46-byte data units (id, length, field/line byte, framing code, 42
// teletext bytes). It returns each unit's 42 bytes in T42 bit order.
func UnwrapPES(data []byte) [][]byte {
	if len(data) < 1 {
		return nil
	}
	id := data[0]
	if id < 0x10 || id > 0x1F {
		return nil
	}
	var lines [][]byte
	pos := 1
	for pos+2 <= len(data) {
		unitID := data[pos]
		unitLen := int(data[pos+1])
		pos += 2
		if pos+unitLen > len(data) {
			break
		}
		unit := data[pos : pos+unitLen]
		pos += unitLen
		if unitID != dataUnitSubtitle && unitID != dataUnitNonSubtitle {
			continue
		}
		if unitLen != dataUnitLength || unit[1] != framingCode {
			continue
		}
		line := make([]byte, t42.LineSize)
		for i, b := range unit[2 : 2+t42.LineSize] {
			line[i] = reverseBits[b]
		}
		lines = append(lines, line)
	}
	return lines
}

// WrapT42 is the inverse of UnwrapPES for one line: a subtitle data unit
// with the given field/line byte, bytes bit-reversed back to wire order.
func WrapT42(dst []byte, line []byte, fieldLine byte) []byte {
	dst = append(dst, dataUnitSubtitle, dataUnitLength, fieldLine, framingCode)
	for _, b := range line {
		dst = append(dst, reverseBits[b])
	}
	return dst
}

func lineFromT42(raw []byte) (packet.Line, error) {
	var l packet.Line
	mag, row, err := t42.Address(raw)
	if err != nil {
		return l, err
	}
	copy(l.Data[:], raw)
	l.Magazine, l.Row = mag, row
	l.CachedFormat = packet.FormatTS
	return l, nil
}
