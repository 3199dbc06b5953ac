package format

import (
	"context"
	"fmt"
	"io"

	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/t42"
	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// rawHandler parses headerless captures: a flat sequence of fixed-size
// line slots, grouped LinesPerFrame to a packet, with synthesized
// timecodes counting up from zero.
type rawHandler struct {
	format   packet.Format
	slotSize int
}

func (h *rawHandler) Format() packet.Format { return h.format }

func (h *rawHandler) Open(r io.Reader, opts ParserOptions) (Parser, error) {
	return &rawParser{
		r:        r,
		format:   h.format,
		slotSize: h.slotSize,
		perFrame: opts.LinesPerFrame,
		tc:       timecode.Zero(opts.Timebase, false),
		buf:      make([]byte, h.slotSize),
	}, nil
}

type rawParser struct {
	r        io.Reader
	format   packet.Format
	slotSize int
	perFrame int
	tc       timecode.Timecode
	buf      []byte
	done     bool
}

func (p *rawParser) Next(ctx context.Context) (*packet.Packet, error) {
	if p.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkt := packet.Get()
	pkt.Timecode = p.tc
	for i := 0; i < p.perFrame; i++ {
		n, err := io.ReadFull(p.r, p.buf)
		if err == io.EOF && n == 0 {
			p.done = true
			if len(pkt.Lines) == 0 {
				packet.Put(pkt)
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			packet.Put(pkt)
			return nil, fmt.Errorf("%s capture: short line slot: %w", p.format, err)
		}
		l, err := p.decodeSlot()
		if err != nil {
			// an undecodable slot drops the line, not the stream
			continue
		}
		pkt.AddLine(l)
	}
	p.tc = p.tc.AddFrame()
	return pkt, nil
}

func (p *rawParser) decodeSlot() (packet.Line, error) {
	var l packet.Line
	switch p.format {
	case packet.FormatT42:
		mag, row, err := t42.Address(p.buf)
		if err != nil {
			return l, err
		}
		copy(l.Data[:], p.buf)
		l.Magazine, l.Row = mag, row
		l.CachedFormat = packet.FormatT42
	default:
		raw, mag, row, err := t42.FromVBI(p.buf)
		if err != nil {
			return l, err
		}
		copy(l.Data[:], raw)
		l.Magazine, l.Row = mag, row
		l.CachedFormat = p.format
	}
	return l, nil
}
