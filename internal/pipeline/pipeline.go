// Package pipeline wires a packet source to an output sink: magazine and
// row filtering, output format selection, optional realtime pacing. It is
// single-pass and never holds more than one packet.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/rcwt"
	"github.com/ttxtool/ttx-tool/internal/stl"
	"github.com/ttxtool/ttx-tool/internal/t42"
)

// Source yields packets until io.EOF. Demuxers and raw-capture parsers
// implement it.
type Source interface {
	Next(ctx context.Context) (*packet.Packet, error)
}

// Options configure one conversion run.
type Options struct {
	// Magazine keeps only lines of one magazine; 0 keeps all.
	Magazine int
	// Rows keeps only lines whose row is in the set; nil keeps all.
	Rows t42.Rows
	// Keep emits a zero-filled line slot in place of each filtered-out
	// line so downstream consumers see a constant frame size. Only
	// meaningful for T42/VBI outputs.
	Keep bool
	// Output selects the sink format: T42, VBI, VBIDouble, RCWT or STL.
	Output packet.Format
	// Realtime paces output at the stream's frame rate.
	Realtime bool

	// STL passes through to the exporter.
	STL stl.Config
}

// Stats summarize a finished run.
type Stats struct {
	Packets      int64
	LinesIn      int64
	LinesOut     int64
	LinesDropped int64
}

// Run streams src to w until EOF or error. Packets already written stay
// valid on error; cancellation is checked at each packet boundary.
func Run(ctx context.Context, src Source, w io.Writer, opts Options) (Stats, error) {
	var stats Stats

	var sink func(*packet.Packet) error
	var flush func() error

	switch opts.Output {
	case packet.FormatT42, packet.FormatVBI, packet.FormatVBIDouble:
		sink = func(p *packet.Packet) error { return writeRaw(w, p, &opts, &stats) }
	case packet.FormatRCWT:
		rw := rcwt.NewWriter(w)
		sink = func(p *packet.Packet) error {
			for i := range p.Lines {
				if !keepLine(&p.Lines[i], &opts) {
					stats.LinesDropped++
					continue
				}
				if err := rw.WriteLine(&p.Lines[i]); err != nil {
					return err
				}
				stats.LinesOut++
			}
			return nil
		}
	case packet.FormatSTL:
		cfg := opts.STL
		cfg.Magazine = opts.Magazine
		if opts.Rows != nil {
			cfg.Rows = opts.Rows
		}
		ex := stl.NewExporter(w, cfg)
		sink = func(p *packet.Packet) error {
			ex.ProcessPacket(p)
			stats.LinesOut += int64(len(p.Lines))
			return nil
		}
		flush = ex.Flush
	default:
		return stats, fmt.Errorf("pipeline: unsupported output format %s", opts.Output)
	}

	var limiter *rate.Limiter
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		p, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}
		if limiter == nil && opts.Realtime {
			tb := p.Timecode.Timebase
			if tb <= 0 {
				tb = 25
			}
			limiter = rate.NewLimiter(rate.Every(time.Second/time.Duration(tb)), 1)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return stats, err
			}
		}
		stats.Packets++
		stats.LinesIn += int64(len(p.Lines))
		err = sink(p)
		packet.Put(p)
		if err != nil {
			return stats, err
		}
	}
	if flush != nil {
		if err := flush(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// keepLine applies the magazine and row filters.
func keepLine(l *packet.Line, opts *Options) bool {
	if opts.Magazine != 0 && l.Magazine != opts.Magazine {
		return false
	}
	if opts.Rows != nil && !opts.Rows[l.Row] {
		return false
	}
	return true
}

// writeRaw emits a packet's lines as T42 or VBI slots. In keep mode,
// filtered-out lines become zero-filled slots of the output size.
func writeRaw(w io.Writer, p *packet.Packet, opts *Options, stats *Stats) error {
	slotSize := packet.T42Size
	switch opts.Output {
	case packet.FormatVBI:
		slotSize = t42.VBISize
	case packet.FormatVBIDouble:
		slotSize = t42.VBIDoubleSize
	}
	var zero []byte
	for i := range p.Lines {
		l := &p.Lines[i]
		if !keepLine(l, opts) {
			stats.LinesDropped++
			if !opts.Keep {
				continue
			}
			if zero == nil {
				zero = make([]byte, slotSize)
			}
			if _, err := w.Write(zero); err != nil {
				return err
			}
			continue
		}
		var out []byte
		if opts.Output == packet.FormatT42 {
			out = l.Data[:]
		} else {
			vbi, err := t42.ToVBI(l.Data[:], slotSize)
			if err != nil {
				return err
			}
			out = vbi
		}
		if _, err := w.Write(out); err != nil {
			return err
		}
		stats.LinesOut++
	}
	return nil
}
