package mxf

import (
	"context"
	"fmt"
	"io"

	"github.com/ttxtool/ttx-tool/internal/klv"
	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/t42"
)

// DumpSink hands out one output stream per key type. Streams are opened
// lazily on the first payload of that type.
type DumpSink interface {
	Writer(t klv.KeyType) (io.Writer, error)
}

// Dump streams every payload in the file to the sink, one output per key
// type. With keepKLV the 16-byte key and BER length bytes are written
// before each payload, so the output is itself a valid KLV stream.
func Dump(ctx context.Context, r io.ReadSeeker, sink DumpSink, keepKLV bool) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	sc := klv.NewScanner(r, 0)
	var scratch []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return parseErr(sc.Pos(), "dump scan", err)
		}
		w, err := sink.Writer(e.Type)
		if err != nil {
			return err
		}
		if w == nil {
			if err := sc.Skip(e); err != nil {
				return parseErr(e.ValueOffset(), "dump skip", err)
			}
			continue
		}
		if int64(cap(scratch)) < e.Length {
			scratch = make([]byte, e.Length)
		}
		v, err := sc.ValueInto(e, scratch[:e.Length])
		if err != nil {
			return parseErr(e.ValueOffset(), "dump payload", err)
		}
		if keepKLV {
			if _, err := w.Write(e.Key[:]); err != nil {
				return err
			}
			if _, err := w.Write(klv.AppendBER(nil, e.Length)); err != nil {
				return err
			}
		}
		if _, err := w.Write(v); err != nil {
			return err
		}
	}
}

// AppendDataEssence encodes T42 lines as a data element in the layout
// ParseDataEssence reads: a 2-byte line count, then a 14-byte header and
// payload per line. lineNumber seeds the VBI line numbering (consecutive
// lines count up from it).
func AppendDataEssence(dst []byte, lineNumber int, lines ...[]byte) ([]byte, error) {
	dst = append(dst, byte(len(lines)>>8), byte(len(lines)))
	for i, l := range lines {
		if len(l) != t42.LineSize {
			return nil, fmt.Errorf("data essence line %d: need %d bytes, have %d", i, t42.LineSize, len(l))
		}
		dst = packet.AppendANCHeader(dst, packet.ANCHeader{
			LineNumber:   uint16(lineNumber + i),
			WrappingType: 1,
			SampleCoding: 1,
			SampleCount:  t42.LineSize,
			DataLength:   t42.LineSize,
			TypeTag:      0x01,
		})
		dst = append(dst, l...)
	}
	return dst, nil
}
