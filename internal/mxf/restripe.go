package mxf

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ttxtool/ttx-tool/internal/klv"
	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// Restripe rewrites the timecode metadata of an MXF file in place: the
// TimecodeComponent start value and every System item's packed SMPTE
// timecode, recomputed as start + frameIndex. Every other byte is left
// untouched, so file size, partition offsets and the footer are unchanged
// and re-running with the same start is a no-op.
//
// Cancellation is honored at each KLV boundary. After an error or cancel
// mid-rewrite the file is partially modified; callers should operate on a
// copy.
func Restripe(ctx context.Context, path string, start timecode.Timecode) error {
	if err := start.Validate(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := rewriteTimecodeComponent(ctx, f, start); err != nil {
		return err
	}
	return rewriteSystemItems(ctx, f, start)
}

// rewriteTimecodeComponent locates the first TimecodeComponent within the
// header scan cap and overwrites its StartTimecode (and drop flag),
// preserving the payload length.
func rewriteTimecodeComponent(ctx context.Context, f *os.File, start timecode.Timecode) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	sc := klv.NewScanner(f, 0)
	for sc.Pos() < DefaultHeaderScanBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return parseErr(sc.Pos(), "restripe header scan", err)
		}
		if e.Type != klv.KeyTimecodeComponent {
			if err := sc.Skip(e); err != nil {
				return parseErr(e.ValueOffset(), "restripe header skip", err)
			}
			continue
		}
		v, err := sc.Value(e)
		if err != nil {
			return parseErr(e.ValueOffset(), "timecode component payload", err)
		}
		comp, err := ParseTimecodeComponent(v)
		if err != nil {
			return parseErr(e.ValueOffset(), "timecode component", err)
		}
		if comp.Timebase != 0 && comp.Timebase != start.Timebase {
			return fmt.Errorf("restripe: file timebase %d does not match new start %s", comp.Timebase, start)
		}
		var frames [8]byte
		binary.BigEndian.PutUint64(frames[:], uint64(start.FrameNumber()))
		if _, err := f.WriteAt(frames[:], e.ValueOffset()+int64(comp.startValueOffset)); err != nil {
			return fmt.Errorf("restripe: write start timecode: %w", err)
		}
		if comp.dropValueOffset >= 0 {
			b := []byte{0}
			if start.DropFrame {
				b[0] = 1
			}
			if _, err := f.WriteAt(b, e.ValueOffset()+int64(comp.dropValueOffset)); err != nil {
				return fmt.Errorf("restripe: write drop flag: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("restripe: no timecode component within first %d bytes", DefaultHeaderScanBytes)
}

// rewriteSystemItems walks the whole file and overwrites the 4 SMPTE bytes
// in every System item.
func rewriteSystemItems(ctx context.Context, f *os.File, start timecode.Timecode) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	sc := klv.NewScanner(f, 0)
	cur := start
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return parseErr(sc.Pos(), "restripe scan", err)
		}
		if e.Type == klv.KeySystem {
			if off := systemTimecodeOffset(e.Length); off >= 0 {
				b := cur.SMPTEBytes()
				if _, err := f.WriteAt(b[:], e.ValueOffset()+int64(off)); err != nil {
					return fmt.Errorf("restripe: write system timecode: %w", err)
				}
			}
			cur = cur.AddFrame()
		}
		if err := sc.Skip(e); err != nil {
			return parseErr(e.ValueOffset(), "restripe skip", err)
		}
	}
}
