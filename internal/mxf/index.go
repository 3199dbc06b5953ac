package mxf

import (
	"context"
	"fmt"
	"io"

	"github.com/ttxtool/ttx-tool/internal/klv"
)

// Index describes where each edit unit of an MXF file starts, either as a
// constant stride or as an explicit offset table. Offsets are relative to
// the essence start (BodyPartitionOffset).
type Index struct {
	EditRateNum int
	EditRateDen int

	BodyPartitionOffset int64
	EditUnitCount       int64

	IsConstantByteSize    bool
	ConstantEditUnitBytes int64
	StreamOffsets         []int64
}

// OffsetOf returns the absolute byte offset of edit unit i.
func (x *Index) OffsetOf(i int64) (int64, error) {
	if i < 0 || i >= x.EditUnitCount {
		return 0, fmt.Errorf("mxf index: edit unit %d out of range (count %d)", i, x.EditUnitCount)
	}
	if x.IsConstantByteSize {
		return x.BodyPartitionOffset + i*x.ConstantEditUnitBytes, nil
	}
	return x.BodyPartitionOffset + x.StreamOffsets[i], nil
}

// SystemPacketOffset returns the absolute byte offset just past the system
// item's 16-byte KLV key for edit unit i (the key is the first thing in the
// unit), which is where its BER length starts.
func (x *Index) SystemPacketOffset(i int64) (int64, error) {
	off, err := x.OffsetOf(i)
	if err != nil {
		return 0, err
	}
	return off + klv.KeySize, nil
}

// BuildIndex scans a stream and records the offset of every edit unit
// (System item key). The scan honors ctx at each KLV boundary.
func BuildIndex(ctx context.Context, r io.ReadSeeker, editRateNum, editRateDen int) (*Index, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	x := &Index{EditRateNum: editRateNum, EditRateDen: editRateDen, BodyPartitionOffset: -1}
	sc := klv.NewScanner(r, 0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseErr(sc.Pos(), "index scan", err)
		}
		if e.Type == klv.KeySystem {
			if x.BodyPartitionOffset < 0 {
				x.BodyPartitionOffset = e.KeyOffset
			}
			x.StreamOffsets = append(x.StreamOffsets, e.KeyOffset-x.BodyPartitionOffset)
			x.EditUnitCount++
		}
		if err := sc.Skip(e); err != nil {
			return nil, parseErr(e.ValueOffset(), "index scan skip", err)
		}
	}
	if x.BodyPartitionOffset < 0 {
		x.BodyPartitionOffset = 0
	}
	x.collapseConstant()
	return x, nil
}

// collapseConstant switches to the constant-stride representation when
// every edit unit is the same size.
func (x *Index) collapseConstant() {
	if len(x.StreamOffsets) < 2 {
		return
	}
	stride := x.StreamOffsets[1] - x.StreamOffsets[0]
	for i := 2; i < len(x.StreamOffsets); i++ {
		if x.StreamOffsets[i]-x.StreamOffsets[i-1] != stride {
			return
		}
	}
	x.IsConstantByteSize = true
	x.ConstantEditUnitBytes = stride
	x.StreamOffsets = nil
}
