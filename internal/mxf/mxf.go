// Package mxf parses just enough of the Material Exchange Format to pull
// teletext data essence and timecode metadata out of OP1a files, and to
// rewrite ("restripe") that timecode metadata in place.
package mxf

import (
	"encoding/binary"
	"fmt"

	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// ParseError is a semantic error in an MXF stream at a known byte offset.
type ParseError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mxf: %s at offset %d: %v", e.Msg, e.Offset, e.Err)
	}
	return fmt.Sprintf("mxf: %s at offset %d", e.Msg, e.Offset)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(offset int64, msg string, err error) *ParseError {
	return &ParseError{Offset: offset, Msg: msg, Err: err}
}

// PartitionPack is the fixed numeric part of an MXF partition header,
// big-endian, 64 bytes before the operational pattern label. Only used for
// navigation.
type PartitionPack struct {
	MajorVersion      uint16
	MinorVersion      uint16
	KAGSize           uint32
	ThisPartition     int64
	PreviousPartition int64
	FooterPartition   int64
	HeaderByteCount   int64
	IndexByteCount    int64
	IndexSID          uint32
	BodyOffset        int64
	BodySID           uint32
}

const partitionPackMinSize = 64

// ParsePartitionPack decodes a partition pack payload.
func ParsePartitionPack(b []byte) (PartitionPack, error) {
	if len(b) < partitionPackMinSize {
		return PartitionPack{}, fmt.Errorf("partition pack: need %d bytes, have %d", partitionPackMinSize, len(b))
	}
	return PartitionPack{
		MajorVersion:      binary.BigEndian.Uint16(b[0:2]),
		MinorVersion:      binary.BigEndian.Uint16(b[2:4]),
		KAGSize:           binary.BigEndian.Uint32(b[4:8]),
		ThisPartition:     int64(binary.BigEndian.Uint64(b[8:16])),
		PreviousPartition: int64(binary.BigEndian.Uint64(b[16:24])),
		FooterPartition:   int64(binary.BigEndian.Uint64(b[24:32])),
		HeaderByteCount:   int64(binary.BigEndian.Uint64(b[32:40])),
		IndexByteCount:    int64(binary.BigEndian.Uint64(b[40:48])),
		IndexSID:          binary.BigEndian.Uint32(b[48:52]),
		BodyOffset:        int64(binary.BigEndian.Uint64(b[52:60])),
		BodySID:           binary.BigEndian.Uint32(b[60:64]),
	}, nil
}

// AppendPartitionPack encodes p into the 64-byte numeric form.
func AppendPartitionPack(dst []byte, p PartitionPack) []byte {
	var b [partitionPackMinSize]byte
	binary.BigEndian.PutUint16(b[0:2], p.MajorVersion)
	binary.BigEndian.PutUint16(b[2:4], p.MinorVersion)
	binary.BigEndian.PutUint32(b[4:8], p.KAGSize)
	binary.BigEndian.PutUint64(b[8:16], uint64(p.ThisPartition))
	binary.BigEndian.PutUint64(b[16:24], uint64(p.PreviousPartition))
	binary.BigEndian.PutUint64(b[24:32], uint64(p.FooterPartition))
	binary.BigEndian.PutUint64(b[32:40], uint64(p.HeaderByteCount))
	binary.BigEndian.PutUint64(b[40:48], uint64(p.IndexByteCount))
	binary.BigEndian.PutUint32(b[48:52], p.IndexSID)
	binary.BigEndian.PutUint64(b[52:60], uint64(p.BodyOffset))
	binary.BigEndian.PutUint32(b[60:64], p.BodySID)
	return append(dst, b[:]...)
}

// TimecodeComponent local set tags (SMPTE 377M structural metadata).
const (
	tagStartTimecode = 0x1501
	tagTimecodeBase  = 0x1502
	tagDropFrame     = 0x1503
)

// TimecodeComponent is the decoded structural metadata object holding a
// stream's start timecode.
type TimecodeComponent struct {
	StartFrames int64
	Timebase    int
	DropFrame   bool
	// startValueOffset is where the 8-byte StartTimecode value sits
	// within the payload, kept so restripe can overwrite it in place.
	startValueOffset int
	dropValueOffset  int
}

// Start converts the component to a Timecode.
func (tc TimecodeComponent) Start() (timecode.Timecode, error) {
	if !timecode.ValidTimebase(tc.Timebase) {
		return timecode.Timecode{}, fmt.Errorf("%w: timecode component base %d", timecode.ErrInvalidTimecode, tc.Timebase)
	}
	return timecode.FromFrameNumber(tc.StartFrames, tc.Timebase, tc.DropFrame), nil
}

// ParseTimecodeComponent walks the local set payload: 2-byte tag, 2-byte
// length, value. Unknown tags are skipped.
func ParseTimecodeComponent(b []byte) (TimecodeComponent, error) {
	tc := TimecodeComponent{startValueOffset: -1, dropValueOffset: -1}
	pos := 0
	for pos+4 <= len(b) {
		tag := binary.BigEndian.Uint16(b[pos : pos+2])
		length := int(binary.BigEndian.Uint16(b[pos+2 : pos+4]))
		pos += 4
		if pos+length > len(b) {
			return TimecodeComponent{}, fmt.Errorf("timecode component: tag %04x runs past payload", tag)
		}
		v := b[pos : pos+length]
		switch tag {
		case tagStartTimecode:
			if length >= 8 {
				tc.StartFrames = int64(binary.BigEndian.Uint64(v[:8]))
				tc.startValueOffset = pos
			}
		case tagTimecodeBase:
			if length >= 2 {
				tc.Timebase = int(binary.BigEndian.Uint16(v[:2]))
			}
		case tagDropFrame:
			if length >= 1 {
				tc.DropFrame = v[0] != 0
				tc.dropValueOffset = pos
			}
		}
		pos += length
	}
	if tc.startValueOffset < 0 {
		return TimecodeComponent{}, fmt.Errorf("timecode component: no start timecode tag")
	}
	return tc, nil
}

// AppendTimecodeComponent encodes the three local set items, used when
// synthesizing headers.
func AppendTimecodeComponent(dst []byte, startFrames int64, timebase int, dropFrame bool) []byte {
	var b [8]byte
	binary.BigEndian.PutUint16(b[0:2], tagStartTimecode)
	binary.BigEndian.PutUint16(b[2:4], 8)
	dst = append(dst, b[0:4]...)
	binary.BigEndian.PutUint64(b[0:8], uint64(startFrames))
	dst = append(dst, b[0:8]...)

	binary.BigEndian.PutUint16(b[0:2], tagTimecodeBase)
	binary.BigEndian.PutUint16(b[2:4], 2)
	binary.BigEndian.PutUint16(b[4:6], uint16(timebase))
	dst = append(dst, b[0:6]...)

	binary.BigEndian.PutUint16(b[0:2], tagDropFrame)
	binary.BigEndian.PutUint16(b[2:4], 1)
	dst = append(dst, b[0:4]...)
	if dropFrame {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	return dst
}

// System item SMPTE timecode placement: the 4 packed bytes sit at offset 41
// in a SMPTE 385M system metadata pack, or offset 12 in a system metadata
// set. The larger offset wins when the element is long enough for it.
const (
	systemTCOffsetPack = 41
	systemTCOffsetSet  = 12
)

// systemTimecodeOffset picks the intra-payload offset for an element of
// the given length, or -1 when neither placement fits.
func systemTimecodeOffset(length int64) int {
	if length >= systemTCOffsetPack+4 {
		return systemTCOffsetPack
	}
	if length >= systemTCOffsetSet+4 {
		return systemTCOffsetSet
	}
	return -1
}
