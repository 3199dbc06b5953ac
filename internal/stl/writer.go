package stl

import (
	"fmt"

	"github.com/ttxtool/ttx-tool/internal/t42"
)

const (
	// GSISize is the fixed general subtitle information block size.
	GSISize = 1024
	// TTISize is the fixed text and timing information block size.
	TTISize = 128
	// TextFieldSize is the TTI text field length (bytes 16..127).
	TextFieldSize = 112

	stlSpace    = 0x8F
	stlStartBox = 0x0B
	stlEndBox   = 0x0A
)

// putString writes s at off, space-padded (and truncated) to width.
func putString(b []byte, off, width int, s string) {
	for i := 0; i < width; i++ {
		if i < len(s) {
			b[off+i] = s[i]
		} else {
			b[off+i] = ' '
		}
	}
}

// buildGSI lays out the 1024-byte GSI block for a 25 fps STL file.
func buildGSI(title string, totalSubtitles int) []byte {
	b := make([]byte, GSISize)
	for i := range b {
		b[i] = ' '
	}
	putString(b, 0, 3, "437")         // code page
	putString(b, 3, 8, "STL25.01")    // disk format
	b[11] = '1'                       // display standard: teletext level 1
	putString(b, 12, 2, "00")         // character code table
	putString(b, 14, 2, "EN")         // language
	putString(b, 16, 32, title)       // original title
	putString(b, 225, 5, fmt.Sprintf("%05d", totalSubtitles))
	putString(b, 230, 3, "001")       // subtitle groups
	putString(b, 233, 2, "40")        // max chars per row
	putString(b, 235, 2, "23")        // max rows
	b[237] = '1'                      // timecode status
	putString(b, 238, 8, "00000000")  // timecode start
	putString(b, 246, 8, "00000000")  // timecode first in-cue
	b[254] = '1'                      // total disks
	b[255] = '1'                      // disk sequence number
	return b
}

// buildTTI lays out one 128-byte TTI block. number is 1-based.
func buildTTI(number int, sub subtitle) []byte {
	b := make([]byte, TTISize)
	b[0] = 0x00 // subtitle group
	b[1] = byte(number >> 8)
	b[2] = byte(number)
	b[3] = 0xFF // extension block number: none
	b[4] = 0x00 // cumulative status
	in := sub.tcIn.BCDBytes()
	out := sub.tcOut.BCDBytes()
	copy(b[5:9], in[:])
	copy(b[9:13], out[:])
	b[13] = byte(sub.row & 0x1F) // vertical position
	b[14] = 0x02                 // justification: left
	b[15] = 0x00                 // comment flag
	pos := 16
	for _, raw := range sub.data[t42.TextOffset(sub.row):] {
		if pos >= TTISize {
			break
		}
		b[pos] = mapTextByte(raw)
		pos++
	}
	for ; pos < TTISize; pos++ {
		b[pos] = stlSpace
	}
	return b
}

// mapTextByte converts one parity-coded T42 display byte to the STL text
// field encoding: start-box and color codes pass through, normal-height
// becomes end-box, printable ASCII passes, anything else degrades to a
// space.
func mapTextByte(raw byte) byte {
	c := raw & 0x7F
	switch {
	case c == 0x0B:
		return stlStartBox
	case c == 0x0C:
		return stlEndBox
	case c >= 0x01 && c <= 0x07:
		return c // teletext color codes; null degrades to space below
	case c >= 0x20:
		return c
	default:
		return 0x20
	}
}
