package t42

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHamming84RoundTrip(t *testing.T) {
	t.Parallel()

	for v := byte(0); v < 16; v++ {
		code := Ham84Encode(v)
		got, ok := Ham84Decode(code)
		require.True(t, ok)
		assert.Equal(t, v, got)

		// single bit errors correct back
		for bit := 0; bit < 8; bit++ {
			got, ok := Ham84Decode(code ^ 1<<bit)
			require.True(t, ok, "v=%d bit=%d", v, bit)
			assert.Equal(t, v, got)
		}
	}
}

func TestOddParity(t *testing.T) {
	t.Parallel()

	for b := 0; b < 128; b++ {
		p := OddParity(byte(b))
		ones := 0
		for bit := 0; bit < 8; bit++ {
			if p&(1<<bit) != 0 {
				ones++
			}
		}
		assert.Equal(t, 1, ones%2, "byte %02x", b)
		assert.Equal(t, byte(b), p&0x7F)
	}
}

func TestAddressRoundTrip(t *testing.T) {
	t.Parallel()

	for mag := 1; mag <= 8; mag++ {
		for row := 0; row <= 31; row++ {
			line := make([]byte, 2)
			SetAddress(line, mag, row)
			m, r, err := Address(line)
			require.NoError(t, err)
			assert.Equal(t, mag, m)
			assert.Equal(t, row, r)
		}
	}
}

func TestAddressUncorrectable(t *testing.T) {
	t.Parallel()

	// two bit errors on a code byte are not correctable
	bad := Ham84Encode(3) ^ 0x03
	_, _, err := Address([]byte{bad, Ham84Encode(0)})
	assert.Error(t, err)
}

func TestVBIRoundTrip(t *testing.T) {
	t.Parallel()

	for _, slot := range []int{VBISize, VBIDoubleSize} {
		line := EncodeLine(8, 20, "\x0b\x0bHello world")
		vbi, err := ToVBI(line, slot)
		require.NoError(t, err)
		require.Len(t, vbi, slot)

		back, mag, row, err := FromVBI(vbi)
		require.NoError(t, err)
		assert.Equal(t, line, back, "slot %d", slot)
		assert.Equal(t, 8, mag)
		assert.Equal(t, 20, row)
	}
}

func TestFromVBIShiftedPreamble(t *testing.T) {
	t.Parallel()

	line := EncodeLine(1, 5, "shifted")
	vbi, err := ToVBI(line, VBISize)
	require.NoError(t, err)

	// simulate a capture where the run-in starts mid-slot
	shifted := make([]byte, VBISize)
	copy(shifted[13:], vbi[:VBISize-13])
	back, mag, row, err := FromVBI(shifted)
	require.NoError(t, err)
	assert.Equal(t, line, back)
	assert.Equal(t, 1, mag)
	assert.Equal(t, 5, row)
}

func TestFromVBINoFraming(t *testing.T) {
	t.Parallel()

	_, _, _, err := FromVBI(make([]byte, VBISize))
	assert.ErrorIs(t, err, ErrNoFramingCode)

	_, _, _, err = FromVBI(make([]byte, 100))
	assert.Error(t, err)
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	line := EncodeLine(8, 20, "\x0b\x0bHello")
	got := DecodeText(line, 20)
	assert.Equal(t, "  Hello", got[:7])

	// header rows skip the page metadata bytes
	hdr := EncodeLine(1, 0, "SUNDAY 10 JAN")
	assert.Equal(t, "SUNDAY 10 JAN", DecodeText(hdr, 0)[:13])
}

func TestTextOffset(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10, TextOffset(0))
	assert.Equal(t, 2, TextOffset(1))
	assert.Equal(t, 2, TextOffset(24))
}

func TestRowSets(t *testing.T) {
	t.Parallel()

	d := DefaultRows()
	assert.Len(t, d, 32)
	assert.True(t, d[0] && d[31])

	c := CaptionRows()
	assert.Len(t, c, 24)
	assert.False(t, c[0])
	assert.True(t, c[1] && c[24])
	assert.False(t, c[25])
}
