package tsx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttxtool/ttx-tool/internal/t42"
)

func TestReverseBits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, byte(0x00), reverseBits[0x00])
	assert.Equal(t, byte(0xFF), reverseBits[0xFF])
	assert.Equal(t, byte(0x80), reverseBits[0x01])
	assert.Equal(t, byte(0xE4), reverseBits[0x27])
	for i := 0; i < 256; i++ {
		assert.Equal(t, byte(i), reverseBits[reverseBits[i]])
	}
}

func TestUnwrapPESRoundTrip(t *testing.T) {
	t.Parallel()

	lineA := t42.EncodeLine(8, 20, "first")
	lineB := t42.EncodeLine(8, 22, "second")

	pes := []byte{0x10} // EBU data identifier
	pes = WrapT42(pes, lineA, 0x15)
	pes = WrapT42(pes, lineB, 0x16)

	lines := UnwrapPES(pes)
	require.Len(t, lines, 2)
	assert.Equal(t, lineA, lines[0])
	assert.Equal(t, lineB, lines[1])
}

func TestUnwrapPESRejectsForeignPayloads(t *testing.T) {
	t.Parallel()

	// DVB subtitle data identifier, not teletext
	assert.Nil(t, UnwrapPES([]byte{0x20, 0x03, 0x2C}))
	assert.Nil(t, UnwrapPES(nil))

	// stuffing units are skipped
	pes := []byte{0x10, 0xFF, 0x02, 0x00, 0x00}
	line := t42.EncodeLine(1, 1, "after stuffing")
	pes = WrapT42(pes, line, 0x00)
	lines := UnwrapPES(pes)
	require.Len(t, lines, 1)
	assert.Equal(t, line, lines[0])
}

func TestUnwrapPESTruncatedUnit(t *testing.T) {
	t.Parallel()

	line := t42.EncodeLine(1, 1, "x")
	pes := WrapT42([]byte{0x10}, line, 0x00)
	assert.Len(t, UnwrapPES(pes[:len(pes)-5]), 0)
}
