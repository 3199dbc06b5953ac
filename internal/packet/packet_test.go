package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttxtool/ttx-tool/internal/timecode"
)

func TestAddLineStampsPacketTimecode(t *testing.T) {
	t.Parallel()

	tc, err := timecode.New(10, 0, 0, 5, 25, false)
	require.NoError(t, err)

	p := Packet{Timecode: tc}
	p.AddLine(Line{Magazine: 8, Row: 20})
	p.AddLine(Line{Magazine: 8, Row: 22})

	require.Len(t, p.Lines, 2)
	for _, l := range p.Lines {
		assert.Equal(t, tc, l.Timecode)
	}
}

func TestLineValid(t *testing.T) {
	t.Parallel()

	assert.True(t, (&Line{Magazine: 1, Row: 0}).Valid())
	assert.True(t, (&Line{Magazine: 8, Row: 31}).Valid())
	assert.False(t, (&Line{Magazine: 0, Row: 5}).Valid())
	assert.False(t, (&Line{Magazine: 9, Row: 5}).Valid())
	assert.False(t, (&Line{Magazine: 3, Row: 32}).Valid())
}

func TestANCHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := ANCHeader{
		LineNumber:   21,
		WrappingType: 1,
		SampleCoding: 2,
		SampleCount:  T42Size,
		DataLength:   T42Size,
		TypeTag:      0x01,
	}
	wire := AppendANCHeader(nil, h)
	require.Len(t, wire, ANCHeaderSize)

	got, err := ParseANCHeader(wire)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.True(t, got.IsTeletext())

	_, err = ParseANCHeader(wire[:10])
	assert.Error(t, err)
}

func TestPoolReuse(t *testing.T) {
	t.Parallel()

	p := Get()
	p.AddLine(Line{Magazine: 1, Row: 1})
	p.RawHeader = []byte{1, 2, 3}
	Put(p)

	q := Get()
	assert.Empty(t, q.Lines)
	assert.Nil(t, q.RawHeader)
	Put(q)
}
