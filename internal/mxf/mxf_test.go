package mxf

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttxtool/ttx-tool/internal/klv"
	"github.com/ttxtool/ttx-tool/internal/t42"
	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// buildFixture synthesizes a minimal OP1a-shaped file: header partition,
// timecode component, then one System + Data pair per frame, and a footer
// partition. texts[i] becomes the caption line of frame i; an empty string
// yields a frame with no lines.
func buildFixture(t *testing.T, start timecode.Timecode, texts []string) []byte {
	t.Helper()

	var out []byte
	add := func(typ klv.KeyType, payload []byte) {
		key := klv.CanonicalKey(typ)
		out = append(out, key[:]...)
		out = klv.AppendBER(out, int64(len(payload)))
		out = append(out, payload...)
	}

	add(klv.KeyPartitionPack, AppendPartitionPack(nil, PartitionPack{
		MajorVersion: 1, MinorVersion: 3, KAGSize: 1,
	}))
	add(klv.KeyTimecodeComponent, AppendTimecodeComponent(nil, start.FrameNumber(), start.Timebase, start.DropFrame))

	tc := start
	for _, text := range texts {
		sys := make([]byte, 57)
		smpte := tc.SMPTEBytes()
		copy(sys[41:45], smpte[:])
		add(klv.KeySystem, sys)

		if text != "" {
			essence, err := AppendDataEssence(nil, 21, t42.EncodeLine(8, 20, text))
			require.NoError(t, err)
			add(klv.KeyData, essence)
		}
		tc = tc.AddFrame()
	}

	add(klv.KeyPartitionPack, AppendPartitionPack(nil, PartitionPack{
		MajorVersion: 1, MinorVersion: 3, KAGSize: 1, ThisPartition: int64(len(out)),
	}))
	return out
}

func fixtureTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = "caption line"
	}
	return texts
}

func TestDemuxYieldsPacketPerEditUnit(t *testing.T) {
	t.Parallel()

	start, err := timecode.Parse("10:00:00:00", 25)
	require.NoError(t, err)
	data := buildFixture(t, start, fixtureTexts(250))

	d, err := NewDemuxer(bytes.NewReader(data), Options{})
	require.NoError(t, err)
	assert.True(t, d.HasTimecodeComponent())
	assert.Equal(t, "10:00:00:00", d.StartTimecode().String())
	assert.Equal(t, 25, d.Timebase())

	ctx := context.Background()
	want := start
	n := 0
	for {
		p, err := d.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, want, p.Timecode, "packet %d", n)
		require.Len(t, p.Lines, 1)
		assert.Equal(t, 8, p.Lines[0].Magazine)
		assert.Equal(t, 20, p.Lines[0].Row)
		want = want.AddFrame()
		n++
	}
	assert.Equal(t, 250, n)
}

func TestDemuxWithoutTimecodeComponent(t *testing.T) {
	t.Parallel()

	start := timecode.Zero(25, false)
	data := buildFixture(t, start, fixtureTexts(3))
	// strip the timecode component triplet: it sits right after the
	// header partition pack
	hdrLen := klv.KeySize + 1 + 64
	tcLen := klv.KeySize + 1 + len(AppendTimecodeComponent(nil, 0, 25, false))
	stripped := append(append([]byte{}, data[:hdrLen]...), data[hdrLen+tcLen:]...)

	d, err := NewDemuxer(bytes.NewReader(stripped), Options{})
	require.NoError(t, err)
	assert.False(t, d.HasTimecodeComponent())
	assert.Equal(t, "00:00:00:00", d.StartTimecode().String())
	assert.Equal(t, DefaultTimebase, d.Timebase())

	p, err := d.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "00:00:00:00", p.Timecode.String())
}

func TestDemuxCancellation(t *testing.T) {
	t.Parallel()

	start := timecode.Zero(25, false)
	data := buildFixture(t, start, fixtureTexts(10))
	d, err := NewDemuxer(bytes.NewReader(data), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = d.Next(ctx)
	require.NoError(t, err)
	cancel()
	_, err = d.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDemuxKeepKLV(t *testing.T) {
	t.Parallel()

	start := timecode.Zero(25, false)
	data := buildFixture(t, start, fixtureTexts(1))
	d, err := NewDemuxer(bytes.NewReader(data), Options{KeepKLV: true})
	require.NoError(t, err)

	p, err := d.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p.RawHeader)
	assert.Equal(t, klv.KeyData, klv.Classify(p.RawHeader[:klv.KeySize]))
}

func TestDemuxRequiredKeys(t *testing.T) {
	t.Parallel()

	var out []byte
	add := func(typ klv.KeyType, payload []byte) {
		key := klv.CanonicalKey(typ)
		out = append(out, key[:]...)
		out = klv.AppendBER(out, int64(len(payload)))
		out = append(out, payload...)
	}
	sys := make([]byte, 57)
	add(klv.KeySystem, sys)
	add(klv.KeyAudio, []byte{0xAA, 0xAB})
	sys2 := make([]byte, 57)
	add(klv.KeySystem, sys2)

	d, err := NewDemuxer(bytes.NewReader(out), Options{})
	require.NoError(t, err)
	d.Require(klv.KeyAudio)

	_, err = d.Next(context.Background())
	require.NoError(t, err)
	raw := d.RawElements()
	require.Len(t, raw, 1)
	assert.Equal(t, klv.KeyAudio, raw[0].Type)
	assert.Equal(t, []byte{0xAA, 0xAB}, raw[0].Data)
}

func TestSystemTimecodeOffsetHeuristic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 41, systemTimecodeOffset(57))
	assert.Equal(t, 41, systemTimecodeOffset(45))
	assert.Equal(t, 12, systemTimecodeOffset(16))
	assert.Equal(t, 12, systemTimecodeOffset(44))
	assert.Equal(t, -1, systemTimecodeOffset(10))
}

func TestPartitionPackRoundTrip(t *testing.T) {
	t.Parallel()

	p := PartitionPack{
		MajorVersion: 1, MinorVersion: 3, KAGSize: 512,
		ThisPartition: 0, PreviousPartition: 0, FooterPartition: 123456,
		HeaderByteCount: 4096, IndexByteCount: 0, IndexSID: 0,
		BodyOffset: 0, BodySID: 1,
	}
	b := AppendPartitionPack(nil, p)
	require.Len(t, b, 64)
	got, err := ParsePartitionPack(b)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = ParsePartitionPack(b[:30])
	assert.Error(t, err)
}

func TestTimecodeComponentRoundTrip(t *testing.T) {
	t.Parallel()

	payload := AppendTimecodeComponent(nil, 900000, 25, false)
	comp, err := ParseTimecodeComponent(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(900000), comp.StartFrames)
	assert.Equal(t, 25, comp.Timebase)
	assert.False(t, comp.DropFrame)

	start, err := comp.Start()
	require.NoError(t, err)
	assert.Equal(t, "10:00:00:00", start.String())

	_, err = ParseTimecodeComponent([]byte{0x15, 0x02, 0x00})
	assert.Error(t, err)
}

func TestBuildIndexConstantStride(t *testing.T) {
	t.Parallel()

	start := timecode.Zero(25, false)
	data := buildFixture(t, start, fixtureTexts(5))
	x, err := BuildIndex(context.Background(), bytes.NewReader(data), 25, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), x.EditUnitCount)
	assert.True(t, x.IsConstantByteSize)

	off0, err := x.OffsetOf(0)
	require.NoError(t, err)
	assert.Equal(t, x.BodyPartitionOffset, off0)

	sys1, err := x.SystemPacketOffset(1)
	require.NoError(t, err)
	assert.Equal(t, off0+x.ConstantEditUnitBytes+klv.KeySize, sys1)

	_, err = x.OffsetOf(5)
	assert.Error(t, err)
}

func TestBuildIndexVariableOffsets(t *testing.T) {
	t.Parallel()

	start := timecode.Zero(25, false)
	// frames alternate with and without data essence, so unit sizes vary
	data := buildFixture(t, start, []string{"one", "", "three", "", "five"})
	x, err := BuildIndex(context.Background(), bytes.NewReader(data), 25, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), x.EditUnitCount)
	assert.False(t, x.IsConstantByteSize)
	assert.Len(t, x.StreamOffsets, 5)
}

type mapSink map[klv.KeyType]*bytes.Buffer

func (m mapSink) Writer(t klv.KeyType) (io.Writer, error) {
	b, ok := m[t]
	if !ok {
		b = &bytes.Buffer{}
		m[t] = b
	}
	return b, nil
}

func TestDumpSplitsByKeyType(t *testing.T) {
	t.Parallel()

	start := timecode.Zero(25, false)
	data := buildFixture(t, start, fixtureTexts(2))

	sink := mapSink{}
	require.NoError(t, Dump(context.Background(), bytes.NewReader(data), sink, false))
	assert.Equal(t, 2*57, sink[klv.KeySystem].Len())
	assert.NotZero(t, sink[klv.KeyData].Len())

	// keepKLV output is itself a scannable KLV stream
	sink = mapSink{}
	require.NoError(t, Dump(context.Background(), bytes.NewReader(data), sink, true))
	sc := klv.NewScanner(bytes.NewReader(sink[klv.KeySystem].Bytes()), 0)
	e, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, klv.KeySystem, e.Type)
	assert.Equal(t, int64(57), e.Length)
}

func TestRestripe(t *testing.T) {
	t.Parallel()

	orig, err := timecode.Parse("00:00:00:00", 25)
	require.NoError(t, err)
	data := buildFixture(t, orig, fixtureTexts(120))

	path := filepath.Join(t.TempDir(), "fixture.mxf")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	newStart, err := timecode.Parse("10:00:00:00", 25)
	require.NoError(t, err)
	require.NoError(t, Restripe(context.Background(), path, newStart))

	striped, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, len(data), len(striped), "restripe must not change file size")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	d, err := NewDemuxer(f, Options{})
	require.NoError(t, err)
	assert.Equal(t, "10:00:00:00", d.StartTimecode().String())

	want := newStart
	for i := 0; i < 120; i++ {
		p, err := d.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, p.Timecode, "frame %d", i)
		want = want.AddFrame()
	}
	// frame 100 at 25 fps is 4 seconds in
	assert.Equal(t, "10:00:04:00", newStart.AddFrames(100).String())

	// idempotence: a second run leaves the file byte-identical
	require.NoError(t, Restripe(context.Background(), path, newStart))
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, striped, again)
}

func TestRestripeCancelled(t *testing.T) {
	t.Parallel()

	data := buildFixture(t, timecode.Zero(25, false), fixtureTexts(10))
	path := filepath.Join(t.TempDir(), "fixture.mxf")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	newStart, err := timecode.Parse("01:00:00:00", 25)
	require.NoError(t, err)
	assert.ErrorIs(t, Restripe(ctx, path, newStart), context.Canceled)
}

func TestParseDataEssenceSkipsNonTeletext(t *testing.T) {
	t.Parallel()

	line := t42.EncodeLine(2, 10, "hello")
	essence, err := AppendDataEssence(nil, 21, line)
	require.NoError(t, err)
	// flip the type tag on the only line to something unknown
	essence[2+13] = 0x07
	lines, err := ParseDataEssence(essence)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = ParseDataEssence([]byte{0x00})
	assert.Error(t, err)
}
