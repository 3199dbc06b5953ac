package subfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttxtool/ttx-tool/internal/klv"
	"github.com/ttxtool/ttx-tool/internal/mxf"
	"github.com/ttxtool/ttx-tool/internal/stl"
	"github.com/ttxtool/ttx-tool/internal/t42"
	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// writeFixture synthesizes a small MXF with one caption frame per text.
func writeFixture(t *testing.T, dir string, texts []string) string {
	t.Helper()
	var out []byte
	add := func(typ klv.KeyType, payload []byte) {
		key := klv.CanonicalKey(typ)
		out = append(out, key[:]...)
		out = klv.AppendBER(out, int64(len(payload)))
		out = append(out, payload...)
	}
	start := timecode.Zero(25, false)
	add(klv.KeyTimecodeComponent, mxf.AppendTimecodeComponent(nil, 0, 25, false))
	tc := start
	for _, text := range texts {
		sys := make([]byte, 57)
		b := tc.SMPTEBytes()
		copy(sys[41:45], b[:])
		add(klv.KeySystem, sys)
		if text != "" {
			essence, err := mxf.AppendDataEssence(nil, 21, t42.EncodeLine(8, 20, text))
			require.NoError(t, err)
			add(klv.KeyData, essence)
		}
		tc = tc.AddFrame()
	}
	path := filepath.Join(dir, "clip.mxf")
	require.NoError(t, os.WriteFile(path, out, 0o644))
	return path
}

func TestExtractSTL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeFixture(t, dir, []string{"hello there", "hello there", ""})
	cacheDir := filepath.Join(dir, "cache")

	path, err := Extract(context.Background(), cacheDir, src, "stl", -1)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, stl.GSISize+stl.TTISize, len(data))

	// second call serves the cached file without re-extracting
	again, err := Extract(context.Background(), cacheDir, src, "stl", -1)
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestExtractT42(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeFixture(t, dir, []string{"one", "two"})
	path, err := Extract(context.Background(), filepath.Join(dir, "cache"), src, "t42", 0)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2*t42.LineSize, len(data))
}

func TestExtractUnknownExtension(t *testing.T) {
	t.Parallel()

	_, err := Extract(context.Background(), t.TempDir(), "x.mxf", "srt", 0)
	assert.Error(t, err)
}

func TestCachePathStable(t *testing.T) {
	t.Parallel()

	a := CachePath("/cache", "/media/clip one.mxf", "stl")
	b := CachePath("/cache", "/media/clip one.mxf", "stl")
	assert.Equal(t, a, b)
	assert.Equal(t, filepath.Join("/cache", "subfs", "clip one.stl"), a)
}
