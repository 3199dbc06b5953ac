// Package subfs exposes a directory of MXF captures as a read-only FUSE
// filesystem of extracted subtitle files: CLIP.mxf appears as CLIP.stl
// and CLIP.t42, materialized on first read and cached on disk.
package subfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ttxtool/ttx-tool/internal/mxf"
	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/pipeline"
	"github.com/ttxtool/ttx-tool/internal/stl"
)

// CachePath returns the stable cache location for an extraction. Same
// source and extension always map to the same path.
func CachePath(cacheDir, mxfPath, ext string) string {
	safe := sanitizeID(strings.TrimSuffix(filepath.Base(mxfPath), filepath.Ext(mxfPath)))
	return filepath.Join(cacheDir, "subfs", safe+"."+ext)
}

func sanitizeID(id string) string {
	s := strings.ReplaceAll(id, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "_")
	if s == "" {
		s = "unknown"
	}
	return s
}

// outputFormat maps a virtual file extension to its pipeline output.
func outputFormat(ext string) (packet.Format, bool) {
	switch ext {
	case "stl":
		return packet.FormatSTL, true
	case "t42":
		return packet.FormatT42, true
	}
	return packet.FormatUnknown, false
}

// Extract demuxes mxfPath and writes the converted output to the cache
// path for ext, via a .partial rename so readers never see a torn file.
// It returns the final path.
func Extract(ctx context.Context, cacheDir, mxfPath, ext string, clearDelayFrames int) (string, error) {
	out, ok := outputFormat(ext)
	if !ok {
		return "", fmt.Errorf("subfs: no extraction for .%s", ext)
	}
	final := CachePath(cacheDir, mxfPath, ext)
	if _, err := os.Stat(final); err == nil {
		return final, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", err
	}

	src, err := os.Open(mxfPath)
	if err != nil {
		return "", err
	}
	defer src.Close()
	d, err := mxf.NewDemuxer(src, mxf.Options{})
	if err != nil {
		return "", err
	}

	partial := final + ".partial"
	w, err := os.Create(partial)
	if err != nil {
		return "", err
	}
	_, err = pipeline.Run(ctx, d, w, pipeline.Options{
		Output: out,
		STL:    stl.Config{ClearDelayFrames: clearDelayFrames, Title: filepath.Base(mxfPath)},
	})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(partial)
		return "", err
	}
	if err := os.Rename(partial, final); err != nil {
		return "", err
	}
	return final, nil
}
