package format

import (
	"fmt"
	"io"

	"github.com/ttxtool/ttx-tool/internal/mxf"
	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/t42"
)

// mxfHandler adapts the MXF demuxer to the registry.
type mxfHandler struct{}

func (mxfHandler) Format() packet.Format { return packet.FormatMXF }

func (mxfHandler) Open(r io.Reader, opts ParserOptions) (Parser, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return nil, fmt.Errorf("mxf: source must be seekable")
	}
	d, err := mxf.NewDemuxer(rs, mxf.Options{
		HeaderScanBytes: opts.HeaderScanBytes,
		KeepKLV:         opts.KeepKLV,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// registerBuiltins wires the stock handlers into a registry. The MPEG-TS
// handler lives in internal/tsx and is registered by the caller to keep
// the astits dependency out of this package.
func registerBuiltins(r *Registry) {
	r.Register(&rawHandler{format: packet.FormatT42, slotSize: t42.LineSize})
	r.Register(&rawHandler{format: packet.FormatVBI, slotSize: t42.VBISize})
	r.Register(&rawHandler{format: packet.FormatVBIDouble, slotSize: t42.VBIDoubleSize})
	r.Register(mxfHandler{})
}
