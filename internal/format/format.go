// Package format is the pluggable registry tying format tags to stream
// handlers. Built-in handlers self-register on first use; callers open a
// source by tag and get back a packet parser.
package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ttxtool/ttx-tool/internal/packet"
)

// ErrNotRegistered is returned when no handler covers a format tag.
var ErrNotRegistered = errors.New("format not registered")

// Parser yields packets until io.EOF.
type Parser interface {
	Next(ctx context.Context) (*packet.Packet, error)
}

// ParserOptions are shared knobs across input handlers; zero values pick
// the documented defaults.
type ParserOptions struct {
	// LinesPerFrame groups raw capture lines into frames; default 2.
	LinesPerFrame int
	// Timebase for synthesized timecodes on raw captures; default 25.
	Timebase int
	// HeaderScanBytes caps the MXF TimecodeComponent search.
	HeaderScanBytes int64
	// KeepKLV preserves KLV headers on MXF data essence.
	KeepKLV bool
}

func (o ParserOptions) withDefaults() ParserOptions {
	if o.LinesPerFrame <= 0 {
		o.LinesPerFrame = 2
	}
	if o.Timebase <= 0 {
		o.Timebase = 25
	}
	return o
}

// Handler binds a format tag to a parser constructor.
type Handler interface {
	Format() packet.Format
	Open(r io.Reader, opts ParserOptions) (Parser, error)
}

// Registry is a thread-safe map from format tag to handler. Reads vastly
// outnumber writes; registration normally happens once at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[packet.Format]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[packet.Format]Handler)}
}

// Register adds a handler under its declared input format, replacing any
// previous one.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Format()] = h
}

// Get looks up the handler for a format tag.
func (r *Registry) Get(f packet.Format) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, f)
	}
	return h, nil
}

// Open dispatches to the handler for f and binds it to rd.
func (r *Registry) Open(f packet.Format, rd io.Reader, opts ParserOptions) (Parser, error) {
	h, err := r.Get(f)
	if err != nil {
		return nil, err
	}
	return h.Open(rd, opts.withDefaults())
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry, creating and populating it
// with the built-in handlers on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		registerBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

// Reset discards the process-wide registry so the next Default call
// rebuilds it. Intended for tests and long-lived embedders.
func Reset() {
	defaultOnce = sync.Once{}
	defaultRegistry = nil
}

// ParseFormat maps a user-facing tag to a Format.
func ParseFormat(s string) (packet.Format, error) {
	switch strings.ToLower(s) {
	case "t42":
		return packet.FormatT42, nil
	case "vbi":
		return packet.FormatVBI, nil
	case "vbi-double", "vbid":
		return packet.FormatVBIDouble, nil
	case "mxf":
		return packet.FormatMXF, nil
	case "anc":
		return packet.FormatANC, nil
	case "rcwt":
		return packet.FormatRCWT, nil
	case "stl":
		return packet.FormatSTL, nil
	case "ts":
		return packet.FormatTS, nil
	default:
		return packet.FormatUnknown, fmt.Errorf("unknown format %q", s)
	}
}

// Magic prefixes for Sniff.
var (
	mxfPartitionMagic = []byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x02}
	rcwtMagic         = []byte{0xCC, 0xCC, 0xED}
	stlMagic          = []byte("STL25.01")
)

// Sniff guesses a stream format from its first bytes, for stdin and
// extensionless files. It recognizes container magics and the MPEG-TS
// sync pattern; raw T42/VBI captures have no magic and stay Unknown.
func Sniff(prefix []byte) packet.Format {
	switch {
	case bytes.HasPrefix(prefix, mxfPartitionMagic):
		return packet.FormatMXF
	case bytes.HasPrefix(prefix, rcwtMagic):
		return packet.FormatRCWT
	case len(prefix) >= 11 && bytes.Equal(prefix[3:11], stlMagic):
		return packet.FormatSTL
	}
	// MPEG-TS sync byte at 188-byte boundaries
	if len(prefix) >= 188*2+1 && prefix[0] == 0x47 && prefix[188] == 0x47 && prefix[188*2] == 0x47 {
		return packet.FormatTS
	}
	return packet.FormatUnknown
}
