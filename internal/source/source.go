// Package source opens capture files and stdin for the pipeline, with
// transparent brotli decompression for .br captures on the way in and
// compression on the way out.
package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
)

// Stdin is the path spelling that selects standard input or output.
const Stdin = "-"

// Reader is an opened, buffered input. Close releases the underlying
// file; stdin is never closed.
type Reader struct {
	br         *bufio.Reader
	file       *os.File
	compressed bool
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) { return r.br.Read(p) }

// Peek returns up to n leading bytes without consuming them, for format
// sniffing.
func (r *Reader) Peek(n int) []byte {
	b, _ := r.br.Peek(n)
	return b
}

// Close implements io.Closer.
func (r *Reader) Close() error {
	if r.file == nil || r.file == os.Stdin {
		return nil
	}
	return r.file.Close()
}

// File exposes the underlying file when the input is an uncompressed
// regular file, for parsers that need to seek. It is nil for stdin and
// compressed inputs. The file offset may have moved; seek before use.
func (r *Reader) File() *os.File {
	if r.file == os.Stdin || r.compressed {
		return nil
	}
	return r.file
}

// Open opens path for reading. "-" is stdin; a .br suffix decompresses
// transparently.
func Open(path string) (*Reader, error) {
	if path == Stdin {
		return &Reader{br: bufio.NewReader(os.Stdin), file: os.Stdin}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if Compressed(path) {
		return &Reader{br: bufio.NewReader(brotli.NewReader(f)), file: f, compressed: true}, nil
	}
	return &Reader{br: bufio.NewReader(f), file: f}, nil
}

// Writer is an opened output; Close flushes compression and closes the
// file.
type Writer struct {
	io.Writer
	bw     *brotli.Writer
	file   *os.File
	closed bool
}

// Close implements io.Closer. It is safe to call twice.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.bw != nil {
		if err := w.bw.Close(); err != nil {
			return err
		}
	}
	if w.file == nil || w.file == os.Stdout {
		return nil
	}
	return w.file.Close()
}

// Create opens path for writing. "-" is stdout; a .br suffix compresses
// transparently.
func Create(path string) (*Writer, error) {
	if path == Stdin {
		return &Writer{Writer: os.Stdout, file: os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if Compressed(path) {
		bw := brotli.NewWriter(f)
		return &Writer{Writer: bw, bw: bw, file: f}, nil
	}
	return &Writer{Writer: f, file: f}, nil
}

// Compressed reports whether path names a brotli-compressed capture.
func Compressed(path string) bool {
	return strings.HasSuffix(path, ".br")
}

// TrimCompression strips the compression suffix so callers can reason
// about the capture's own extension.
func TrimCompression(path string) string {
	return strings.TrimSuffix(path, ".br")
}
