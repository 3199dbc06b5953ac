// Package klv reads SMPTE KLV triplets: a 16-byte universal label key, a
// BER-encoded length and a payload. The scanner classifies keys against a
// fixed table of MXF label prefixes and lets the caller either consume a
// payload or skip past it without materializing it.
package klv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const KeySize = 16

var (
	// ErrInvalidLength is returned for a malformed BER length: long form
	// announcing zero or more than eight length bytes.
	ErrInvalidLength = errors.New("invalid BER length")
	// ErrUnexpectedEOF is returned for a short read in the middle of a
	// key, length or payload.
	ErrUnexpectedEOF = errors.New("unexpected end of stream")
)

// KeyType classifies a 16-byte key by its known MXF label prefix.
type KeyType int

const (
	KeyUnknown KeyType = iota
	KeyPartitionPack
	KeyPrimer
	KeyPreface
	KeyTimecodeComponent
	KeyIndexTable
	KeySystem
	KeyData
	KeyVideo
	KeyAudio
	KeyFiller
	KeyRandomIndex
)

func (k KeyType) String() string {
	switch k {
	case KeyPartitionPack:
		return "partition-pack"
	case KeyPrimer:
		return "primer"
	case KeyPreface:
		return "preface"
	case KeyTimecodeComponent:
		return "timecode-component"
	case KeyIndexTable:
		return "index-table"
	case KeySystem:
		return "system"
	case KeyData:
		return "data"
	case KeyVideo:
		return "video"
	case KeyAudio:
		return "audio"
	case KeyFiller:
		return "filler"
	case KeyRandomIndex:
		return "random-index"
	default:
		return "unknown"
	}
}

// keyPrefix matches when the first len(prefix) bytes of a key equal prefix.
// A zero byte in the mask position is handled by keeping prefixes short of
// the variable bytes (partition status, essence element numbering).
type keyPrefix struct {
	prefix []byte
	typ    KeyType
}

// Known MXF universal label prefixes. Partition packs vary in byte 14
// (open/closed, complete/incomplete), essence element keys vary in the last
// four bytes (track numbering), so prefixes stop before the variable bytes.
var keyTable = []keyPrefix{
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x02}, KeyPartitionPack},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x03}, KeyPartitionPack},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x04}, KeyPartitionPack},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x05}, KeyPrimer},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x53, 0x01, 0x01, 0x0D, 0x01, 0x01, 0x01, 0x01, 0x01, 0x2F}, KeyPreface},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x53, 0x01, 0x01, 0x0D, 0x01, 0x01, 0x01, 0x01, 0x01, 0x14}, KeyTimecodeComponent},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x53, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x10}, KeyIndexTable},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x04}, KeySystem},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x14}, KeySystem},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x01, 0x02, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x17}, KeyData},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x01, 0x02, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x15}, KeyVideo},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x01, 0x02, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x05}, KeyVideo},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x01, 0x02, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x16}, KeyAudio},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x01, 0x02, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x06}, KeyAudio},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x01, 0x01, 0x01, 0x02, 0x03, 0x01, 0x02, 0x10, 0x01}, KeyFiller},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x01, 0x01, 0x01, 0x01, 0x03, 0x01, 0x02, 0x10, 0x01}, KeyFiller},
	{[]byte{0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x11}, KeyRandomIndex},
}

// Canonical full keys, used when synthesizing streams (tests, fixture
// writers, klv passthrough headers).
var canonicalKeys = map[KeyType][KeySize]byte{
	KeyPartitionPack:     {0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x02, 0x04, 0x00},
	KeyPrimer:            {0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x05, 0x01, 0x00},
	KeyPreface:           {0x06, 0x0E, 0x2B, 0x34, 0x02, 0x53, 0x01, 0x01, 0x0D, 0x01, 0x01, 0x01, 0x01, 0x01, 0x2F, 0x00},
	KeyTimecodeComponent: {0x06, 0x0E, 0x2B, 0x34, 0x02, 0x53, 0x01, 0x01, 0x0D, 0x01, 0x01, 0x01, 0x01, 0x01, 0x14, 0x00},
	KeyIndexTable:        {0x06, 0x0E, 0x2B, 0x34, 0x02, 0x53, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x10, 0x01, 0x00},
	KeySystem:            {0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x04, 0x01, 0x01, 0x00},
	KeyData:              {0x06, 0x0E, 0x2B, 0x34, 0x01, 0x02, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x17, 0x01, 0x02, 0x01},
	KeyVideo:             {0x06, 0x0E, 0x2B, 0x34, 0x01, 0x02, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x15, 0x01, 0x05, 0x01},
	KeyAudio:             {0x06, 0x0E, 0x2B, 0x34, 0x01, 0x02, 0x01, 0x01, 0x0D, 0x01, 0x03, 0x01, 0x16, 0x01, 0x01, 0x01},
	KeyFiller:            {0x06, 0x0E, 0x2B, 0x34, 0x01, 0x01, 0x01, 0x02, 0x03, 0x01, 0x02, 0x10, 0x01, 0x00, 0x00, 0x00},
	KeyRandomIndex:       {0x06, 0x0E, 0x2B, 0x34, 0x02, 0x05, 0x01, 0x01, 0x0D, 0x01, 0x02, 0x01, 0x01, 0x11, 0x01, 0x00},
}

// CanonicalKey returns a representative full key for a known type.
func CanonicalKey(t KeyType) [KeySize]byte {
	return canonicalKeys[t]
}

// Classify returns the KeyType for a 16-byte key.
func Classify(key []byte) KeyType {
	for _, kp := range keyTable {
		if len(key) >= len(kp.prefix) && bytes.Equal(key[:len(kp.prefix)], kp.prefix) {
			return kp.typ
		}
	}
	return KeyUnknown
}

// Element is one scanned KLV triplet. Value is only populated when the
// caller asked the scanner to read it; otherwise the payload was skipped.
type Element struct {
	Key       [KeySize]byte
	Type      KeyType
	Length    int64
	KeyOffset int64 // byte offset of the key's first byte in the stream
	// LenSize is how many bytes the BER length occupied.
	LenSize int
	Value   []byte
}

// ValueOffset is the byte offset of the payload's first byte.
func (e *Element) ValueOffset() int64 {
	return e.KeyOffset + KeySize + int64(e.LenSize)
}

// AppendBER appends the shortest BER encoding of length to dst.
func AppendBER(dst []byte, length int64) []byte {
	if length < 0x80 {
		return append(dst, byte(length))
	}
	n := 0
	for v := uint64(length); v > 0; v >>= 8 {
		n++
	}
	dst = append(dst, 0x80|byte(n))
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(uint64(length)>>(8*i)))
	}
	return dst
}

// Scanner walks KLV triplets over an io.Reader. If the reader also
// implements io.Seeker, skipped payloads are seeked past instead of read.
type Scanner struct {
	r   io.Reader
	pos int64
	buf [KeySize]byte
}

// NewScanner starts scanning at the reader's current position, which is
// reported as byte offset base in scanned elements.
func NewScanner(r io.Reader, base int64) *Scanner {
	return &Scanner{r: r, pos: base}
}

// Pos returns the current byte offset.
func (s *Scanner) Pos() int64 { return s.pos }

// Next reads the next key and length, leaving the payload unread. io.EOF is
// returned cleanly at a triplet boundary; a short key or length yields
// ErrUnexpectedEOF.
func (s *Scanner) Next() (*Element, error) {
	e := &Element{KeyOffset: s.pos}
	n, err := io.ReadFull(s.r, s.buf[:])
	if err == io.EOF && n == 0 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: key at offset %d", ErrUnexpectedEOF, s.pos)
	}
	copy(e.Key[:], s.buf[:])
	e.Type = Classify(e.Key[:])
	s.pos += KeySize

	length, lenSize, err := s.readBERLength()
	if err != nil {
		return nil, err
	}
	e.Length = length
	e.LenSize = lenSize
	return e, nil
}

func (s *Scanner) readBERLength() (int64, int, error) {
	var one [1]byte
	if _, err := io.ReadFull(s.r, one[:]); err != nil {
		return 0, 0, fmt.Errorf("%w: length at offset %d", ErrUnexpectedEOF, s.pos)
	}
	s.pos++
	l := one[0]
	if l&0x80 == 0 {
		return int64(l), 1, nil
	}
	n := int(l & 0x7F)
	if n == 0 || n > 8 {
		return 0, 0, fmt.Errorf("%w: long form with %d length bytes at offset %d", ErrInvalidLength, n, s.pos-1)
	}
	var lb [8]byte
	if _, err := io.ReadFull(s.r, lb[:n]); err != nil {
		return 0, 0, fmt.Errorf("%w: length bytes at offset %d", ErrUnexpectedEOF, s.pos)
	}
	s.pos += int64(n)
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(lb[i])
	}
	if v > uint64(1)<<62 {
		return 0, 0, fmt.Errorf("%w: length %d at offset %d", ErrInvalidLength, v, s.pos)
	}
	return int64(v), 1 + n, nil
}

// Value reads the payload of e into a fresh buffer. Call at most once per
// element, before the next call to Next.
func (s *Scanner) Value(e *Element) ([]byte, error) {
	return s.ValueInto(e, make([]byte, e.Length))
}

// ValueInto reads the payload of e into buf, which must be at least
// e.Length bytes; it returns the filled slice. This is the pooled-buffer
// path: parsers reuse one scratch buffer across iterations.
func (s *Scanner) ValueInto(e *Element, buf []byte) ([]byte, error) {
	if int64(len(buf)) < e.Length {
		buf = make([]byte, e.Length)
	}
	b := buf[:e.Length]
	if _, err := io.ReadFull(s.r, b); err != nil {
		return nil, fmt.Errorf("%w: payload at offset %d", ErrUnexpectedEOF, e.ValueOffset())
	}
	s.pos += e.Length
	e.Value = b
	return b, nil
}

// Skip seeks or reads past the payload of e.
func (s *Scanner) Skip(e *Element) error {
	if sk, ok := s.r.(io.Seeker); ok {
		if _, err := sk.Seek(e.Length, io.SeekCurrent); err != nil {
			return err
		}
		s.pos += e.Length
		return nil
	}
	n, err := io.CopyN(io.Discard, s.r, e.Length)
	s.pos += n
	if err != nil {
		return fmt.Errorf("%w: payload at offset %d", ErrUnexpectedEOF, e.ValueOffset())
	}
	return nil
}

// Resync scans forward one byte at a time until the next plausible MXF key
// (any entry in the key table) or EOF. It is used by callers that choose to
// recover from a malformed element rather than abort. Only works on
// seekable readers.
func (s *Scanner) Resync() error {
	sk, ok := s.r.(io.Seeker)
	if !ok {
		return fmt.Errorf("resync requires a seekable source")
	}
	window := make([]byte, 0, KeySize)
	for {
		var one [1]byte
		if _, err := io.ReadFull(s.r, one[:]); err != nil {
			return io.EOF
		}
		s.pos++
		if len(window) == KeySize {
			copy(window, window[1:])
			window[KeySize-1] = one[0]
		} else {
			window = append(window, one[0])
		}
		if len(window) == KeySize && Classify(window) != KeyUnknown {
			if _, err := sk.Seek(-KeySize, io.SeekCurrent); err != nil {
				return err
			}
			s.pos -= KeySize
			return nil
		}
	}
}
