// Package reader decodes mmstats files: a version byte followed by packed
// field records. The parser is deliberately tolerant — labels decode
// lossily, truncation at a record boundary ends the stream cleanly, and a
// publisher writing fields it does not know about only costs the consumer
// the remainder of that one file.
package reader

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	xmmap "golang.org/x/exp/mmap"
	"golang.org/x/xerrors"
)

const (
	version1 = 1

	// unbufferedField in the buf_idx byte marks a single-slot field.
	unbufferedField = 255
)

var (
	// ErrUnsupportedVersion is returned by New for any version byte other
	// than 1.
	ErrUnsupportedVersion = errors.New("reader: unsupported mmstats version")

	// ErrMalformedFrame is returned by Next when a record is truncated or
	// inconsistent. Previously returned stats remain valid.
	ErrMalformedFrame = errors.New("reader: malformed field record")

	// ErrUnknownSignature is returned by Next for a type signature whose
	// slot width cannot be derived. Iteration cannot continue past it.
	ErrUnknownSignature = errors.New("reader: unknown type signature")
)

// A Stat is one decoded field. Value holds the sized Go type named by the
// field's type signature: int8, uint8, int16, uint16, int32, uint32,
// int64, uint64, float32, float64, bool or string.
type Stat struct {
	Label string
	Value interface{}
}

// A Reader yields the fields of one mmstats file in record order.
type Reader struct {
	br      *bufio.Reader
	closer  io.Closer
	version int
	failed  bool
}

// New reads the version byte from r and returns a Reader positioned at the
// first field record.
func New(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	ver, err := br.ReadByte()
	if err != nil {
		return nil, xerrors.Errorf("reader: version byte: %w", err)
	}
	if ver != version1 {
		return nil, xerrors.Errorf("%w: %#x", ErrUnsupportedVersion, ver)
	}
	rd := &Reader{br: br, version: int(ver)}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd, nil
}

// FromFile opens path for buffered reading. The file is closed by Close.
func FromFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("reader: %w", err)
	}
	r, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// FromMmap maps path read-only and decodes from the mapping, observing the
// producer's live bytes instead of a point-in-time file read.
func FromMmap(path string) (*Reader, error) {
	ra, err := xmmap.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("reader: %w", err)
	}
	r, err := New(io.NewSectionReader(ra, 0, int64(ra.Len())))
	if err != nil {
		ra.Close()
		return nil, err
	}
	r.closer = ra
	return r, nil
}

// Version returns the file's format version (always 1).
func (r *Reader) Version() int { return r.version }

// Close releases the underlying file or mapping, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}

// Next returns the next field. It returns io.EOF at the canonical end of
// the record region (a zero label_sz or a clean end of the stream),
// ErrUnknownSignature or ErrMalformedFrame when it cannot continue.
func (r *Reader) Next() (Stat, error) {
	if r.failed {
		return Stat{}, ErrMalformedFrame
	}
	var lenbuf [2]byte
	if _, err := io.ReadFull(r.br, lenbuf[:]); err != nil {
		// Truncation at a record boundary is the end of the stream.
		return Stat{}, io.EOF
	}
	labelSz := binary.LittleEndian.Uint16(lenbuf[:])
	if labelSz == 0 {
		return Stat{}, io.EOF
	}

	label, err := r.read(int(labelSz))
	if err != nil {
		return Stat{}, err
	}
	if _, err := io.ReadFull(r.br, lenbuf[:]); err != nil {
		return Stat{}, r.fail(err)
	}
	sig, err := r.read(int(binary.LittleEndian.Uint16(lenbuf[:])))
	if err != nil {
		return Stat{}, err
	}
	width, ok := sigWidth(string(sig))
	if !ok {
		r.failed = true
		return Stat{}, xerrors.Errorf("%w: %q", ErrUnknownSignature, sig)
	}
	bufIdx, err := r.br.ReadByte()
	if err != nil {
		return Stat{}, r.fail(err)
	}

	var slot []byte
	if bufIdx == unbufferedField {
		if slot, err = r.read(width); err != nil {
			return Stat{}, err
		}
	} else {
		// The stored index names the write slot; the stable value lives
		// in the other one.
		buffers, err := r.read(2 * width)
		if err != nil {
			return Stat{}, err
		}
		off := width * int((bufIdx^1)&1)
		slot = buffers[off : off+width]
	}

	return Stat{
		Label: lossyUTF8(string(label)),
		Value: decode(string(sig), slot),
	}, nil
}

// ReadAll drains the reader and returns every remaining field.
func (r *Reader) ReadAll() ([]Stat, error) {
	var stats []Stat
	for {
		st, err := r.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		stats = append(stats, st)
	}
}

func (r *Reader) read(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.br, b); err != nil {
		return nil, r.fail(err)
	}
	return b, nil
}

func (r *Reader) fail(err error) error {
	r.failed = true
	return xerrors.Errorf("%w: %v", ErrMalformedFrame, err)
}

// sigWidth derives the slot width in bytes from a type signature.
func sigWidth(sig string) (int, bool) {
	switch sig {
	case "b", "B", "?":
		return 1, true
	case "h", "H":
		return 2, true
	case "i", "I", "f":
		return 4, true
	case "q", "Q", "d":
		return 8, true
	}
	if n := len(sig); n > 1 && sig[n-1] == 's' {
		size, err := strconv.Atoi(sig[:n-1])
		if err == nil && size >= 0 {
			return size, true
		}
	}
	return 0, false
}

func decode(sig string, slot []byte) interface{} {
	switch sig {
	case "b":
		return int8(slot[0])
	case "B":
		return slot[0]
	case "?":
		return slot[0] == 1
	case "h":
		return int16(binary.LittleEndian.Uint16(slot))
	case "H":
		return binary.LittleEndian.Uint16(slot)
	case "i":
		return int32(binary.LittleEndian.Uint32(slot))
	case "I":
		return binary.LittleEndian.Uint32(slot)
	case "q":
		return int64(binary.LittleEndian.Uint64(slot))
	case "Q":
		return binary.LittleEndian.Uint64(slot)
	case "f":
		return math.Float32frombits(binary.LittleEndian.Uint32(slot))
	case "d":
		return math.Float64frombits(binary.LittleEndian.Uint64(slot))
	}
	// Strings are zero-padded to their capacity.
	v := string(slot)
	if i := strings.IndexByte(v, 0); i != -1 {
		v = v[:i]
	}
	return lossyUTF8(v)
}

func lossyUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}
