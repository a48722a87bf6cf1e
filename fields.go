package mmstats

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/xerrors"
)

// Record layout, version 1 (packed, little-endian, no padding):
//
//	label_sz  uint16
//	label     [label_sz]byte  // UTF-8
//	type_sz   uint16
//	type_sig  [type_sz]byte   // ASCII, see type signatures in doc.go
//	buf_idx   byte            // 0/1 write slot, or 255 for single-slot fields
//	payload   one slot (unbuffered) or two adjacent slots (double-buffered)
//
// For double-buffered fields buf_idx names the slot the writer will store
// into next; the stable value lives in the other slot (buf_idx ^ 1).
const (
	// Version1 is the only format tag the writer emits and the reader
	// accepts.
	Version1 = 1

	// UnbufferedField marks a single-slot field in the buf_idx byte.
	UnbufferedField = 255

	// DefaultStringSize is the capacity of String fields declared without
	// an explicit size.
	DefaultStringSize = 255

	staticTextSize = 256
	sizePrefixLen  = 2
)

// fieldState is the part every field kind shares: the identifying header
// data and, once the owning publisher is constructed, the absolute offsets
// of the index byte and the payload inside the mapping.
type fieldState struct {
	label    string
	sig      string
	width    int
	buffered bool

	mm      *MmStats
	idxOff  int
	payload int
}

func (s *fieldState) slots() int {
	if s.buffered {
		return 2
	}
	return 1
}

func (s *fieldState) size() int {
	return sizePrefixLen + len(s.label) + sizePrefixLen + len(s.sig) + 1 + s.width*s.slots()
}

func (s *fieldState) validate() error {
	if s.label == "" {
		return xerrors.New("mmstats: empty field label")
	}
	if len(s.label) > math.MaxUint16 {
		return xerrors.Errorf("mmstats: label %.20q… exceeds %d bytes", s.label, math.MaxUint16)
	}
	return nil
}

// writeHeader encodes the record header at off and binds the field to the
// mapping. The payload slots stay zero; kinds with a non-zero initial value
// overwrite them in their init hook. Returns the offset past the payload.
func (s *fieldState) writeHeader(mm *MmStats, off int) int {
	data := mm.mapped.Data
	binary.LittleEndian.PutUint16(data[off:], uint16(len(s.label)))
	off += sizePrefixLen
	copy(data[off:], s.label)
	off += len(s.label)
	binary.LittleEndian.PutUint16(data[off:], uint16(len(s.sig)))
	off += sizePrefixLen
	copy(data[off:], s.sig)
	off += len(s.sig)
	if s.buffered {
		data[off] = 0
	} else {
		data[off] = UnbufferedField
	}
	s.mm = mm
	s.idxOff = off
	s.payload = off + 1
	return s.payload + s.width*s.slots()
}

// writeSlot returns the slot the writer may store into, or nil when the
// field is unbound or the mapping has been removed. For double-buffered
// fields the store is not visible to readers until commit.
func (s *fieldState) writeSlot() []byte {
	if s.mm == nil || s.mm.removed {
		return nil
	}
	data := s.mm.mapped.Data
	if !s.buffered {
		return data[s.payload : s.payload+s.width]
	}
	w := int(data[s.idxOff] & 1)
	off := s.payload + w*s.width
	return data[off : off+s.width]
}

// commit publishes the pending slot store by flipping the index byte. The
// slot bytes must be fully written before commit: the single-byte index
// store is the commit point readers synchronize on.
func (s *fieldState) commit() {
	if !s.buffered || s.mm == nil || s.mm.removed {
		return
	}
	data := s.mm.mapped.Data
	data[s.idxOff] = (data[s.idxOff] & 1) ^ 1
}

// readSlot returns the slot holding the current stable value, or nil when
// the field is unbound or removed.
func (s *fieldState) readSlot() []byte {
	if s.mm == nil || s.mm.removed {
		return nil
	}
	data := s.mm.mapped.Data
	if !s.buffered {
		return data[s.payload : s.payload+s.width]
	}
	r := int((data[s.idxOff] ^ 1) & 1)
	off := s.payload + r*s.width
	return data[off : off+s.width]
}

// decl is what the Builder collects: every handle exposes its shared state
// plus a hook writing the initial payload during publisher construction.
type decl interface {
	state() *fieldState
	initPayload() error
}

// zeroInit is embedded by kinds whose initial payload is all zero bytes,
// which the fresh mapping already guarantees.
type zeroInit struct{}

func (zeroInit) initPayload() error { return nil }

// UInt64 is a double-buffered 64-bit unsigned integer field.
type UInt64 struct {
	zeroInit
	s fieldState
}

func (h *UInt64) state() *fieldState { return &h.s }

func (h *UInt64) Set(v uint64) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint64(b, v)
	h.s.commit()
}

func (h *UInt64) Value() uint64 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// UInt32 is a double-buffered 32-bit unsigned integer field.
type UInt32 struct {
	zeroInit
	s fieldState
}

func (h *UInt32) state() *fieldState { return &h.s }

func (h *UInt32) Set(v uint32) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint32(b, v)
	h.s.commit()
}

func (h *UInt32) Value() uint32 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Int32 is a double-buffered 32-bit signed integer field.
type Int32 struct {
	zeroInit
	s fieldState
}

func (h *Int32) state() *fieldState { return &h.s }

func (h *Int32) Set(v int32) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint32(b, uint32(v))
	h.s.commit()
}

func (h *Int32) Value() int32 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

// UInt16 is a double-buffered 16-bit unsigned integer field.
type UInt16 struct {
	zeroInit
	s fieldState
}

func (h *UInt16) state() *fieldState { return &h.s }

func (h *UInt16) Set(v uint16) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint16(b, v)
	h.s.commit()
}

func (h *UInt16) Value() uint16 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Int16 is a double-buffered 16-bit signed integer field.
type Int16 struct {
	zeroInit
	s fieldState
}

func (h *Int16) state() *fieldState { return &h.s }

func (h *Int16) Set(v int16) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint16(b, uint16(v))
	h.s.commit()
}

func (h *Int16) Value() int16 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return int16(binary.LittleEndian.Uint16(b))
}

// Int8 is a single-slot 8-bit signed integer field. A one-byte store is
// naturally atomic, so it needs no double buffering.
type Int8 struct {
	zeroInit
	s fieldState
}

func (h *Int8) state() *fieldState { return &h.s }

func (h *Int8) Set(v int8) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	b[0] = byte(v)
}

func (h *Int8) Value() int8 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return int8(b[0])
}

// Float32 is a double-buffered 32-bit float field.
type Float32 struct {
	zeroInit
	s fieldState
}

func (h *Float32) state() *fieldState { return &h.s }

func (h *Float32) Set(v float32) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	h.s.commit()
}

func (h *Float32) Value() float32 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// Float64 is a double-buffered 64-bit float field.
type Float64 struct {
	zeroInit
	s fieldState
}

func (h *Float64) state() *fieldState { return &h.s }

func (h *Float64) Set(v float64) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	h.s.commit()
}

func (h *Float64) Value() float64 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// Bool is a single-slot field marshaled to 0/1 to avoid any ambiguity
// between producer and consumer.
type Bool struct {
	s       fieldState
	initial bool
}

func (h *Bool) state() *fieldState { return &h.s }

func (h *Bool) initPayload() error {
	h.Set(h.initial)
	return nil
}

func (h *Bool) Set(v bool) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

func (h *Bool) Value() bool {
	b := h.s.readSlot()
	if b == nil {
		return false
	}
	return b[0] == 1
}

// String is a single-slot bounded UTF-8 string field. Stores longer than
// the capacity are truncated at the capacity and re-trimmed to a valid
// UTF-8 prefix; a store never fails.
type String struct {
	zeroInit
	s fieldState
}

func (h *String) state() *fieldState { return &h.s }

func (h *String) Set(v string) {
	b := h.s.writeSlot()
	if b == nil {
		return
	}
	v = truncateUTF8(v, h.s.width)
	n := copy(b, v)
	for i := n; i < len(b); i++ {
		b[i] = 0
	}
}

func (h *String) Value() string {
	b := h.s.readSlot()
	if b == nil {
		return ""
	}
	v := string(b)
	if i := strings.IndexByte(v, 0); i != -1 {
		v = v[:i]
	}
	return v
}

// truncateUTF8 cuts s at a byte boundary no further than max and drops a
// trailing partial rune so the result stays a valid UTF-8 prefix.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for i := 0; i < utf8.UTFMax-1 && s != ""; i++ {
		r, sz := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || sz > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// Static fields are single-slot and written exactly once during publisher
// construction. Their value may be supplied as a deferred producer that is
// resolved at init time; a nil producer aborts construction.

// StaticUInt32 is a read-only 32-bit unsigned integer field.
type StaticUInt32 struct {
	s     fieldState
	value func() uint32
}

func (h *StaticUInt32) state() *fieldState { return &h.s }

func (h *StaticUInt32) initPayload() error {
	if h.value == nil {
		return xerrors.Errorf("mmstats: static field %q: value must be set", h.s.label)
	}
	binary.LittleEndian.PutUint32(h.s.writeSlot(), h.value())
	return nil
}

func (h *StaticUInt32) Value() uint32 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// StaticUInt64 is a read-only 64-bit unsigned integer field.
type StaticUInt64 struct {
	s     fieldState
	value func() uint64
}

func (h *StaticUInt64) state() *fieldState { return &h.s }

func (h *StaticUInt64) initPayload() error {
	if h.value == nil {
		return xerrors.Errorf("mmstats: static field %q: value must be set", h.s.label)
	}
	binary.LittleEndian.PutUint64(h.s.writeSlot(), h.value())
	return nil
}

func (h *StaticUInt64) Value() uint64 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// StaticInt64 is a read-only 64-bit signed integer field.
type StaticInt64 struct {
	s     fieldState
	value func() int64
}

func (h *StaticInt64) state() *fieldState { return &h.s }

func (h *StaticInt64) initPayload() error {
	if h.value == nil {
		return xerrors.Errorf("mmstats: static field %q: value must be set", h.s.label)
	}
	binary.LittleEndian.PutUint64(h.s.writeSlot(), uint64(h.value()))
	return nil
}

func (h *StaticInt64) Value() int64 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// StaticFloat64 is a read-only 64-bit float field.
type StaticFloat64 struct {
	s     fieldState
	value func() float64
}

func (h *StaticFloat64) state() *fieldState { return &h.s }

func (h *StaticFloat64) initPayload() error {
	if h.value == nil {
		return xerrors.Errorf("mmstats: static field %q: value must be set", h.s.label)
	}
	binary.LittleEndian.PutUint64(h.s.writeSlot(), math.Float64bits(h.value()))
	return nil
}

func (h *StaticFloat64) Value() float64 {
	b := h.s.readSlot()
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// StaticText is a read-only UTF-8 text field with a fixed 256-byte slot.
type StaticText struct {
	s     fieldState
	value func() string
}

func (h *StaticText) state() *fieldState { return &h.s }

func (h *StaticText) initPayload() error {
	if h.value == nil {
		return xerrors.Errorf("mmstats: static field %q: value must be set", h.s.label)
	}
	copy(h.s.writeSlot(), truncateUTF8(h.value(), h.s.width))
	return nil
}

func (h *StaticText) Value() string {
	b := h.s.readSlot()
	if b == nil {
		return ""
	}
	v := string(b)
	if i := strings.IndexByte(v, 0); i != -1 {
		v = v[:i]
	}
	return v
}

func stringSig(size int) string {
	return strconv.Itoa(size) + "s"
}
