package mmstats

import (
	"os"
	"runtime"
	"time"

	"golang.org/x/xerrors"

	"github.com/schmichael/mmstats/internal/env"
	"github.com/schmichael/mmstats/internal/gettid"
	"github.com/schmichael/mmstats/internal/mmap"
)

// Config selects where a publisher's mapping lives. Both Path and Filename
// may contain the {CMD}, {PID} and {TID} substitution tokens; a publisher
// is not thread safe, so templates should keep {PID} and {TID} to make the
// backing files unique.
type Config struct {
	// Path is the publication directory. Empty means $MMSTATS_PATH,
	// falling back to the system temp directory.
	Path string

	// Filename is the file name template. Empty means $MMSTATS_FILES,
	// falling back to "{CMD}-{PID}-{TID}.mmstats".
	Filename string

	// Size, when positive, reserves a fixed mapping size. Declaring more
	// fields than fit the reservation aborts construction.
	Size int
}

// A Builder accumulates a field declaration. The declaration order is the
// order of the builder calls; it determines the record layout and is the
// same for every publisher constructed from the same call sequence.
type Builder struct {
	prefix string
	fields *[]decl
}

// NewBuilder returns an empty declaration.
func NewBuilder() *Builder {
	fields := make([]decl, 0, 16)
	return &Builder{fields: &fields}
}

// Group returns a view of the same declaration that prefixes every label
// with prefix. Groups share the mapping but nothing else: their fields get
// their own records at the next free offsets.
func (b *Builder) Group(prefix string) *Builder {
	return &Builder{prefix: b.prefix + prefix, fields: b.fields}
}

func (b *Builder) add(h decl, label, sig string, width int, buffered bool) {
	s := h.state()
	s.label = b.prefix + label
	s.sig = sig
	s.width = width
	s.buffered = buffered
	*b.fields = append(*b.fields, h)
}

func (b *Builder) UInt64(label string) *UInt64 {
	h := new(UInt64)
	b.add(h, label, "Q", 8, true)
	return h
}

func (b *Builder) UInt32(label string) *UInt32 {
	h := new(UInt32)
	b.add(h, label, "I", 4, true)
	return h
}

func (b *Builder) Int32(label string) *Int32 {
	h := new(Int32)
	b.add(h, label, "i", 4, true)
	return h
}

func (b *Builder) UInt16(label string) *UInt16 {
	h := new(UInt16)
	b.add(h, label, "H", 2, true)
	return h
}

func (b *Builder) Int16(label string) *Int16 {
	h := new(Int16)
	b.add(h, label, "h", 2, true)
	return h
}

func (b *Builder) Int8(label string) *Int8 {
	h := new(Int8)
	b.add(h, label, "b", 1, false)
	return h
}

func (b *Builder) Float32(label string) *Float32 {
	h := new(Float32)
	b.add(h, label, "f", 4, true)
	return h
}

func (b *Builder) Float64(label string) *Float64 {
	h := new(Float64)
	b.add(h, label, "d", 8, true)
	return h
}

// Bool declares a boolean field starting out false.
func (b *Builder) Bool(label string) *Bool {
	return b.BoolDefault(label, false)
}

// BoolDefault declares a boolean field with an explicit initial value.
func (b *Builder) BoolDefault(label string, initial bool) *Bool {
	h := &Bool{initial: initial}
	b.add(h, label, "?", 1, false)
	return h
}

// String declares a bounded UTF-8 string field holding up to size bytes.
// A size of 0 or less means DefaultStringSize.
func (b *Builder) String(label string, size int) *String {
	if size <= 0 {
		size = DefaultStringSize
	}
	h := new(String)
	b.add(h, label, stringSig(size), size, false)
	return h
}

func (b *Builder) Counter(label string) *Counter {
	h := new(Counter)
	b.add(h, label, "Q", 8, true)
	return h
}

func (b *Builder) Average(label string) *Average {
	h := new(Average)
	b.add(h, label, "d", 8, true)
	return h
}

// MovingAverage declares a moving average over the last window values.
// A window of 0 or less means DefaultWindowSize.
func (b *Builder) MovingAverage(label string, window int) *MovingAverage {
	if window <= 0 {
		window = DefaultWindowSize
	}
	h := &MovingAverage{window: make([]float64, window)}
	b.add(h, label, "d", 8, true)
	return h
}

// Timer declares a timer whose published value is the moving average of
// the last window scope durations, in seconds.
func (b *Builder) Timer(label string, window int) *Timer {
	if window <= 0 {
		window = DefaultWindowSize
	}
	h := &Timer{
		MovingAverage: MovingAverage{window: make([]float64, window)},
		clock:         time.Now,
	}
	b.add(h, label, "d", 8, true)
	return h
}

func (b *Builder) StaticUInt32(label string, value uint32) *StaticUInt32 {
	return b.StaticUInt32Func(label, func() uint32 { return value })
}

// StaticUInt32Func declares a static field whose value is produced by
// calling value once during publisher construction.
func (b *Builder) StaticUInt32Func(label string, value func() uint32) *StaticUInt32 {
	h := &StaticUInt32{value: value}
	b.add(h, label, "I", 4, false)
	return h
}

func (b *Builder) StaticUInt64(label string, value uint64) *StaticUInt64 {
	return b.StaticUInt64Func(label, func() uint64 { return value })
}

func (b *Builder) StaticUInt64Func(label string, value func() uint64) *StaticUInt64 {
	h := &StaticUInt64{value: value}
	b.add(h, label, "Q", 8, false)
	return h
}

func (b *Builder) StaticInt64(label string, value int64) *StaticInt64 {
	return b.StaticInt64Func(label, func() int64 { return value })
}

func (b *Builder) StaticInt64Func(label string, value func() int64) *StaticInt64 {
	h := &StaticInt64{value: value}
	b.add(h, label, "q", 8, false)
	return h
}

func (b *Builder) StaticFloat64(label string, value float64) *StaticFloat64 {
	return b.StaticFloat64Func(label, func() float64 { return value })
}

func (b *Builder) StaticFloat64Func(label string, value func() float64) *StaticFloat64 {
	h := &StaticFloat64{value: value}
	b.add(h, label, "d", 8, false)
	return h
}

func (b *Builder) StaticText(label string, value string) *StaticText {
	return b.StaticTextFunc(label, func() string { return value })
}

func (b *Builder) StaticTextFunc(label string, value func() string) *StaticText {
	h := &StaticText{value: value}
	b.add(h, label, stringSig(staticTextSize), staticTextSize, false)
	return h
}

// ProcessInfo holds the identity fields declared by Builder.ProcessInfo.
type ProcessInfo struct {
	PID       *StaticUInt32
	TID       *StaticInt64
	UID       *StaticUInt64
	GID       *StaticUInt64
	Created   *StaticFloat64
	GoVersion *StaticText
}

// ProcessInfo declares the conventional identity fields: sys.pid, sys.tid,
// sys.uid, sys.gid, sys.created (UNIX seconds) and go.version. Consumers
// such as the stale-file janitor rely on sys.pid being present.
func (b *Builder) ProcessInfo() *ProcessInfo {
	return &ProcessInfo{
		PID:       b.StaticUInt32Func("sys.pid", func() uint32 { return uint32(os.Getpid()) }),
		TID:       b.StaticInt64Func("sys.tid", func() int64 { return int64(gettid.Gettid()) }),
		UID:       b.StaticUInt64Func("sys.uid", func() uint64 { return uint64(os.Getuid()) }),
		GID:       b.StaticUInt64Func("sys.gid", func() uint64 { return uint64(os.Getgid()) }),
		Created:   b.StaticFloat64Func("sys.created", func() float64 { return float64(time.Now().UnixNano()) / 1e9 }),
		GoVersion: b.StaticTextFunc("go.version", runtime.Version),
	}
}

// MmStats is a publisher: one mapping holding the declared fields. It is
// single-writer per field; concurrent writers to different fields are fine,
// readers are out-of-process and never coordinate with the writer.
type MmStats struct {
	mapped  *mmap.File
	removed bool
}

// Create resolves cfg, allocates the mapping and initializes every
// declared field. On any error a partially created mapping is unmapped and
// unlinked before returning.
//
// The handles a Builder returned are bound to the publisher Create
// constructs. To publish the same declaration shape on several paths,
// build each publisher from its own Builder.
func (b *Builder) Create(cfg Config) (*MmStats, error) {
	fields := *b.fields
	seen := make(map[string]bool, len(fields))
	total := 1 // version byte
	for _, f := range fields {
		s := f.state()
		if err := s.validate(); err != nil {
			return nil, err
		}
		if seen[s.label] {
			return nil, xerrors.Errorf("mmstats: duplicate field label %q", s.label)
		}
		seen[s.label] = true
		total += s.size()
	}
	size := total
	if cfg.Size > 0 {
		if reserved := mmap.RoundSize(cfg.Size); total > reserved {
			return nil, xerrors.Errorf("mmstats: declaration needs %d bytes, exceeding the reserved %d", total, reserved)
		}
		size = cfg.Size
	}

	path := cfg.Path
	if path == "" {
		path = env.DefaultPath
	}
	filename := cfg.Filename
	if filename == "" {
		filename = env.DefaultFilename
	}
	m, err := mmap.Create(env.Resolve(path, filename), size)
	if err != nil {
		return nil, err
	}

	mm := &MmStats{mapped: m}
	m.Data[0] = Version1
	off := 1
	for _, f := range fields {
		off = f.state().writeHeader(mm, off)
		if err := f.initPayload(); err != nil {
			m.Remove()
			return nil, err
		}
	}
	return mm, nil
}

// Filename returns the resolved path of the backing file.
func (m *MmStats) Filename() string { return m.mapped.Path() }

// Size returns the mapping size in bytes, a positive multiple of the page
// size.
func (m *MmStats) Size() int { return m.mapped.Size() }

// Flush forces the mapping out to disk; with async set it only schedules
// the writeback.
func (m *MmStats) Flush(async bool) error {
	if m.removed {
		return nil
	}
	return m.mapped.Flush(async)
}

// Remove unmaps, closes and unlinks the mapping. Remove is idempotent;
// afterwards every field write is a silent no-op and reads return zero
// values.
func (m *MmStats) Remove() error {
	if m.removed {
		return nil
	}
	m.removed = true
	return m.mapped.Remove()
}
