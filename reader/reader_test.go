package reader_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/schmichael/mmstats"
	"github.com/schmichael/mmstats/reader"
)

// publish constructs a publisher with a representative declaration and
// returns its backing file path.
func publish(t *testing.T) string {
	t.Helper()
	b := mmstats.NewBuilder()
	u64 := b.UInt64("u64")
	i32 := b.Int32("i32")
	f := b.Float64("ratio")
	s := b.String("state", 10)
	flag := b.Bool("flag")
	c := b.Counter("hits")
	b.StaticText("note", "hi")

	mm, err := b.Create(mmstats.Config{Path: t.TempDir(), Filename: "reader-test.mmstats"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mm.Remove() })

	u64.Set(1 << 40)
	i32.Set(-7)
	f.Set(0.25)
	s.Set("serving")
	flag.Set(true)
	c.Inc()
	c.Inc()
	return mm.Filename()
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	fn := publish(t)
	for _, open := range []struct {
		name string
		fn   func(string) (*reader.Reader, error)
	}{
		{"FromFile", reader.FromFile},
		{"FromMmap", reader.FromMmap},
	} {
		open := open // copy
		t.Run(open.name, func(t *testing.T) {
			t.Parallel()
			r, err := open.fn(fn)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			got, err := r.ReadAll()
			if err != nil {
				t.Fatal(err)
			}
			want := []reader.Stat{
				{Label: "u64", Value: uint64(1 << 40)},
				{Label: "i32", Value: int32(-7)},
				{Label: "ratio", Value: 0.25},
				{Label: "state", Value: "serving"},
				{Label: "flag", Value: true},
				{Label: "hits", Value: uint64(2)},
				{Label: "note", Value: "hi"},
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("stats diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLastWrittenWins(t *testing.T) {
	t.Parallel()

	b := mmstats.NewBuilder()
	g := b.UInt32("gauge")
	mm, err := b.Create(mmstats.Config{Path: t.TempDir(), Filename: "gauge.mmstats"})
	if err != nil {
		t.Fatal(err)
	}
	defer mm.Remove()

	for i := uint32(1); i <= 5; i++ {
		g.Set(i)
	}
	r, err := reader.FromMmap(mm.Filename())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	st, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if st.Value != uint32(5) {
		t.Errorf("gauge = %v, want 5", st.Value)
	}
}

// frame builds one on-disk field record by hand.
func frame(label, sig string, bufIdx byte, payload []byte) []byte {
	var buf bytes.Buffer
	var lenb [2]byte
	binary.LittleEndian.PutUint16(lenb[:], uint16(len(label)))
	buf.Write(lenb[:])
	buf.WriteString(label)
	binary.LittleEndian.PutUint16(lenb[:], uint16(len(sig)))
	buf.Write(lenb[:])
	buf.WriteString(sig)
	buf.WriteByte(bufIdx)
	buf.Write(payload)
	return buf.Bytes()
}

func TestUnsupportedVersion(t *testing.T) {
	t.Parallel()

	_, err := reader.New(strings.NewReader("\x02"))
	if !errors.Is(err, reader.ErrUnsupportedVersion) {
		t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestEmptyStream(t *testing.T) {
	t.Parallel()

	if _, err := reader.New(strings.NewReader("")); err == nil {
		t.Fatal("New accepted an empty stream")
	}
}

func TestZeroLabelTerminates(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteByte(1)
	buf.Write(frame("a", "b", 255, []byte{42}))
	buf.Write(make([]byte, 64)) // zero fill after the last record

	r, err := reader.New(&buf)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := []reader.Stat{{Label: "a", Value: int8(42)}}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats diff (-want +got):\n%s", diff)
	}
}

func TestTruncatedAtBoundary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteByte(1)
	buf.Write(frame("a", "Q", 255, make([]byte, 8)))

	r, err := reader.New(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 {
		t.Fatalf("got %d stats, want 1", len(stats))
	}
}

func TestTruncatedInsideFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteByte(1)
	full := frame("label", "Q", 255, make([]byte, 8))
	buf.Write(full[:len(full)-3]) // payload cut short

	r, err := reader.New(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Next()
	if !errors.Is(err, reader.ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestUnknownSignature(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteByte(1)
	buf.Write(frame("ok", "I", 255, make([]byte, 4)))
	buf.Write(frame("bad", "Z", 255, []byte{0}))

	r, err := reader.New(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	st, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if st.Label != "ok" {
		t.Errorf("first label = %q, want %q", st.Label, "ok")
	}
	// The malformed frame aborts iteration, but the first item stays
	// valid.
	if _, err := r.Next(); !errors.Is(err, reader.ErrUnknownSignature) {
		t.Fatalf("err = %v, want ErrUnknownSignature", err)
	}
	if _, err := r.Next(); err == nil || err == io.EOF {
		t.Fatalf("iteration continued past a malformed frame: %v", err)
	}
}

func TestDoubleBufferedSlotSelection(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:], 111) // slot 0
	binary.LittleEndian.PutUint32(payload[4:], 222) // slot 1

	for _, tt := range []struct {
		bufIdx byte
		want   uint32
	}{
		{0, 222}, // write slot 0 -> stable value in slot 1
		{1, 111}, // write slot 1 -> stable value in slot 0
	} {
		var buf bytes.Buffer
		buf.WriteByte(1)
		buf.Write(frame("v", "I", tt.bufIdx, payload))
		r, err := reader.New(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatal(err)
		}
		st, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if st.Value != tt.want {
			t.Errorf("buf_idx %d: value = %v, want %d", tt.bufIdx, st.Value, tt.want)
		}
	}
}

func TestLossyLabel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteByte(1)
	buf.Write(frame("bad\xff", "?", 255, []byte{1}))

	r, err := reader.New(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	st, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(st.Label, "bad") || strings.Contains(st.Label, "\xff") {
		t.Errorf("label = %q, want lossily decoded", st.Label)
	}
}

func TestStringPaddingTrimmed(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 6)
	copy(payload, "ab")
	var buf bytes.Buffer
	buf.WriteByte(1)
	buf.Write(frame("s", "6s", 255, payload))

	r, err := reader.New(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	st, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if st.Value != "ab" {
		t.Errorf("value = %q, want %q", st.Value, "ab")
	}
}

func TestConcurrentReads(t *testing.T) {
	t.Parallel()

	b := mmstats.NewBuilder()
	g := b.UInt64("pattern")
	mm, err := b.Create(mmstats.Config{Path: t.TempDir(), Filename: "conc.mmstats"})
	if err != nil {
		t.Fatal(err)
	}
	defer mm.Remove()

	// Every published value repeats one byte eight times, so a torn slot
	// read would surface as a value with unequal bytes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			g.Set(uint64(i%256) * 0x0101010101010101)
		}
	}()

	for i := 0; i < 200; i++ {
		r, err := reader.FromMmap(mm.Filename())
		if err != nil {
			t.Fatal(err)
		}
		st, err := r.Next()
		if err != nil {
			r.Close()
			t.Fatal(err)
		}
		r.Close()
		v := st.Value.(uint64)
		lo := v & 0xFF
		if v != lo*0x0101010101010101 {
			t.Fatalf("torn value %#x", v)
		}
	}
	<-done
}
