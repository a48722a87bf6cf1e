package mmstats

import (
	"strings"
	"testing"
)

func TestInts(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	zebras := b.Int32("zebras")
	apples := b.UInt32("apples")
	oranges := b.UInt32("oranges")
	create(t, b)

	if zebras.Value() != 0 || apples.Value() != 0 || oranges.Value() != 0 {
		t.Fatal("fresh fields are not zero")
	}

	apples.Set(1)
	if got := apples.Value(); got != 1 {
		t.Errorf("apples = %d, want 1", got)
	}
	if got := oranges.Value(); got != 0 {
		t.Errorf("oranges = %d, want 0", got)
	}

	zebras.Set(-9001)
	if got := zebras.Value(); got != -9001 {
		t.Errorf("zebras = %d, want -9001", got)
	}

	// Negative values wrap modulo 2^32 on unsigned fields.
	negApple := int32(-100)
	apples.Set(uint32(negApple))
	if got, want := apples.Value(), uint32(1<<32-100); got != want {
		t.Errorf("apples = %d, want %d", got, want)
	}
}

func TestShorts(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	a := b.Int16("a")
	u := b.UInt16("u")
	create(t, b)

	a.Set(-1)
	if got := a.Value(); got != -1 {
		t.Errorf("a = %d, want -1", got)
	}
	u.Set(1<<16 - 1)
	if got := u.Value(); got != 1<<16-1 {
		t.Errorf("u = %d, want %d", got, 1<<16-1)
	}
	negU := int16(-2)
	u.Set(uint16(negU))
	if got := u.Value(); got != 1<<16-2 {
		t.Errorf("u = %d, want %d", got, 1<<16-2)
	}
}

func TestInt8(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	v := b.Int8("v")
	create(t, b)

	v.Set(-128)
	if got := v.Value(); got != -128 {
		t.Errorf("v = %d, want -128", got)
	}
	v.Set(127)
	if got := v.Value(); got != 127 {
		t.Errorf("v = %d, want 127", got)
	}
}

func TestBools(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	x := b.Bool("x")
	y := b.BoolDefault("y", true)
	create(t, b)

	if x.Value() {
		t.Error("x starts true, want false")
	}
	if !y.Value() {
		t.Error("y starts false, want true")
	}
	x.Set(true)
	if !x.Value() {
		t.Error("x = false after Set(true)")
	}
	x.Set(false)
	if x.Value() {
		t.Error("x = true after Set(false)")
	}
}

func TestFloats(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	f := b.Float32("f")
	d := b.Float64("d")
	create(t, b)

	f.Set(1.0 / 3.0)
	d.Set(1.0 / 3.0)
	if got := f.Value(); got <= 0.3 || got >= 0.4 {
		t.Errorf("f = %v, want within (0.3, 0.4)", got)
	}
	if got := d.Value(); got <= 0.3 || got >= 0.4 {
		t.Errorf("d = %v, want within (0.3, 0.4)", got)
	}
	// float32 rounds 1/3 differently than float64.
	if float64(f.Value()) == d.Value() {
		t.Error("float32 and float64 representations are bit-identical")
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	s := b.String("s", 10)
	create(t, b)

	for _, tt := range []struct {
		name string
		in   string
		want string
	}{
		{"fits", "b", "b"},
		{"truncated", strings.Repeat("a", 11), strings.Repeat("a", 10)},
		{"rune boundary", strings.Repeat("❤", 11), strings.Repeat("❤", 3)},
		{"shorter overwrite", "x", "x"},
		{"empty", "", ""},
	} {
		s.Set(tt.in)
		if got := s.Value(); got != tt.want {
			t.Errorf("%s: Value() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestStaticFields(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	u32 := b.StaticUInt32("u32", 7)
	u64 := b.StaticUInt64("u64", 1<<42)
	i64 := b.StaticInt64("i64", -12)
	f64 := b.StaticFloat64("f64", 2.5)
	txt := b.StaticText("txt", "hello")
	calls := 0
	deferred := b.StaticUInt64Func("deferred", func() uint64 {
		calls++
		return 99
	})
	create(t, b)

	if got := u32.Value(); got != 7 {
		t.Errorf("u32 = %d, want 7", got)
	}
	if got := u64.Value(); got != 1<<42 {
		t.Errorf("u64 = %d, want %d", got, uint64(1)<<42)
	}
	if got := i64.Value(); got != -12 {
		t.Errorf("i64 = %d, want -12", got)
	}
	if got := f64.Value(); got != 2.5 {
		t.Errorf("f64 = %v, want 2.5", got)
	}
	if got := txt.Value(); got != "hello" {
		t.Errorf("txt = %q, want %q", got, "hello")
	}
	if got := deferred.Value(); got != 99 {
		t.Errorf("deferred = %d, want 99", got)
	}
	if calls != 1 {
		t.Errorf("deferred producer resolved %d times, want once", calls)
	}
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		in   string
		max  int
		want string
	}{
		{"abc", 10, "abc"},
		{"abcdef", 3, "abc"},
		{"❤❤", 4, "❤"},
		{"❤❤", 6, "❤❤"},
		{"a❤", 2, "a"},
		{"", 5, ""},
	} {
		if got := truncateUTF8(tt.in, tt.max); got != tt.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
