package mmap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRoundSize(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		in   int
		want int
	}{
		{0, Pagesize},
		{1, Pagesize},
		{Pagesize, Pagesize},
		{Pagesize + 1, 2 * Pagesize},
		{2 * Pagesize, 2 * Pagesize},
	} {
		if got := RoundSize(tt.in); got != tt.want {
			t.Errorf("RoundSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCreateZeroFilled(t *testing.T) {
	t.Parallel()

	fn := filepath.Join(t.TempDir(), "zero.mmstats")
	m, err := Create(fn, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Remove()

	if m.Size() != Pagesize {
		t.Errorf("size = %d, want %d", m.Size(), Pagesize)
	}
	if !bytes.Equal(m.Data, make([]byte, Pagesize)) {
		t.Error("fresh mapping is not zero filled")
	}
}

func TestWritesReachFile(t *testing.T) {
	t.Parallel()

	fn := filepath.Join(t.TempDir(), "shared.mmstats")
	m, err := Create(fn, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Remove()

	m.Data[0] = 'X'
	if err := m.Flush(false); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 'X' {
		t.Errorf("file byte 0 = %q, want 'X'", b[0])
	}
	if b[1] != 0 {
		t.Errorf("file byte 1 = %d, want 0", b[1])
	}
}

func TestFlushAsync(t *testing.T) {
	t.Parallel()

	m, err := Create(filepath.Join(t.TempDir(), "async.mmstats"), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Remove()
	if err := m.Flush(true); err != nil {
		t.Fatal(err)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	fn := filepath.Join(t.TempDir(), "rm.mmstats")
	m, err := Create(fn, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if _, err := os.Stat(fn); !os.IsNotExist(err) {
		t.Errorf("backing file still present (err=%v)", err)
	}
}

func TestTruncateExisting(t *testing.T) {
	t.Parallel()

	fn := filepath.Join(t.TempDir(), "trunc.mmstats")
	if err := os.WriteFile(fn, bytes.Repeat([]byte{0xAA}, 3*Pagesize), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Create(fn, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Remove()
	if m.Size() != Pagesize {
		t.Errorf("size = %d, want %d", m.Size(), Pagesize)
	}
	if !bytes.Equal(m.Data, make([]byte, Pagesize)) {
		t.Error("existing contents survived create+truncate")
	}
}
