// Package mmap manages the file-backed shared memory region underneath a
// stats publisher. It does not interpret the bytes it owns: on return from
// Create all bytes are zero, and the effective size is the requested size
// rounded up to a positive multiple of the page size.
package mmap

import (
	"log"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Pagesize is the allocation granularity of every mapping.
var Pagesize = os.Getpagesize()

// A File is a writable shared mapping backed by a regular file.
type File struct {
	// Data is the mapped region. len(Data) is a positive multiple of
	// Pagesize. Nil after Remove.
	Data []byte

	f       *os.File
	path    string
	removed bool
}

// RoundSize rounds size up to the nearest positive multiple of the page
// size; sizes of at most one page map to exactly one page.
func RoundSize(size int) int {
	if size <= Pagesize {
		return Pagesize
	}
	if rem := size % Pagesize; rem != 0 {
		return size + Pagesize - rem
	}
	return size
}

// Create opens path with create+truncate+read/write, zero-fills it to the
// rounded size and maps it shared.
func Create(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0666)
	if err != nil {
		return nil, xerrors.Errorf("mmap: %w", err)
	}
	size = RoundSize(size)
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, xerrors.Errorf("mmap: truncate %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, xerrors.Errorf("mmap: map %s: %w", path, err)
	}
	return &File{Data: data, f: f, path: path}, nil
}

// Path returns the backing file's path.
func (m *File) Path() string { return m.path }

// Size returns the effective mapping size in bytes.
func (m *File) Size() int { return len(m.Data) }

// Flush writes the mapped region back to the backing file. With async set,
// the flush is scheduled but not awaited.
func (m *File) Flush(async bool) error {
	if m.removed {
		return nil
	}
	flags := unix.MS_SYNC
	if async {
		flags = unix.MS_ASYNC
	}
	if err := unix.Msync(m.Data, flags); err != nil {
		return xerrors.Errorf("mmap: msync %s: %w", m.path, err)
	}
	return nil
}

// Remove unmaps the region, closes the descriptor and unlinks the backing
// file. Calling Remove more than once is a no-op. An unlink failure is
// logged, not returned: the mapping is already gone at that point.
func (m *File) Remove() error {
	if m.removed {
		return nil
	}
	m.removed = true
	data := m.Data
	m.Data = nil
	if err := unix.Munmap(data); err != nil {
		return xerrors.Errorf("mmap: munmap %s: %w", m.path, err)
	}
	if err := m.f.Close(); err != nil {
		return xerrors.Errorf("mmap: close %s: %w", m.path, err)
	}
	if err := os.Remove(m.path); err != nil {
		log.Printf("mmap: could not unlink %s: %v", m.path, err)
	}
	return nil
}
