// Package memfile provides a read-only memory-mapped view of a file, used
// to back large bundle/segment data files without copying them into the
// process heap. Grounded on original_source's
// include/cn24/util/MemoryMappedFile.h (open, mmap, length, close-on-GC).
package memfile

import (
	"fmt"
	"os"
	"syscall"

	"github.com/milosgajdos83/cn24/cnerr"
)

// MemoryMappedFile is a read-only mmap of a file's full contents.
type MemoryMappedFile struct {
	data []byte
	f    *os.File
}

// Open mmaps path read-only for its entire length.
func Open(path string) (*MemoryMappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memfile: opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("memfile: stat %s: %w", path, err)
	}
	length := info.Size()
	if length == 0 {
		f.Close()
		return nil, fmt.Errorf("memfile: %s is empty: %w", path, cnerr.ErrIO)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(length), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("memfile: mmap %s: %w", path, err)
	}
	return &MemoryMappedFile{data: data, f: f}, nil
}

// Address returns the mapped byte slice directly; callers must not retain
// it past Close.
func (m *MemoryMappedFile) Address() []byte { return m.data }

// Length returns the mapped length in bytes.
func (m *MemoryMappedFile) Length() int { return len(m.data) }

// Close unmaps and closes the underlying file.
func (m *MemoryMappedFile) Close() error {
	var err error
	if m.data != nil {
		err = syscall.Munmap(m.data)
		m.data = nil
	}
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
