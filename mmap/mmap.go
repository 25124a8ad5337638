// Package mmap maps files into memory and syncs them to disk. The row journal
// reads its segment files through MapFile and makes commits durable with
// Fdatasync.
package mmap

import (
	"errors"
	"fmt"
	"os"
)

var (
	ErrEmpty    = errors.New("empty file")
	ErrTooLarge = errors.New("file too large to map")
)

type Options uint

const (
	// Writable maps the file read-write; Windows also grows it to size.
	Writable Options = 1 << 0

	// SequentialAccess asks for aggressive read-ahead (MADV_SEQUENTIAL).
	SequentialAccess Options = 1 << 1

	// RandomAccess turns read-ahead down (MADV_RANDOM).
	RandomAccess Options = 1 << 2

	// Prefault loads the whole mapping up front (MAP_POPULATE on Linux).
	Prefault Options = 1 << 3
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Mmap maps the first size bytes of f.
func Mmap(f *os.File, size int, opt Options) ([]byte, error) {
	if opt.Has(SequentialAccess) && opt.Has(RandomAccess) {
		panic("mmap: SequentialAccess and RandomAccess are exclusive")
	}
	if size <= 0 {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), ErrEmpty)
	}
	if int64(size) > MaxSize {
		return nil, fmt.Errorf("mmap %s: %d bytes: %w", f.Name(), size, ErrTooLarge)
	}
	b, err := mmap(f, size, opt)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return b, nil
}

// MapFile maps all of f at its current size.
func MapFile(f *os.File, opt Options) ([]byte, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() > MaxSize {
		return nil, fmt.Errorf("mmap %s: %d bytes: %w", f.Name(), st.Size(), ErrTooLarge)
	}
	return Mmap(f, int(st.Size()), opt)
}

// Munmap releases a mapping returned by Mmap or MapFile.
func Munmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return munmap(b)
}
