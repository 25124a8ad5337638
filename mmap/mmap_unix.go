//go:build unix

package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func mmap(f *os.File, size int, opt Options) ([]byte, error) {
	prot := unix.PROT_READ
	if opt.Has(Writable) {
		prot |= unix.PROT_WRITE
	}
	flags := unix.MAP_SHARED
	if opt.Has(Prefault) {
		flags |= mapPopulate
	}

	b, err := unix.Mmap(int(f.Fd()), 0, size, prot, flags)
	if err != nil {
		return nil, err
	}
	if err := advise(b, opt); err != nil {
		unix.Munmap(b)
		return nil, err
	}
	return b, nil
}

func advise(b []byte, opt Options) error {
	var advice int
	switch {
	case opt.Has(SequentialAccess):
		advice = unix.MADV_SEQUENTIAL
	case opt.Has(RandomAccess):
		advice = unix.MADV_RANDOM
	default:
		return nil
	}
	// ENOSYS: the kernel ignores advice, the mapping still works
	if err := unix.Madvise(b, advice); err != nil && err != unix.ENOSYS {
		return fmt.Errorf("madvise(%d): %w", advice, err)
	}
	return nil
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}
