package mmap

import "os"

// Fdatasync flushes the data written to f, skipping metadata such as
// modification times where the platform allows it. The journal calls it after
// each commit when syncing is enabled.
//
// If mapping is provided, it is an mmap'ed slice of f, for platforms that sync
// mapped pages separately.
//
// An error here is not recoverable: the kernel may already have marked the
// failed pages clean, so the file must be treated as damaged.
func Fdatasync(f *os.File, mapping []byte) error {
	return fdatasync(f, mapping)
}
