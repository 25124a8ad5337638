//go:build mips64 || mips64le

package mmap

// MaxSize is the largest mapping Mmap supports on this architecture.
const MaxSize = 0x8000000000 // 512GB
