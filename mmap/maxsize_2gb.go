//go:build 386 || arm || ppc || mips || mipsle

package mmap

// MaxSize is the largest mapping Mmap supports on this architecture.
const MaxSize = 0x7FFFFFFF // 2GB
