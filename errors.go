package dynts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is matched by every *DataError.
	ErrMalformed = errors.New("malformed chunk")

	// ErrNotFound is returned by a Store when no record exists for a key.
	ErrNotFound = errors.New("record not found")

	// ErrChunkNotFound is matched by Hypertable lookups that miss.
	ErrChunkNotFound = errors.New("no such chunk")

	ErrChunkSealed   = errors.New("chunk is sealed")
	ErrRowArity      = errors.New("row does not match schema width")
	ErrTypeMismatch  = errors.New("item type does not match column type")
	ErrFieldTooLarge = errors.New("encoded field exceeds 255 bytes")
	ErrTextNotLatin1 = errors.New("text contains characters above U+00FF")
	ErrRowTooLarge   = errors.New("row does not fit into an empty chunk")
	ErrChecksum      = errors.New("record checksum mismatch")
	ErrEmptySchema   = errors.New("schema has no columns")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Is(target error) bool {
	return target == ErrMalformed
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// ChunkError attaches hypertable and chunk context to an error.
type ChunkError struct {
	Hypertable string
	Chunk      string
	Index      string
	Msg        string
	Err        error
}

func chunkErrf(ht, chunk, index string, err error, format string, args ...any) error {
	return &ChunkError{ht, chunk, index, fmt.Sprintf(format, args...), err}
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

func (e *ChunkError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Hypertable)
	if e.Chunk != "" {
		buf.WriteByte('/')
		buf.WriteString(e.Chunk)
	}
	if e.Index != "" {
		buf.WriteByte('@')
		buf.WriteString(e.Index)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
