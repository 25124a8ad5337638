package dynts

import (
	"fmt"
	"slices"
)

const (
	// LimitItemSize keeps a chunk under DynamoDB's 400 KB item ceiling.
	LimitItemSize = 400_000

	// headerOverhead is the allowance for the id and item metadata.
	headerOverhead = 9
)

// ChunkRef describes a chunk without its buffers.
type ChunkRef struct {
	ID        string `msgpack:"id"`
	Timestamp string `msgpack:"ts"`
	Index     string `msgpack:"ix"`
	Size      int    `msgpack:"sz"`
	Rows      int    `msgpack:"rows"`
	Sealed    bool   `msgpack:"sealed"`
	Persisted bool   `msgpack:"persisted"`
}

// Chunk is one packed, size-bounded record. A Chunk has a single writer;
// once sealed it is immutable and safe for concurrent readers.
type Chunk struct {
	id         string
	timestamp  string
	index      string
	sizes      []byte
	data       []byte
	dimensions []Column
	columns    []Column
	limit      int
	rows       int
	sealed     bool
}

// NewChunk returns an empty open chunk limited to LimitItemSize.
func NewChunk(id, timestamp string, dimensions, columns []Column) (*Chunk, error) {
	if err := validateSchema(columns, dimensions); err != nil {
		return nil, err
	}
	return newChunk(id, timestamp, SecondaryIndex(timestamp, dimensions), dimensions, columns, LimitItemSize), nil
}

func newChunk(id, timestamp, index string, dimensions, columns []Column, limit int) *Chunk {
	return &Chunk{
		id:         id,
		timestamp:  timestamp,
		index:      index,
		dimensions: slices.Clone(dimensions),
		columns:    slices.Clone(columns),
		limit:      limit,
	}
}

// LoadChunk rebuilds a sealed chunk from a persisted record. The record is
// not validated here; malformed buffers are reported by Rows.
func LoadChunk(ref ChunkRef, dimensions, columns []Column, rec Record) (*Chunk, error) {
	if err := validateSchema(columns, dimensions); err != nil {
		return nil, err
	}
	index := ref.Index
	if index == "" {
		index = SecondaryIndex(ref.Timestamp, dimensions)
	}
	c := newChunk(ref.ID, ref.Timestamp, index, dimensions, columns, LimitItemSize)
	c.sizes = rec.Sizes
	c.data = rec.Data
	c.rows = len(rec.Sizes) / len(columns)
	c.sealed = true
	return c, nil
}

func (c *Chunk) ID() string           { return c.id }
func (c *Chunk) Timestamp() string    { return c.timestamp }
func (c *Chunk) Columns() []Column    { return slices.Clone(c.columns) }
func (c *Chunk) Dimensions() []Column { return slices.Clone(c.dimensions) }
func (c *Chunk) RowCount() int        { return c.rows }
func (c *Chunk) Sealed() bool         { return c.sealed }
func (c *Chunk) Limit() int           { return c.limit }

// Seal closes the chunk to further writes.
func (c *Chunk) Seal() {
	c.sealed = true
}

// Size is the number of bytes the chunk occupies as a store item.
func (c *Chunk) Size() int {
	return len(c.data) + len(c.sizes) + headerOverhead
}

// SecondaryIndex is the lookup key stored alongside the chunk id.
func (c *Chunk) SecondaryIndex() string {
	return c.index
}

// Record returns the chunk's buffers. They are shared with the chunk and must
// not be modified.
func (c *Chunk) Record() Record {
	return Record{Sizes: c.sizes, Data: c.data}
}

func (c *Chunk) Ref() ChunkRef {
	return ChunkRef{
		ID:        c.id,
		Timestamp: c.timestamp,
		Index:     c.index,
		Size:      c.Size(),
		Rows:      c.rows,
		Sealed:    c.sealed,
	}
}

// Write appends rows in order and returns how many were accepted.
//
// A row that would take Size past the limit is not written; the chunk seals and
// Write returns n < len(rows) with a nil error, and the caller continues with
// the remaining rows on a new chunk. Invalid rows stop the write with an error,
// leaving the chunk as it was before that row.
func (c *Chunk) Write(rows []Row) (int, error) {
	if c.sealed {
		return 0, ErrChunkSealed
	}
	for i, row := range rows {
		dataMark, sizesMark := len(c.data), len(c.sizes)
		if err := c.appendRow(row); err != nil {
			c.data, c.sizes = c.data[:dataMark], c.sizes[:sizesMark]
			return i, err
		}
		if size := c.Size(); size > c.limit {
			c.data, c.sizes = c.data[:dataMark], c.sizes[:sizesMark]
			if c.rows == 0 {
				return i, fmt.Errorf("%w: %d bytes, limit %d", ErrRowTooLarge, size, c.limit)
			}
			c.sealed = true
			return i, nil
		}
		c.rows++
	}
	return len(rows), nil
}

func (c *Chunk) appendRow(row Row) error {
	if len(row) != len(c.columns) {
		return fmt.Errorf("%w: %d items, %d columns", ErrRowArity, len(row), len(c.columns))
	}
	for i, col := range c.columns {
		before := len(c.data)
		var err error
		c.data, err = col.AppendItem(c.data, row[i])
		if err != nil {
			return err
		}
		c.sizes = append(c.sizes, byte(len(c.data)-before))
	}
	return nil
}

// appendEncoded appends rows that are already encoded, as read back from the
// journal. The limit is not enforced; the rows fitted when first written.
func (c *Chunk) appendEncoded(sizes, data []byte) error {
	if c.sealed {
		return ErrChunkSealed
	}
	k := len(c.columns)
	if len(sizes)%k != 0 {
		return dataErrf(sizes, 0, nil, "%d fields, schema width %d", len(sizes), k)
	}
	var total int
	for _, n := range sizes {
		total += int(n)
	}
	if total != len(data) {
		return dataErrf(data, 0, nil, "sizes add up to %d bytes, data has %d", total, len(data))
	}
	c.sizes = append(c.sizes, sizes...)
	c.data = append(c.data, data...)
	c.rows += len(sizes) / k
	return nil
}

// Rows decodes every row in write order.
func (c *Chunk) Rows() ([]Row, error) {
	k := len(c.columns)
	if rem := len(c.sizes) % k; rem != 0 {
		return nil, dataErrf(c.sizes, len(c.sizes)-rem, nil, "trailing partial row: %d fields, schema width %d", len(c.sizes), k)
	}

	result := make([]Row, 0, len(c.sizes)/k)
	row := make(Row, 0, k)
	d := makeByteDecoder(c.data)
	for i, n := range c.sizes {
		col := c.columns[i%k]
		off := d.Off()
		span, err := d.Raw(int(n))
		if err != nil {
			return nil, dataErrf(c.data, off, err, "field %d (%s)", i, col.Name)
		}
		it, err := col.Decode(span)
		if err != nil {
			return nil, dataErrf(c.data, off, err, "field %d (%s)", i, col.Name)
		}
		row = append(row, it)
		if len(row) == k {
			result = append(result, row)
			row = make(Row, 0, k)
		}
	}
	if d.Remaining() != 0 {
		return nil, dataErrf(c.data, d.Off(), nil, "%d bytes after the last field", d.Remaining())
	}
	return result, nil
}
