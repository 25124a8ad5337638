package dynts

import (
	"strconv"
	"strings"
)

const indexSep = "__"

// SecondaryIndex returns "{timestamp}__{dimension names joined by _}".
func SecondaryIndex(timestamp string, dimensions []Column) string {
	var buf strings.Builder
	buf.WriteString(timestamp)
	buf.WriteString(indexSep)
	for i, d := range dimensions {
		if i > 0 {
			buf.WriteByte('_')
		}
		buf.WriteString(d.Name)
	}
	return buf.String()
}

// Indexer derives the secondary index a row is stored under.
type Indexer interface {
	RowIndex(timestamp string, dimensions, columns []Column, row Row) string
}

// NameIndexer keys every row by the dimension column names. This is the
// persisted format; all rows in a time bucket share one index.
type NameIndexer struct{}

func (NameIndexer) RowIndex(timestamp string, dimensions, columns []Column, row Row) string {
	return SecondaryIndex(timestamp, dimensions)
}

// ValueIndexer keys rows by their dimension values, so rows with different
// dimension combinations land in different chunks. Keys produced by it are
// not readable by NameIndexer-based deployments.
type ValueIndexer struct{}

func (ValueIndexer) RowIndex(timestamp string, dimensions, columns []Column, row Row) string {
	var buf strings.Builder
	buf.WriteString(timestamp)
	buf.WriteString(indexSep)
	for i, d := range dimensions {
		if i > 0 {
			buf.WriteByte('_')
		}
		pos := columnPos(columns, d.Name)
		if pos < 0 || pos >= len(row) {
			continue
		}
		it := row[pos]
		switch it.typ {
		case U32:
			buf.WriteString(strconv.FormatUint(uint64(it.bits), 10))
		case Float32:
			buf.WriteString(strconv.FormatFloat(float64(it.Float32()), 'g', -1, 32))
		case Text:
			buf.WriteString(it.text)
		}
	}
	return buf.String()
}

func columnPos(columns []Column, name string) int {
	for i, c := range columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
