package dynts

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpChunkHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpSizes

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the directory for debugging. Evicted chunks are listed
// without their rows.
func (ht *Hypertable) Dump(f DumpFlags) string {
	var buf strings.Builder
	if f.Contains(DumpStats) {
		s := ht.Stats()
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "%s.stats: chunks = %d, open = %d, sealed = %d, persisted = %d, resident = %d, rows = %d, bytes = %d, fill = %.3f\n", ht.id, s.Chunks, s.Open, s.Sealed, s.Persisted, s.Resident, s.Rows, s.Bytes, s.Fill(ht.limit))
	}
	for i, ref := range ht.AllChunks() {
		c, _ := ht.Chunk(ref.ID)
		ht.dumpChunk(&buf, f, i+1, ref, c)
	}
	return buf.String()
}

func (ht *Hypertable) dumpChunk(w *strings.Builder, f DumpFlags, pos int, ref ChunkRef, c *Chunk) {
	prefix := fmt.Sprintf("%s.%d", ht.id, pos)
	if f.Contains(DumpChunkHeaders) {
		fmt.Fprintln(w, dumpSep2)
		fmt.Fprintf(w, "%s %s @ %s (%d rows, %d/%d bytes)%s\n", prefix, ref.ID, ref.Index, ref.Rows, ref.Size, ht.limit, chunkStateSuffix(ref, c != nil))
	}
	if c == nil {
		return
	}
	if f.Contains(DumpSizes) {
		fmt.Fprintf(w, "%s.sizes = %s\n", prefix, hexstr(c.sizes))
	}
	if f.Contains(DumpRows) {
		rows, err := c.Rows()
		if err != nil {
			fmt.Fprintf(w, "%s ** ERROR: %v\n", prefix, err)
			return
		}
		for i, row := range rows {
			fmt.Fprintf(w, "%s.%d = %v\n", prefix, i+1, row)
		}
	}
}

func chunkStateSuffix(ref ChunkRef, resident bool) string {
	var parts []string
	if ref.Sealed {
		parts = append(parts, "SEALED")
	} else {
		parts = append(parts, "OPEN")
	}
	if ref.Persisted {
		parts = append(parts, "PERSISTED")
	}
	if !resident {
		parts = append(parts, "EVICTED")
	}
	return " " + strings.Join(parts, " ")
}
