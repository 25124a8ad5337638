package dynts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/linrium/dyn-ts/journal"
)

// Journal entries are tuples. A rows entry carries the encoded rows one
// chunk write added; a seal entry marks the chunk closed.
//
//	rows: 'w' | chunk id | timestamp | secondary index | sizes | data
//	seal: 's' | chunk id
const (
	walRows byte = 'w'
	walSeal byte = 's'
)

type walEntry struct {
	kind      byte
	id        string
	timestamp string
	index     string
	sizes     []byte
	data      []byte
}

func appendWALRows(buf []byte, c *Chunk, sizesMark, dataMark int) []byte {
	return tuple{{walRows}, []byte(c.id), []byte(c.timestamp), []byte(c.index), c.sizes[sizesMark:], c.data[dataMark:]}.encode(buf)
}

func appendWALSeal(buf []byte, id string) []byte {
	return tuple{{walSeal}, []byte(id)}.encode(buf)
}

func decodeWALEntry(raw []byte) (walEntry, error) {
	tup, err := decodeTuple(raw)
	if err != nil {
		return walEntry{}, dataErrf(raw, 0, err, "journal entry")
	}
	if len(tup) < 2 || len(tup[0]) != 1 {
		return walEntry{}, dataErrf(raw, 0, nil, "journal entry: %d components", len(tup))
	}
	e := walEntry{kind: tup[0][0], id: string(tup[1])}
	switch e.kind {
	case walRows:
		if len(tup) != 6 {
			return walEntry{}, dataErrf(raw, 0, nil, "journal rows entry: %d components", len(tup))
		}
		e.timestamp, e.index = string(tup[2]), string(tup[3])
		e.sizes, e.data = tup[4], tup[5]
	case walSeal:
		if len(tup) != 2 {
			return walEntry{}, dataErrf(raw, 0, nil, "journal seal entry: %d components", len(tup))
		}
	default:
		return walEntry{}, dataErrf(raw, 0, nil, "journal entry of unknown kind %q", e.kind)
	}
	return e, nil
}

func (ht *Hypertable) journalLocked(entry []byte) error {
	if ht.journal == nil {
		return nil
	}
	if err := ht.journal.WriteRecord(0, entry); err != nil {
		return fmt.Errorf("hypertable %s: journal: %w", ht.id, err)
	}
	return nil
}

func (ht *Hypertable) commitJournalLocked() error {
	if ht.journal == nil {
		return nil
	}
	if err := ht.journal.Commit(); err != nil {
		return fmt.Errorf("hypertable %s: journal: %w", ht.id, err)
	}
	return nil
}

// ReplayJournal recreates the chunks whose rows are in the journal but not in
// the store, keeping their ids. Chunks the directory already knows as
// persisted are skipped. It must run before the first Append; OpenHypertable
// calls it when Options.Journal is set. It returns the number of recovered
// chunks.
func (ht *Hypertable) ReplayJournal() (int, error) {
	if ht.journal == nil {
		return 0, nil
	}
	ht.mu.Lock()
	defer ht.mu.Unlock()

	for pos, c := range ht.chunks {
		if c != nil && !ht.refs[pos].Persisted {
			return 0, fmt.Errorf("hypertable %s: journal replay after appends", ht.id)
		}
	}

	var recovered int
	err := ht.journal.Replay(func(rec journal.Record) error {
		// rec.Data is unmapped once the segment is done
		e, err := decodeWALEntry(bytes.Clone(rec.Data))
		if err != nil {
			return chunkErrf(ht.id, "", "", err, "segment %d", rec.Segment)
		}
		pos, known := ht.byID[e.id]
		if known && ht.refs[pos].Persisted {
			return nil
		}
		switch e.kind {
		case walRows:
			if !known {
				c := newChunk(e.id, e.timestamp, e.index, ht.dimensions, ht.columns, ht.limit)
				pos = ht.addChunkLocked(c)
				recovered++
			}
			c := ht.chunks[pos]
			if err := c.appendEncoded(e.sizes, e.data); err != nil {
				return chunkErrf(ht.id, c.id, c.index, err, "journal segment %d", rec.Segment)
			}
			if !c.Sealed() {
				ht.open[c.index] = pos
			}
		case walSeal:
			if !known {
				return nil
			}
			c := ht.chunks[pos]
			c.Seal()
			if ht.open[c.index] == pos {
				delete(ht.open, c.index)
			}
		}
		ht.refreshLocked(pos)
		return nil
	})
	if err != nil {
		return recovered, err
	}
	if ht.verbose || recovered > 0 {
		ht.logger.LogAttrs(context.Background(), slog.LevelInfo, "dynts: journal replayed", slog.String("ht", ht.id), slog.Int("chunks", recovered), slog.Int("open", len(ht.open)))
	}
	return recovered, nil
}
