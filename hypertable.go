package dynts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/linrium/dyn-ts/journal"
)

type Options struct {
	// Limit is the largest Size a chunk may reach. Defaults to LimitItemSize.
	Limit int

	// Indexer picks the secondary index of each row. Defaults to NameIndexer.
	Indexer Indexer

	// NewID allocates chunk ids. Defaults to random UUIDs.
	NewID func() string

	// Store persists sealed chunks on Flush and serves Load.
	Store Store

	// Journal, if set, records every write before Append returns so that
	// rows not yet flushed survive a restart. See ReplayJournal.
	Journal *journal.Journal

	Logger  *slog.Logger
	Verbose bool
}

// Hypertable is a directory of chunks sharing one schema. It routes appended
// rows to the open chunk for their secondary index and opens a replacement
// whenever that chunk seals. Chunks live in an arena addressed by position,
// so a sealed chunk can be persisted and evicted while newer chunks stay open.
//
// A Hypertable is safe for concurrent use; appends are serialized.
type Hypertable struct {
	id         string
	columns    []Column
	dimensions []Column
	limit      int
	indexer    Indexer
	newID      func() string
	store      Store
	journal    *journal.Journal
	logger     *slog.Logger
	verbose    bool

	mu     sync.Mutex
	refs   []ChunkRef
	chunks []*Chunk // nil once evicted
	byID   map[string]int
	open   map[string]int // secondary index -> arena position
}

func NewHypertable(id string, columns, dimensions []Column, opt Options) (*Hypertable, error) {
	if err := validateSchema(columns, dimensions); err != nil {
		return nil, fmt.Errorf("hypertable %s: %w", id, err)
	}
	if opt.Limit <= 0 {
		opt.Limit = LimitItemSize
	}
	if opt.Indexer == nil {
		opt.Indexer = NameIndexer{}
	}
	if opt.NewID == nil {
		opt.NewID = uuid.NewString
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Hypertable{
		id:         id,
		columns:    slices.Clone(columns),
		dimensions: slices.Clone(dimensions),
		limit:      opt.Limit,
		indexer:    opt.Indexer,
		newID:      opt.NewID,
		store:      opt.Store,
		journal:    opt.Journal,
		logger:     opt.Logger,
		verbose:    opt.Verbose,
		byID:       make(map[string]int),
		open:       make(map[string]int),
	}, nil
}

func (ht *Hypertable) ID() string                { return ht.id }
func (ht *Hypertable) Columns() []Column         { return slices.Clone(ht.columns) }
func (ht *Hypertable) Dimensions() []Column      { return slices.Clone(ht.dimensions) }
func (ht *Hypertable) Limit() int                { return ht.limit }
func (ht *Hypertable) Store() Store              { return ht.store }
func (ht *Hypertable) Journal() *journal.Journal { return ht.journal }
func (ht *Hypertable) Logger() *slog.Logger      { return ht.logger }

// Append writes rows in order into the time bucket timestamp. Rows are
// validated up front; an invalid row rejects the whole batch. Rolling over to
// new chunks happens as a side effect. With a journal, the batch is committed
// to it before Append returns.
func (ht *Hypertable) Append(timestamp string, rows []Row) error {
	var scratch [MaxFieldSize]byte
	indices := make([]string, len(rows))
	for i, row := range rows {
		n, err := checkRow(ht.columns, row, scratch[:])
		if err != nil {
			return chunkErrf(ht.id, "", "", err, "row %d", i)
		}
		if n+headerOverhead > ht.limit {
			return chunkErrf(ht.id, "", "", ErrRowTooLarge, "row %d needs %d bytes, limit %d", i, n+headerOverhead, ht.limit)
		}
		indices[i] = ht.indexer.RowIndex(timestamp, ht.dimensions, ht.columns, row)
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	var err error
	for start := 0; start < len(rows) && err == nil; {
		end := start + 1
		for end < len(rows) && indices[end] == indices[start] {
			end++
		}
		err = ht.appendLocked(timestamp, indices[start], rows[start:end])
		start = end
	}
	if cerr := ht.commitJournalLocked(); err == nil {
		err = cerr
	}
	return err
}

func (ht *Hypertable) appendLocked(timestamp, index string, rows []Row) error {
	for len(rows) > 0 {
		pos := ht.openChunkLocked(timestamp, index)
		c := ht.chunks[pos]
		sizesMark, dataMark := len(c.sizes), len(c.data)
		n, err := c.Write(rows)
		ht.refreshLocked(pos)
		if n > 0 {
			if jerr := ht.journalLocked(appendWALRows(nil, c, sizesMark, dataMark)); jerr != nil {
				return jerr
			}
		}
		if err != nil {
			return chunkErrf(ht.id, c.id, index, err, "")
		}
		rows = rows[n:]
		if c.Sealed() {
			delete(ht.open, index)
			if err := ht.journalLocked(appendWALSeal(nil, c.id)); err != nil {
				return err
			}
			if ht.verbose {
				ht.logger.LogAttrs(context.Background(), slog.LevelDebug, "dynts: chunk sealed", slog.String("ht", ht.id), slog.String("chunk", c.id), slog.String("index", index), slog.Int("size", c.Size()), slog.Int("rows", c.RowCount()))
			}
		}
	}
	return nil
}

func (ht *Hypertable) openChunkLocked(timestamp, index string) int {
	if pos, ok := ht.open[index]; ok {
		if c := ht.chunks[pos]; c != nil && !c.Sealed() {
			return pos
		}
		ht.refreshLocked(pos)
	}
	c := newChunk(ht.newID(), timestamp, index, ht.dimensions, ht.columns, ht.limit)
	pos := ht.addChunkLocked(c)
	ht.open[index] = pos
	if ht.verbose {
		ht.logger.LogAttrs(context.Background(), slog.LevelDebug, "dynts: chunk opened", slog.String("ht", ht.id), slog.String("chunk", c.id), slog.String("index", index))
	}
	return pos
}

func (ht *Hypertable) addChunkLocked(c *Chunk) int {
	pos := len(ht.chunks)
	ht.chunks = append(ht.chunks, c)
	ht.refs = append(ht.refs, c.Ref())
	ht.byID[c.id] = pos
	return pos
}

func (ht *Hypertable) refreshLocked(pos int) {
	c := ht.chunks[pos]
	if c == nil {
		return
	}
	persisted := ht.refs[pos].Persisted
	ht.refs[pos] = c.Ref()
	ht.refs[pos].Persisted = persisted
}

// ChunkFor returns the open chunk for a secondary index or, failing that, the
// most recently created chunk with that index that is still in memory.
//
// The chunk is shared with the hypertable and must be treated as read-only.
// Writing to it directly skips the directory lock and the journal; use Append.
func (ht *Hypertable) ChunkFor(secondaryIndex string) (*Chunk, bool) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	if pos, ok := ht.open[secondaryIndex]; ok && ht.chunks[pos] != nil {
		return ht.chunks[pos], true
	}
	for pos := len(ht.refs) - 1; pos >= 0; pos-- {
		if ht.refs[pos].Index == secondaryIndex && ht.chunks[pos] != nil {
			return ht.chunks[pos], true
		}
	}
	return nil, false
}

// Chunk returns a chunk by id if it is in memory. As with ChunkFor, the result
// is read-only to the caller.
func (ht *Hypertable) Chunk(id string) (*Chunk, bool) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	pos, ok := ht.byID[id]
	if !ok || ht.chunks[pos] == nil {
		return nil, false
	}
	return ht.chunks[pos], true
}

// AllChunks lists every chunk in creation order, evicted ones included.
func (ht *Hypertable) AllChunks() []ChunkRef {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	for pos := range ht.chunks {
		ht.refreshLocked(pos)
	}
	return slices.Clone(ht.refs)
}

// Seal seals the open chunk for a secondary index, if any.
func (ht *Hypertable) Seal(secondaryIndex string) bool {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	pos, ok := ht.open[secondaryIndex]
	if !ok {
		return false
	}
	ht.sealLocked(secondaryIndex, pos)
	ht.commitSealsLocked()
	return true
}

// SealAll seals every open chunk, e.g. when a time bucket closes.
func (ht *Hypertable) SealAll() int {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	n := 0
	for index, pos := range ht.open {
		ht.sealLocked(index, pos)
		n++
	}
	if n > 0 {
		ht.commitSealsLocked()
	}
	return n
}

func (ht *Hypertable) sealLocked(index string, pos int) {
	delete(ht.open, index)
	if c := ht.chunks[pos]; c != nil {
		c.Seal()
		if err := ht.journalLocked(appendWALSeal(nil, c.id)); err != nil {
			ht.logger.LogAttrs(context.Background(), slog.LevelError, "dynts: journal seal failed", slog.String("ht", ht.id), slog.String("chunk", c.id), slog.Any("err", err))
		}
	}
	ht.refreshLocked(pos)
}

// commitSealsLocked commits seal entries. A lost seal only leaves the chunk
// open after a replay, so failures are logged rather than returned.
func (ht *Hypertable) commitSealsLocked() {
	if err := ht.commitJournalLocked(); err != nil {
		ht.logger.LogAttrs(context.Background(), slog.LevelError, "dynts: journal commit failed", slog.String("ht", ht.id), slog.Any("err", err))
	}
}

// Flush puts every sealed chunk that has not been persisted yet into the
// store. It returns the number of chunks written.
func (ht *Hypertable) Flush(ctx context.Context) (int, error) {
	if ht.store == nil {
		return 0, fmt.Errorf("hypertable %s: no store configured", ht.id)
	}

	ht.mu.Lock()
	var pending []*Chunk
	for pos, c := range ht.chunks {
		if c != nil && c.Sealed() && !ht.refs[pos].Persisted {
			pending = append(pending, c)
		}
	}
	ht.mu.Unlock()

	// sealed chunks are immutable, so the store is called without the lock
	var flushed int
	for _, c := range pending {
		err := ht.store.Put(ctx, c.id, c.index, c.Record())
		if err != nil {
			ht.logger.LogAttrs(ctx, slog.LevelError, "dynts: flush failed", slog.String("ht", ht.id), slog.String("chunk", c.id), slog.Any("err", err))
			return flushed, chunkErrf(ht.id, c.id, c.index, err, "put")
		}
		ht.mu.Lock()
		pos := ht.byID[c.id]
		ht.refs[pos].Persisted = true
		ht.mu.Unlock()
		flushed++
		if ht.verbose {
			ht.logger.LogAttrs(ctx, slog.LevelDebug, "dynts: chunk persisted", slog.String("ht", ht.id), slog.String("chunk", c.id), slog.String("index", c.index), slog.Int("size", c.Size()))
		}
	}
	return flushed, nil
}

// Evict drops a persisted chunk's buffers from memory. Load brings it back.
func (ht *Hypertable) Evict(id string) error {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	pos, ok := ht.byID[id]
	if !ok {
		return chunkErrf(ht.id, id, "", ErrChunkNotFound, "")
	}
	if !ht.refs[pos].Persisted {
		return chunkErrf(ht.id, id, ht.refs[pos].Index, nil, "cannot evict a chunk that has not been flushed")
	}
	ht.chunks[pos] = nil
	return nil
}

// Load returns a chunk by id, fetching it from the store if it was evicted.
func (ht *Hypertable) Load(ctx context.Context, id string) (*Chunk, error) {
	ht.mu.Lock()
	pos, ok := ht.byID[id]
	var ref ChunkRef
	var c *Chunk
	if ok {
		ref, c = ht.refs[pos], ht.chunks[pos]
	}
	ht.mu.Unlock()
	if !ok {
		return nil, chunkErrf(ht.id, id, "", ErrChunkNotFound, "")
	}
	if c != nil {
		return c, nil
	}
	return ht.fetch(ctx, ref)
}

// Get fetches a chunk straight from the store by its key pair, whether or not
// this directory knows about it. The chunk's timestamp is the part of the
// index before the separator.
func (ht *Hypertable) Get(ctx context.Context, id, secondaryIndex string) (*Chunk, error) {
	ts, _, _ := strings.Cut(secondaryIndex, indexSep)
	return ht.fetch(ctx, ChunkRef{ID: id, Timestamp: ts, Index: secondaryIndex, Sealed: true, Persisted: true})
}

func (ht *Hypertable) fetch(ctx context.Context, ref ChunkRef) (*Chunk, error) {
	if ht.store == nil {
		return nil, fmt.Errorf("hypertable %s: no store configured", ht.id)
	}
	rec, err := ht.store.Get(ctx, ref.ID, ref.Index)
	if errors.Is(err, ErrNotFound) {
		return nil, chunkErrf(ht.id, ref.ID, ref.Index, fmt.Errorf("%w: %w", ErrChunkNotFound, err), "")
	} else if err != nil {
		return nil, chunkErrf(ht.id, ref.ID, ref.Index, err, "get")
	}
	if ht.verbose {
		ht.logger.LogAttrs(ctx, slog.LevelDebug, "dynts: chunk fetched", slog.String("ht", ht.id), slog.String("chunk", ref.ID), slog.String("index", ref.Index), hexAttr("sizes", rec.Sizes), slog.Int("data", len(rec.Data)))
	}
	return LoadChunk(ref, ht.dimensions, ht.columns, rec)
}
