package dynts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"
)

const manifestVer1 = 1

type manifest struct {
	Version    int              `msgpack:"v"`
	ID         string           `msgpack:"id"`
	Columns    []manifestColumn `msgpack:"cols"`
	Dimensions []manifestColumn `msgpack:"dims"`
	Limit      int              `msgpack:"limit"`
	Chunks     []ChunkRef       `msgpack:"chunks"`
}

type manifestColumn struct {
	Name string `msgpack:"n"`
	Type uint8  `msgpack:"t"`
}

func toManifestColumns(cols []Column) []manifestColumn {
	result := make([]manifestColumn, len(cols))
	for i, c := range cols {
		result[i] = manifestColumn{c.Name, uint8(c.Type)}
	}
	return result
}

func fromManifestColumns(mcols []manifestColumn) []Column {
	result := make([]Column, len(mcols))
	for i, c := range mcols {
		result[i] = Column{c.Name, ColumnType(c.Type)}
	}
	return result
}

func encodeManifest(buf []byte, m *manifest) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(m)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode manifest %s using MsgPack: %w", m.ID, err))
	}
	return bb.Buf
}

func decodeManifest(buf []byte) (*manifest, error) {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	var m manifest
	err := dec.Decode(&m)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(buf, 0, err, "failed to decode manifest")
	}
	if m.Version != manifestVer1 {
		return nil, dataErrf(buf, 0, nil, "unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

// Manifest encodes the schema and the persisted chunks of the directory.
// Chunks that have not been flushed are not part of it.
func (ht *Hypertable) Manifest() []byte {
	ht.mu.Lock()
	m, _ := ht.manifestLocked()
	ht.mu.Unlock()
	return encodeManifest(nil, m)
}

// manifestLocked also reports whether every chunk is persisted.
func (ht *Hypertable) manifestLocked() (*manifest, bool) {
	m := &manifest{
		Version:    manifestVer1,
		ID:         ht.id,
		Columns:    toManifestColumns(ht.columns),
		Dimensions: toManifestColumns(ht.dimensions),
		Limit:      ht.limit,
	}
	for pos := range ht.chunks {
		ht.refreshLocked(pos)
	}
	clean := true
	for _, ref := range ht.refs {
		if ref.Persisted {
			m.Chunks = append(m.Chunks, ref)
		} else {
			clean = false
		}
	}
	return m, clean
}

// SaveManifest writes Manifest to the store. When every chunk is persisted,
// the manifest covers all journaled rows, so the journal is rotated and its
// older segments pruned once the manifest is saved.
func (ht *Hypertable) SaveManifest(ctx context.Context) error {
	ms, ok := ht.store.(ManifestStore)
	if !ok {
		return fmt.Errorf("hypertable %s: store %T cannot keep manifests", ht.id, ht.store)
	}

	ht.mu.Lock()
	m, clean := ht.manifestLocked()
	var checkpoint uint32
	if clean && ht.journal != nil {
		next, err := ht.journal.Rotate()
		if err != nil {
			ht.logger.LogAttrs(ctx, slog.LevelWarn, "dynts: journal rotation failed", slog.String("ht", ht.id), slog.Any("err", err))
		} else {
			checkpoint = next
		}
	}
	ht.mu.Unlock()

	if err := ms.PutManifest(ctx, ht.id, encodeManifest(nil, m)); err != nil {
		return err
	}
	if checkpoint > 0 {
		n, err := ht.journal.Prune(checkpoint)
		if err != nil {
			return fmt.Errorf("hypertable %s: journal: %w", ht.id, err)
		}
		if ht.verbose {
			ht.logger.LogAttrs(ctx, slog.LevelDebug, "dynts: journal pruned", slog.String("ht", ht.id), slog.Int("segments", n))
		}
	}
	return nil
}

// OpenHypertable restores a directory saved by SaveManifest. Restored chunks
// start out evicted; Load fetches them. opt.Store is replaced by store, and
// opt.Limit defaults to the saved limit. With opt.Journal, chunks that were
// written after the manifest was saved are recovered by ReplayJournal.
func OpenHypertable(ctx context.Context, store ManifestStore, id string, opt Options) (*Hypertable, error) {
	raw, err := store.GetManifest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("hypertable %s: %w", id, err)
	}
	m, err := decodeManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("hypertable %s: %w", id, err)
	}
	if m.ID != id {
		return nil, fmt.Errorf("hypertable %s: manifest belongs to %s", id, m.ID)
	}
	if opt.Limit <= 0 {
		opt.Limit = m.Limit
	}
	opt.Store = store
	ht, err := NewHypertable(m.ID, fromManifestColumns(m.Columns), fromManifestColumns(m.Dimensions), opt)
	if err != nil {
		return nil, err
	}
	for _, ref := range m.Chunks {
		ht.byID[ref.ID] = len(ht.refs)
		ht.refs = append(ht.refs, ref)
		ht.chunks = append(ht.chunks, nil)
	}
	if _, err := ht.ReplayJournal(); err != nil {
		return nil, err
	}
	return ht, nil
}
