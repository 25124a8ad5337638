package dynts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

func seqIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("c%d", n)
	}
}

// each row of the counter schema adds 5 bytes
var counterColumns = []Column{{"v", U32}}

func newCounterTable(t testing.TB, store Store) *Hypertable {
	t.Helper()
	return must(NewHypertable("counters", counterColumns, nil, Options{
		Limit: headerOverhead + 3*5,
		NewID: seqIDs(),
		Store: store,
	}))
}

func chunkRows(t testing.TB, c *Chunk) []Row {
	t.Helper()
	return must(c.Rows())
}

func TestHypertable_AppendRollsOver(t *testing.T) {
	ht := newCounterTable(t, nil)
	ensure(ht.Append("t", u32Rows(1, 2, 3, 4, 5, 6, 7)))

	refs := ht.AllChunks()
	if len(refs) != 3 {
		t.Fatalf("len(AllChunks) = %d, wanted 3", len(refs))
	}
	for i, want := range []struct {
		id     string
		rows   int
		sealed bool
	}{
		{"c1", 3, true},
		{"c2", 3, true},
		{"c3", 1, false},
	} {
		ref := refs[i]
		if ref.ID != want.id || ref.Rows != want.rows || ref.Sealed != want.sealed || ref.Index != "t__" {
			t.Errorf("** chunk %d = %+v, wanted id %s rows %d sealed %v", i, ref, want.id, want.rows, want.sealed)
		}
	}

	c := must2(ht.ChunkFor("t__"))
	if c.ID() != "c3" {
		t.Fatalf("ChunkFor = %s, wanted c3", c.ID())
	}
	ensure(ht.Append("t", u32Rows(8, 9)))
	if rows := chunkRows(t, c); !reflect.DeepEqual(rows, u32Rows(7, 8, 9)) {
		t.Fatalf("c3 rows = %v, wanted (7) (8) (9)", rows)
	}

	var all []Row
	for _, ref := range ht.AllChunks() {
		all = append(all, chunkRows(t, must2(ht.Chunk(ref.ID)))...)
	}
	if !reflect.DeepEqual(all, u32Rows(1, 2, 3, 4, 5, 6, 7, 8, 9)) {
		t.Fatalf("rows across chunks = %v", all)
	}
}

func TestHypertable_AppendRejectsWholeBatch(t *testing.T) {
	ht := newCounterTable(t, nil)
	err := ht.Append("t", []Row{{U32Item(1)}, {TextItem("2")}})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Append err = %v, wanted ErrTypeMismatch", err)
	}
	var ce *ChunkError
	if !errors.As(err, &ce) || ce.Hypertable != "counters" {
		t.Fatalf("Append err = %T %v, wanted *ChunkError for counters", err, err)
	}
	if n := len(ht.AllChunks()); n != 0 {
		t.Fatalf("len(AllChunks) = %d, wanted 0", n)
	}

	err = ht.Append("t", []Row{{U32Item(1), U32Item(2)}})
	if !errors.Is(err, ErrRowArity) {
		t.Fatalf("Append err = %v, wanted ErrRowArity", err)
	}
}

func TestHypertable_AppendRowTooLarge(t *testing.T) {
	ht := must(NewHypertable("notes", []Column{{"s", Text}}, nil, Options{Limit: 20}))
	err := ht.Append("t", []Row{{TextItem("this note is too long")}})
	if !errors.Is(err, ErrRowTooLarge) {
		t.Fatalf("Append err = %v, wanted ErrRowTooLarge", err)
	}
}

func TestHypertable_TimestampsAndIndexers(t *testing.T) {
	t.Run("name indexer", func(t *testing.T) {
		ht := must(NewHypertable("weather", weatherColumns, weatherDimensions, Options{NewID: seqIDs()}))
		ensure(ht.Append("01012022", weatherRows))
		ensure(ht.Append("02012022", weatherRows[:1]))

		refs := ht.AllChunks()
		if len(refs) != 2 || refs[0].Index != "01012022__city_name" || refs[1].Index != "02012022__city_name" {
			t.Fatalf("AllChunks = %+v", refs)
		}
		if refs[0].Rows != 2 || refs[0].Timestamp != "01012022" {
			t.Fatalf("first chunk = %+v, wanted 2 rows in 01012022", refs[0])
		}
	})

	t.Run("value indexer", func(t *testing.T) {
		ht := must(NewHypertable("weather", weatherColumns, weatherDimensions, Options{NewID: seqIDs(), Indexer: ValueIndexer{}}))
		ensure(ht.Append("01012022", append(weatherRows, weatherRows[0])))

		refs := ht.AllChunks()
		if len(refs) != 2 {
			t.Fatalf("len(AllChunks) = %d, wanted 2", len(refs))
		}
		hcm := must2(ht.ChunkFor("01012022__HO CHI MINH"))
		if hcm.RowCount() != 2 {
			t.Fatalf("HO CHI MINH rows = %d, wanted 2", hcm.RowCount())
		}
		hn := must2(ht.ChunkFor("01012022__HANOI"))
		if hn.RowCount() != 1 {
			t.Fatalf("HANOI rows = %d, wanted 1", hn.RowCount())
		}
	})
}

func TestHypertable_Seal(t *testing.T) {
	ht := newCounterTable(t, nil)
	ensure(ht.Append("a", u32Rows(1)))
	ensure(ht.Append("b", u32Rows(2)))

	if !ht.Seal("a__") {
		t.Fatalf("Seal(a__) = false, wanted true")
	}
	if ht.Seal("a__") {
		t.Fatalf("second Seal(a__) = true, wanted false")
	}
	ensure(ht.Append("a", u32Rows(3)))
	if n := len(ht.AllChunks()); n != 3 {
		t.Fatalf("len(AllChunks) = %d, wanted 3", n)
	}

	if n := ht.SealAll(); n != 2 {
		t.Fatalf("SealAll = %d, wanted 2", n)
	}
	for _, ref := range ht.AllChunks() {
		if !ref.Sealed {
			t.Errorf("** %s not sealed", ref.ID)
		}
	}
}

func TestHypertable_FlushEvictLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ht := newCounterTable(t, store)
	ensure(ht.Append("t", u32Rows(1, 2, 3, 4, 5, 6, 7)))

	if n := must(ht.Flush(ctx)); n != 2 {
		t.Fatalf("Flush = %d, wanted 2", n)
	}
	if n := must(ht.Flush(ctx)); n != 0 {
		t.Fatalf("second Flush = %d, wanted 0", n)
	}
	if store.Len() != 2 {
		t.Fatalf("store.Len = %d, wanted 2", store.Len())
	}

	err := ht.Evict("c3")
	if err == nil {
		t.Fatalf("Evict(unflushed) err = nil, wanted error")
	}
	if err := ht.Evict("nope"); !errors.Is(err, ErrChunkNotFound) {
		t.Fatalf("Evict(unknown) err = %v, wanted ErrChunkNotFound", err)
	}

	ensure(ht.Evict("c1"))
	if _, ok := ht.Chunk("c1"); ok {
		t.Fatalf("Chunk(c1) found after Evict")
	}
	c := must(ht.Load(ctx, "c1"))
	if rows := chunkRows(t, c); !reflect.DeepEqual(rows, u32Rows(1, 2, 3)) {
		t.Fatalf("loaded rows = %v, wanted (1) (2) (3)", rows)
	}
	if !c.Sealed() || c.SecondaryIndex() != "t__" {
		t.Fatalf("loaded chunk sealed=%v index=%q", c.Sealed(), c.SecondaryIndex())
	}

	ht.SealAll()
	if n := must(ht.Flush(ctx)); n != 1 {
		t.Fatalf("Flush after SealAll = %d, wanted 1", n)
	}
	for _, ref := range ht.AllChunks() {
		if !ref.Persisted {
			t.Errorf("** %s not persisted", ref.ID)
		}
	}
}

func TestHypertable_LookupMiss(t *testing.T) {
	ctx := context.Background()
	ht := newCounterTable(t, NewMemStore())

	_, err := ht.Get(ctx, "nope", "t__")
	if !errors.Is(err, ErrChunkNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, wanted ErrChunkNotFound", err)
	}
	var ce *ChunkError
	if !errors.As(err, &ce) || ce.Chunk != "nope" || ce.Index != "t__" {
		t.Fatalf("Get(missing) err = %#v, wanted *ChunkError for nope@t__", err)
	}

	if _, err := ht.Load(ctx, "nope"); !errors.Is(err, ErrChunkNotFound) {
		t.Fatalf("Load(unknown) err = %v, wanted ErrChunkNotFound", err)
	}
	if _, ok := ht.ChunkFor("t__"); ok {
		t.Fatalf("ChunkFor on empty table found a chunk")
	}
}

func TestHypertable_NoStore(t *testing.T) {
	ht := newCounterTable(t, nil)
	if _, err := ht.Flush(context.Background()); err == nil {
		t.Fatalf("Flush without store err = nil, wanted error")
	}
}

func TestHypertable_GetByKeyPair(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	c := newWeatherChunk(t)
	must(c.Write(weatherRows))
	ensure(store.Put(ctx, "external", c.SecondaryIndex(), c.Record()))

	ht := must(NewHypertable("weather", weatherColumns, weatherDimensions, Options{Store: store}))
	got := must(ht.Get(ctx, "external", "01012022__city_name"))
	if rows := chunkRows(t, got); !reflect.DeepEqual(rows, weatherRows) {
		t.Fatalf("Get rows = %v, wanted %v", rows, weatherRows)
	}
	if got.Timestamp() != "01012022" || got.SecondaryIndex() != "01012022__city_name" {
		t.Fatalf("Get = %s@%s, wanted timestamp 01012022", got.Timestamp(), got.SecondaryIndex())
	}
	if !got.Sealed() {
		t.Fatalf("Get returned an unsealed chunk")
	}
}

func TestHypertable_VerboseLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ht := must(NewHypertable("counters", counterColumns, nil, Options{
		Limit:   headerOverhead + 3*5,
		NewID:   seqIDs(),
		Store:   NewMemStore(),
		Logger:  logger,
		Verbose: true,
	}))
	ensure(ht.Append("t", u32Rows(1, 2, 3, 4)))
	must(ht.Flush(context.Background()))

	out := buf.String()
	for _, want := range []string{"chunk opened", "chunk sealed", "chunk persisted", "chunk=c1"} {
		if !strings.Contains(out, want) {
			t.Errorf("** log does not contain %q:\n%s", want, out)
		}
	}
}

func must2[T any](v T, ok bool) T {
	if !ok {
		panic("not found")
	}
	return v
}
