package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	dynts "github.com/linrium/dyn-ts"
)

func newTestSession(t *testing.T, cfg Config) (*session, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { closeStore() })
	j, err := openJournal(cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Cleanup(func() { j.Close() })
	}
	ht, err := openHypertable(ctx, cfg, store, j, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	return &session{ht: ht, store: store, bucket: cfg.Timestamp, out: &out}, &out
}

func execAll(t *testing.T, s *session, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if err := s.exec(context.Background(), line); err != nil {
			t.Fatalf("exec(%q) failed: %v", line, err)
		}
	}
}

func TestSession_WeatherDemo(t *testing.T) {
	s, out := newTestSession(t, DefaultConfig())
	execAll(t, s,
		`append "HO CHI MINH" 27.5 6.7`,
		`append HANOI 17.5 7.7`,
		`index`,
		`seal`,
		`flush`,
		`keys`,
	)
	text := out.String()
	for _, want := range []string{
		`appended ("HO CHI MINH", 27.5, 6.7)`,
		"01012022__city_name\n",
		"sealed 1 chunks",
		"flushed 1 chunks",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("** output does not contain %q:\n%s", want, text)
		}
	}

	refs := s.ht.AllChunks()
	if len(refs) != 1 || refs[0].Rows != 2 || !refs[0].Persisted {
		t.Fatalf("chunks = %+v, wanted one persisted chunk with 2 rows", refs)
	}
	if !strings.Contains(text, refs[0].ID+"\t01012022__city_name") {
		t.Fatalf("keys output does not list %s:\n%s", refs[0].ID, text)
	}

	out.Reset()
	execAll(t, s, "evict "+refs[0].ID, "rows "+refs[0].ID, "get "+refs[0].ID+" 01012022__city_name", "chunks")
	text = out.String()
	if n := strings.Count(text, `"HANOI", 17.5, 7.7`); n != 2 {
		t.Fatalf("rows printed %d times, wanted 2:\n%s", n, text)
	}
	if !strings.Contains(text, "sealed,persisted") {
		t.Fatalf("chunks output lacks state:\n%s", text)
	}
}

func TestSession_Bucket(t *testing.T) {
	s, out := newTestSession(t, DefaultConfig())
	execAll(t, s, "bucket 02012022", "append HANOI 1 2", "bucket")
	if s.bucket != "02012022" {
		t.Fatalf("bucket = %q, wanted 02012022", s.bucket)
	}
	if _, ok := s.ht.ChunkFor("02012022__city_name"); !ok {
		t.Fatalf("no chunk for the new bucket")
	}
	if !strings.HasSuffix(out.String(), "02012022\n") {
		t.Fatalf("bucket output = %q", out.String())
	}
}

func TestSession_Errors(t *testing.T) {
	s, _ := newTestSession(t, DefaultConfig())
	ctx := context.Background()
	tests := []struct {
		line string
		want error
	}{
		{"append HANOI 1", nil},
		{"append HANOI warm 2", nil},
		{"frobnicate", nil},
		{`append "unterminated`, nil},
		{"rows nope", dynts.ErrChunkNotFound},
		{"get nope 01012022__city_name", dynts.ErrNotFound},
		{"seal nope", nil},
	}
	for _, tt := range tests {
		err := s.exec(ctx, tt.line)
		if err == nil {
			t.Errorf("** exec(%q) err = nil, wanted error", tt.line)
		} else if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("** exec(%q) err = %v, wanted %v", tt.line, err, tt.want)
		}
	}
	if err := s.exec(ctx, "exit"); !errors.Is(err, errQuit) {
		t.Fatalf("exec(exit) err = %v, wanted errQuit", err)
	}
	if err := s.exec(ctx, "   "); err != nil {
		t.Fatalf("exec(blank) err = %v, wanted nil", err)
	}
}

func TestSession_Help(t *testing.T) {
	s, out := newTestSession(t, DefaultConfig())
	execAll(t, s, "help", "stats", "dump")
	for _, name := range []string{"append", "flush", "bucket", "chunks: "} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("** output does not mention %q", name)
		}
	}
}

func TestSession_ResumesFromBolt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store = StoreConfig{Kind: storeBolt, Path: t.TempDir() + "/weather.db"}

	s, _ := newTestSession(t, cfg)
	execAll(t, s, "append HANOI 17.5 7.7", "seal", "flush")
	id := s.ht.AllChunks()[0].ID
	s.store.(interface{ Close() error }).Close()

	s2, out := newTestSession(t, cfg)
	execAll(t, s2, "rows "+id)
	if !strings.Contains(out.String(), `"HANOI", 17.5, 7.7`) {
		t.Fatalf("resumed rows = %q", out.String())
	}
}

func TestSession_RecoversUnflushedRowsFromJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Store = StoreConfig{Kind: storeBolt, Path: dir + "/weather.db"}
	cfg.Journal = dir + "/journal"

	s, _ := newTestSession(t, cfg)
	execAll(t, s, "append HANOI 17.5 7.7", "seal", "flush", `append "HO CHI MINH" 27.5 6.7`)
	s.ht.Journal().Close()
	s.store.(interface{ Close() error }).Close()

	s2, out := newTestSession(t, cfg)
	refs := s2.ht.AllChunks()
	if len(refs) != 2 || !refs[0].Persisted || refs[1].Persisted || refs[1].Sealed {
		t.Fatalf("chunks = %+v, wanted one persisted and one recovered open chunk", refs)
	}
	execAll(t, s2, "rows "+refs[1].ID)
	if !strings.Contains(out.String(), `"HO CHI MINH", 27.5, 6.7`) {
		t.Fatalf("recovered rows = %q", out.String())
	}

	execAll(t, s2, "seal", "flush")
	if segs, err := s2.ht.Journal().Segments(); err != nil || len(segs) != 0 {
		t.Fatalf("journal segments after checkpoint = %v, %v, wanted none", segs, err)
	}
}
