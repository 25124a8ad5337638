// Package journaltest opens journals over temporary directories and compares
// segment files against compact hex descriptions.
package journaltest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/linrium/dyn-ts/journal"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type TestJournal struct {
	*journal.Journal

	T   testing.TB
	Dir string

	opt journal.Options
	now *time.Time
}

// Writable opens a journal over a fresh temporary directory with a fake clock
// starting at Start. Log output goes to t.Log.
func Writable(t testing.TB, o journal.Options) *TestJournal {
	now := Start
	o.FileName = "j*.wal"
	o.Now = func() time.Time { return now }
	o.Logger = TestLogger(t)
	o.Verbose = true
	return open(t, t.TempDir(), o, &now)
}

// Reopen closes j and opens the same directory again, sharing the clock.
func (j *TestJournal) Reopen() *TestJournal {
	j.T.Helper()
	if err := j.Close(); err != nil {
		j.T.Fatal(err)
	}
	return open(j.T, j.Dir, j.opt, j.now)
}

func open(t testing.TB, dir string, o journal.Options, now *time.Time) *TestJournal {
	t.Helper()
	jj, err := journal.Open(dir, o)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	j := &TestJournal{
		Journal: jj,
		T:       t,
		Dir:     dir,
		opt:     o,
		now:     now,
	}
	t.Cleanup(func() {
		if err := jj.Close(); err != nil {
			t.Error(err)
		}
	})
	return j
}

// TestLogger returns a debug-level text logger writing to t.Log.
func TestLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(logWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Eq compares a segment file with the bytes described by expected (see Expand).
func (j *TestJournal) Eq(fileName string, expected ...string) {
	j.T.Helper()
	BytesEq(j.T, j.Data(fileName), Expand(expected...))
}

// Put writes a segment file from an Expand description.
func (j *TestJournal) Put(fileName string, expected ...string) {
	j.T.Helper()
	if err := os.WriteFile(filepath.Join(j.Dir, fileName), Expand(expected...), 0o644); err != nil {
		j.T.Fatal(err)
	}
}

// Data returns the contents of a file in the journal directory, nil if missing.
func (j *TestJournal) Data(fileName string) []byte {
	j.T.Helper()
	b, err := os.ReadFile(filepath.Join(j.Dir, fileName))
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		j.T.Fatal(err)
	}
	return b
}

func (j *TestJournal) Time() time.Time        { return *j.now }
func (j *TestJournal) Advance(d time.Duration) { *j.now = j.now.Add(d) }

// FileNames lists the journal directory, sorted.
func (j *TestJournal) FileNames() []string {
	j.T.Helper()
	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		j.T.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names
}

type logWriter struct{ t testing.TB }

func (w logWriter) Write(buf []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(buf), "\n"))
	return len(buf), nil
}

// Expand builds bytes from whitespace-separated elements:
//
//	ab_cd      hex bytes, '_' separates bytes ("0_0" is two zero bytes)
//	#300       uvarint
//	'text      raw characters up to the next space
//	x/comment  anything after '/' is ignored
//	x*3        repeat x three times
//	x...y      x, zero padding to 8 bytes, then y
//	x..y       the same with 4 bytes
func Expand(specs ...string) []byte {
	var b []byte
	for _, spec := range specs {
		for _, elem := range strings.Fields(spec) {
			var err error
			b, err = expandElem(b, elem)
			if err != nil {
				panic(fmt.Errorf("%w in element %q", err, elem))
			}
		}
	}
	return b
}

func expandElem(b []byte, elem string) ([]byte, error) {
	elem, _, _ = strings.Cut(elem, "/")
	if elem == "" {
		return b, nil
	}
	elem, repStr, _ := strings.Cut(elem, "*")
	rep := 1
	if repStr != "" {
		var err error
		if rep, err = strconv.Atoi(repStr); err != nil {
			return nil, fmt.Errorf("invalid repeat count %q", repStr)
		}
	}

	width := 0
	left, right, ok := strings.Cut(elem, "...")
	if ok {
		width = 8
	} else if left, right, ok = strings.Cut(elem, ".."); ok {
		width = 4
	}
	lb, err := decodeToken(left)
	if err != nil {
		return nil, err
	}
	rb, err := decodeToken(right)
	if err != nil {
		return nil, err
	}
	pad := max(0, width-len(lb)-len(rb))

	for range rep {
		b = append(b, lb...)
		b = append(b, make([]byte, pad)...)
		b = append(b, rb...)
	}
	return b, nil
}

func decodeToken(tok string) ([]byte, error) {
	if dec, ok := strings.CutPrefix(tok, "#"); ok {
		v, err := strconv.ParseUint(dec, 10, 64)
		if err != nil {
			return nil, err
		}
		return binary.AppendUvarint(nil, v), nil
	}
	if text, ok := strings.CutPrefix(tok, "'"); ok {
		return []byte(text), nil
	}
	var out []byte
	for _, part := range strings.Split(tok, "_") {
		if len(part)%2 == 1 {
			part = "0" + part
		}
		pb, err := hex.DecodeString(part)
		if err != nil {
			return nil, err
		}
		out = append(out, pb...)
	}
	return out, nil
}

// BytesEq reports a hex dump of both sides and the first differing offset
// when a and e differ.
func BytesEq(t testing.TB, a, e []byte) bool {
	if bytes.Equal(a, e) {
		return true
	}
	off := min(len(a), len(e))
	for i := range off {
		if a[i] != e[i] {
			off = i
			break
		}
	}
	t.Helper()
	t.Errorf("** got:\n%s\nwanted:\n%s\nfirst difference at 0x%x (%d)", hex.Dump(a), hex.Dump(e), off, off)
	return false
}
