// Package journal implements append-only segment files of committed records.
//
// Records are grouped into commits; a reader only ever sees whole commits.
// A segment is never reopened for writing: every Open starts the next
// segment, so a torn tail left by a crash stays at the end of an old segment
// and is skipped on replay.
//
// File format:
//
//   - segment = header commit*
//   - header = 128 bytes, little-endian, see segmentHeader; ends with xxhash64
//     of the preceding 120 bytes
//   - commit = record+ trailer
//   - record = sizeAndFlags:uvarint tsDelta:uvarint data
//   - trailer = xxhash64 of every byte of the segment so far, little-endian,
//     with bit 0 set
//
// The low bit of the first byte tells records (0) from trailers (1).
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/linrium/dyn-ts/mmap"
)

var (
	ErrIncompatible       = errors.New("incompatible journal")
	ErrUnsupportedVersion = errors.New("unsupported journal version")
	ErrClosed             = errors.New("journal closed")
	errCorruptedFile      = errors.New("corrupted journal segment file")
	errUncommitted        = errors.New("journal has uncommitted records")
)

type Options struct {
	FileName    string // e.g. "weather-*.wal"
	MaxFileSize int64  // new segment after this size
	DebugName   string
	Now         func() time.Time

	// Invariant identifies the journal; segments carrying another one are
	// rejected with ErrIncompatible.
	Invariant [32]byte

	// Sync makes every Commit durable with fdatasync.
	Sync bool

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x54414c4e52554f4a // "JOURNLAT" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 16 * 8

type segmentHeader struct {
	Magic            uint64
	Version          uint8
	_                uint8
	Flags            uint16
	_                uint32
	SegmentOrdinal   uint32
	Timestamp        uint32
	PrevChecksum     uint64
	JournalInvariant [32]byte
	SegmentInvariant [32]byte
	_                [3]uint64
	Checksum         uint64
}

const (
	recordFlagCommit byte = 1
	recordFlagShift       = 1
	timestampFmt          = "20060102T150405"
)

// Record is a committed record read back by Replay.
type Record struct {
	Segment   uint32
	Timestamp uint32

	// Data aliases a memory mapping and is only valid during the callback.
	Data []byte
}

// Journal is a directory of numbered segment files. It is safe for concurrent
// use.
type Journal struct {
	maxFileSize    int64
	fileNamePrefix string
	fileNameSuffix string
	debugName      string
	dir            string
	now            func() time.Time
	logger         *slog.Logger
	verbose        bool
	sync           bool
	invariant      [32]byte

	writeLock sync.Mutex
	writeErr  error
	writeSeg  uint32
	writeRec  uint64
	segWriter *segmentWriter
	closed    bool
}

// Open prepares the journal in dir, creating the directory if needed. Nothing
// is written until the first record.
func Open(dir string, o Options) (*Journal, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("%s: %w", o.DebugName, err)
	}

	j := &Journal{
		maxFileSize:    o.MaxFileSize,
		fileNamePrefix: prefix,
		fileNameSuffix: suffix,
		debugName:      o.DebugName,
		dir:            dir,
		now:            o.Now,
		verbose:        o.Verbose,
		sync:           o.Sync,
		invariant:      o.Invariant,
		logger:         o.Logger,
	}

	segs, err := j.listSegments()
	if err != nil {
		return nil, err
	}
	if n := len(segs); n > 0 {
		j.writeSeg = segs[n-1].seq
		j.writeRec = segs[n-1].rec
	}
	return j, nil
}

func (j *Journal) Now() uint32 {
	v := j.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

func (j *Journal) String() string {
	return j.debugName
}

func (j *Journal) Dir() string {
	return j.dir
}

// WriteRecord appends a record to the current commit. A zero timestamp means
// now. Empty records are skipped.
func (j *Journal) WriteRecord(timestamp uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if err := j.usable_locked(); err != nil {
		return err
	}

	if timestamp == 0 {
		timestamp = j.Now()
	}

	j.writeRec++

	if j.segWriter == nil {
		sw, err := startSegment(j, j.writeSeg+1, timestamp, j.writeRec)
		if err != nil {
			return j.fail(err)
		}
		j.writeSeg++
		j.segWriter = sw
	}

	return j.fail(j.segWriter.writeRecord(timestamp, data))
}

// Commit seals the records written since the previous commit, and syncs them
// to disk when Options.Sync is set. The segment rotates once it outgrows
// MaxFileSize.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if err := j.usable_locked(); err != nil {
		return err
	}
	sw := j.segWriter
	if sw == nil || !sw.uncommitted {
		return nil
	}
	if err := sw.commit(); err != nil {
		return j.fail(err)
	}
	if j.sync {
		if err := mmap.Fdatasync(sw.f, nil); err != nil {
			return j.fail(fmt.Errorf("fdatasync: %w", err))
		}
	}
	if sw.size >= j.maxFileSize {
		if j.verbose {
			j.logger.LogAttrs(context.Background(), slog.LevelDebug, "journal: segment full", slog.String("jrnl", j.debugName), slog.Uint64("seg", uint64(sw.seg)), slog.Int64("size", sw.size))
		}
		j.closeSegment_locked()
	}
	return nil
}

// Rotate closes the current segment and returns the number the next segment
// will get. Everything written so far is in segments numbered below it.
func (j *Journal) Rotate() (uint32, error) {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if err := j.usable_locked(); err != nil {
		return 0, err
	}
	if j.segWriter != nil && j.segWriter.uncommitted {
		return 0, errUncommitted
	}
	j.closeSegment_locked()
	return j.writeSeg + 1, nil
}

// Prune deletes the segments numbered below before and returns how many it
// removed. The segment being written is never deleted.
func (j *Journal) Prune(before uint32) (int, error) {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	segs, err := j.listSegments()
	if err != nil {
		return 0, err
	}
	var n int
	for _, seg := range segs {
		if seg.seq >= before {
			break
		}
		if j.segWriter != nil && j.segWriter.seg == seg.seq {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, seg.name)); err != nil {
			return n, fmt.Errorf("%s: prune: %w", j.debugName, err)
		}
		n++
	}
	if j.verbose && n > 0 {
		j.logger.LogAttrs(context.Background(), slog.LevelDebug, "journal: pruned", slog.String("jrnl", j.debugName), slog.Int("segments", n), slog.Uint64("before", uint64(before)))
	}
	return n, nil
}

// Segments lists the numbers of the segment files on disk in ascending order.
func (j *Journal) Segments() ([]uint32, error) {
	segs, err := j.listSegments()
	if err != nil {
		return nil, err
	}
	result := make([]uint32, len(segs))
	for i, seg := range segs {
		result[i] = seg.seq
	}
	return result, nil
}

// Close closes the current segment. Uncommitted records are lost.
func (j *Journal) Close() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	j.closed = true
	return j.closeSegment_locked()
}

func (j *Journal) usable_locked() error {
	if j.closed {
		return ErrClosed
	}
	return j.writeErr
}

func (j *Journal) closeSegment_locked() error {
	sw := j.segWriter
	if sw == nil {
		return nil
	}
	j.segWriter = nil
	return sw.close()
}

// fail makes a write error sticky; the journal refuses further writes.
func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}

	j.logger.LogAttrs(context.Background(), slog.LevelError, "journal: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))

	j.closeSegment_locked()

	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

func (j *Journal) openFile(name string, writable bool) (*os.File, error) {
	fn := filepath.Join(j.dir, name)
	if writable {
		return os.OpenFile(fn, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	} else {
		return os.Open(fn)
	}
}

type segmentFile struct {
	name string
	seq  uint32
	rec  uint64
}

func (j *Journal) listSegments() ([]segmentFile, error) {
	ents, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", j.debugName, err)
	}
	var result []segmentFile
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		core, ok := trimSegmentName(name, j.fileNamePrefix, j.fileNameSuffix)
		if !ok {
			continue
		}
		seq, _, rec, err := parseSegmentName(core)
		if err != nil {
			j.logger.LogAttrs(context.Background(), slog.LevelWarn, "journal: ignoring file", slog.String("jrnl", j.debugName), slog.String("file", name), slog.Any("err", err))
			continue
		}
		result = append(result, segmentFile{name, seq, rec})
	}
	slices.SortFunc(result, func(a, b segmentFile) int {
		return int(int64(a.seq) - int64(b.seq))
	})
	return result, nil
}

func trimSegmentName(name, prefix, suffix string) (string, bool) {
	if len(name) < len(prefix)+len(suffix) {
		return "", false
	}
	core, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return "", false
	}
	return strings.CutSuffix(core, suffix)
}

type segmentWriter struct {
	f           *os.File
	seg         uint32
	ts          uint32
	size        int64
	hash        xxhash.Digest
	uncommitted bool
}

func startSegment(j *Journal, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(j.fileNamePrefix, j.fileNameSuffix, seg, ts, rec)

	f, err := j.openFile(name, true)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], j, seg, ts, &sw.hash)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	if j.verbose {
		j.logger.LogAttrs(context.Background(), slog.LevelDebug, "journal: segment started", slog.String("jrnl", j.debugName), slog.String("file", name))
	}
	ok = true
	return sw, nil
}

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := appendRecordHeader(hbuf[:0], len(data), tsDelta)

	sw.hash.Write(h)
	_, err := sw.f.Write(h)
	if err != nil {
		return err
	}
	sw.size += int64(len(h))

	sw.hash.Write(data)
	_, err = sw.f.Write(data)
	if err != nil {
		return err
	}
	sw.size += int64(len(data))

	return nil
}

func (sw *segmentWriter) commit() error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sw.hash.Sum64())
	buf[0] |= recordFlagCommit

	sw.hash.Write(buf[:])
	_, err := sw.f.Write(buf[:])
	if err != nil {
		return err
	}
	sw.size += int64(len(buf))

	return nil
}

func (sw *segmentWriter) close() error {
	if sw.f == nil {
		return nil
	}
	err := sw.f.Close()
	sw.f = nil
	return err
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, j *Journal, seg, ts uint32, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:            magic,
		Version:          version0,
		SegmentOrdinal:   seg,
		Timestamp:        ts,
		PrevChecksum:     0,
		JournalInvariant: j.invariant,
	}

	n, err := binary.Encode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size)<<recordFlagShift)
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), id, suffix)
}

// parseSegmentName parses a file name with the prefix and suffix removed.
func parseSegmentName(name string) (seq, ts uint32, id uint64, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	id, err = strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}
