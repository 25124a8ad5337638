package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"

	"github.com/linrium/dyn-ts/mmap"
)

// Replay calls fn for every committed record, oldest segment first. Records
// after the last valid trailer of a segment are skipped with a warning, and
// so are segments whose header is damaged. An error from fn stops the replay
// and is returned as is.
func (j *Journal) Replay(fn func(rec Record) error) error {
	segs, err := j.listSegments()
	if err != nil {
		return err
	}
	for _, seg := range segs {
		err := j.replaySegment(seg, fn)
		if err == errCorruptedFile {
			j.logger.LogAttrs(context.Background(), slog.LevelWarn, "journal: skipping corrupted segment", slog.String("jrnl", j.debugName), slog.String("file", seg.name))
			continue
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) replaySegment(seg segmentFile, fn func(rec Record) error) error {
	f, err := j.openFile(seg.name, false)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := mmap.MapFile(f, mmap.SequentialAccess)
	if errors.Is(err, mmap.ErrEmpty) {
		return errCorruptedFile
	} else if err != nil {
		return fmt.Errorf("%s: %s: %w", j.debugName, seg.name, err)
	}
	defer mmap.Munmap(b)
	if len(b) < segmentHeaderSize {
		return errCorruptedFile
	}

	var h segmentHeader
	if err := j.decodeHeader(b, &h, seg.seq); err != nil {
		return err
	}

	var hash xxhash.Digest
	hash.Reset()
	hash.Write(b[:segmentHeaderSize])

	ts := h.Timestamp
	off := segmentHeaderSize
	var pending []Record
	var committed int
	for off < len(b) {
		if b[off]&recordFlagCommit != 0 {
			if off+8 > len(b) {
				break
			}
			want := hash.Sum64() | uint64(recordFlagCommit)
			if binary.LittleEndian.Uint64(b[off:]) != want || len(pending) == 0 {
				break
			}
			hash.Write(b[off : off+8])
			off += 8
			for _, rec := range pending {
				if err := fn(rec); err != nil {
					return err
				}
			}
			committed += len(pending)
			pending = pending[:0]
			continue
		}

		start := off
		sizeAndFlags, n := binary.Uvarint(b[off:])
		if n <= 0 {
			break
		}
		off += n
		tsDelta, n := binary.Uvarint(b[off:])
		if n <= 0 || tsDelta > 0xFFFF_FFFF {
			break
		}
		off += n
		recSize := sizeAndFlags >> recordFlagShift
		if recSize == 0 || recSize > uint64(len(b)-off) {
			break
		}
		hash.Write(b[start:off])
		data := b[off : off+int(recSize)]
		hash.Write(data)
		off += int(recSize)

		ts += uint32(tsDelta)
		pending = append(pending, Record{Segment: seg.seq, Timestamp: ts, Data: data})
	}

	if len(pending) > 0 || off < len(b) {
		j.logger.LogAttrs(context.Background(), slog.LevelWarn, "journal: ignoring uncommitted tail", slog.String("jrnl", j.debugName), slog.String("file", seg.name), slog.Int("off", off), slog.Int("size", len(b)))
	}
	if j.verbose {
		j.logger.LogAttrs(context.Background(), slog.LevelDebug, "journal: segment replayed", slog.String("jrnl", j.debugName), slog.String("file", seg.name), slog.Int("records", committed))
	}
	return nil
}

func (j *Journal) decodeHeader(buf []byte, h *segmentHeader, expectedSeq uint32) error {
	n, err := binary.Decode(buf[:segmentHeaderSize], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != segmentHeaderSize {
		panic("internal size mismatch")
	}

	if h.Magic != magic {
		return errCorruptedFile
	}
	checksum := xxhash.Sum64(buf[:segmentHeaderSize-8])
	if checksum != h.Checksum {
		return errCorruptedFile
	}
	if expectedSeq != h.SegmentOrdinal {
		return errCorruptedFile
	}
	if h.Version > version0 {
		return fmt.Errorf("%s: segment %d: %w %d", j.debugName, expectedSeq, ErrUnsupportedVersion, h.Version)
	}
	if h.JournalInvariant != j.invariant {
		return fmt.Errorf("%s: segment %d: %w", j.debugName, expectedSeq, ErrIncompatible)
	}
	return nil
}

