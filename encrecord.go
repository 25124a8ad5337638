package dynts

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	recordFormatVer1      = 1
	recordFormatVerLatest = recordFormatVer1
)

type recordFlags uint64

const (
	rfChecksum = recordFlags(1 << iota)

	rfSupportedMask = rfChecksum
	rfDefault       = rfChecksum

	minRecordSize       = 4
	maxRecordHeaderSize = binary.MaxVarintLen64 * 4
	checksumSize        = 8
)

func recordChecksum(rec Record) uint64 {
	var d xxhash.Digest
	d.Reset()
	d.Write(rec.Sizes)
	d.Write(rec.Data)
	return d.Sum64()
}

// appendRecord frames rec for stores that keep a single value per key.
func appendRecord(buf []byte, flags recordFlags, rec Record) []byte {
	if (flags &^ rfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", flags))
	}
	buf = ensureCapacity(buf, len(buf)+maxRecordHeaderSize+len(rec.Sizes)+len(rec.Data)+checksumSize)
	buf = appendUvarint(buf, uint64(flags))
	buf = appendUvarint(buf, recordFormatVerLatest)
	buf = appendUvarint(buf, uint64(len(rec.Sizes)))
	buf = appendUvarint(buf, uint64(len(rec.Data)))
	buf = appendRaw(buf, rec.Sizes)
	buf = appendRaw(buf, rec.Data)
	if flags&rfChecksum != 0 {
		buf = appendFixedUint64(buf, recordChecksum(rec))
	}
	return buf
}

// decodeRecord parses a framed record. The result aliases raw.
func decodeRecord(raw []byte) (Record, error) {
	if len(raw) < minRecordSize {
		return Record{}, dataErrf(raw, 0, nil, "invalid record: at least %d bytes required", minRecordSize)
	}
	d := makeByteDecoder(raw)

	v, err := d.Uvarint()
	if err != nil {
		return Record{}, err
	}
	if (v &^ uint64(rfSupportedMask)) != 0 {
		return Record{}, dataErrf(raw, d.Off(), nil, "invalid record: unsupported flags %x", v)
	}
	flags := recordFlags(v)

	ver, err := d.Uvarint()
	if err != nil {
		return Record{}, err
	}
	if ver == 0 || ver > recordFormatVerLatest {
		return Record{}, dataErrf(raw, d.Off(), nil, "invalid record: unsupported format version %d", ver)
	}

	sizesLen, err := d.Uvarinti()
	if err != nil {
		return Record{}, err
	}
	dataLen, err := d.Uvarinti()
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if rec.Sizes, err = d.Raw(sizesLen); err != nil {
		return Record{}, err
	}
	if rec.Data, err = d.Raw(dataLen); err != nil {
		return Record{}, err
	}
	if flags&rfChecksum != 0 {
		sum, err := d.FixedUint64()
		if err != nil {
			return Record{}, err
		}
		if sum != recordChecksum(rec) {
			return Record{}, dataErrf(raw, d.Off()-checksumSize, ErrChecksum, "invalid record")
		}
	}
	if d.Remaining() != 0 {
		return Record{}, dataErrf(raw, d.Off(), nil, "invalid record: %d trailing bytes", d.Remaining())
	}
	return rec, nil
}
