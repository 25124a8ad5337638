package dynts

import (
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	_, _ = bb.Write([]byte{1, 2})
	_ = bb.WriteByte(3)
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 3}) {
		t.Fatalf("bb.Buf = %x, wanted 010203", bb.Buf)
	}
}

func TestByteUtil_AppendHelpers(t *testing.T) {
	buf := appendRaw(nil, []byte{0xAA, 0xBB})
	buf = appendFixedUint32(buf, 0x01020304)
	buf = appendFixedUint64(buf, 0x0102030405060708)
	buf = appendUvarint(buf, 300)

	want := []byte{0xAA, 0xBB, 1, 2, 3, 4, 1, 2, 3, 4, 5, 6, 7, 8, 0xAC, 0x02}
	if !reflect.DeepEqual(buf, want) {
		t.Fatalf("buf = %x, wanted %x", buf, want)
	}

	big := ensureCapacity([]byte{1}, 100)
	if cap(big) < 100 || !reflect.DeepEqual(big, []byte{1}) {
		t.Fatalf("ensureCapacity = (len %d, cap %d), wanted (1, >= 100)", len(big), cap(big))
	}
}

func TestByteDecoder_Reads(t *testing.T) {
	buf := appendUvarint(nil, 300)
	buf = appendRaw(buf, []byte("hi"))
	buf = appendFixedUint64(buf, 42)

	d := makeByteDecoder(buf)
	if v := must(d.Uvarinti()); v != 300 {
		t.Fatalf("Uvarinti = %d, wanted 300", v)
	}
	if d.Off() != 2 {
		t.Fatalf("Off = %d, wanted 2", d.Off())
	}
	if v := must(d.Raw(2)); string(v) != "hi" {
		t.Fatalf("Raw = %q, wanted hi", v)
	}
	if v := must(d.FixedUint64()); v != 42 {
		t.Fatalf("FixedUint64 = %d, wanted 42", v)
	}
	if d.Remaining() != 0 {
		t.Fatalf("Remaining = %d, wanted 0", d.Remaining())
	}
}

func TestByteDecoder_Errors(t *testing.T) {
	t.Run("invalid uvarint", func(t *testing.T) {
		d := makeByteDecoder([]byte{0x80}) // continuation bit with no terminator
		_, err := d.Uvarint()
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("Uvarint err = %T %v, wanted *DataError", err, err)
		}
		if de.Off != 0 {
			t.Fatalf("DataError.Off = %d, wanted 0", de.Off)
		}
	})

	t.Run("uvarint overflows int", func(t *testing.T) {
		var b [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(b[:], uint64(math.MaxInt)+1)
		d := makeByteDecoder(b[:n])
		_, err := d.Uvarinti()
		if err == nil {
			t.Fatalf("Uvarinti err = nil, wanted error")
		}
	})

	t.Run("Raw not enough data", func(t *testing.T) {
		d := makeByteDecoder([]byte{1, 2})
		_, err := d.Raw(3)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("Raw err = %v, wanted ErrMalformed", err)
		}
		if d.Remaining() != 2 {
			t.Fatalf("Remaining = %d after failed Raw, wanted 2", d.Remaining())
		}
	})
}
