package dynts

import (
	"encoding/hex"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestColumn_Encode(t *testing.T) {
	tests := []struct {
		col      Column
		item     Item
		expected string
	}{
		{Column{"n", U32}, U32Item(0), "00000000"},
		{Column{"n", U32}, U32Item(0x01020304), "01020304"},
		{Column{"n", U32}, U32Item(math.MaxUint32), "ffffffff"},
		{Column{"f", Float32}, Float32Item(27.5), "41dc0000"},
		{Column{"f", Float32}, Float32Item(-1), "bf800000"},
		{Column{"s", Text}, TextItem(""), ""},
		{Column{"s", Text}, TextItem("HANOI"), "48414e4f49"},
		{Column{"s", Text}, TextItem("café"), "636166e9"},
	}
	for _, tt := range tests {
		encoded, err := tt.col.Encode(tt.item)
		if err != nil {
			t.Errorf("** %v.Encode(%v) failed: %v", tt.col, tt.item, err)
			continue
		}
		if s := hex.EncodeToString(encoded); s != tt.expected {
			t.Errorf("** %v.Encode(%v) = %q, wanted %q", tt.col, tt.item, s, tt.expected)
			continue
		}
		decoded, err := tt.col.Decode(encoded)
		if err != nil {
			t.Errorf("** %v.Decode(%q) failed: %v", tt.col, tt.expected, err)
		} else if decoded != tt.item {
			t.Errorf("** %v.Decode(%q) = %v, wanted %v", tt.col, tt.expected, decoded, tt.item)
		}
	}
}

func TestColumn_DecodeShortFixedWidth(t *testing.T) {
	for _, col := range []Column{{"n", U32}, {"f", Float32}} {
		for _, n := range []int{0, 1, 3, 5} {
			_, err := col.Decode(make([]byte, n))
			var de *DataError
			if !errors.As(err, &de) {
				t.Errorf("** %v.Decode(%d bytes) err = %T %v, wanted *DataError", col, n, err, err)
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("** %v.Decode(%d bytes) err does not match ErrMalformed", col, n)
			}
		}
	}
}

func TestColumn_DecodeTextIsBytePerCharacter(t *testing.T) {
	col := Column{"s", Text}
	raw := []byte{0x48, 0xC3, 0xA9, 0xFF}
	it := must(col.Decode(raw))
	want := "HÃ©ÿ"
	if it.Text() != want {
		t.Fatalf("Decode = %q, wanted %q", it.Text(), want)
	}
	again := must(col.Encode(it))
	if !reflect.DeepEqual(again, raw) {
		t.Fatalf("Encode(Decode(x)) = %x, wanted %x", again, raw)
	}
}

func TestColumn_EncodeErrors(t *testing.T) {
	t.Run("type mismatch", func(t *testing.T) {
		_, err := Column{"n", U32}.Encode(TextItem("1"))
		if !errors.Is(err, ErrTypeMismatch) {
			t.Fatalf("err = %v, wanted ErrTypeMismatch", err)
		}
	})
	t.Run("non latin-1 text", func(t *testing.T) {
		_, err := Column{"s", Text}.Encode(TextItem("Hồ Chí Minh"))
		if !errors.Is(err, ErrTextNotLatin1) {
			t.Fatalf("err = %v, wanted ErrTextNotLatin1", err)
		}
	})
	t.Run("field too large", func(t *testing.T) {
		col := Column{"s", Text}
		if _, err := col.Encode(TextItem(strings.Repeat("x", MaxFieldSize))); err != nil {
			t.Fatalf("Encode(%d chars) failed: %v", MaxFieldSize, err)
		}
		_, err := col.Encode(TextItem(strings.Repeat("x", MaxFieldSize+1)))
		if !errors.Is(err, ErrFieldTooLarge) {
			t.Fatalf("err = %v, wanted ErrFieldTooLarge", err)
		}
	})
	t.Run("buffer untouched on error", func(t *testing.T) {
		buf := []byte{1, 2}
		out, err := Column{"s", Text}.AppendItem(buf, TextItem("okĀ"))
		if err == nil || !reflect.DeepEqual(out, []byte{1, 2}) {
			t.Fatalf("AppendItem = (%x, %v), wanted (0102, error)", out, err)
		}
	})
}

func TestItem_AccessorPanicsOnWrongType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = U32Item(1).Text()
}

func TestParseItem(t *testing.T) {
	if it := must(ParseItem(U32, "42")); it != U32Item(42) {
		t.Fatalf("ParseItem(U32) = %v, wanted 42", it)
	}
	if it := must(ParseItem(Float32, "6.7")); it != Float32Item(6.7) {
		t.Fatalf("ParseItem(Float32) = %v, wanted 6.7", it)
	}
	if it := must(ParseItem(Text, "HO CHI MINH")); it != TextItem("HO CHI MINH") {
		t.Fatalf("ParseItem(Text) = %v, wanted HO CHI MINH", it)
	}
	if _, err := ParseItem(U32, "-1"); err == nil {
		t.Fatalf("ParseItem(U32, -1) err = nil, wanted error")
	}
}

func TestColumnType_Text(t *testing.T) {
	for _, ct := range []ColumnType{U32, Float32, Text} {
		b := must(ct.MarshalText())
		var back ColumnType
		ensure(back.UnmarshalText(b))
		if back != ct {
			t.Errorf("** %v round-tripped to %v", ct, back)
		}
	}
	var ct ColumnType
	if err := ct.UnmarshalText([]byte("int64")); err == nil {
		t.Fatalf("UnmarshalText(int64) err = nil, wanted error")
	}
}

func TestValidateSchema(t *testing.T) {
	cols := weatherColumns
	tests := []struct {
		name string
		cols []Column
		dims []Column
		ok   bool
	}{
		{"weather", cols, weatherDimensions, true},
		{"no dims", cols, nil, true},
		{"empty", nil, nil, false},
		{"dup", []Column{{"a", U32}, {"a", Text}}, nil, false},
		{"bad type", []Column{{"a", ColumnType(9)}}, nil, false},
		{"unknown dim", cols, []Column{{"country", Text}}, false},
		{"dim type", cols, []Column{{"city_name", U32}}, false},
	}
	for _, tt := range tests {
		err := validateSchema(tt.cols, tt.dims)
		if (err == nil) != tt.ok {
			t.Errorf("** validateSchema(%s) = %v, wanted ok=%v", tt.name, err, tt.ok)
		}
	}
}
