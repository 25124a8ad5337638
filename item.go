package dynts

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type ColumnType uint8

const (
	U32 ColumnType = iota + 1
	Float32
	Text
)

// fixedWidth is the encoded size of U32 and Float32 fields.
const fixedWidth = 4

func (t ColumnType) String() string {
	switch t {
	case U32:
		return "u32"
	case Float32:
		return "float32"
	case Text:
		return "text"
	default:
		return fmt.Sprintf("ColumnType(%d)", uint8(t))
	}
}

func (t ColumnType) Valid() bool {
	return t >= U32 && t <= Text
}

func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(s) {
	case "u32", "uint32":
		return U32, nil
	case "float32", "f32":
		return Float32, nil
	case "text", "string":
		return Text, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", s)
	}
}

func (t ColumnType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid column type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *ColumnType) UnmarshalText(b []byte) error {
	v, err := ParseColumnType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Item is a single scalar value. The zero Item is invalid.
type Item struct {
	typ  ColumnType
	bits uint32
	text string
}

func U32Item(v uint32) Item {
	return Item{typ: U32, bits: v}
}

func Float32Item(v float32) Item {
	return Item{typ: Float32, bits: math.Float32bits(v)}
}

func TextItem(s string) Item {
	return Item{typ: Text, text: s}
}

func (it Item) Type() ColumnType {
	return it.typ
}

func (it Item) U32() uint32 {
	it.mustBe(U32)
	return it.bits
}

func (it Item) Float32() float32 {
	it.mustBe(Float32)
	return math.Float32frombits(it.bits)
}

func (it Item) Text() string {
	it.mustBe(Text)
	return it.text
}

func (it Item) mustBe(t ColumnType) {
	if it.typ != t {
		panic(fmt.Errorf("item is %v, not %v", it.typ, t))
	}
}

func (it Item) String() string {
	switch it.typ {
	case U32:
		return strconv.FormatUint(uint64(it.bits), 10)
	case Float32:
		return strconv.FormatFloat(float64(math.Float32frombits(it.bits)), 'g', -1, 32)
	case Text:
		return strconv.Quote(it.text)
	default:
		return "<invalid>"
	}
}

// ParseItem parses the text form of a value of type t.
func ParseItem(t ColumnType, s string) (Item, error) {
	switch t {
	case U32:
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return Item{}, err
		}
		return U32Item(uint32(v)), nil
	case Float32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Item{}, err
		}
		return Float32Item(float32(v)), nil
	case Text:
		return TextItem(s), nil
	default:
		return Item{}, fmt.Errorf("invalid column type %d", uint8(t))
	}
}

// Row is one tuple of items, positionally matching a schema.
type Row []Item

func (r Row) String() string {
	var buf strings.Builder
	buf.WriteByte('(')
	for i, it := range r {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(it.String())
	}
	buf.WriteByte(')')
	return buf.String()
}
