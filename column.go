package dynts

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// MaxFieldSize is the largest encoded field; the sizes table spends one byte per field.
const MaxFieldSize = math.MaxUint8

type Column struct {
	Name string
	Type ColumnType
}

func (c Column) String() string {
	return c.Name + ":" + c.Type.String()
}

// Encode returns the encoded bytes of it.
func (c Column) Encode(it Item) ([]byte, error) {
	return c.AppendItem(nil, it)
}

// AppendItem appends the encoding of it to buf. On error buf is returned unchanged.
func (c Column) AppendItem(buf []byte, it Item) ([]byte, error) {
	if it.typ != c.Type {
		return buf, fmt.Errorf("%s: %w: got %v", c, ErrTypeMismatch, it.typ)
	}
	switch c.Type {
	case U32, Float32:
		return appendFixedUint32(buf, it.bits), nil
	case Text:
		return appendLatin1(buf, it.text, c.Name)
	default:
		panic(fmt.Errorf("column %s has invalid type %d", c.Name, uint8(c.Type)))
	}
}

// Decode decodes exactly the given span.
func (c Column) Decode(b []byte) (Item, error) {
	switch c.Type {
	case U32:
		if len(b) != fixedWidth {
			return Item{}, dataErrf(b, 0, nil, "%s: u32 field must be %d bytes, got %d", c.Name, fixedWidth, len(b))
		}
		return U32Item(binary.BigEndian.Uint32(b)), nil
	case Float32:
		if len(b) != fixedWidth {
			return Item{}, dataErrf(b, 0, nil, "%s: float32 field must be %d bytes, got %d", c.Name, fixedWidth, len(b))
		}
		return Item{typ: Float32, bits: binary.BigEndian.Uint32(b)}, nil
	case Text:
		return TextItem(decodeLatin1(b)), nil
	default:
		panic(fmt.Errorf("column %s has invalid type %d", c.Name, uint8(c.Type)))
	}
}

func appendLatin1(buf []byte, s, name string) ([]byte, error) {
	n := utf8.RuneCountInString(s)
	if n > MaxFieldSize {
		return buf, fmt.Errorf("%s: %w: %d characters", name, ErrFieldTooLarge, n)
	}
	off, out := grow(buf, n)
	for _, r := range s {
		if r > 0xFF {
			return buf, fmt.Errorf("%s: %w: %q", name, ErrTextNotLatin1, r)
		}
		out[off] = byte(r)
		off++
	}
	return out, nil
}

func decodeLatin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// validateSchema checks that columns is non-empty, names are unique, types valid,
// and each dimension is one of the columns.
func validateSchema(columns, dimensions []Column) error {
	if len(columns) == 0 {
		return ErrEmptySchema
	}
	seen := make(map[string]ColumnType, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			return fmt.Errorf("column with empty name")
		}
		if !c.Type.Valid() {
			return fmt.Errorf("column %s: invalid type %d", c.Name, uint8(c.Type))
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate column %s", c.Name)
		}
		seen[c.Name] = c.Type
	}
	for _, d := range dimensions {
		t, ok := seen[d.Name]
		if !ok {
			return fmt.Errorf("dimension %s is not a column", d.Name)
		}
		if t != d.Type {
			return fmt.Errorf("dimension %s is %v, column is %v", d.Name, d.Type, t)
		}
	}
	return nil
}

// checkRow validates row against columns and returns the bytes it adds to a
// chunk: encoded fields plus one sizes entry per field.
func checkRow(columns []Column, row Row, scratch []byte) (int, error) {
	if len(row) != len(columns) {
		return 0, fmt.Errorf("%w: %d items, %d columns", ErrRowArity, len(row), len(columns))
	}
	n := 0
	for i, col := range columns {
		buf, err := col.AppendItem(scratch[:0], row[i])
		if err != nil {
			return 0, err
		}
		n += len(buf) + 1
	}
	return n, nil
}
