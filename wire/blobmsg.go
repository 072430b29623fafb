package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"
	"math"
	"slices"
	"unicode/utf8"

	"github.com/samber/lo"
)

// BlobMsgType is the id of the typed value stored in extended blob.
type BlobMsgType uint8

// Typed value ids.
const (
	TypeUnspec BlobMsgType = 0
	TypeArray  BlobMsgType = 1
	TypeTable  BlobMsgType = 2
	TypeString BlobMsgType = 3
	TypeInt64  BlobMsgType = 4
	TypeInt32  BlobMsgType = 5
	TypeInt16  BlobMsgType = 6
	TypeInt8   BlobMsgType = 7
	TypeBool   BlobMsgType = 7
	TypeDouble BlobMsgType = 8
)

func (t BlobMsgType) String() string {
	switch t {
	case TypeUnspec:
		return "unspec"
	case TypeArray:
		return "array"
	case TypeTable:
		return "table"
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeInt32:
		return "int32"
	case TypeInt16:
		return "int16"
	case TypeBool:
		return "bool"
	case TypeDouble:
		return "double"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// maxDepth bounds nesting of arrays and tables.
const maxDepth = 32

// Value is a decoded payload of extended blob.
type Value interface {
	// Type returns the id the value is encoded with.
	Type() BlobMsgType

	encode(b *Builder, depth int) error
}

// Field is a named value.
type Field struct {
	Name  string
	Value Value
}

type (
	// Array is an ordered list of fields.
	Array []Field

	// Table maps names to values.
	Table map[string]Value

	// String is a string value.
	String string

	// Int64 is a 64-bit integer.
	Int64 int64

	// Int32 is a 32-bit integer.
	Int32 int32

	// Int16 is a 16-bit integer.
	Int16 int16

	// Int8 is an 8-bit integer. It shares its id with Bool and decodes as Bool.
	Int8 int8

	// Bool is a boolean stored in one byte.
	Bool bool

	// Double is an IEEE-754 double.
	Double float64

	// Unknown keeps raw bytes of a value of unrecognized type.
	Unknown struct {
		ID   BlobMsgType
		Data []byte
	}
)

// Type returns TypeArray.
func (Array) Type() BlobMsgType { return TypeArray }

// Type returns TypeTable.
func (Table) Type() BlobMsgType { return TypeTable }

// Type returns TypeString.
func (String) Type() BlobMsgType { return TypeString }

// Type returns TypeInt64.
func (Int64) Type() BlobMsgType { return TypeInt64 }

// Type returns TypeInt32.
func (Int32) Type() BlobMsgType { return TypeInt32 }

// Type returns TypeInt16.
func (Int16) Type() BlobMsgType { return TypeInt16 }

// Type returns TypeInt8.
func (Int8) Type() BlobMsgType { return TypeInt8 }

// Type returns TypeBool.
func (Bool) Type() BlobMsgType { return TypeBool }

// Type returns TypeDouble.
func (Double) Type() BlobMsgType { return TypeDouble }

// Type returns the id of unknown value.
func (u Unknown) Type() BlobMsgType { return u.ID }

func (a Array) encode(b *Builder, depth int) error {
	for _, f := range a {
		if err := putField(b, f.Name, f.Value, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (t Table) encode(b *Builder, depth int) error {
	names := lo.Keys(t)
	slices.Sort(names)
	for _, name := range names {
		if err := putField(b, name, t[name], depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (s String) encode(b *Builder, _ int) error {
	p, err := b.reserve(len(s) + 1)
	if err != nil {
		return err
	}
	p[copy(p, s)] = 0
	return nil
}

func (v Int64) encode(b *Builder, _ int) error {
	p, err := b.reserve(8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(p, uint64(v))
	return nil
}

func (v Int32) encode(b *Builder, _ int) error {
	p, err := b.reserve(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p, uint32(v))
	return nil
}

func (v Int16) encode(b *Builder, _ int) error {
	p, err := b.reserve(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(p, uint16(v))
	return nil
}

func (v Int8) encode(b *Builder, _ int) error {
	p, err := b.reserve(1)
	if err != nil {
		return err
	}
	p[0] = byte(v)
	return nil
}

func (v Bool) encode(b *Builder, _ int) error {
	p, err := b.reserve(1)
	if err != nil {
		return err
	}
	p[0] = 0
	if v {
		p[0] = 1
	}
	return nil
}

func (v Double) encode(b *Builder, _ int) error {
	p, err := b.reserve(8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(p, math.Float64bits(float64(v)))
	return nil
}

func (u Unknown) encode(b *Builder, _ int) error {
	_, err := b.Write(u.Data)
	return err
}

// PutField appends extended blob holding named value.
func (b *Builder) PutField(name string, v Value) error {
	return putField(b, name, v, 0)
}

func putField(b *Builder, name string, v Value, depth int) error {
	if depth > maxDepth {
		return invalidDataf("nesting deeper than %d levels", maxDepth)
	}
	if v == nil {
		return invalidDataf("field %q has no value", name)
	}
	if len(name) > math.MaxUint16 {
		return invalidDataf("name of %d bytes is too long", len(name))
	}

	n, err := b.Nest(uint8(v.Type()), true)
	if err != nil {
		return err
	}

	hdrSize := 2 + len(name) + 1
	hdr, err := b.reserve(hdrSize + padding(hdrSize))
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(hdr, uint16(len(name)))
	copy(hdr[2:], name)
	clear(hdr[2+len(name):])

	if err := v.encode(b, depth); err != nil {
		return err
	}
	return b.Unnest(n)
}

// EncodeFields encodes fields as a sequence of extended blobs.
func EncodeFields(fields ...Field) ([]byte, error) {
	b := &Builder{}
	for _, f := range fields {
		if err := b.PutField(f.Name, f.Value); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

// DecodeField decodes extended blob into named value.
func DecodeField(blob Blob) (Field, error) {
	return decodeField(blob, 0)
}

func decodeField(blob Blob, depth int) (Field, error) {
	if depth > maxDepth {
		return Field{}, invalidDataf("nesting deeper than %d levels", maxDepth)
	}
	if !blob.Tag.Extended() {
		return Field{}, invalidDataf("blob %d is not extended", blob.Tag.ID())
	}

	data := blob.Data
	if len(data) < 2 {
		return Field{}, invalidData("extended blob shorter than name length")
	}
	nameLen := int(binary.BigEndian.Uint16(data))
	if nameLen+1 > len(data)-2 {
		return Field{}, invalidDataf("name length %d exceeds payload of %d bytes", nameLen, len(data)-2)
	}
	name := data[2 : 2+nameLen]
	if data[2+nameLen] != 0 {
		return Field{}, invalidData("no extended name nul terminator")
	}
	if !utf8.Valid(name) {
		return Field{}, invalidData("extended name is not valid UTF-8")
	}

	hdrSize := 2 + nameLen + 1
	hdrSize += padding(hdrSize)
	if hdrSize > len(data) {
		return Field{}, invalidData("extended name padding exceeds payload")
	}

	v, err := decodeValue(BlobMsgType(blob.Tag.ID()), data[hdrSize:], depth)
	if err != nil {
		return Field{}, err
	}
	return Field{Name: string(name), Value: v}, nil
}

func decodeValue(t BlobMsgType, b []byte, depth int) (Value, error) {
	switch t {
	case TypeArray:
		fields, err := decodeFields(b, depth+1)
		if err != nil {
			return nil, err
		}
		return Array(fields), nil
	case TypeTable:
		fields, err := decodeFields(b, depth+1)
		if err != nil {
			return nil, err
		}
		table := make(Table, len(fields))
		for _, f := range fields {
			table[f.Name] = f.Value
		}
		return table, nil
	case TypeString:
		s, err := decodeString(b)
		return String(s), err
	case TypeInt64:
		if len(b) < 8 {
			return nil, invalidDataf("%d bytes too short for %s", len(b), t)
		}
		return Int64(binary.BigEndian.Uint64(b)), nil
	case TypeInt32:
		if len(b) < 4 {
			return nil, invalidDataf("%d bytes too short for %s", len(b), t)
		}
		return Int32(binary.BigEndian.Uint32(b)), nil
	case TypeInt16:
		if len(b) < 2 {
			return nil, invalidDataf("%d bytes too short for %s", len(b), t)
		}
		return Int16(binary.BigEndian.Uint16(b)), nil
	case TypeBool:
		if len(b) < 1 {
			return nil, invalidDataf("%d bytes too short for %s", len(b), t)
		}
		return Bool(b[0] != 0), nil
	case TypeDouble:
		if len(b) < 8 {
			return nil, invalidDataf("%d bytes too short for %s", len(b), t)
		}
		return Double(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	default:
		return Unknown{ID: t, Data: bytes.Clone(b)}, nil
	}
}

func decodeFields(b []byte, depth int) ([]Field, error) {
	fields := []Field{}
	for blob, err := range BlobSeq(b).All() {
		if err != nil {
			return nil, err
		}
		f, err := decodeField(blob, depth)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func decodeString(b []byte) (string, error) {
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	if !utf8.Valid(b) {
		return "", invalidData("string is not valid UTF-8")
	}
	return string(b), nil
}

// FieldSeq is an encoded sequence of extended blobs decoded lazily.
type FieldSeq []byte

// All iterates over decoded fields. Iteration stops at the first error.
func (s FieldSeq) All() iter.Seq2[Field, error] {
	return func(yield func(Field, error) bool) {
		for blob, err := range BlobSeq(s).All() {
			if err != nil {
				yield(Field{}, err)
				return
			}
			f, err := DecodeField(blob)
			if err != nil {
				yield(Field{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Collect decodes all the fields.
func (s FieldSeq) Collect() ([]Field, error) {
	return decodeFields(s, 0)
}
