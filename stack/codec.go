package stack

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"strconv"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/value"
)

const (
	wireMagic   = "SSTK"
	wireVersion = 1

	headerSize  = len(wireMagic) + 1
	trailerSize = 4
)

const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagNumber
	tagString
	tagArray
	tagMap
)

// MaxWireDepth bounds table nesting in encoded values, on both sides.
const MaxWireDepth = MaxReadDepth

// Serialize encodes the stack's values. It fails while a table is open, on
// map keys that are nil or NaN, and on nesting deeper than MaxWireDepth.
func (s *Stack) Serialize() ([]byte, error) {
	if len(s.open) > 0 {
		return nil, errors.InvalidInput(errors.PhaseEncode, "serialize: table still open")
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, wireMagic...)
	buf = append(buf, wireVersion)
	buf = binary.AppendUvarint(buf, uint64(len(s.values)))
	var err error
	for i, v := range s.values {
		if buf, err = appendValue(buf, v, []string{"value", strconv.Itoa(i)}, 0); err != nil {
			return nil, err
		}
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf)), nil
}

// Encode returns the wire encoding of a single value.
func Encode(v value.Value) ([]byte, error) {
	return appendValue(nil, v, nil, 0)
}

func appendValue(buf []byte, v value.Value, path []string, depth int) ([]byte, error) {
	switch x := v.(type) {
	case nil, value.Nil:
		return append(buf, tagNil), nil
	case value.Bool:
		if x {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case value.Number:
		buf = append(buf, tagNumber)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(float64(x))), nil
	case value.String:
		buf = append(buf, tagString)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		return append(buf, x...), nil
	}

	if depth >= MaxWireDepth {
		return nil, errors.Overflow(errors.PhaseEncode, path, depth+1, "max nesting "+strconv.Itoa(MaxWireDepth))
	}
	var err error
	switch x := v.(type) {
	case value.Array:
		buf = append(buf, tagArray)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		for i, e := range x {
			if buf, err = appendValue(buf, e, append(path, strconv.Itoa(i)), depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case value.Map:
		buf = append(buf, tagMap)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		for i, p := range x {
			if !value.ValidKey(p.Key) {
				return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
					Path(append(path, strconv.Itoa(i), "key")...).
					Detail("invalid map key %v", p.Key).
					Build()
			}
			if buf, err = appendValue(buf, p.Key, append(path, strconv.Itoa(i), "key"), depth+1); err != nil {
				return nil, err
			}
			if buf, err = appendValue(buf, p.Val, append(path, strconv.Itoa(i), "value"), depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	}
	panic("stack: unknown value type")
}

// Deserialize decodes bytes produced by Serialize into a new, unregistered
// stack.
func Deserialize(data []byte) (*Stack, error) {
	if len(data) < headerSize+1+trailerSize {
		return nil, invalid(nil, "truncated input (%d bytes)", len(data))
	}
	body := data[:len(data)-trailerSize]
	sum := binary.LittleEndian.Uint32(data[len(data)-trailerSize:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, invalid(nil, "checksum mismatch")
	}
	if string(body[:len(wireMagic)]) != wireMagic {
		return nil, invalid(nil, "bad magic %q", body[:len(wireMagic)])
	}
	if body[len(wireMagic)] != wireVersion {
		return nil, invalid(nil, "unsupported version %d", body[len(wireMagic)])
	}

	d := decoder{buf: body, pos: headerSize}
	count, err := d.count([]string{"count"})
	if err != nil {
		return nil, err
	}
	s := &Stack{values: make([]value.Value, 0, count)}
	for i := 0; i < count; i++ {
		v, err := d.value([]string{"value", strconv.Itoa(i)}, 0)
		if err != nil {
			return nil, err
		}
		s.values = append(s.values, v)
	}
	if d.pos != len(d.buf) {
		return nil, invalid(nil, "%d trailing byte(s)", len(d.buf)-d.pos)
	}
	return s, nil
}

// Decode decodes a single value produced by Encode.
func Decode(data []byte) (value.Value, error) {
	d := decoder{buf: data}
	v, err := d.value(nil, 0)
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.buf) {
		return nil, invalid(nil, "%d trailing byte(s)", len(d.buf)-d.pos)
	}
	return v, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) uvarint(path []string) (uint64, error) {
	n, size := binary.Uvarint(d.buf[d.pos:])
	if size <= 0 {
		return 0, invalid(path, "malformed length at offset %d", d.pos)
	}
	d.pos += size
	return n, nil
}

// countOf reads an element count and rejects counts that could not fit in
// the remaining input at perEntry bytes minimum each.
func (d *decoder) countOf(path []string, perEntry int) (int, error) {
	n, err := d.uvarint(path)
	if err != nil {
		return 0, err
	}
	if n > uint64(d.remaining()/perEntry) {
		return 0, invalid(path, "count %d exceeds remaining input", n)
	}
	return int(n), nil
}

func (d *decoder) count(path []string) (int, error) {
	return d.countOf(path, 1)
}

func (d *decoder) value(path []string, depth int) (value.Value, error) {
	if d.remaining() < 1 {
		return nil, invalid(path, "unexpected end of input")
	}
	tag := d.buf[d.pos]
	d.pos++
	if (tag == tagArray || tag == tagMap) && depth >= MaxWireDepth {
		return nil, invalid(path, "nesting deeper than %d", MaxWireDepth)
	}

	switch tag {
	case tagNil:
		return value.Nil{}, nil
	case tagFalse:
		return value.Bool(false), nil
	case tagTrue:
		return value.Bool(true), nil
	case tagNumber:
		if d.remaining() < 8 {
			return nil, invalid(path, "truncated number")
		}
		bits := binary.LittleEndian.Uint64(d.buf[d.pos:])
		d.pos += 8
		return value.Number(math.Float64frombits(bits)), nil
	case tagString:
		n, err := d.uvarint(path)
		if err != nil {
			return nil, err
		}
		if n > uint64(d.remaining()) {
			return nil, invalid(path, "string length %d exceeds remaining input", n)
		}
		str := string(d.buf[d.pos : d.pos+int(n)])
		d.pos += int(n)
		return value.String(str), nil
	case tagArray:
		n, err := d.count(path)
		if err != nil {
			return nil, err
		}
		arr := make(value.Array, 0, n)
		for i := 0; i < n; i++ {
			e, err := d.value(append(path, strconv.Itoa(i)), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, e)
		}
		return arr, nil
	case tagMap:
		n, err := d.countOf(path, 2)
		if err != nil {
			return nil, err
		}
		m := make(value.Map, 0, n)
		for i := 0; i < n; i++ {
			k, err := d.value(append(path, strconv.Itoa(i), "key"), depth+1)
			if err != nil {
				return nil, err
			}
			if !value.ValidKey(k) {
				return nil, invalid(path, "invalid map key %v", k)
			}
			v, err := d.value(append(path, strconv.Itoa(i), "value"), depth+1)
			if err != nil {
				return nil, err
			}
			m = append(m, value.Pair{Key: k, Val: v})
		}
		return m, nil
	default:
		return nil, invalid(path, "unknown tag 0x%02x at offset %d", tag, d.pos-1)
	}
}

func invalid(path []string, format string, args ...any) *errors.Error {
	return errors.InvalidData(errors.PhaseDecode, path, fmt.Sprintf(format, args...))
}
