package wasmbin

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Encode writes m in binary format. Sections are emitted only when
// non-empty.
func (m *Module) Encode() []byte {
	var out bytes.Buffer
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], Magic)
	binary.LittleEndian.PutUint32(hdr[4:], Version)
	out.Write(hdr[:])

	if len(m.Types) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.WriteByte(funcTypeByte)
			writeValTypes(&sec, ft.Params)
			writeValTypes(&sec, ft.Results)
		}
		writeSection(&out, SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			writeName(&sec, imp.Module)
			writeName(&sec, imp.Name)
			sec.WriteByte(KindFunc)
			writeU32(&sec, imp.TypeIdx)
		}
		writeSection(&out, SectionImport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Funcs)))
		for _, idx := range m.Funcs {
			writeU32(&sec, idx)
		}
		writeSection(&out, SectionFunction, sec.Bytes())
	}

	if len(m.Memories) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Memories)))
		for _, l := range m.Memories {
			writeLimits(&sec, l)
		}
		writeSection(&out, SectionMemory, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Exports)))
		for _, e := range m.Exports {
			writeName(&sec, e.Name)
			sec.WriteByte(e.Kind)
			writeU32(&sec, e.Index)
		}
		writeSection(&out, SectionExport, sec.Bytes())
	}

	if len(m.Code) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Code)))
		for _, b := range m.Code {
			var body bytes.Buffer
			writeU32(&body, uint32(len(b.Locals)))
			for _, l := range b.Locals {
				writeU32(&body, 1)
				body.WriteByte(byte(l))
			}
			body.Write(b.Code)
			writeU32(&sec, uint32(body.Len()))
			sec.Write(body.Bytes())
		}
		writeSection(&out, SectionCode, sec.Bytes())
	}

	if len(m.Data) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.WriteByte(0x00)
			sec.WriteByte(OpI32Const)
			writeS32(&sec, int32(d.Offset))
			sec.WriteByte(OpEnd)
			writeU32(&sec, uint32(len(d.Bytes)))
			sec.Write(d.Bytes)
		}
		writeSection(&out, SectionData, sec.Bytes())
	}

	return out.Bytes()
}

func writeSection(w *bytes.Buffer, id byte, data []byte) {
	w.WriteByte(id)
	writeU32(w, uint32(len(data)))
	w.Write(data)
}

func writeValTypes(w *bytes.Buffer, types []ValType) {
	writeU32(w, uint32(len(types)))
	for _, t := range types {
		w.WriteByte(byte(t))
	}
}

func writeLimits(w *bytes.Buffer, l Limits) {
	if l.Max != nil {
		w.WriteByte(0x01)
		writeU32(w, l.Min)
		writeU32(w, *l.Max)
		return
	}
	w.WriteByte(0x00)
	writeU32(w, l.Min)
}

func writeName(w *bytes.Buffer, s string) {
	writeU32(w, uint32(len(s)))
	w.WriteString(s)
}

func writeU32(w *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeS32(w *bytes.Buffer, v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		w.WriteByte(b)
		if done {
			return
		}
	}
}

// Opcodes used by Code.
const (
	OpEnd            byte = 0x0B
	OpCall           byte = 0x10
	OpDrop           byte = 0x1A
	OpLocalGet       byte = 0x20
	OpI32Const       byte = 0x41
	OpF64Const       byte = 0x44
	OpF64Add         byte = 0xA0
	OpF64ConvertI32S byte = 0xB7
)

// Code assembles instruction bytes. Each method appends one instruction.
type Code struct {
	buf bytes.Buffer
}

func (c *Code) LocalGet(idx uint32) *Code {
	c.buf.WriteByte(OpLocalGet)
	writeU32(&c.buf, idx)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.buf.WriteByte(OpI32Const)
	writeS32(&c.buf, v)
	return c
}

func (c *Code) F64Const(v float64) *Code {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	c.buf.WriteByte(OpF64Const)
	c.buf.Write(b[:])
	return c
}

func (c *Code) Call(idx uint32) *Code {
	c.buf.WriteByte(OpCall)
	writeU32(&c.buf, idx)
	return c
}

func (c *Code) Op(op byte) *Code {
	c.buf.WriteByte(op)
	return c
}

// End appends the final end opcode and returns the instruction bytes.
func (c *Code) End() []byte {
	c.buf.WriteByte(OpEnd)
	return append([]byte(nil), c.buf.Bytes()...)
}
