package dxil

import (
	"bytes"
	"encoding/binary"
)

type part struct {
	cc   FourCC
	data []byte
}

func words(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// container assembles a DXBC container from parts.
func container(parts ...part) []byte {
	headerSize := containerHeaderSize + 4*len(parts)
	var body bytes.Buffer
	offsets := make([]uint32, len(parts))
	for i, p := range parts {
		offsets[i] = uint32(headerSize + body.Len())
		body.Write(words(uint32(p.cc), uint32(len(p.data))))
		body.Write(p.data)
	}

	out := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(out[0:], uint32(containerMagic))
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint32(out[24:], uint32(headerSize+body.Len()))
	binary.LittleEndian.PutUint32(out[28:], uint32(len(parts)))
	for i, off := range offsets {
		binary.LittleEndian.PutUint32(out[containerHeaderSize+4*i:], off)
	}
	return append(out, body.Bytes()...)
}

type sigElem struct {
	name        string
	index       uint32
	systemValue uint32
	compType    uint32
	register    uint32
	mask        uint8
}

func signature(elems ...sigElem) []byte {
	header := 8
	names := bytes.Buffer{}
	nameBase := header + signatureElementSize*len(elems)
	out := words(uint32(len(elems)), uint32(header))
	for _, e := range elems {
		off := uint32(nameBase + names.Len())
		names.WriteString(e.name)
		names.WriteByte(0)
		rec := words(0, off, e.index, e.systemValue, e.compType, e.register, uint32(e.mask), 0)
		out = append(out, rec...)
	}
	return append(out, names.Bytes()...)
}

type psvRes struct {
	resType, space, lower, upper, kind uint32
}

// psv0 builds a PSV0 part with a 36-byte runtime info and 24-byte bind infos.
func psv0(stage ShaderKind, res ...psvRes) []byte {
	info := make([]byte, 36)
	info[psvShaderStageOffset] = byte(stage)
	out := words(36)
	out = append(out, info...)
	out = append(out, words(uint32(len(res)))...)
	if len(res) > 0 {
		out = append(out, words(24)...)
		for _, r := range res {
			out = append(out, words(r.resType, r.space, r.lower, r.upper, r.kind, 0)...)
		}
	}
	return out
}

type rdatRes struct {
	class, kind, space, lower, upper uint32
	name                             string
}

type rdatFn struct {
	name, unmangled string
	kind            ShaderKind
	resources       []uint32
}

func rdatPart(res []rdatRes, fns []rdatFn) []byte {
	var strs bytes.Buffer
	str := func(s string) uint32 {
		off := uint32(strs.Len())
		strs.WriteString(s)
		strs.WriteByte(0)
		return off
	}

	var indices []uint32
	resTable := words(uint32(len(res)), 32)
	for i, r := range res {
		resTable = append(resTable, words(r.class, r.kind, uint32(i), r.space, r.lower, r.upper, str(r.name), 0)...)
	}
	fnTable := words(uint32(len(fns)), 44)
	for _, f := range fns {
		ref := uint32(noIndex)
		if len(f.resources) > 0 {
			ref = uint32(len(indices))
			indices = append(indices, uint32(len(f.resources)))
			indices = append(indices, f.resources...)
		}
		fnTable = append(fnTable, words(str(f.name), str(f.unmangled), ref, noIndex, uint32(f.kind), 0, 0, 0, 0, 0, 0)...)
	}

	parts := [][]byte{
		append(words(rdatStringBuffer, uint32(strs.Len())), strs.Bytes()...),
		append(words(rdatIndexArrays, uint32(4*len(indices))), words(indices...)...),
		append(words(rdatResourceTable, uint32(len(resTable))), resTable...),
		append(words(rdatFunctionTable, uint32(len(fnTable))), fnTable...),
	}
	return rdatParts(parts...)
}

// rdatParts assembles an RDAT part from already encoded sub-parts.
func rdatParts(parts ...[]byte) []byte {
	out := words(rdatVersion, uint32(len(parts)))
	off := 8 + 4*len(parts)
	for _, p := range parts {
		out = append(out, words(uint32(off))...)
		off += len(p)
	}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func rdatBody(kind uint32, data []byte) []byte {
	return append(words(kind, uint32(len(data))), data...)
}

var dxilProgram = part{cc: PartDXIL, data: words(0x60, 0)}
