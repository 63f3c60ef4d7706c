// Package dxil reads DXIL containers: the part table, input and output
// signatures, pipeline state validation (PSV0) resource bindings of single
// entry shaders, and the runtime data (RDAT) tables of shader libraries.
package dxil

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// FourCC identifies a container part.
type FourCC uint32

func fourCC(s string) FourCC {
	return FourCC(uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24)
}

func (f FourCC) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

var (
	PartDXIL = fourCC("DXIL")
	PartISG1 = fourCC("ISG1")
	PartOSG1 = fourCC("OSG1")
	PartPSV0 = fourCC("PSV0")
	PartRDAT = fourCC("RDAT")

	containerMagic = fourCC("DXBC")
)

const containerHeaderSize = 4 + 16 + 2 + 2 + 4 + 4

// Container is the part table of a compiled DXIL blob.
type Container struct {
	parts map[FourCC][]byte
}

func ParseContainer(code []byte) (*Container, error) {
	if len(code) < containerHeaderSize {
		return nil, fmt.Errorf("%w: container of %d bytes", core.ErrReflection, len(code))
	}
	le := binary.LittleEndian
	if FourCC(le.Uint32(code)) != containerMagic {
		return nil, fmt.Errorf("%w: not a DXBC container", core.ErrReflection)
	}
	count := le.Uint32(code[28:])
	if uint64(containerHeaderSize)+uint64(count)*4 > uint64(len(code)) {
		return nil, fmt.Errorf("%w: %d parts do not fit the container", core.ErrReflection, count)
	}

	c := &Container{parts: make(map[FourCC][]byte, count)}
	for i := uint32(0); i < count; i++ {
		off := uint64(le.Uint32(code[containerHeaderSize+i*4:]))
		if off+8 > uint64(len(code)) {
			return nil, fmt.Errorf("%w: part %d out of bounds", core.ErrReflection, i)
		}
		cc := FourCC(le.Uint32(code[off:]))
		size := uint64(le.Uint32(code[off+4:]))
		if off+8+size > uint64(len(code)) {
			return nil, fmt.Errorf("%w: part %s out of bounds", core.ErrReflection, cc)
		}
		c.parts[cc] = code[off+8 : off+8+size]
	}
	return c, nil
}

func (c *Container) Part(cc FourCC) ([]byte, bool) {
	p, ok := c.parts[cc]
	return p, ok
}

// MustPart returns a part that reflection cannot do without.
func (c *Container) MustPart(cc FourCC) ([]byte, error) {
	p, ok := c.parts[cc]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrMissingPart, cc)
	}
	return p, nil
}

// reader is a bounds-checked little-endian cursor over a part.
type reader struct {
	data []byte
	err  error
}

func (r *reader) u32(off uint32) uint32 {
	if r.err != nil {
		return 0
	}
	if uint64(off)+4 > uint64(len(r.data)) {
		r.err = fmt.Errorf("%w: read at %d past %d bytes", core.ErrReflection, off, len(r.data))
		return 0
	}
	return binary.LittleEndian.Uint32(r.data[off:])
}

func (r *reader) u8(off uint32) uint8 {
	if r.err != nil {
		return 0
	}
	if uint64(off) >= uint64(len(r.data)) {
		r.err = fmt.Errorf("%w: read at %d past %d bytes", core.ErrReflection, off, len(r.data))
		return 0
	}
	return r.data[off]
}

// fits reports whether count records of stride bytes starting at off lie
// within n bytes. Counts read from a blob are checked with it before any
// loop or allocation trusts them.
func fits(off uint64, count, stride uint32, n int) bool {
	return off+uint64(count)*uint64(stride) <= uint64(n)
}

// cstring reads a nul-terminated string at off.
func (r *reader) cstring(off uint32) string {
	if r.err != nil || uint64(off) >= uint64(len(r.data)) {
		return ""
	}
	end := off
	for end < uint32(len(r.data)) && r.data[end] != 0 {
		end++
	}
	return string(r.data[off:end])
}
