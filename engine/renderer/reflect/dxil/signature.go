package dxil

import (
	"fmt"
	"math/bits"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// SystemValue values of signature elements this package looks at.
const (
	SystemValueUndefined  = 0
	SystemValuePosition   = 1
	SystemValueVertexID   = 6
	SystemValueInstanceID = 8
	SystemValueTarget     = 64
)

// Component types of signature elements.
const (
	CompTypeUint32  = 1
	CompTypeSint32  = 2
	CompTypeFloat32 = 3
)

const signatureElementSize = 32

type SignatureElement struct {
	Stream        uint32
	SemanticName  string
	SemanticIndex uint32
	SystemValue   uint32
	CompType      uint32
	Register      uint32
	Mask          uint8
	MinPrecision  uint32
}

// Components is the number of lanes the element occupies.
func (e SignatureElement) Components() uint32 {
	return uint32(bits.OnesCount8(e.Mask))
}

func (e SignatureElement) ComponentType() rhi.ComponentType {
	switch e.CompType {
	case CompTypeUint32:
		return rhi.ComponentUint32
	case CompTypeSint32:
		return rhi.ComponentSint32
	case CompTypeFloat32:
		return rhi.ComponentFloat32
	}
	return rhi.ComponentUnknown
}

// ParseSignature decodes an ISG1 or OSG1 part.
func ParseSignature(part []byte) ([]SignatureElement, error) {
	r := &reader{data: part}
	count := r.u32(0)
	offset := r.u32(4)
	if r.err != nil {
		return nil, r.err
	}
	if !fits(uint64(offset), count, signatureElementSize, len(part)) {
		return nil, fmt.Errorf("%w: signature claims %d elements in %d bytes", core.ErrReflection, count, len(part))
	}

	elems := make([]SignatureElement, 0, count)
	for i := uint32(0); i < count; i++ {
		base := offset + i*signatureElementSize
		e := SignatureElement{
			Stream:        r.u32(base),
			SemanticName:  r.cstring(r.u32(base + 4)),
			SemanticIndex: r.u32(base + 8),
			SystemValue:   r.u32(base + 12),
			CompType:      r.u32(base + 16),
			Register:      r.u32(base + 20),
			Mask:          r.u8(base + 24),
			MinPrecision:  r.u32(base + 28),
		}
		if r.err != nil {
			return nil, fmt.Errorf("signature element %d: %w", i, r.err)
		}
		elems = append(elems, e)
	}
	return elems, nil
}
