package dxil

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// PSV resource types.
const (
	ResTypeInvalid                  = 0
	ResTypeSampler                  = 1
	ResTypeCBV                      = 2
	ResTypeSRVTyped                 = 3
	ResTypeSRVRaw                   = 4
	ResTypeSRVStructured            = 5
	ResTypeUAVTyped                 = 6
	ResTypeUAVRaw                   = 7
	ResTypeUAVStructured            = 8
	ResTypeUAVStructuredWithCounter = 9
)

// ShaderKind is the DXIL shader kind used by PSV0 and RDAT.
type ShaderKind uint32

const (
	KindPixel        ShaderKind = 0
	KindVertex       ShaderKind = 1
	KindCompute      ShaderKind = 5
	KindLibrary      ShaderKind = 6
	KindRayGen       ShaderKind = 7
	KindIntersection ShaderKind = 8
	KindAnyHit       ShaderKind = 9
	KindClosestHit   ShaderKind = 10
	KindMiss         ShaderKind = 11
	KindCallable     ShaderKind = 12
	// KindUnknown marks PSV0 parts too old to carry the stage.
	KindUnknown ShaderKind = 0xFFFFFFFF
)

// Unbounded is the upper bound of a runtime-sized resource array.
const Unbounded = 0xFFFFFFFF

// ResourceBinding is a resource range as recorded by PSV0 or RDAT.
type ResourceBinding struct {
	Name  string
	Class uint32
	Kind  uint32
	Space uint32
	Lower uint32
	Upper uint32
}

func (b ResourceBinding) Count(unbounded uint32) uint32 {
	if b.Upper == Unbounded {
		return unbounded
	}
	return b.Upper - b.Lower + 1
}

type PSV struct {
	Stage     ShaderKind
	Resources []ResourceBinding
}

const psvShaderStageOffset = 24

// ParsePSV decodes the runtime info and resource bindings of a PSV0 part.
func ParsePSV(part []byte) (*PSV, error) {
	r := &reader{data: part}
	infoSize := r.u32(0)
	psv := &PSV{Stage: KindUnknown}
	if infoSize > psvShaderStageOffset {
		psv.Stage = ShaderKind(r.u8(4 + psvShaderStageOffset))
	}

	off := 4 + infoSize
	count := r.u32(off)
	off += 4
	if count > 0 {
		stride := r.u32(off)
		off += 4
		if r.err == nil && stride < 16 {
			return nil, fmt.Errorf("%w: psv bind info of %d bytes", core.ErrReflection, stride)
		}
		if r.err == nil && !fits(uint64(off), count, stride, len(part)) {
			return nil, fmt.Errorf("%w: psv claims %d bindings of %d bytes", core.ErrReflection, count, stride)
		}
		for i := uint32(0); i < count && r.err == nil; i++ {
			base := off + i*stride
			res := ResourceBinding{
				Class: psvClass(r.u32(base)),
				Space: r.u32(base + 4),
				Lower: r.u32(base + 8),
				Upper: r.u32(base + 12),
				Kind:  psvDefaultKind(r.u32(base)),
			}
			if stride >= 24 {
				if kind := r.u32(base + 16); kind != 0 {
					res.Kind = kind
				}
			}
			if res.Class == classInvalid {
				continue
			}
			psv.Resources = append(psv.Resources, res)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("psv0: %w", r.err)
	}
	return psv, nil
}

func psvClass(resType uint32) uint32 {
	switch resType {
	case ResTypeSampler:
		return ClassSampler
	case ResTypeCBV:
		return ClassCBuffer
	case ResTypeSRVTyped, ResTypeSRVRaw, ResTypeSRVStructured:
		return ClassSRV
	case ResTypeUAVTyped, ResTypeUAVRaw, ResTypeUAVStructured, ResTypeUAVStructuredWithCounter:
		return ClassUAV
	}
	return classInvalid
}

// psvDefaultKind is the resource kind implied by a PSV type when the bind
// info is too old to carry it.
func psvDefaultKind(resType uint32) uint32 {
	switch resType {
	case ResTypeSampler:
		return ResKindSampler
	case ResTypeCBV:
		return ResKindCBuffer
	case ResTypeSRVRaw, ResTypeUAVRaw:
		return ResKindRawBuffer
	case ResTypeSRVStructured, ResTypeUAVStructured, ResTypeUAVStructuredWithCounter:
		return ResKindStructuredBuffer
	}
	return ResKindTexture2D
}
