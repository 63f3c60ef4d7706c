package rhi

import (
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type DescriptorSetState uint8

const (
	// DescriptorSetFresh is a set just taken from a pool, no handles carved.
	DescriptorSetFresh DescriptorSetState = iota
	// DescriptorSetAccumulating has seen at least one Set call since the last Update.
	DescriptorSetAccumulating
	// DescriptorSetUpdated is flushed and may be bound.
	DescriptorSetUpdated
)

func (s DescriptorSetState) String() string {
	switch s {
	case DescriptorSetFresh:
		return "fresh"
	case DescriptorSetAccumulating:
		return "accumulating"
	case DescriptorSetUpdated:
		return "updated"
	}
	return "unknown"
}

type BindOptions struct {
	Space   uint32
	Element uint32
	// Offset and Size select a byte range of a constant buffer. Size 0 means
	// the rest of the buffer.
	Offset uint64
	Size   uint64
}

type BindOption func(*BindOptions)

// InSpace selects the register space (D3D12) or descriptor set (Vulkan).
func InSpace(space uint32) BindOption {
	return func(o *BindOptions) { o.Space = space }
}

// AtElement writes one element of a descriptor array.
func AtElement(element uint32) BindOption {
	return func(o *BindOptions) { o.Element = element }
}

func WithRange(offset, size uint64) BindOption {
	return func(o *BindOptions) {
		o.Offset = offset
		o.Size = size
	}
}

func ResolveBindOptions(opts []BindOption) BindOptions {
	var o BindOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ElementRange is a resolved view over buffer elements.
type ElementRange struct {
	First  uint32
	Count  uint32
	Stride uint32
	Offset uint64
	Size   uint64
}

// StructuredRange resolves [first, first+num) elements of buf. first must be
// a multiple of 32.
func StructuredRange(buf Buffer, first, num uint32) ElementRange {
	desc := buf.Desc()
	core.Assert(first%32 == 0, "first element %d of buffer %q is not a multiple of 32", first, desc.Name)
	stride := desc.ElementStride()
	return ElementRange{
		First:  first,
		Count:  num,
		Stride: stride,
		Offset: uint64(first) * uint64(stride),
		Size:   uint64(num) * uint64(stride),
	}
}

// RawRange resolves [first, first+num) 4-byte words of buf for byte address
// views. first must be a multiple of 32.
func RawRange(buf Buffer, first, num uint32) ElementRange {
	core.Assert(first%32 == 0, "first element %d of buffer %q is not a multiple of 32", first, buf.Desc().Name)
	return ElementRange{
		First:  first,
		Count:  num,
		Stride: 4,
		Offset: uint64(first) * 4,
		Size:   uint64(num) * 4,
	}
}

// ConstantRange clamps a constant buffer binding range to the buffer size.
func ConstantRange(buf Buffer, o BindOptions) (offset, size uint64) {
	total := buf.Desc().Size
	offset = min(o.Offset, total)
	size = o.Size
	if size == 0 || offset+size > total {
		size = total - offset
	}
	return offset, size
}

// DescriptorSet binds resources into the slots a pipeline's reflection
// declared. Bindings the pipeline does not declare are skipped with a
// warning. The set borrows the pipeline's DescriptorInfoMap and must not
// outlive it.
type DescriptorSet interface {
	SetConstantBuffer(binding uint32, buf Buffer, opts ...BindOption)
	SetStructuredBuffer(binding uint32, buf Buffer, firstElement, numElements uint32, opts ...BindOption)
	SetByteAddressBuffer(binding uint32, buf Buffer, firstElement, numElements uint32, opts ...BindOption)
	SetRWStructuredBuffer(binding uint32, buf Buffer, firstElement, numElements uint32, opts ...BindOption)
	SetTexture(binding uint32, tex Texture, opts ...BindOption)
	SetRWTexture(binding uint32, tex Texture, opts ...BindOption)
	SetSampler(binding uint32, s Sampler, opts ...BindOption)
	SetCombinedTextureSampler(binding uint32, tex Texture, s Sampler, opts ...BindOption)
	SetAccelerationStructure(binding uint32, as AccelerationStructure, opts ...BindOption)
	// Update finalizes the writes. A set must be updated before it is bound.
	Update()
	State() DescriptorSetState
	// Validate reports bound resources that were destroyed since binding.
	Validate() error
	Pipeline() Pipeline
	SetName(name string)
}

type DescriptorPool interface {
	AllocateSet(p Pipeline) (DescriptorSet, error)
	// Reset invalidates every set allocated from the pool.
	Reset() error
	Destroy()
}
