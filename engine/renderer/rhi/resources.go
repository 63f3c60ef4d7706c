package rhi

import (
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type BufferUsage uint16

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageConstantBuffer
	BufferUsageShaderResource
	BufferUsageUnorderedAccess
	BufferUsageAccelerationStructure
	BufferUsageAccelerationStructureInput
	BufferUsageShaderTable
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

type BufferUsageFlags = core.Flags[BufferUsage]

type MemoryType uint8

const (
	// MemoryGPU is device-local and not host visible.
	MemoryGPU MemoryType = iota
	MemoryUpload
	MemoryReadback
)

type BufferDesc struct {
	Name string
	Size uint64
	// Stride is the element size for structured views. Zero means raw 4-byte words.
	Stride uint32
	Usage  BufferUsageFlags
	Memory MemoryType
}

// ElementStride returns the stride used to address elements of the buffer.
func (d BufferDesc) ElementStride() uint32 {
	if d.Stride == 0 {
		return 4
	}
	return d.Stride
}

type Buffer interface {
	Handle() core.Handle
	Desc() BufferDesc
	// GPUAddress is the GPU virtual address (D3D12) or device address (Vulkan).
	GPUAddress() uint64
	// Write copies data into a host-visible buffer at offset.
	Write(offset uint64, data []byte) error
	Destroy()
}

type TextureUsage uint8

const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageStorage
	TextureUsageRenderTarget
	TextureUsageDepthStencil
)

type TextureUsageFlags = core.Flags[TextureUsage]

type TextureDesc struct {
	Name      string
	Width     uint32
	Height    uint32
	MipLevels uint32
	Format    Format
	Usage     TextureUsageFlags
}

type Texture interface {
	Handle() core.Handle
	Desc() TextureDesc
	Destroy()
}

type Filter uint8

const (
	FilterLinear Filter = iota
	FilterNearest
)

type AddressMode uint8

const (
	AddressWrap AddressMode = iota
	AddressClamp
	AddressMirror
)

type SamplerDesc struct {
	Name    string
	Filter  Filter
	Address AddressMode
}

type Sampler interface {
	Handle() core.Handle
	Desc() SamplerDesc
	Destroy()
}

// BlasDesc describes one triangle geometry of a bottom-level acceleration structure.
type BlasDesc struct {
	Name         string
	Vertices     Buffer
	VertexCount  uint32
	VertexStride uint32
	VertexFormat Format
	Indices      Buffer
	IndexCount   uint32
	Opaque       bool
}

type TlasDesc struct {
	Name      string
	Instances []Instance
}

// AccelerationStructure is a built BLAS or TLAS. It owns its result buffer;
// a TLAS also owns the instance buffer it was built from.
type AccelerationStructure interface {
	Handle() core.Handle
	Name() string
	IsTopLevel() bool
	GPUAddress() uint64
	Destroy()
}
