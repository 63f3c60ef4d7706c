package d3d12

import (
	"context"
)

// Native object handles. On Windows they are COM interface pointers.
type (
	Resource            uintptr
	RootSignature       uintptr
	PipelineState       uintptr
	StateObject         uintptr
	CommandAllocator    uintptr
	GraphicsCommandList uintptr
	Fence               uintptr
	HeapObject          uintptr
)

type HeapType uint32

const (
	HeapTypeCBVSRVUAV HeapType = iota
	HeapTypeSampler
	HeapTypeRTV
	HeapTypeDSV
)

func (t HeapType) String() string {
	switch t {
	case HeapTypeCBVSRVUAV:
		return "cbv_srv_uav"
	case HeapTypeSampler:
		return "sampler"
	case HeapTypeRTV:
		return "rtv"
	case HeapTypeDSV:
		return "dsv"
	}
	return "unknown"
}

type CPUDescriptorHandle struct{ Ptr uintptr }
type GPUDescriptorHandle struct{ Ptr uint64 }

// NativeHeap is a created descriptor heap and the handles of its first slot.
// GPUStart is zero for heaps that are not shader visible.
type NativeHeap struct {
	Heap     HeapObject
	CPUStart CPUDescriptorHandle
	GPUStart GPUDescriptorHandle
}

type RootParameterType uint32

const (
	RootParameterDescriptorTable RootParameterType = iota
	RootParameter32BitConstants
	RootParameterCBV
	RootParameterSRV
	RootParameterUAV
)

type ShaderVisibility uint32

const (
	VisibilityAll ShaderVisibility = iota
	VisibilityVertex
	VisibilityHull
	VisibilityDomain
	VisibilityGeometry
	VisibilityPixel
)

type DescriptorRangeType uint32

const (
	RangeSRV DescriptorRangeType = iota
	RangeUAV
	RangeCBV
	RangeSampler
)

type DescriptorRange struct {
	Type               DescriptorRangeType
	NumDescriptors     uint32
	BaseShaderRegister uint32
	RegisterSpace      uint32
}

// RootParameter is a root descriptor, root constants or a table with a
// single range.
type RootParameter struct {
	Type           RootParameterType
	Visibility     ShaderVisibility
	Range          DescriptorRange
	ShaderRegister uint32
	RegisterSpace  uint32
	Num32BitValues uint32
}

type RootSignatureFlags uint32

const (
	RootSignatureAllowInputAssembler RootSignatureFlags = 0x1
	RootSignatureLocal               RootSignatureFlags = 0x80
)

type RootSignatureDesc struct {
	Parameters []RootParameter
	Flags      RootSignatureFlags
}

type InputElement struct {
	SemanticName  string
	SemanticIndex uint32
	Format        DXGIFormat
	Offset        uint32
}

type GraphicsPipelineDesc struct {
	RootSignature RootSignature
	VS, PS        []byte
	InputLayout   []InputElement
	RTVFormats    []DXGIFormat
	DSVFormat     DXGIFormat
	DepthTest     bool
	DepthWrite    bool
	Wireframe     bool
	CullFront     bool
	// FrontCounterClockwise selects the winding of front faces.
	FrontCounterClockwise bool
}

type ViewDimension uint32

const (
	ViewBuffer ViewDimension = iota
	ViewTexture2D
	ViewAccelerationStructure
)

type ConstantBufferView struct {
	Address uint64
	Size    uint32
}

// ShaderResourceView describes an SRV. Buffer views use FirstElement,
// NumElements and StructureStride, a zero stride with Raw set is a byte
// address view. Acceleration structures are addressed by Location.
type ShaderResourceView struct {
	Dimension       ViewDimension
	Format          DXGIFormat
	Resource        Resource
	FirstElement    uint64
	NumElements     uint32
	StructureStride uint32
	Raw             bool
	MipLevels       uint32
	Location        uint64
}

type UnorderedAccessView struct {
	Dimension       ViewDimension
	Format          DXGIFormat
	Resource        Resource
	FirstElement    uint64
	NumElements     uint32
	StructureStride uint32
	Raw             bool
}

type SamplerView struct {
	Filter   uint32
	Address  uint32
	MaxLOD   float32
	MaxAniso uint32
}

type HeapKind uint32

const (
	HeapDefault  HeapKind = 1
	HeapUpload   HeapKind = 2
	HeapReadback HeapKind = 3
)

type ResourceFlags uint32

const (
	ResourceFlagNone            ResourceFlags = 0
	ResourceFlagRenderTarget    ResourceFlags = 0x1
	ResourceFlagDepthStencil    ResourceFlags = 0x2
	ResourceFlagUnorderedAccess ResourceFlags = 0x4
)

type ResourceState uint32

const (
	StateCommon                 ResourceState = 0
	StateVertexAndConstant      ResourceState = 0x1
	StateIndexBuffer            ResourceState = 0x2
	StateRenderTarget           ResourceState = 0x4
	StateUnorderedAccess        ResourceState = 0x8
	StateDepthWrite             ResourceState = 0x10
	StateDepthRead              ResourceState = 0x20
	StateNonPixelShaderResource ResourceState = 0x40
	StatePixelShaderResource    ResourceState = 0x80
	StateCopyDest               ResourceState = 0x400
	StateCopySource             ResourceState = 0x800
	StateAccelerationStructure  ResourceState = 0x400000
	StateGenericRead            ResourceState = 0x1 | 0x2 | 0x40 | 0x80 | 0x200 | 0x800

	StateAllShaderResource = StateNonPixelShaderResource | StatePixelShaderResource
)

type BufferDesc struct {
	Size  uint64
	Heap  HeapKind
	Flags ResourceFlags
	State ResourceState
}

type BufferAllocation struct {
	Resource Resource
	Size     uint64
	Address  uint64
}

type TextureDesc struct {
	Width     uint32
	Height    uint32
	MipLevels uint32
	Format    DXGIFormat
	Flags     ResourceFlags
	State     ResourceState
	// ClearColor and ClearDepth are the optimized clear values of targets.
	ClearColor [4]float32
	ClearDepth float32
}

type BarrierType uint32

const (
	BarrierTransition BarrierType = iota
	BarrierAliasing
	BarrierUAV
)

type Barrier struct {
	Type     BarrierType
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

type PrimitiveTopology uint32

const (
	TopologyPointList     PrimitiveTopology = 1
	TopologyLineList      PrimitiveTopology = 2
	TopologyTriangleList  PrimitiveTopology = 4
	TopologyTriangleStrip PrimitiveTopology = 5
)

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	Left, Top, Right, Bottom int32
}

// Device is the slice of ID3D12Device the backend drives. NativeDevice
// implements it on Windows; tests substitute a fake.
type Device interface {
	Recorder

	DescriptorIncrement(t HeapType) uint32
	CreateDescriptorHeap(t HeapType, capacity uint32, shaderVisible bool) (NativeHeap, error)

	CreateConstantBufferView(view ConstantBufferView, dst CPUDescriptorHandle)
	CreateShaderResourceView(view ShaderResourceView, dst CPUDescriptorHandle)
	CreateUnorderedAccessView(view UnorderedAccessView, dst CPUDescriptorHandle)
	CreateSampler(view SamplerView, dst CPUDescriptorHandle)
	CreateRenderTargetView(res Resource, format DXGIFormat, dst CPUDescriptorHandle)
	CreateDepthStencilView(res Resource, format DXGIFormat, dst CPUDescriptorHandle)

	// CreateRootSignature serializes desc and creates the root signature.
	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (PipelineState, error)
	CreateComputePipeline(root RootSignature, cs []byte) (PipelineState, error)

	CreateBuffer(desc BufferDesc) (BufferAllocation, error)
	WriteBuffer(res Resource, offset uint64, data []byte) error
	CreateTexture(desc *TextureDesc) (Resource, error)

	CreateCommandAllocator() (CommandAllocator, error)
	ResetCommandAllocator(a CommandAllocator) error
	// CreateCommandList returns a closed command list.
	CreateCommandList(a CommandAllocator) (GraphicsCommandList, error)

	CreateFence() (Fence, error)
	// ExecuteCommandLists submits lists and signals fence with value.
	ExecuteCommandLists(lists []GraphicsCommandList, fence Fence, value uint64) error
	WaitFence(ctx context.Context, fence Fence, value uint64) error
	WaitIdle() error

	// SetObjectName labels a native object for debugging.
	SetObjectName(object uintptr, name string)
	// Release drops the reference held on a native object.
	Release(object uintptr)
	// RayTracing returns the DXR interfaces of the device, if any.
	RayTracing() (RayTracingDevice, bool)
	Destroy()
}

// Recorder records into graphics command lists.
type Recorder interface {
	ResetCommandList(cl GraphicsCommandList, a CommandAllocator) error
	CloseCommandList(cl GraphicsCommandList) error
	SetDescriptorHeaps(cl GraphicsCommandList, heaps []HeapObject)
	SetPipelineState(cl GraphicsCommandList, ps PipelineState)
	SetRootSignature(cl GraphicsCommandList, compute bool, rs RootSignature)
	SetRootDescriptorTable(cl GraphicsCommandList, compute bool, index uint32, table GPUDescriptorHandle)
	SetRootConstantBufferView(cl GraphicsCommandList, compute bool, index uint32, address uint64)
	ResourceBarrier(cl GraphicsCommandList, barriers []Barrier)
	SetRenderTargets(cl GraphicsCommandList, rtvs []CPUDescriptorHandle, dsv *CPUDescriptorHandle)
	ClearRenderTargetView(cl GraphicsCommandList, rtv CPUDescriptorHandle, color [4]float32)
	ClearDepthStencilView(cl GraphicsCommandList, dsv CPUDescriptorHandle, depth float32)
	SetViewport(cl GraphicsCommandList, v Viewport)
	SetScissor(cl GraphicsCommandList, r Rect)
	SetPrimitiveTopology(cl GraphicsCommandList, topology PrimitiveTopology)
	SetVertexBuffer(cl GraphicsCommandList, address uint64, size, stride uint32)
	DrawInstanced(cl GraphicsCommandList, vertexCount, instanceCount uint32)
	Dispatch(cl GraphicsCommandList, x, y, z uint32)
}

// DXR constants.
const (
	ShaderIdentifierSize       = 32
	ShaderRecordAlignment      = 32
	ShaderTableAlignment       = 64
	MaxRecursionDepth          = 31
	AccelerationStructureAlign = 256
)

type RayTracingProperties struct {
	IdentifierSize  uint32
	RecordAlignment uint32
	TableAlignment  uint32
	MaxRecursion    uint32
}

// Library is a DXIL library and the entry points exported from it.
type Library struct {
	Code    []byte
	Exports []string
}

type HitGroupType uint32

const (
	HitGroupTriangles HitGroupType = iota
	HitGroupProcedural
)

type HitGroupExport struct {
	Name         string
	Type         HitGroupType
	ClosestHit   string
	AnyHit       string
	Intersection string
}

// LocalRootAssociation binds a local root signature to exports.
type LocalRootAssociation struct {
	RootSignature RootSignature
	Exports       []string
}

type StateObjectDesc struct {
	Libraries         []Library
	HitGroups         []HitGroupExport
	GlobalRoot        RootSignature
	LocalRoots        []LocalRootAssociation
	MaxPayloadSize    uint32
	MaxAttributeSize  uint32
	MaxRecursionDepth uint32
}

// BuildInputs describe one acceleration structure build: a triangle
// geometry for a bottom level, an instance array for a top level.
type BuildInputs struct {
	TopLevel bool

	VertexAddress uint64
	VertexStride  uint32
	VertexCount   uint32
	VertexFormat  DXGIFormat
	IndexAddress  uint64
	IndexCount    uint32
	Opaque        bool

	InstanceAddress uint64
	InstanceCount   uint32
}

type PrebuildInfo struct {
	ResultSize  uint64
	ScratchSize uint64
}

type ShaderTableRange struct {
	Address uint64
	Size    uint64
	Stride  uint64
}

type DispatchRaysDesc struct {
	RayGen   ShaderTableRange
	Miss     ShaderTableRange
	HitGroup ShaderTableRange
	Width    uint32
	Height   uint32
	Depth    uint32
}

// RayTracingDevice is ID3D12Device5 and ID3D12GraphicsCommandList4.
type RayTracingDevice interface {
	Properties() RayTracingProperties
	CreateStateObject(desc *StateObjectDesc) (StateObject, error)
	ShaderIdentifier(so StateObject, export string) ([]byte, error)
	Prebuild(in *BuildInputs) (PrebuildInfo, error)
	BuildAccelerationStructure(cl GraphicsCommandList, in *BuildInputs, dest, scratch uint64)
	SetPipelineState1(cl GraphicsCommandList, so StateObject)
	DispatchRays(cl GraphicsCommandList, desc *DispatchRaysDesc)
}
