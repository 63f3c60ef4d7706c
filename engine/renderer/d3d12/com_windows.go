package d3d12

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// is64bit gates the native device: the struct layouts below and passing
// 64-bit values in one syscall argument assume amd64 or arm64.
const is64bit = uint64(^uintptr(0)) == ^uint64(0)

var (
	d3d12dll = windows.NewLazySystemDLL("d3d12.dll")

	procD3D12CreateDevice           = d3d12dll.NewProc("D3D12CreateDevice")
	procD3D12GetDebugInterface      = d3d12dll.NewProc("D3D12GetDebugInterface")
	procD3D12SerializeRootSignature = d3d12dll.NewProc("D3D12SerializeRootSignature")
)

func mustGUID(s string) windows.GUID {
	g, err := windows.GUIDFromString(s)
	if err != nil {
		panic(err)
	}
	return g
}

var (
	iidDevice                = mustGUID("{189819f1-1db6-4b57-be54-1821339b85f7}")
	iidDevice5               = mustGUID("{8b4f173b-2fea-4b80-8f58-4307191ab95d}")
	iidDebug                 = mustGUID("{344488b7-6846-474b-b989-f027448245e0}")
	iidCommandQueue          = mustGUID("{0ec870a6-5d7e-4c22-8cfc-5baae07616ed}")
	iidCommandAllocator      = mustGUID("{6102dee4-af59-4b09-b999-b44d73f09b24}")
	iidGraphicsCommandList   = mustGUID("{5b160d0f-ac1b-4185-8ba8-b3ae42a5a455}")
	iidGraphicsCommandList4  = mustGUID("{8754318e-d3a9-4541-98cf-645b50dc4874}")
	iidFence                 = mustGUID("{0a753dcf-c4d8-4b91-adf6-be5a60d95a76}")
	iidDescriptorHeap        = mustGUID("{8efb471d-616c-4f49-90f7-127bb763fa51}")
	iidRootSignature         = mustGUID("{c54a6b66-72df-4ee8-8be5-a946a1429214}")
	iidPipelineState         = mustGUID("{765a30f3-f624-4c6f-a828-ace948622445}")
	iidResource              = mustGUID("{696442be-a72e-4059-bc79-5b5c98040fad}")
	iidStateObject           = mustGUID("{47016943-fca8-4594-93ea-af258b55346d}")
	iidStateObjectProperties = mustGUID("{de5fa827-9bf9-4f26-89ff-d7f56fde3860}")
)

// Vtable slots. IUnknown takes 0-2 and ID3D12Object 3-6 on every interface.
const (
	slotQueryInterface = 0
	slotRelease        = 2
	slotSetName        = 6

	deviceCreateCommandQueue                   = 8
	deviceCreateCommandAllocator               = 9
	deviceCreateGraphicsPipelineState          = 10
	deviceCreateComputePipelineState           = 11
	deviceCreateCommandList                    = 12
	deviceCheckFeatureSupport                  = 13
	deviceCreateDescriptorHeap                 = 14
	deviceGetDescriptorHandleIncrementSize     = 15
	deviceCreateRootSignature                  = 16
	deviceCreateConstantBufferView             = 17
	deviceCreateShaderResourceView             = 18
	deviceCreateUnorderedAccessView            = 19
	deviceCreateRenderTargetView               = 20
	deviceCreateDepthStencilView               = 21
	deviceCreateSampler                        = 22
	deviceCreateCommittedResource              = 27
	deviceCreateFence                          = 36
	deviceCreateStateObject                    = 62
	deviceGetAccelerationStructurePrebuildInfo = 63

	queueExecuteCommandLists = 10
	queueSignal              = 14

	fenceGetCompletedValue        = 8
	fenceSetEventOnCompletion     = 9
	allocatorReset                = 8
	heapGetCPUDescriptorStart     = 9
	heapGetGPUDescriptorStart     = 10
	resourceMap                   = 8
	resourceUnmap                 = 9
	resourceGetGPUVirtualAddr     = 11
	debugEnableDebugLayer         = 3
	blobGetBufferPointer          = 3
	blobGetBufferSize             = 4
	propertiesGetShaderIdentifier = 3

	listClose                          = 9
	listReset                          = 10
	listDrawInstanced                  = 12
	listDispatch                       = 14
	listIASetPrimitiveTopology         = 20
	listRSSetViewports                 = 21
	listRSSetScissorRects              = 22
	listSetPipelineState               = 25
	listResourceBarrier                = 26
	listSetDescriptorHeaps             = 28
	listSetComputeRootSignature        = 29
	listSetGraphicsRootSignature       = 30
	listSetComputeRootDescriptorTable  = 31
	listSetGraphicsRootDescriptorTable = 32
	listSetComputeRootCBV              = 37
	listSetGraphicsRootCBV             = 38
	listIASetVertexBuffers             = 44
	listOMSetRenderTargets             = 46
	listClearDepthStencilView          = 47
	listClearRenderTargetView          = 48
	listBuildAccelerationStructure     = 72
	listSetPipelineState1              = 75
	listDispatchRays                   = 76
)

// comCall invokes vtable slot of the COM object obj.
func comCall(obj uintptr, slot int, args ...uintptr) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(slot)*unsafe.Sizeof(uintptr(0))))
	r, _, _ := syscall.SyscallN(fn, append([]uintptr{obj}, args...)...)
	return r
}

// hresult wraps a failed HRESULT in ErrNativeCall.
func hresult(what string, r uintptr) error {
	if int32(r) >= 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: HRESULT %#08x", core.ErrNativeCall, what, uint32(r))
}

func comRelease(obj uintptr) {
	if obj != 0 {
		comCall(obj, slotRelease)
	}
}

func queryInterface(obj uintptr, iid *windows.GUID) (uintptr, error) {
	var out uintptr
	r := comCall(obj, slotQueryInterface, uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out)))
	return out, hresult("QueryInterface", r)
}

func blobBytes(blob uintptr) []byte {
	ptr := comCall(blob, blobGetBufferPointer)
	n := comCall(blob, blobGetBufferSize)
	if ptr == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}

func utf16(s string) *uint16 {
	p, err := windows.UTF16PtrFromString(s)
	if err != nil {
		core.LogWarn("invalid native string %q: %s", s, err)
		p, _ = windows.UTF16PtrFromString("")
	}
	return p
}

type shaderBytecode struct {
	Code uintptr
	Size uintptr
}

func bytecode(code []byte) shaderBytecode {
	if len(code) == 0 {
		return shaderBytecode{}
	}
	return shaderBytecode{Code: uintptr(unsafe.Pointer(&code[0])), Size: uintptr(len(code))}
}

type descriptorHeapDesc struct {
	Type           HeapType
	NumDescriptors uint32
	Flags          uint32
	NodeMask       uint32
}

type commandQueueDesc struct {
	Type     uint32
	Priority int32
	Flags    uint32
	NodeMask uint32
}

type descriptorRange struct {
	RangeType                         DescriptorRangeType
	NumDescriptors                    uint32
	BaseShaderRegister                uint32
	RegisterSpace                     uint32
	OffsetInDescriptorsFromTableStart uint32
}

// nativeRootParameter holds the D3D12_ROOT_PARAMETER union as A, B and C: range
// count and pointer for tables, register and space for root descriptors.
type nativeRootParameter struct {
	Type       RootParameterType
	_          uint32
	A          uint32
	B          uint32
	C          uintptr
	Visibility ShaderVisibility
	_          uint32
}

type rootSignatureDesc struct {
	NumParameters     uint32
	Parameters        uintptr
	NumStaticSamplers uint32
	StaticSamplers    uintptr
	Flags             RootSignatureFlags
}

type heapProperties struct {
	Type                 HeapKind
	CPUPageProperty      uint32
	MemoryPoolPreference uint32
	CreationNodeMask     uint32
	VisibleNodeMask      uint32
}

type resourceDesc struct {
	Dimension        uint32
	_                uint32
	Alignment        uint64
	Width            uint64
	Height           uint32
	DepthOrArraySize uint16
	MipLevels        uint16
	Format           DXGIFormat
	SampleCount      uint32
	SampleQuality    uint32
	Layout           uint32
	Flags            ResourceFlags
	_                uint32
}

const (
	dimensionBuffer    = 1
	dimensionTexture2D = 3
	layoutRowMajor     = 1
)

type clearValue struct {
	Format DXGIFormat
	Values [4]float32
}

type constantBufferViewDesc struct {
	BufferLocation uint64
	SizeInBytes    uint32
	_              uint32
}

// shaderResourceViewDesc carries its union in U. Buffers pack
// FirstElement, NumElements|Stride<<32 and Flags; Texture2D packs
// MostDetailedMip|MipLevels<<32; acceleration structures put their
// location in U[0].
type shaderResourceViewDesc struct {
	Format    DXGIFormat
	Dimension uint32
	Mapping   uint32
	_         uint32
	U         [3]uint64
}

type unorderedAccessViewDesc struct {
	Format    DXGIFormat
	Dimension uint32
	U         [4]uint64
}

type samplerDesc struct {
	Filter         uint32
	AddressU       uint32
	AddressV       uint32
	AddressW       uint32
	MipLODBias     float32
	MaxAnisotropy  uint32
	ComparisonFunc uint32
	BorderColor    [4]float32
	MinLOD         float32
	MaxLOD         float32
}

type renderTargetViewDesc struct {
	Format    DXGIFormat
	Dimension uint32
	U         [2]uint64
}

type depthStencilViewDesc struct {
	Format    DXGIFormat
	Dimension uint32
	Flags     uint32
	U         [3]uint32
}

const (
	srvDimensionBuffer                = 1
	srvDimensionTexture2D             = 4
	srvDimensionAccelerationStructure = 11
	uavDimensionBuffer                = 1
	uavDimensionTexture2D             = 4
	rtvDimensionTexture2D             = 4
	dsvDimensionTexture2D             = 3
	defaultComponentMapping           = 0x1688
	bufferFlagRaw                     = 1
	comparisonNever                   = 1
	maxFloat32                        = 3.402823466e+38
)

type inputElementDesc struct {
	SemanticName         *byte
	SemanticIndex        uint32
	Format               DXGIFormat
	InputSlot            uint32
	AlignedByteOffset    uint32
	InputSlotClass       uint32
	InstanceDataStepRate uint32
}

type renderTargetBlendDesc struct {
	BlendEnable           uint32
	LogicOpEnable         uint32
	SrcBlend              uint32
	DestBlend             uint32
	BlendOp               uint32
	SrcBlendAlpha         uint32
	DestBlendAlpha        uint32
	BlendOpAlpha          uint32
	LogicOp               uint32
	RenderTargetWriteMask uint8
}

type depthStencilOpDesc struct {
	StencilFailOp      uint32
	StencilDepthFailOp uint32
	StencilPassOp      uint32
	StencilFunc        uint32
}

type graphicsPipelineStateDesc struct {
	RootSignature uintptr
	VS, PS        shaderBytecode
	DS, HS, GS    shaderBytecode
	StreamOutput  struct {
		Declaration      uintptr
		NumEntries       uint32
		BufferStrides    uintptr
		NumStrides       uint32
		RasterizedStream uint32
	}
	BlendState struct {
		AlphaToCoverageEnable  uint32
		IndependentBlendEnable uint32
		RenderTarget           [8]renderTargetBlendDesc
	}
	SampleMask      uint32
	RasterizerState struct {
		FillMode              uint32
		CullMode              uint32
		FrontCounterClockwise uint32
		DepthBias             int32
		DepthBiasClamp        float32
		SlopeScaledDepthBias  float32
		DepthClipEnable       uint32
		MultisampleEnable     uint32
		AntialiasedLineEnable uint32
		ForcedSampleCount     uint32
		ConservativeRaster    uint32
	}
	DepthStencilState struct {
		DepthEnable      uint32
		DepthWriteMask   uint32
		DepthFunc        uint32
		StencilEnable    uint32
		StencilReadMask  uint8
		StencilWriteMask uint8
		FrontFace        depthStencilOpDesc
		BackFace         depthStencilOpDesc
	}
	InputLayout struct {
		Elements    uintptr
		NumElements uint32
	}
	IBStripCutValue       uint32
	PrimitiveTopologyType uint32
	NumRenderTargets      uint32
	RTVFormats            [8]DXGIFormat
	DSVFormat             DXGIFormat
	SampleCount           uint32
	SampleQuality         uint32
	NodeMask              uint32
	CachedPSO             shaderBytecode
	Flags                 uint32
}

type computePipelineStateDesc struct {
	RootSignature uintptr
	CS            shaderBytecode
	NodeMask      uint32
	CachedPSO     shaderBytecode
	Flags         uint32
}

const (
	fillSolid             = 3
	fillWireframe         = 2
	cullFront             = 2
	cullBack              = 3
	blendSrcAlpha         = 5
	blendInvSrcAlpha      = 6
	blendOpAdd            = 1
	logicOpNoop           = 4
	colorWriteAll         = 0xf
	comparisonLess        = 2
	comparisonAlways      = 8
	topologyTypeTriangle  = 3
	stencilOpKeep         = 1
	depthWriteMaskAll     = 1
	defaultSampleMask     = 0xffffffff
	allSubresources       = 0xffffffff
	commandListTypeDirect = 0
	clearFlagDepth        = 1
)

type resourceBarrier struct {
	Type        BarrierType
	Flags       uint32
	Resource    uintptr
	Subresource uint32
	Before      ResourceState
	After       ResourceState
	_           uint32
}

type vertexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	StrideInBytes  uint32
}
