package d3d12

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

const (
	featureLevel12_0 = 0xc000
	featureOptions5  = 27
	raytracingTier10 = 10

	// fenceWaitSlice bounds a single native wait, in milliseconds, so
	// context cancellation is noticed.
	fenceWaitSlice = 100
)

// NativeDevice implements Device on an ID3D12Device with one direct queue.
type NativeDevice struct {
	device  uintptr
	device5 uintptr
	queue   uintptr
	debug   uintptr

	event     windows.Handle
	idle      uintptr
	idleValue uint64
}

// NewNative creates a D3D12 device on the default adapter and wraps it in a
// Backend.
func NewNative(cfg *config.Config, compiler rhi.ShaderCompiler) (*Backend, error) {
	device, err := NewNativeDevice(cfg)
	if err != nil {
		return nil, err
	}
	b, err := New(cfg, device, compiler)
	if err != nil {
		device.Destroy()
		return nil, err
	}
	return b, nil
}

func NewNativeDevice(cfg *config.Config) (_ *NativeDevice, ferr error) {
	if !is64bit {
		return nil, fmt.Errorf("%w: D3D12 needs a 64-bit process", core.ErrUnsupported)
	}
	if err := d3d12dll.Load(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrUnsupported, err)
	}
	d := &NativeDevice{}
	defer func() {
		if ferr != nil {
			d.Destroy()
		}
	}()

	if cfg.Debug.Validation {
		r, _, _ := procD3D12GetDebugInterface.Call(uintptr(unsafe.Pointer(&iidDebug)), uintptr(unsafe.Pointer(&d.debug)))
		if err := hresult("D3D12GetDebugInterface", r); err != nil {
			core.LogWarn("D3D12 debug layer unavailable: %s", err)
		} else {
			comCall(d.debug, debugEnableDebugLayer)
			core.LogDebug("D3D12 debug layer enabled")
		}
	}

	r, _, _ := procD3D12CreateDevice.Call(0, featureLevel12_0, uintptr(unsafe.Pointer(&iidDevice)), uintptr(unsafe.Pointer(&d.device)))
	if err := hresult("D3D12CreateDevice", r); err != nil {
		return nil, err
	}

	desc := commandQueueDesc{Type: commandListTypeDirect}
	r = comCall(d.device, deviceCreateCommandQueue, uintptr(unsafe.Pointer(&desc)), uintptr(unsafe.Pointer(&iidCommandQueue)), uintptr(unsafe.Pointer(&d.queue)))
	if err := hresult("CreateCommandQueue", r); err != nil {
		return nil, err
	}

	event, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: CreateEvent: %w", core.ErrNativeCall, err)
	}
	d.event = event
	idle, err := d.CreateFence()
	if err != nil {
		return nil, err
	}
	d.idle = uintptr(idle)

	if d.supportsRayTracing() {
		if d5, err := queryInterface(d.device, &iidDevice5); err == nil {
			d.device5 = d5
		}
	}
	core.LogInfo("D3D12 device created (ray tracing: %t).", d.device5 != 0)
	return d, nil
}

func (d *NativeDevice) supportsRayTracing() bool {
	var opts struct {
		SRVOnlyTiledResourceTier3 uint32
		RenderPassesTier          uint32
		RaytracingTier            uint32
	}
	r := comCall(d.device, deviceCheckFeatureSupport, featureOptions5, uintptr(unsafe.Pointer(&opts)), unsafe.Sizeof(opts))
	return hresult("CheckFeatureSupport", r) == nil && opts.RaytracingTier >= raytracingTier10
}

func (d *NativeDevice) DescriptorIncrement(t HeapType) uint32 {
	return uint32(comCall(d.device, deviceGetDescriptorHandleIncrementSize, uintptr(t)))
}

func (d *NativeDevice) CreateDescriptorHeap(t HeapType, capacity uint32, shaderVisible bool) (NativeHeap, error) {
	desc := descriptorHeapDesc{Type: t, NumDescriptors: capacity}
	if shaderVisible {
		desc.Flags = 1
	}
	var heap uintptr
	r := comCall(d.device, deviceCreateDescriptorHeap, uintptr(unsafe.Pointer(&desc)), uintptr(unsafe.Pointer(&iidDescriptorHeap)), uintptr(unsafe.Pointer(&heap)))
	if err := hresult("CreateDescriptorHeap", r); err != nil {
		return NativeHeap{}, err
	}
	// Struct returns come back through a hidden pointer after this.
	n := NativeHeap{Heap: HeapObject(heap)}
	comCall(heap, heapGetCPUDescriptorStart, uintptr(unsafe.Pointer(&n.CPUStart)))
	if shaderVisible {
		comCall(heap, heapGetGPUDescriptorStart, uintptr(unsafe.Pointer(&n.GPUStart)))
	}
	return n, nil
}

func (d *NativeDevice) CreateConstantBufferView(view ConstantBufferView, dst CPUDescriptorHandle) {
	desc := constantBufferViewDesc{BufferLocation: view.Address, SizeInBytes: view.Size}
	comCall(d.device, deviceCreateConstantBufferView, uintptr(unsafe.Pointer(&desc)), dst.Ptr)
}

func (d *NativeDevice) CreateShaderResourceView(view ShaderResourceView, dst CPUDescriptorHandle) {
	desc := shaderResourceViewDesc{Format: view.Format, Mapping: defaultComponentMapping}
	switch view.Dimension {
	case ViewBuffer:
		desc.Dimension = srvDimensionBuffer
		desc.U[0] = view.FirstElement
		desc.U[1] = uint64(view.NumElements) | uint64(view.StructureStride)<<32
		if view.Raw {
			desc.U[2] = bufferFlagRaw
		}
	case ViewTexture2D:
		desc.Dimension = srvDimensionTexture2D
		desc.U[0] = uint64(max(view.MipLevels, 1)) << 32
	case ViewAccelerationStructure:
		desc.Dimension = srvDimensionAccelerationStructure
		desc.U[0] = view.Location
	}
	comCall(d.device, deviceCreateShaderResourceView, uintptr(view.Resource), uintptr(unsafe.Pointer(&desc)), dst.Ptr)
}

func (d *NativeDevice) CreateUnorderedAccessView(view UnorderedAccessView, dst CPUDescriptorHandle) {
	desc := unorderedAccessViewDesc{Format: view.Format}
	switch view.Dimension {
	case ViewBuffer:
		desc.Dimension = uavDimensionBuffer
		desc.U[0] = view.FirstElement
		desc.U[1] = uint64(view.NumElements) | uint64(view.StructureStride)<<32
		if view.Raw {
			desc.U[3] = bufferFlagRaw
		}
	case ViewTexture2D:
		desc.Dimension = uavDimensionTexture2D
	}
	comCall(d.device, deviceCreateUnorderedAccessView, uintptr(view.Resource), 0, uintptr(unsafe.Pointer(&desc)), dst.Ptr)
}

func (d *NativeDevice) CreateSampler(view SamplerView, dst CPUDescriptorHandle) {
	desc := samplerDesc{
		Filter:         view.Filter,
		AddressU:       view.Address,
		AddressV:       view.Address,
		AddressW:       view.Address,
		MaxAnisotropy:  view.MaxAniso,
		ComparisonFunc: comparisonNever,
		MaxLOD:         view.MaxLOD,
	}
	comCall(d.device, deviceCreateSampler, uintptr(unsafe.Pointer(&desc)), dst.Ptr)
}

func (d *NativeDevice) CreateRenderTargetView(res Resource, format DXGIFormat, dst CPUDescriptorHandle) {
	desc := renderTargetViewDesc{Format: format, Dimension: rtvDimensionTexture2D}
	comCall(d.device, deviceCreateRenderTargetView, uintptr(res), uintptr(unsafe.Pointer(&desc)), dst.Ptr)
}

func (d *NativeDevice) CreateDepthStencilView(res Resource, format DXGIFormat, dst CPUDescriptorHandle) {
	desc := depthStencilViewDesc{Format: format, Dimension: dsvDimensionTexture2D}
	comCall(d.device, deviceCreateDepthStencilView, uintptr(res), uintptr(unsafe.Pointer(&desc)), dst.Ptr)
}

func (d *NativeDevice) CreateRootSignature(desc RootSignatureDesc) (RootSignature, error) {
	ranges := make([]descriptorRange, len(desc.Parameters))
	params := make([]nativeRootParameter, len(desc.Parameters))
	for i, p := range desc.Parameters {
		params[i] = nativeRootParameter{Type: p.Type, Visibility: p.Visibility}
		switch p.Type {
		case RootParameterDescriptorTable:
			ranges[i] = descriptorRange{
				RangeType:          p.Range.Type,
				NumDescriptors:     p.Range.NumDescriptors,
				BaseShaderRegister: p.Range.BaseShaderRegister,
				RegisterSpace:      p.Range.RegisterSpace,
			}
			params[i].A = 1
			params[i].C = uintptr(unsafe.Pointer(&ranges[i]))
		case RootParameter32BitConstants:
			params[i].A = p.ShaderRegister
			params[i].B = p.RegisterSpace
			params[i].C = uintptr(p.Num32BitValues)
		default:
			params[i].A = p.ShaderRegister
			params[i].B = p.RegisterSpace
		}
	}
	native := rootSignatureDesc{NumParameters: uint32(len(params)), Flags: desc.Flags}
	if len(params) > 0 {
		native.Parameters = uintptr(unsafe.Pointer(&params[0]))
	}

	var blob, errBlob uintptr
	r, _, _ := procD3D12SerializeRootSignature.Call(uintptr(unsafe.Pointer(&native)), 1, uintptr(unsafe.Pointer(&blob)), uintptr(unsafe.Pointer(&errBlob)))
	runtime.KeepAlive(ranges)
	runtime.KeepAlive(params)
	if err := hresult("D3D12SerializeRootSignature", r); err != nil {
		if errBlob != 0 {
			err = fmt.Errorf("%w: %s", err, blobBytes(errBlob))
			comRelease(errBlob)
		}
		return 0, err
	}
	defer comRelease(blob)
	code := blobBytes(blob)
	var rs uintptr
	r = comCall(d.device, deviceCreateRootSignature, 0, uintptr(unsafe.Pointer(&code[0])), uintptr(len(code)), uintptr(unsafe.Pointer(&iidRootSignature)), uintptr(unsafe.Pointer(&rs)))
	if err := hresult("CreateRootSignature", r); err != nil {
		return 0, err
	}
	return RootSignature(rs), nil
}

func (d *NativeDevice) CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (PipelineState, error) {
	names := make([][]byte, len(desc.InputLayout))
	elements := make([]inputElementDesc, len(desc.InputLayout))
	for i, e := range desc.InputLayout {
		names[i] = append([]byte(e.SemanticName), 0)
		elements[i] = inputElementDesc{
			SemanticName:      &names[i][0],
			SemanticIndex:     e.SemanticIndex,
			Format:            e.Format,
			AlignedByteOffset: e.Offset,
		}
	}

	var pd graphicsPipelineStateDesc
	pd.RootSignature = uintptr(desc.RootSignature)
	pd.VS = bytecode(desc.VS)
	pd.PS = bytecode(desc.PS)
	for i := range desc.RTVFormats {
		pd.BlendState.RenderTarget[i] = renderTargetBlendDesc{
			BlendEnable:           1,
			SrcBlend:              blendSrcAlpha,
			DestBlend:             blendInvSrcAlpha,
			BlendOp:               blendOpAdd,
			SrcBlendAlpha:         blendSrcAlpha,
			DestBlendAlpha:        blendInvSrcAlpha,
			BlendOpAlpha:          blendOpAdd,
			LogicOp:               logicOpNoop,
			RenderTargetWriteMask: colorWriteAll,
		}
		pd.RTVFormats[i] = desc.RTVFormats[i]
	}
	pd.NumRenderTargets = uint32(len(desc.RTVFormats))
	pd.SampleMask = defaultSampleMask

	rs := &pd.RasterizerState
	rs.FillMode = fillSolid
	if desc.Wireframe {
		rs.FillMode = fillWireframe
	}
	rs.CullMode = cullBack
	if desc.CullFront {
		rs.CullMode = cullFront
	}
	if desc.FrontCounterClockwise {
		rs.FrontCounterClockwise = 1
	}
	rs.DepthClipEnable = 1

	ds := &pd.DepthStencilState
	ds.DepthFunc = comparisonAlways
	if desc.DepthTest {
		ds.DepthEnable = 1
		ds.DepthFunc = comparisonLess
	}
	if desc.DepthWrite {
		ds.DepthWriteMask = depthWriteMaskAll
	}
	op := depthStencilOpDesc{StencilFailOp: stencilOpKeep, StencilDepthFailOp: stencilOpKeep, StencilPassOp: stencilOpKeep, StencilFunc: comparisonAlways}
	ds.FrontFace, ds.BackFace = op, op

	if len(elements) > 0 {
		pd.InputLayout.Elements = uintptr(unsafe.Pointer(&elements[0]))
		pd.InputLayout.NumElements = uint32(len(elements))
	}
	pd.PrimitiveTopologyType = topologyTypeTriangle
	pd.DSVFormat = desc.DSVFormat
	pd.SampleCount = 1

	var ps uintptr
	r := comCall(d.device, deviceCreateGraphicsPipelineState, uintptr(unsafe.Pointer(&pd)), uintptr(unsafe.Pointer(&iidPipelineState)), uintptr(unsafe.Pointer(&ps)))
	runtime.KeepAlive(names)
	runtime.KeepAlive(elements)
	runtime.KeepAlive(desc)
	if err := hresult("CreateGraphicsPipelineState", r); err != nil {
		return 0, err
	}
	return PipelineState(ps), nil
}

func (d *NativeDevice) CreateComputePipeline(root RootSignature, cs []byte) (PipelineState, error) {
	pd := computePipelineStateDesc{RootSignature: uintptr(root), CS: bytecode(cs)}
	var ps uintptr
	r := comCall(d.device, deviceCreateComputePipelineState, uintptr(unsafe.Pointer(&pd)), uintptr(unsafe.Pointer(&iidPipelineState)), uintptr(unsafe.Pointer(&ps)))
	runtime.KeepAlive(cs)
	if err := hresult("CreateComputePipelineState", r); err != nil {
		return 0, err
	}
	return PipelineState(ps), nil
}

func (d *NativeDevice) createCommitted(props heapProperties, desc *resourceDesc, state ResourceState, clear *clearValue) (uintptr, error) {
	var res uintptr
	r := comCall(d.device, deviceCreateCommittedResource,
		uintptr(unsafe.Pointer(&props)),
		0, // D3D12_HEAP_FLAG_NONE
		uintptr(unsafe.Pointer(desc)),
		uintptr(state),
		uintptr(unsafe.Pointer(clear)),
		uintptr(unsafe.Pointer(&iidResource)),
		uintptr(unsafe.Pointer(&res)),
	)
	return res, hresult("CreateCommittedResource", r)
}

func (d *NativeDevice) CreateBuffer(desc BufferDesc) (BufferAllocation, error) {
	rd := resourceDesc{
		Dimension:        dimensionBuffer,
		Width:            desc.Size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		SampleCount:      1,
		Layout:           layoutRowMajor,
		Flags:            desc.Flags,
	}
	res, err := d.createCommitted(heapProperties{Type: desc.Heap}, &rd, desc.State, nil)
	if err != nil {
		return BufferAllocation{}, err
	}
	addr := uint64(comCall(res, resourceGetGPUVirtualAddr))
	return BufferAllocation{Resource: Resource(res), Size: desc.Size, Address: addr}, nil
}

func (d *NativeDevice) WriteBuffer(res Resource, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var ptr uintptr
	// An empty read range: the CPU does not read the mapping.
	var noRead [2]uintptr
	r := comCall(uintptr(res), resourceMap, 0, uintptr(unsafe.Pointer(&noRead)), uintptr(unsafe.Pointer(&ptr)))
	if err := hresult("Map", r); err != nil {
		return err
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(ptr+uintptr(offset))), len(data))
	copy(dst, data)
	comCall(uintptr(res), resourceUnmap, 0, 0)
	return nil
}

func (d *NativeDevice) CreateTexture(desc *TextureDesc) (Resource, error) {
	rd := resourceDesc{
		Dimension:        dimensionTexture2D,
		Width:            uint64(desc.Width),
		Height:           desc.Height,
		DepthOrArraySize: 1,
		MipLevels:        uint16(desc.MipLevels),
		Format:           desc.Format,
		SampleCount:      1,
		Flags:            desc.Flags,
	}
	var clear *clearValue
	switch {
	case desc.Flags&ResourceFlagRenderTarget != 0:
		clear = &clearValue{Format: desc.Format, Values: desc.ClearColor}
	case desc.Flags&ResourceFlagDepthStencil != 0:
		clear = &clearValue{Format: depthClearFormat(desc.Format), Values: [4]float32{desc.ClearDepth}}
	}
	res, err := d.createCommitted(heapProperties{Type: HeapDefault}, &rd, desc.State, clear)
	if err != nil {
		return 0, err
	}
	return Resource(res), nil
}

func (d *NativeDevice) CreateCommandAllocator() (CommandAllocator, error) {
	var a uintptr
	r := comCall(d.device, deviceCreateCommandAllocator, commandListTypeDirect, uintptr(unsafe.Pointer(&iidCommandAllocator)), uintptr(unsafe.Pointer(&a)))
	return CommandAllocator(a), hresult("CreateCommandAllocator", r)
}

func (d *NativeDevice) ResetCommandAllocator(a CommandAllocator) error {
	return hresult("ID3D12CommandAllocator::Reset", comCall(uintptr(a), allocatorReset))
}

// CreateCommandList asks for ID3D12GraphicsCommandList4 when DXR is
// available so ray tracing calls share the handle.
func (d *NativeDevice) CreateCommandList(a CommandAllocator) (GraphicsCommandList, error) {
	iid := &iidGraphicsCommandList
	if d.device5 != 0 {
		iid = &iidGraphicsCommandList4
	}
	var cl uintptr
	r := comCall(d.device, deviceCreateCommandList, 0, commandListTypeDirect, uintptr(a), 0, uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&cl)))
	if err := hresult("CreateCommandList", r); err != nil {
		return 0, err
	}
	if err := d.CloseCommandList(GraphicsCommandList(cl)); err != nil {
		comRelease(cl)
		return 0, err
	}
	return GraphicsCommandList(cl), nil
}

func (d *NativeDevice) CreateFence() (Fence, error) {
	var f uintptr
	r := comCall(d.device, deviceCreateFence, 0, 0, uintptr(unsafe.Pointer(&iidFence)), uintptr(unsafe.Pointer(&f)))
	return Fence(f), hresult("CreateFence", r)
}

func (d *NativeDevice) ExecuteCommandLists(lists []GraphicsCommandList, fence Fence, value uint64) error {
	if len(lists) > 0 {
		comCall(d.queue, queueExecuteCommandLists, uintptr(len(lists)), uintptr(unsafe.Pointer(&lists[0])))
	}
	return hresult("Signal", comCall(d.queue, queueSignal, uintptr(fence), uintptr(value)))
}

func (d *NativeDevice) WaitFence(ctx context.Context, fence Fence, value uint64) error {
	if uint64(comCall(uintptr(fence), fenceGetCompletedValue)) >= value {
		return nil
	}
	if err := hresult("SetEventOnCompletion", comCall(uintptr(fence), fenceSetEventOnCompletion, uintptr(value), uintptr(d.event))); err != nil {
		return err
	}
	for {
		ev, err := windows.WaitForSingleObject(d.event, fenceWaitSlice)
		if err != nil {
			return fmt.Errorf("%w: WaitForSingleObject: %w", core.ErrNativeCall, err)
		}
		if ev == windows.WAIT_OBJECT_0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (d *NativeDevice) WaitIdle() error {
	d.idleValue++
	if err := hresult("Signal", comCall(d.queue, queueSignal, d.idle, uintptr(d.idleValue))); err != nil {
		return err
	}
	return d.WaitFence(context.Background(), Fence(d.idle), d.idleValue)
}

func (d *NativeDevice) SetObjectName(object uintptr, name string) {
	if object == 0 {
		return
	}
	comCall(object, slotSetName, uintptr(unsafe.Pointer(utf16(name))))
}

func (d *NativeDevice) Release(object uintptr) {
	comRelease(object)
}

func (d *NativeDevice) RayTracing() (RayTracingDevice, bool) {
	if d.device5 == 0 {
		return nil, false
	}
	return nativeRayTracing{d}, true
}

func (d *NativeDevice) Destroy() {
	comRelease(d.idle)
	comRelease(d.queue)
	comRelease(d.device5)
	comRelease(d.device)
	comRelease(d.debug)
	if d.event != 0 {
		if err := windows.CloseHandle(d.event); err != nil {
			core.LogWarn("closing fence event: %s", err)
		}
	}
	*d = NativeDevice{}
}

func (d *NativeDevice) ResetCommandList(cl GraphicsCommandList, a CommandAllocator) error {
	return hresult("ID3D12GraphicsCommandList::Reset", comCall(uintptr(cl), listReset, uintptr(a), 0))
}

func (d *NativeDevice) CloseCommandList(cl GraphicsCommandList) error {
	return hresult("Close", comCall(uintptr(cl), listClose))
}

func (d *NativeDevice) SetDescriptorHeaps(cl GraphicsCommandList, heaps []HeapObject) {
	if len(heaps) > 0 {
		comCall(uintptr(cl), listSetDescriptorHeaps, uintptr(len(heaps)), uintptr(unsafe.Pointer(&heaps[0])))
	}
}

func (d *NativeDevice) SetPipelineState(cl GraphicsCommandList, ps PipelineState) {
	comCall(uintptr(cl), listSetPipelineState, uintptr(ps))
}

func (d *NativeDevice) SetRootSignature(cl GraphicsCommandList, compute bool, rs RootSignature) {
	slot := listSetGraphicsRootSignature
	if compute {
		slot = listSetComputeRootSignature
	}
	comCall(uintptr(cl), slot, uintptr(rs))
}

func (d *NativeDevice) SetRootDescriptorTable(cl GraphicsCommandList, compute bool, index uint32, table GPUDescriptorHandle) {
	slot := listSetGraphicsRootDescriptorTable
	if compute {
		slot = listSetComputeRootDescriptorTable
	}
	comCall(uintptr(cl), slot, uintptr(index), uintptr(table.Ptr))
}

func (d *NativeDevice) SetRootConstantBufferView(cl GraphicsCommandList, compute bool, index uint32, address uint64) {
	slot := listSetGraphicsRootCBV
	if compute {
		slot = listSetComputeRootCBV
	}
	comCall(uintptr(cl), slot, uintptr(index), uintptr(address))
}

func (d *NativeDevice) ResourceBarrier(cl GraphicsCommandList, barriers []Barrier) {
	if len(barriers) == 0 {
		return
	}
	native := make([]resourceBarrier, len(barriers))
	for i, b := range barriers {
		native[i] = resourceBarrier{Type: b.Type, Resource: uintptr(b.Resource)}
		if b.Type == BarrierTransition {
			native[i].Subresource = allSubresources
			native[i].Before = b.Before
			native[i].After = b.After
		}
	}
	comCall(uintptr(cl), listResourceBarrier, uintptr(len(native)), uintptr(unsafe.Pointer(&native[0])))
}

func (d *NativeDevice) SetRenderTargets(cl GraphicsCommandList, rtvs []CPUDescriptorHandle, dsv *CPUDescriptorHandle) {
	var first uintptr
	if len(rtvs) > 0 {
		first = uintptr(unsafe.Pointer(&rtvs[0]))
	}
	comCall(uintptr(cl), listOMSetRenderTargets, uintptr(len(rtvs)), first, 0, uintptr(unsafe.Pointer(dsv)))
}

func (d *NativeDevice) ClearRenderTargetView(cl GraphicsCommandList, rtv CPUDescriptorHandle, color [4]float32) {
	comCall(uintptr(cl), listClearRenderTargetView, rtv.Ptr, uintptr(unsafe.Pointer(&color[0])), 0, 0)
}

// ClearDepthStencilView passes depth as the fourth argument, which the
// syscall trampoline also loads into XMM3.
func (d *NativeDevice) ClearDepthStencilView(cl GraphicsCommandList, dsv CPUDescriptorHandle, depth float32) {
	comCall(uintptr(cl), listClearDepthStencilView, dsv.Ptr, clearFlagDepth, uintptr(math.Float32bits(depth)), 0, 0, 0)
}

func (d *NativeDevice) SetViewport(cl GraphicsCommandList, v Viewport) {
	comCall(uintptr(cl), listRSSetViewports, 1, uintptr(unsafe.Pointer(&v)))
}

func (d *NativeDevice) SetScissor(cl GraphicsCommandList, r Rect) {
	comCall(uintptr(cl), listRSSetScissorRects, 1, uintptr(unsafe.Pointer(&r)))
}

func (d *NativeDevice) SetPrimitiveTopology(cl GraphicsCommandList, topology PrimitiveTopology) {
	comCall(uintptr(cl), listIASetPrimitiveTopology, uintptr(topology))
}

func (d *NativeDevice) SetVertexBuffer(cl GraphicsCommandList, address uint64, size, stride uint32) {
	view := vertexBufferView{BufferLocation: address, SizeInBytes: size, StrideInBytes: stride}
	comCall(uintptr(cl), listIASetVertexBuffers, 0, 1, uintptr(unsafe.Pointer(&view)))
}

func (d *NativeDevice) DrawInstanced(cl GraphicsCommandList, vertexCount, instanceCount uint32) {
	comCall(uintptr(cl), listDrawInstanced, uintptr(vertexCount), uintptr(instanceCount), 0, 0)
}

func (d *NativeDevice) Dispatch(cl GraphicsCommandList, x, y, z uint32) {
	comCall(uintptr(cl), listDispatch, uintptr(x), uintptr(y), uintptr(z))
}

var _ Device = (*NativeDevice)(nil)
