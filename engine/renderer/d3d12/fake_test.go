package d3d12

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

const (
	fakeCPUBase   = 0x1000_0000
	fakeGPUBase   = 0x2000_0000
	fakeIncrement = 32
)

// view is a descriptor written by the backend.
type view struct {
	kind string
	cbv  ConstantBufferView
	srv  ShaderResourceView
	uav  UnorderedAccessView
	smp  SamplerView
}

type fakeDevice struct {
	next uintptr

	heaps      map[HeapObject]HeapType
	heapBase   uintptr
	views      map[uintptr]view
	roots      []RootSignatureDesc
	graphics   []GraphicsPipelineDesc
	buffers    map[Resource][]byte
	textures   []TextureDesc
	released   map[uintptr]bool
	names      map[uintptr]string
	commands   []string
	barriers   []Barrier
	tables     map[uint32]GPUDescriptorHandle
	rootCBVs   map[uint32]uint64
	heapsBound [][]HeapObject

	submits    int
	fenceWaits int
	failSubmit bool

	rt *fakeRayTracing
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		heaps:    make(map[HeapObject]HeapType),
		views:    make(map[uintptr]view),
		buffers:  make(map[Resource][]byte),
		released: make(map[uintptr]bool),
		names:    make(map[uintptr]string),
		tables:   make(map[uint32]GPUDescriptorHandle),
		rootCBVs: make(map[uint32]uint64),
	}
}

// handle returns a fresh non-zero native handle.
func (d *fakeDevice) handle() uintptr {
	d.next++
	return d.next
}

func (d *fakeDevice) record(cmd string) { d.commands = append(d.commands, cmd) }

func (d *fakeDevice) DescriptorIncrement(HeapType) uint32 { return fakeIncrement }

// CreateDescriptorHeap spaces heaps 1 MiB apart so handles of different
// heaps never collide.
func (d *fakeDevice) CreateDescriptorHeap(t HeapType, _ uint32, shaderVisible bool) (NativeHeap, error) {
	h := HeapObject(d.handle())
	d.heaps[h] = t
	n := NativeHeap{Heap: h, CPUStart: CPUDescriptorHandle{Ptr: fakeCPUBase + d.heapBase}}
	if shaderVisible {
		n.GPUStart = GPUDescriptorHandle{Ptr: fakeGPUBase + uint64(d.heapBase)}
	}
	d.heapBase += 1 << 20
	return n, nil
}

func (d *fakeDevice) CreateConstantBufferView(v ConstantBufferView, dst CPUDescriptorHandle) {
	d.views[dst.Ptr] = view{kind: "cbv", cbv: v}
}

func (d *fakeDevice) CreateShaderResourceView(v ShaderResourceView, dst CPUDescriptorHandle) {
	d.views[dst.Ptr] = view{kind: "srv", srv: v}
}

func (d *fakeDevice) CreateUnorderedAccessView(v UnorderedAccessView, dst CPUDescriptorHandle) {
	d.views[dst.Ptr] = view{kind: "uav", uav: v}
}

func (d *fakeDevice) CreateSampler(v SamplerView, dst CPUDescriptorHandle) {
	d.views[dst.Ptr] = view{kind: "sampler", smp: v}
}

func (d *fakeDevice) CreateRenderTargetView(Resource, DXGIFormat, CPUDescriptorHandle) {}
func (d *fakeDevice) CreateDepthStencilView(Resource, DXGIFormat, CPUDescriptorHandle) {}

func (d *fakeDevice) CreateRootSignature(desc RootSignatureDesc) (RootSignature, error) {
	d.roots = append(d.roots, desc)
	return RootSignature(d.handle()), nil
}

func (d *fakeDevice) CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (PipelineState, error) {
	d.graphics = append(d.graphics, *desc)
	return PipelineState(d.handle()), nil
}

func (d *fakeDevice) CreateComputePipeline(RootSignature, []byte) (PipelineState, error) {
	return PipelineState(d.handle()), nil
}

func (d *fakeDevice) CreateBuffer(desc BufferDesc) (BufferAllocation, error) {
	res := Resource(d.handle())
	d.buffers[res] = make([]byte, desc.Size)
	return BufferAllocation{Resource: res, Size: desc.Size, Address: 0x10000 * uint64(res)}, nil
}

func (d *fakeDevice) WriteBuffer(res Resource, offset uint64, data []byte) error {
	buf, ok := d.buffers[res]
	if !ok {
		return fmt.Errorf("%w: unknown buffer", core.ErrNativeCall)
	}
	copy(buf[offset:], data)
	return nil
}

func (d *fakeDevice) CreateTexture(desc *TextureDesc) (Resource, error) {
	d.textures = append(d.textures, *desc)
	return Resource(d.handle()), nil
}

func (d *fakeDevice) CreateCommandAllocator() (CommandAllocator, error) {
	return CommandAllocator(d.handle()), nil
}

func (d *fakeDevice) ResetCommandAllocator(CommandAllocator) error { return nil }

func (d *fakeDevice) CreateCommandList(CommandAllocator) (GraphicsCommandList, error) {
	return GraphicsCommandList(d.handle()), nil
}

func (d *fakeDevice) CreateFence() (Fence, error) { return Fence(d.handle()), nil }

func (d *fakeDevice) ExecuteCommandLists([]GraphicsCommandList, Fence, uint64) error {
	if d.failSubmit {
		return core.ErrNativeCall
	}
	d.submits++
	return nil
}

func (d *fakeDevice) WaitFence(ctx context.Context, _ Fence, _ uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.fenceWaits++
	return nil
}

func (d *fakeDevice) WaitIdle() error { return nil }

func (d *fakeDevice) SetObjectName(object uintptr, name string) { d.names[object] = name }
func (d *fakeDevice) Release(object uintptr)                    { d.released[object] = true }

func (d *fakeDevice) RayTracing() (RayTracingDevice, bool) {
	if d.rt == nil {
		return nil, false
	}
	return d.rt, true
}

func (d *fakeDevice) Destroy() { d.record("destroy device") }

func (d *fakeDevice) ResetCommandList(GraphicsCommandList, CommandAllocator) error {
	d.record("reset")
	return nil
}

func (d *fakeDevice) CloseCommandList(GraphicsCommandList) error {
	d.record("close")
	return nil
}

func (d *fakeDevice) SetDescriptorHeaps(_ GraphicsCommandList, heaps []HeapObject) {
	d.heapsBound = append(d.heapsBound, heaps)
	d.record("set heaps")
}

func (d *fakeDevice) SetPipelineState(GraphicsCommandList, PipelineState) { d.record("set pipeline") }

func (d *fakeDevice) SetRootSignature(_ GraphicsCommandList, compute bool, _ RootSignature) {
	if compute {
		d.record("set compute root")
		return
	}
	d.record("set graphics root")
}

func (d *fakeDevice) SetRootDescriptorTable(_ GraphicsCommandList, _ bool, index uint32, table GPUDescriptorHandle) {
	d.tables[index] = table
}

func (d *fakeDevice) SetRootConstantBufferView(_ GraphicsCommandList, _ bool, index uint32, address uint64) {
	d.rootCBVs[index] = address
}

func (d *fakeDevice) ResourceBarrier(_ GraphicsCommandList, barriers []Barrier) {
	d.barriers = append(d.barriers, barriers...)
	d.record("barrier")
}

func (d *fakeDevice) SetRenderTargets(GraphicsCommandList, []CPUDescriptorHandle, *CPUDescriptorHandle) {
	d.record("set targets")
}

func (d *fakeDevice) ClearRenderTargetView(GraphicsCommandList, CPUDescriptorHandle, [4]float32) {
	d.record("clear color")
}

func (d *fakeDevice) ClearDepthStencilView(GraphicsCommandList, CPUDescriptorHandle, float32) {
	d.record("clear depth")
}

func (d *fakeDevice) SetViewport(GraphicsCommandList, Viewport) { d.record("viewport") }
func (d *fakeDevice) SetScissor(GraphicsCommandList, Rect)      { d.record("scissor") }
func (d *fakeDevice) SetPrimitiveTopology(GraphicsCommandList, PrimitiveTopology) {
	d.record("topology")
}
func (d *fakeDevice) SetVertexBuffer(GraphicsCommandList, uint64, uint32, uint32) {
	d.record("vertex buffer")
}
func (d *fakeDevice) DrawInstanced(GraphicsCommandList, uint32, uint32)    { d.record("draw") }
func (d *fakeDevice) Dispatch(GraphicsCommandList, uint32, uint32, uint32) { d.record("dispatch") }

// fakeRayTracing hands out shader identifiers whose first byte counts the
// distinct exports asked for, starting at 1.
type fakeRayTracing struct {
	dev      *fakeDevice
	props    RayTracingProperties
	desc     *StateObjectDesc
	ids      map[string]byte
	built    int
	dispatch *DispatchRaysDesc
}

func (r *fakeRayTracing) Properties() RayTracingProperties { return r.props }

func (r *fakeRayTracing) CreateStateObject(desc *StateObjectDesc) (StateObject, error) {
	r.desc = desc
	return StateObject(r.dev.handle()), nil
}

func (r *fakeRayTracing) ShaderIdentifier(_ StateObject, export string) ([]byte, error) {
	known := false
	for _, lib := range r.desc.Libraries {
		for _, e := range lib.Exports {
			known = known || e == export
		}
	}
	for _, g := range r.desc.HitGroups {
		known = known || g.Name == export
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", core.ErrNativeCall, export)
	}
	id, ok := r.ids[export]
	if !ok {
		id = byte(len(r.ids) + 1)
		r.ids[export] = id
	}
	out := make([]byte, r.props.IdentifierSize)
	out[0] = id
	return out, nil
}

func (r *fakeRayTracing) Prebuild(in *BuildInputs) (PrebuildInfo, error) {
	if in.TopLevel {
		return PrebuildInfo{ResultSize: 1000, ScratchSize: 500}, nil
	}
	return PrebuildInfo{ResultSize: 3000, ScratchSize: 2000}, nil
}

func (r *fakeRayTracing) BuildAccelerationStructure(GraphicsCommandList, *BuildInputs, uint64, uint64) {
	r.built++
	r.dev.record("build as")
}

func (r *fakeRayTracing) SetPipelineState1(GraphicsCommandList, StateObject) {
	r.dev.record("set state object")
}

func (r *fakeRayTracing) DispatchRays(_ GraphicsCommandList, desc *DispatchRaysDesc) {
	d := *desc
	r.dispatch = &d
	r.dev.record("dispatch rays")
}

func withRayTracing(d *fakeDevice) *fakeDevice {
	d.rt = &fakeRayTracing{
		dev: d,
		ids: make(map[string]byte),
		props: RayTracingProperties{
			IdentifierSize:  ShaderIdentifierSize,
			RecordAlignment: ShaderRecordAlignment,
			TableAlignment:  ShaderTableAlignment,
			MaxRecursion:    MaxRecursionDepth,
		},
	}
	return d
}

// fakeCompiler echoes sources back as four-byte blobs.
type fakeCompiler struct{}

func (fakeCompiler) Compile(_ context.Context, src rhi.ShaderSrc, format rhi.BytecodeFormat) (rhi.ShaderBlob, error) {
	return rhi.ShaderBlob{
		Code:   []byte("DXBC"),
		Format: format,
		Stage:  src.Stage,
		Entry:  src.Entry,
		Path:   src.Path,
	}, nil
}

// newTestBackend wires dev to a backend whose reflector returns the stage
// reflections registered by entry name.
func newTestBackend(t *testing.T, dev *fakeDevice, stages ...rhi.StageReflection) *Backend {
	t.Helper()
	return newTestBackendWithConfig(t, config.Default(), dev, stages...)
}

func newTestBackendWithConfig(t *testing.T, cfg *config.Config, dev *fakeDevice, stages ...rhi.StageReflection) *Backend {
	t.Helper()
	b, err := New(cfg, dev, fakeCompiler{})
	if err != nil {
		t.Fatalf("creating backend: %s", err)
	}
	byEntry := make(map[string]rhi.StageReflection, len(stages))
	for _, st := range stages {
		byEntry[st.Entry] = st
	}
	b.reflector = func(blobs []rhi.ShaderBlob) (*rhi.ReflectionResult, error) {
		out := make([]rhi.StageReflection, 0, len(blobs))
		for _, blob := range blobs {
			st, ok := byEntry[blob.Entry]
			if !ok {
				st = rhi.StageReflection{Stage: blob.Stage, Entry: blob.Entry}
			}
			out = append(out, st)
		}
		return rhi.MergeReflections(out, rhi.RegisterSlot)
	}
	return b
}

// captureLogs redirects the process logger for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	core.SetLogOutput(&buf)
	t.Cleanup(func() { core.SetLogOutput(os.Stderr) })
	return &buf
}

func binding(name string, kind rhi.ResourceKind, space, slot, count uint32) rhi.ShaderBinding {
	return rhi.ShaderBinding{
		Name:  name,
		Key:   rhi.BindingKey{Kind: kind, Space: space, Binding: slot},
		Count: count,
	}
}
