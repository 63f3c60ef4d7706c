package d3d12

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Buffer struct {
	backend *Backend
	handle  core.Handle
	desc    rhi.BufferDesc
	alloc   BufferAllocation
}

func bufferDesc(desc rhi.BufferDesc) BufferDesc {
	d := BufferDesc{Size: desc.Size, Heap: heapKind(desc.Memory), State: StateCommon}
	if desc.Usage.Has(rhi.BufferUsageConstantBuffer) {
		d.Size = core.AlignUp(d.Size, constantBufferAlignment)
	}
	if desc.Usage.HasAny(rhi.BufferUsageUnorderedAccess | rhi.BufferUsageAccelerationStructure) {
		d.Flags |= ResourceFlagUnorderedAccess
	}
	switch {
	case d.Heap == HeapUpload:
		d.State = StateGenericRead
	case d.Heap == HeapReadback:
		d.State = StateCopyDest
	case desc.Usage.Has(rhi.BufferUsageAccelerationStructure):
		d.State = StateAccelerationStructure
	}
	return d
}

func (b *Backend) CreateBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	return b.createBuffer(desc)
}

func (b *Backend) createBuffer(desc rhi.BufferDesc) (*Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", core.ErrInvalidConfig, desc.Name)
	}
	alloc, err := b.device.CreateBuffer(bufferDesc(desc))
	if err != nil {
		core.LogError("failed to create buffer %q: %s", desc.Name, err)
		return nil, fmt.Errorf("buffer %q: %w", desc.Name, err)
	}
	buf := &Buffer{backend: b, desc: desc, alloc: alloc}
	buf.handle = b.buffers.Acquire(buf)
	b.setName(uintptr(alloc.Resource), desc.Name)
	return buf, nil
}

func (buf *Buffer) Handle() core.Handle  { return buf.handle }
func (buf *Buffer) Desc() rhi.BufferDesc { return buf.desc }
func (buf *Buffer) GPUAddress() uint64   { return buf.alloc.Address }
func (buf *Buffer) Native() Resource     { return buf.alloc.Resource }

func (buf *Buffer) Write(offset uint64, data []byte) error {
	if buf.desc.Memory != rhi.MemoryUpload {
		return fmt.Errorf("%w: buffer %q is not in an upload heap", core.ErrUnsupported, buf.desc.Name)
	}
	if offset+uint64(len(data)) > buf.desc.Size {
		return fmt.Errorf("%w: write of %d bytes at %d overflows buffer %q (%d bytes)",
			core.ErrInvalidConfig, len(data), offset, buf.desc.Name, buf.desc.Size)
	}
	return buf.backend.device.WriteBuffer(buf.alloc.Resource, offset, data)
}

func (buf *Buffer) Destroy() {
	if err := buf.backend.buffers.Release(buf.handle); err != nil {
		core.LogWarn("destroying buffer %q: %s", buf.desc.Name, err)
		return
	}
	buf.backend.device.Release(uintptr(buf.alloc.Resource))
}

// Texture tracks the state it was last transitioned to while recording.
// Resting is the state it returns to after a render pass.
type Texture struct {
	backend  *Backend
	handle   core.Handle
	desc     rhi.TextureDesc
	resource Resource
	rtv      DescriptorHandle
	dsv      DescriptorHandle
	state    ResourceState
	resting  ResourceState
}

func restingState(desc rhi.TextureDesc) ResourceState {
	switch {
	case desc.Usage.Has(rhi.TextureUsageStorage):
		return StateUnorderedAccess
	case desc.Usage.Has(rhi.TextureUsageSampled) && desc.Format.IsDepth():
		return StateDepthRead | StateAllShaderResource
	case desc.Usage.Has(rhi.TextureUsageSampled):
		return StateAllShaderResource
	case desc.Usage.Has(rhi.TextureUsageDepthStencil):
		return StateDepthWrite
	case desc.Usage.Has(rhi.TextureUsageRenderTarget):
		return StateRenderTarget
	}
	return StateCommon
}

func (b *Backend) CreateTexture(desc rhi.TextureDesc) (rhi.Texture, error) {
	format, err := resourceFormat(desc)
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", desc.Name, err)
	}
	td := &TextureDesc{
		Width:     desc.Width,
		Height:    desc.Height,
		MipLevels: max(desc.MipLevels, 1),
		Format:    format,
		State:     restingState(desc),
		// Depth clears to the far plane.
		ClearDepth: 1,
	}
	if desc.Usage.Has(rhi.TextureUsageRenderTarget) {
		td.Flags |= ResourceFlagRenderTarget
	}
	if desc.Usage.Has(rhi.TextureUsageDepthStencil) {
		td.Flags |= ResourceFlagDepthStencil
	}
	if desc.Usage.Has(rhi.TextureUsageStorage) {
		td.Flags |= ResourceFlagUnorderedAccess
	}
	res, err := b.device.CreateTexture(td)
	if err != nil {
		core.LogError("failed to create texture %q: %s", desc.Name, err)
		return nil, fmt.Errorf("texture %q: %w", desc.Name, err)
	}
	tex := &Texture{backend: b, desc: desc, resource: res, state: td.State, resting: td.State}

	if desc.Usage.Has(rhi.TextureUsageRenderTarget) {
		rtvFormat, _ := dxgiFormat(desc.Format)
		tex.rtv = b.rtvs.GetHandle(1)
		b.device.CreateRenderTargetView(res, rtvFormat, tex.rtv.CPU)
	}
	if desc.Usage.Has(rhi.TextureUsageDepthStencil) {
		dsvFormat, _ := dxgiFormat(desc.Format)
		tex.dsv = b.dsvs.GetHandle(1)
		b.device.CreateDepthStencilView(res, dsvFormat, tex.dsv.CPU)
	}
	tex.handle = b.textures.Acquire(tex)
	b.setName(uintptr(res), desc.Name)
	return tex, nil
}

func (t *Texture) Handle() core.Handle   { return t.handle }
func (t *Texture) Desc() rhi.TextureDesc { return t.desc }
func (t *Texture) Native() Resource      { return t.resource }

// transition returns the barrier moving t to state, if it is elsewhere.
func (t *Texture) transition(state ResourceState) (Barrier, bool) {
	if t.state == state {
		return Barrier{}, false
	}
	b := Barrier{Type: BarrierTransition, Resource: t.resource, Before: t.state, After: state}
	t.state = state
	return b, true
}

// Render and depth target views are carved from the backend's bump heaps
// and stay allocated until shutdown.
func (t *Texture) Destroy() {
	if err := t.backend.textures.Release(t.handle); err != nil {
		core.LogWarn("destroying texture %q: %s", t.desc.Name, err)
		return
	}
	t.backend.device.Release(uintptr(t.resource))
}

// Sampler only carries its description: D3D12 samplers are descriptors
// written when bound.
type Sampler struct {
	backend *Backend
	handle  core.Handle
	desc    rhi.SamplerDesc
}

func (b *Backend) CreateSampler(desc rhi.SamplerDesc) (rhi.Sampler, error) {
	s := &Sampler{backend: b, desc: desc}
	s.handle = b.samplers.Acquire(s)
	return s, nil
}

func (s *Sampler) Handle() core.Handle   { return s.handle }
func (s *Sampler) Desc() rhi.SamplerDesc { return s.desc }

func (s *Sampler) Destroy() {
	if err := s.backend.samplers.Release(s.handle); err != nil {
		core.LogWarn("destroying sampler %q: %s", s.desc.Name, err)
	}
}

// AccelerationStructure owns its result and scratch buffers. A TLAS also
// owns the upload buffer its instances were encoded into.
type AccelerationStructure struct {
	backend   *Backend
	handle    core.Handle
	name      string
	inputs    BuildInputs
	result    BufferAllocation
	scratch   BufferAllocation
	instances *Buffer
	built     bool
}

func (b *Backend) rayTracing(what string) (RayTracingDevice, error) {
	rt, ok := b.device.RayTracing()
	if !ok {
		return nil, fmt.Errorf("%w: %s needs DXR (ID3D12Device5)", core.ErrUnsupported, what)
	}
	return rt, nil
}

func (b *Backend) CreateBlas(desc rhi.BlasDesc) (rhi.AccelerationStructure, error) {
	rt, err := b.rayTracing("bottom level acceleration structure " + desc.Name)
	if err != nil {
		return nil, err
	}
	if desc.Vertices == nil {
		return nil, fmt.Errorf("%w: blas %q has no vertex buffer", core.ErrInvalidConfig, desc.Name)
	}
	format, err := dxgiFormat(desc.VertexFormat)
	if err != nil {
		return nil, fmt.Errorf("blas %q: %w", desc.Name, err)
	}
	in := BuildInputs{
		VertexAddress: desc.Vertices.GPUAddress(),
		VertexStride:  desc.VertexStride,
		VertexCount:   desc.VertexCount,
		VertexFormat:  format,
		Opaque:        desc.Opaque,
	}
	if desc.Indices != nil {
		in.IndexAddress = desc.Indices.GPUAddress()
		in.IndexCount = desc.IndexCount
	}
	return b.createAccelerationStructure(rt, desc.Name, in, nil)
}

func (b *Backend) CreateTlas(desc rhi.TlasDesc) (rhi.AccelerationStructure, error) {
	rt, err := b.rayTracing("top level acceleration structure " + desc.Name)
	if err != nil {
		return nil, err
	}
	if len(desc.Instances) == 0 {
		return nil, fmt.Errorf("%w: tlas %q has no instances", core.ErrInvalidConfig, desc.Name)
	}
	data := rhi.EncodeInstances(desc.Instances)
	instances, err := b.createBuffer(rhi.BufferDesc{
		Name:   desc.Name + ".instances",
		Size:   uint64(len(data)),
		Usage:  core.NewFlags(rhi.BufferUsageAccelerationStructureInput),
		Memory: rhi.MemoryUpload,
	})
	if err != nil {
		return nil, err
	}
	if err := instances.Write(0, data); err != nil {
		instances.Destroy()
		return nil, fmt.Errorf("tlas %q: %w", desc.Name, err)
	}
	in := BuildInputs{
		TopLevel:        true,
		InstanceAddress: instances.GPUAddress(),
		InstanceCount:   uint32(len(desc.Instances)),
	}
	as, err := b.createAccelerationStructure(rt, desc.Name, in, instances)
	if err != nil {
		instances.Destroy()
		return nil, err
	}
	return as, nil
}

func (b *Backend) createAccelerationStructure(rt RayTracingDevice, name string, in BuildInputs, instances *Buffer) (*AccelerationStructure, error) {
	info, err := rt.Prebuild(&in)
	if err != nil {
		core.LogError("failed to size acceleration structure %q: %s", name, err)
		return nil, fmt.Errorf("acceleration structure %q: %w", name, err)
	}
	result, err := b.device.CreateBuffer(BufferDesc{
		Size:  core.AlignUp(info.ResultSize, AccelerationStructureAlign),
		Heap:  HeapDefault,
		Flags: ResourceFlagUnorderedAccess,
		State: StateAccelerationStructure,
	})
	if err != nil {
		return nil, fmt.Errorf("acceleration structure %q: %w", name, err)
	}
	scratch, err := b.device.CreateBuffer(BufferDesc{
		Size:  core.AlignUp(max(info.ScratchSize, 1), AccelerationStructureAlign),
		Heap:  HeapDefault,
		Flags: ResourceFlagUnorderedAccess,
		State: StateUnorderedAccess,
	})
	if err != nil {
		b.device.Release(uintptr(result.Resource))
		return nil, fmt.Errorf("acceleration structure %q scratch: %w", name, err)
	}
	as := &AccelerationStructure{
		backend:   b,
		name:      name,
		inputs:    in,
		result:    result,
		scratch:   scratch,
		instances: instances,
	}
	as.handle = b.accels.Acquire(as)
	b.setName(uintptr(result.Resource), name)
	b.setName(uintptr(scratch.Resource), name+".scratch")
	return as, nil
}

func (as *AccelerationStructure) Handle() core.Handle { return as.handle }
func (as *AccelerationStructure) Name() string        { return as.name }
func (as *AccelerationStructure) IsTopLevel() bool    { return as.inputs.TopLevel }
func (as *AccelerationStructure) GPUAddress() uint64  { return as.result.Address }

func (as *AccelerationStructure) Destroy() {
	if err := as.backend.accels.Release(as.handle); err != nil {
		core.LogWarn("destroying acceleration structure %q: %s", as.name, err)
		return
	}
	as.backend.device.Release(uintptr(as.result.Resource))
	as.backend.device.Release(uintptr(as.scratch.Resource))
	if as.instances != nil {
		as.instances.Destroy()
		as.instances = nil
	}
}
