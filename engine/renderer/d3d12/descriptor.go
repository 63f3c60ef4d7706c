package d3d12

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// constantBufferAlignment is the size granularity of constant buffer views.
const constantBufferAlignment = 256

type writeKey struct {
	space   uint32
	binding uint32
	element uint32
}

type refKind uint8

const (
	refBuffer refKind = iota
	refTexture
	refSampler
	refAccelerationStructure
)

// resourceRef names a bound resource without keeping it alive.
type resourceRef struct {
	kind   refKind
	handle core.Handle
	name   string
}

// DescriptorSet writes views into its pool's heaps as bindings are set.
// Table handles are carved on first touch of a key and reused afterwards;
// root constant buffers only record their address.
type DescriptorSet struct {
	pool     *DescriptorPool
	pipeline rhi.Pipeline
	layout   *RootLayout
	name     string

	handles map[rhi.BindingKey]DescriptorHandle
	roots   map[uint32]uint64
	bound   map[writeKey]resourceRef
	dropped []error

	state    rhi.DescriptorSetState
	released bool
}

func (s *DescriptorSet) State() rhi.DescriptorSetState { return s.state }
func (s *DescriptorSet) Pipeline() rhi.Pipeline        { return s.pipeline }

// D3D12 descriptors have no name of their own.
func (s *DescriptorSet) SetName(name string) {
	if name != "" {
		s.name = name
	}
}

// Handle returns the table handle of key, if it was carved.
func (s *DescriptorSet) Handle(key rhi.BindingKey) (DescriptorHandle, bool) {
	h, ok := s.handles[key]
	return h, ok
}

// RootConstantBuffer returns the address bound to root parameter i.
func (s *DescriptorSet) RootConstantBuffer(i uint32) (uint64, bool) {
	addr, ok := s.roots[i]
	return addr, ok
}

type target struct {
	key     rhi.BindingKey
	info    rhi.DescriptorInfo
	handle  DescriptorHandle
	element uint32
	root    bool
}

func (t target) cpu() CPUDescriptorHandle {
	return t.handle.CPUAt(t.element)
}

// resolve looks up binding among kinds and carves its table on first use.
func (s *DescriptorSet) resolve(op string, binding uint32, o rhi.BindOptions, kinds ...rhi.ResourceKind) (target, bool) {
	if s.released {
		core.LogError("%s: descriptor set %q used after its pool was reset", op, s.name)
		return target{}, false
	}
	key, info, ok := s.layout.DescriptorInfo().Find(o.Space, binding, kinds...)
	if !ok {
		core.LogWarn("%s: pipeline %q declares no %v at space %d register %d", op, s.pipeline.Name(), kinds, o.Space, binding)
		return target{}, false
	}
	if o.Element >= info.Count {
		core.LogWarn("%s: element %d is out of range for %s (count %d)", op, o.Element, key, info.Count)
		return target{}, false
	}
	t := target{key: key, info: info, element: o.Element}
	if s.layout.IsRootDescriptor(info.Slot) {
		t.root = true
		return t, true
	}
	h, ok := s.handles[key]
	if !ok {
		h = s.pool.heap(s.layout.heapType(info.Slot)).GetHandle(info.Count)
		s.handles[key] = h
	}
	t.handle = h
	return t, true
}

func (s *DescriptorSet) written(t target, ref resourceRef) {
	s.bound[writeKey{space: t.key.Space, binding: t.key.Binding, element: t.element}] = ref
	s.state = rhi.DescriptorSetAccumulating
}

func (s *DescriptorSet) drop(op string, t target, ref resourceRef) {
	err := fmt.Errorf("%s space %d register %d[%d] %q (%s): %w", op, t.key.Space, t.key.Binding, t.element, ref.name, ref.handle, core.ErrStaleHandle)
	core.LogError("dropping write: %s", err)
	s.dropped = append(s.dropped, err)
}

func (s *DescriptorSet) buffer(op string, t target, buf rhi.Buffer) (*Buffer, resourceRef, bool) {
	var ref resourceRef
	if buf != nil {
		ref = resourceRef{kind: refBuffer, handle: buf.Handle(), name: buf.Desc().Name}
		if native, ok := s.pool.backend.buffers.Get(buf.Handle()); ok {
			return native, ref, true
		}
	}
	s.drop(op, t, ref)
	return nil, ref, false
}

func (s *DescriptorSet) texture(op string, t target, tex rhi.Texture) (*Texture, resourceRef, bool) {
	var ref resourceRef
	if tex != nil {
		ref = resourceRef{kind: refTexture, handle: tex.Handle(), name: tex.Desc().Name}
		if native, ok := s.pool.backend.textures.Get(tex.Handle()); ok {
			return native, ref, true
		}
	}
	s.drop(op, t, ref)
	return nil, ref, false
}

// SetConstantBuffer binds a range of buf. A single constant buffer is a
// root descriptor and only its address is kept.
func (s *DescriptorSet) SetConstantBuffer(binding uint32, buf rhi.Buffer, opts ...rhi.BindOption) {
	const op = "SetConstantBuffer"
	o := rhi.ResolveBindOptions(opts)
	if buf != nil {
		core.Assert(buf.Desc().Usage.Has(rhi.BufferUsageConstantBuffer), "buffer %q bound as constant buffer lacks constant buffer usage", buf.Desc().Name)
	}
	t, ok := s.resolve(op, binding, o, rhi.ResourceConstantBuffer)
	if !ok {
		return
	}
	native, ref, ok := s.buffer(op, t, buf)
	if !ok {
		return
	}
	offset, size := rhi.ConstantRange(buf, o)
	address := native.GPUAddress() + offset
	if t.root {
		s.roots[t.info.Slot] = address
	} else {
		s.pool.backend.device.CreateConstantBufferView(ConstantBufferView{
			Address: address,
			Size:    uint32(core.AlignUp(size, constantBufferAlignment)),
		}, t.cpu())
	}
	s.written(t, ref)
}

// setBufferSRV counts first and num in 32-bit words when raw is set and the
// shader declared a byte address buffer, in elements of the buffer's stride
// otherwise.
func (s *DescriptorSet) setBufferSRV(op string, binding uint32, buf rhi.Buffer, first, num uint32, raw bool, o rhi.BindOptions, kinds ...rhi.ResourceKind) {
	t, ok := s.resolve(op, binding, o, kinds...)
	if !ok {
		return
	}
	native, ref, ok := s.buffer(op, t, buf)
	if !ok {
		return
	}
	r := rhi.StructuredRange(buf, first, num)
	if raw && t.key.Kind == rhi.ResourceByteAddressBuffer {
		r = rhi.RawRange(buf, first, num)
	}
	s.pool.backend.device.CreateShaderResourceView(bufferSRV(native.Native(), t.key.Kind, r), t.cpu())
	s.written(t, ref)
}

// bufferSRV views r as a structured buffer, or as raw 32-bit words when the
// shader declared a byte address buffer.
func bufferSRV(res Resource, kind rhi.ResourceKind, r rhi.ElementRange) ShaderResourceView {
	if kind == rhi.ResourceByteAddressBuffer {
		return ShaderResourceView{
			Dimension:    ViewBuffer,
			Format:       FormatR32Typeless,
			Resource:     res,
			FirstElement: r.Offset / 4,
			NumElements:  uint32(r.Size / 4),
			Raw:          true,
		}
	}
	return ShaderResourceView{
		Dimension:       ViewBuffer,
		Resource:        res,
		FirstElement:    uint64(r.First),
		NumElements:     r.Count,
		StructureStride: r.Stride,
	}
}

func (s *DescriptorSet) SetStructuredBuffer(binding uint32, buf rhi.Buffer, firstElement, numElements uint32, opts ...rhi.BindOption) {
	s.setBufferSRV("SetStructuredBuffer", binding, buf, firstElement, numElements, false, rhi.ResolveBindOptions(opts),
		rhi.ResourceStructuredBuffer, rhi.ResourceByteAddressBuffer)
}

func (s *DescriptorSet) SetByteAddressBuffer(binding uint32, buf rhi.Buffer, firstElement, numElements uint32, opts ...rhi.BindOption) {
	s.setBufferSRV("SetByteAddressBuffer", binding, buf, firstElement, numElements, true, rhi.ResolveBindOptions(opts),
		rhi.ResourceByteAddressBuffer, rhi.ResourceStructuredBuffer)
}

func (s *DescriptorSet) SetRWStructuredBuffer(binding uint32, buf rhi.Buffer, firstElement, numElements uint32, opts ...rhi.BindOption) {
	const op = "SetRWStructuredBuffer"
	var r rhi.ElementRange
	if buf != nil {
		r = rhi.StructuredRange(buf, firstElement, numElements)
	}
	t, ok := s.resolve(op, binding, rhi.ResolveBindOptions(opts), rhi.ResourceStorageBuffer)
	if !ok {
		return
	}
	native, ref, ok := s.buffer(op, t, buf)
	if !ok {
		return
	}
	view := UnorderedAccessView{
		Dimension:       ViewBuffer,
		Resource:        native.Native(),
		FirstElement:    uint64(r.First),
		NumElements:     r.Count,
		StructureStride: r.Stride,
	}
	if buf.Desc().Stride == 0 {
		view.Format = FormatR32Typeless
		view.StructureStride = 0
		view.Raw = true
	}
	s.pool.backend.device.CreateUnorderedAccessView(view, t.cpu())
	s.written(t, ref)
}

func (s *DescriptorSet) SetTexture(binding uint32, tex rhi.Texture, opts ...rhi.BindOption) {
	const op = "SetTexture"
	t, ok := s.resolve(op, binding, rhi.ResolveBindOptions(opts), rhi.ResourceTexture)
	if !ok {
		return
	}
	native, ref, ok := s.texture(op, t, tex)
	if !ok {
		return
	}
	format, err := viewFormat(native.desc.Format)
	if err != nil {
		core.LogError("%s: texture %q: %s", op, native.desc.Name, err)
		return
	}
	s.pool.backend.device.CreateShaderResourceView(ShaderResourceView{
		Dimension: ViewTexture2D,
		Format:    format,
		Resource:  native.resource,
		MipLevels: max(native.desc.MipLevels, 1),
	}, t.cpu())
	s.written(t, ref)
}

func (s *DescriptorSet) SetRWTexture(binding uint32, tex rhi.Texture, opts ...rhi.BindOption) {
	const op = "SetRWTexture"
	t, ok := s.resolve(op, binding, rhi.ResolveBindOptions(opts), rhi.ResourceStorageImage)
	if !ok {
		return
	}
	native, ref, ok := s.texture(op, t, tex)
	if !ok {
		return
	}
	core.Assert(native.desc.Usage.Has(rhi.TextureUsageStorage), "texture %q bound as RW texture lacks storage usage", native.desc.Name)
	format, err := viewFormat(native.desc.Format)
	if err != nil {
		core.LogError("%s: texture %q: %s", op, native.desc.Name, err)
		return
	}
	s.pool.backend.device.CreateUnorderedAccessView(UnorderedAccessView{
		Dimension: ViewTexture2D,
		Format:    format,
		Resource:  native.resource,
	}, t.cpu())
	s.written(t, ref)
}

func (s *DescriptorSet) SetSampler(binding uint32, sampler rhi.Sampler, opts ...rhi.BindOption) {
	const op = "SetSampler"
	t, ok := s.resolve(op, binding, rhi.ResolveBindOptions(opts), rhi.ResourceSampler)
	if !ok {
		return
	}
	var ref resourceRef
	if sampler != nil {
		ref = resourceRef{kind: refSampler, handle: sampler.Handle(), name: sampler.Desc().Name}
	}
	native, live := s.pool.backend.samplers.Get(ref.handle)
	if sampler == nil || !live {
		s.drop(op, t, ref)
		return
	}
	s.pool.backend.device.CreateSampler(samplerView(native.desc), t.cpu())
	s.written(t, ref)
}

// SetCombinedTextureSampler has no D3D12 counterpart: HLSL declares textures
// and samplers in separate registers.
func (s *DescriptorSet) SetCombinedTextureSampler(binding uint32, _ rhi.Texture, _ rhi.Sampler, _ ...rhi.BindOption) {
	core.LogWarn("SetCombinedTextureSampler: pipeline %q, register %d: combined image samplers are not supported on D3D12, bind SetTexture and SetSampler", s.pipeline.Name(), binding)
}

func (s *DescriptorSet) SetAccelerationStructure(binding uint32, as rhi.AccelerationStructure, opts ...rhi.BindOption) {
	const op = "SetAccelerationStructure"
	t, ok := s.resolve(op, binding, rhi.ResolveBindOptions(opts), rhi.ResourceAccelerationStructure)
	if !ok {
		return
	}
	var ref resourceRef
	if as != nil {
		ref = resourceRef{kind: refAccelerationStructure, handle: as.Handle(), name: as.Name()}
	}
	native, live := s.pool.backend.accels.Get(ref.handle)
	if as == nil || !live {
		s.drop(op, t, ref)
		return
	}
	core.Assert(as.IsTopLevel(), "acceleration structure %q bound to a shader is not top level", as.Name())
	s.pool.backend.device.CreateShaderResourceView(ShaderResourceView{
		Dimension: ViewAccelerationStructure,
		Location:  native.GPUAddress(),
	}, t.cpu())
	s.written(t, ref)
}

// Update marks the set ready to bind. Views were written when set.
func (s *DescriptorSet) Update() {
	if s.released {
		core.LogError("Update: descriptor set %q used after its pool was reset", s.name)
		return
	}
	s.state = rhi.DescriptorSetUpdated
}

// Validate reports writes that were dropped and bound resources that have
// been destroyed since.
func (s *DescriptorSet) Validate() error {
	errs := append([]error(nil), s.dropped...)
	for k, ref := range s.bound {
		if !s.pool.backend.live(ref) {
			errs = append(errs, fmt.Errorf("space %d register %d[%d] %q (%s): %w", k.space, k.binding, k.element, ref.name, ref.handle, core.ErrStaleHandle))
		}
	}
	return errors.Join(errs...)
}

func (s *DescriptorSet) release() {
	s.released = true
	s.handles = nil
	s.roots = nil
}
