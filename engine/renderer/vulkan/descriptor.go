package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// poolTypes are the descriptor types every pool reserves PoolQuota of.
var poolTypes = []vk.DescriptorType{
	vk.DescriptorTypeUniformBuffer,
	vk.DescriptorTypeStorageBuffer,
	vk.DescriptorTypeSampler,
	vk.DescriptorTypeSampledImage,
	vk.DescriptorTypeCombinedImageSampler,
	vk.DescriptorTypeStorageImage,
}

// DescriptorPool hands out descriptor sets for any pipeline of its backend.
type DescriptorPool struct {
	backend *Backend
	name    string
	native  vk.DescriptorPool
	maxSets uint32
	sets    []*DescriptorSet
	// allocated counts native sets since the last reset.
	allocated uint32
}

func poolSizes(quota uint32, rayTracing bool) []vk.DescriptorPoolSize {
	sizes := make([]vk.DescriptorPoolSize, 0, len(poolTypes)+1)
	for _, t := range poolTypes {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: quota})
	}
	if rayTracing {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: descriptorTypeAccelerationStructure, DescriptorCount: quota})
	}
	return sizes
}

func (b *Backend) CreateDescriptorPool(name string) (rhi.DescriptorPool, error) {
	return b.newDescriptorPool(name)
}

func (b *Backend) newDescriptorPool(name string) (*DescriptorPool, error) {
	cfg := b.cfg.Descriptors
	_, rt := b.device.RayTracing()
	native, err := b.device.CreateDescriptorPool(cfg.PoolMaxSets, poolSizes(cfg.PoolQuota, rt))
	if err != nil {
		core.LogError("failed to create descriptor pool %q: %s", name, err)
		return nil, fmt.Errorf("descriptor pool %q: %w", name, err)
	}
	b.setName(native, name)
	return &DescriptorPool{
		backend: b,
		name:    name,
		native:  native,
		maxSets: cfg.PoolMaxSets,
	}, nil
}

// AllocateSet returns a fresh set laid out for p. Native sets are allocated
// when a binding of their set index is first written.
func (dp *DescriptorPool) AllocateSet(p rhi.Pipeline) (rhi.DescriptorSet, error) {
	pl, err := pipelineOf(p)
	if err != nil {
		return nil, err
	}
	set := &DescriptorSet{
		pool:     dp,
		pipeline: p,
		regs:     pl.registers,
		layout:   pl.layout,
		native:   make([]vk.DescriptorSet, pl.layout.SetCount()),
		handles:  make(map[rhi.BindingKey]DescriptorHandle),
		pending:  make(map[writeKey]pendingWrite),
		bound:    make(map[writeKey]resourceRef),
	}
	dp.sets = append(dp.sets, set)
	return set, nil
}

func (dp *DescriptorPool) allocate(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	if dp.allocated >= dp.maxSets {
		return nil, fmt.Errorf("%w: descriptor pool %q is out of sets (%d)", core.ErrNativeCall, dp.name, dp.maxSets)
	}
	set, err := dp.backend.device.AllocateDescriptorSet(dp.native, layout)
	if err != nil {
		return nil, err
	}
	dp.allocated++
	return set, nil
}

// Reset returns every native set to the pool. Sets allocated before the
// reset are released and must not be used again.
func (dp *DescriptorPool) Reset() error {
	if err := dp.backend.device.ResetDescriptorPool(dp.native); err != nil {
		return fmt.Errorf("descriptor pool %q: %w", dp.name, err)
	}
	for _, s := range dp.sets {
		s.release()
	}
	dp.sets = dp.sets[:0]
	dp.allocated = 0
	return nil
}

// Allocated is the number of native sets handed out since the last reset.
func (dp *DescriptorPool) Allocated() uint32 {
	return dp.allocated
}

func (dp *DescriptorPool) Destroy() {
	for _, s := range dp.sets {
		s.release()
	}
	dp.sets = nil
	if dp.native != nil {
		dp.backend.device.DestroyDescriptorPool(dp.native)
		dp.native = nil
	}
}

// DescriptorHandle addresses one binding of a native descriptor set.
// Element i of an array binding is written at ArrayElement i.
type DescriptorHandle struct {
	Set     vk.DescriptorSet
	Index   uint32
	Binding uint32
	Count   uint32
	Type    vk.DescriptorType
	Kind    rhi.ResourceKind
}

type writeKey struct {
	set     uint32
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

type pendingWrite struct {
	typ     vk.DescriptorType
	res     resourceRef
	sampler resourceRef
	// buffer range
	offset uint64
	size   uint64
	// image layout
	layout vk.ImageLayout
}

// DescriptorSet accumulates writes for the sets of one pipeline layout and
// flushes them in one UpdateDescriptorSets call. A second write to the same
// (set, binding, element) replaces the first.
type DescriptorSet struct {
	pool     *DescriptorPool
	pipeline rhi.Pipeline
	regs     registers
	layout   *PipelineLayout
	name     string

	native  []vk.DescriptorSet
	handles map[rhi.BindingKey]DescriptorHandle
	pending map[writeKey]pendingWrite
	order   []writeKey
	bound   map[writeKey]resourceRef
	dropped []error

	state    rhi.DescriptorSetState
	released bool
}

func (s *DescriptorSet) State() rhi.DescriptorSetState { return s.state }
func (s *DescriptorSet) Pipeline() rhi.Pipeline        { return s.pipeline }

// Native returns the native sets in set order. Sets never written are nil
// until Update.
func (s *DescriptorSet) Native() []vk.DescriptorSet { return s.native }

func (s *DescriptorSet) SetName(name string) {
	if name == "" {
		return
	}
	s.name = name
	for i, n := range s.native {
		if n != nil {
			s.pool.backend.setName(n, fmt.Sprintf("%s.set%d", name, i))
		}
	}
}

// Handle returns the cached handle of key, if it was touched.
func (s *DescriptorSet) Handle(key rhi.BindingKey) (DescriptorHandle, bool) {
	h, ok := s.handles[key]
	return h, ok
}

// handle returns the cached handle of key, allocating the native set on
// first touch.
func (s *DescriptorSet) handle(key rhi.BindingKey, info rhi.DescriptorInfo) (DescriptorHandle, error) {
	if h, ok := s.handles[key]; ok {
		return h, nil
	}
	if err := s.ensureSet(key.Space); err != nil {
		return DescriptorHandle{}, err
	}
	h := DescriptorHandle{
		Set:     s.native[key.Space],
		Index:   info.Slot,
		Binding: key.Binding,
		Count:   info.Count,
		Type:    s.layout.descriptorType(key),
		Kind:    key.Kind,
	}
	s.handles[key] = h
	return h, nil
}

func (s *DescriptorSet) ensureSet(index uint32) error {
	if s.native[index] != nil {
		return nil
	}
	set, err := s.pool.allocate(s.layout.Sets[index])
	if err != nil {
		return err
	}
	s.native[index] = set
	if s.name != "" {
		s.pool.backend.setName(set, fmt.Sprintf("%s.set%d", s.name, index))
	}
	return nil
}

// resolve looks up binding among kinds and returns the write target.
func (s *DescriptorSet) resolve(op string, binding uint32, o rhi.BindOptions, kinds ...rhi.ResourceKind) (DescriptorHandle, writeKey, bool) {
	if s.released {
		core.LogError("%s: descriptor set %q used after its pool was reset", op, s.name)
		return DescriptorHandle{}, writeKey{}, false
	}
	key, info, ok := s.regs.find(s.layout.DescriptorInfo(), o.Space, binding, kinds...)
	if !ok {
		core.LogWarn("%s: pipeline %q declares no %v at set %d binding %d", op, s.pipeline.Name(), kinds, o.Space, binding)
		return DescriptorHandle{}, writeKey{}, false
	}
	if o.Element >= info.Count {
		core.LogWarn("%s: element %d is out of range for %s (count %d)", op, o.Element, key, info.Count)
		return DescriptorHandle{}, writeKey{}, false
	}
	h, err := s.handle(key, info)
	if err != nil {
		core.LogError("%s: %s", op, err)
		return DescriptorHandle{}, writeKey{}, false
	}
	return h, writeKey{set: key.Space, binding: key.Binding, element: o.Element}, true
}

func (s *DescriptorSet) queue(k writeKey, w pendingWrite) {
	if _, ok := s.pending[k]; !ok {
		s.order = append(s.order, k)
	}
	s.pending[k] = w
	s.bound[k] = w.res
	s.state = rhi.DescriptorSetAccumulating
}

func (s *DescriptorSet) bufferRef(buf rhi.Buffer) (resourceRef, bool) {
	if buf == nil {
		return resourceRef{}, false
	}
	ref := resourceRef{kind: refBuffer, handle: buf.Handle(), name: buf.Desc().Name}
	return ref, s.pool.backend.live(ref)
}

// setBuffer writes the byte span of buf that span computes for the kind the
// shader declared.
func (s *DescriptorSet) setBuffer(op string, binding uint32, buf rhi.Buffer, span func(rhi.ResourceKind) rhi.ElementRange, o rhi.BindOptions, kinds ...rhi.ResourceKind) {
	h, k, ok := s.resolve(op, binding, o, kinds...)
	if !ok {
		return
	}
	ref, live := s.bufferRef(buf)
	if !live {
		s.drop(op, k, ref)
		return
	}
	r := span(h.Kind)
	s.queue(k, pendingWrite{typ: h.Type, res: ref, offset: r.Offset, size: r.Size})
}

func (s *DescriptorSet) SetConstantBuffer(binding uint32, buf rhi.Buffer, opts ...rhi.BindOption) {
	o := rhi.ResolveBindOptions(opts)
	if buf != nil {
		core.Assert(buf.Desc().Usage.Has(rhi.BufferUsageConstantBuffer), "buffer %q bound as constant buffer lacks constant buffer usage", buf.Desc().Name)
	}
	s.setBuffer("SetConstantBuffer", binding, buf, func(rhi.ResourceKind) rhi.ElementRange {
		offset, size := rhi.ConstantRange(buf, o)
		return rhi.ElementRange{Offset: offset, Size: size}
	}, o, rhi.ResourceConstantBuffer)
}

func (s *DescriptorSet) SetStructuredBuffer(binding uint32, buf rhi.Buffer, firstElement, numElements uint32, opts ...rhi.BindOption) {
	s.setBuffer("SetStructuredBuffer", binding, buf, func(rhi.ResourceKind) rhi.ElementRange {
		return rhi.StructuredRange(buf, firstElement, numElements)
	}, rhi.ResolveBindOptions(opts), rhi.ResourceStructuredBuffer, rhi.ResourceByteAddressBuffer)
}

// SetByteAddressBuffer counts in 32-bit words, or in elements of the
// buffer's stride when the shader declared a structured buffer.
func (s *DescriptorSet) SetByteAddressBuffer(binding uint32, buf rhi.Buffer, firstElement, numElements uint32, opts ...rhi.BindOption) {
	s.setBuffer("SetByteAddressBuffer", binding, buf, func(kind rhi.ResourceKind) rhi.ElementRange {
		if kind == rhi.ResourceByteAddressBuffer {
			return rhi.RawRange(buf, firstElement, numElements)
		}
		return rhi.StructuredRange(buf, firstElement, numElements)
	}, rhi.ResolveBindOptions(opts), rhi.ResourceByteAddressBuffer, rhi.ResourceStructuredBuffer)
}

func (s *DescriptorSet) SetRWStructuredBuffer(binding uint32, buf rhi.Buffer, firstElement, numElements uint32, opts ...rhi.BindOption) {
	s.setBuffer("SetRWStructuredBuffer", binding, buf, func(rhi.ResourceKind) rhi.ElementRange {
		return rhi.StructuredRange(buf, firstElement, numElements)
	}, rhi.ResolveBindOptions(opts), rhi.ResourceStorageBuffer)
}

func (s *DescriptorSet) setImage(op string, binding uint32, tex rhi.Texture, sampler rhi.Sampler, storage bool, o rhi.BindOptions, kind rhi.ResourceKind) {
	h, k, ok := s.resolve(op, binding, o, kind)
	if !ok {
		return
	}
	w := pendingWrite{typ: h.Type}
	if tex != nil {
		w.res = resourceRef{kind: refTexture, handle: tex.Handle(), name: tex.Desc().Name}
		if !s.pool.backend.live(w.res) {
			s.drop(op, k, w.res)
			return
		}
		w.layout = vk.ImageLayoutGeneral
		if !storage {
			w.layout = sampledLayout(tex.Desc().Format)
		}
	}
	if sampler != nil {
		w.sampler = resourceRef{kind: refSampler, handle: sampler.Handle(), name: sampler.Desc().Name}
		if !s.pool.backend.live(w.sampler) {
			s.drop(op, k, w.sampler)
			return
		}
		if tex == nil {
			w.res = w.sampler
		}
	}
	if tex == nil && sampler == nil {
		s.drop(op, k, resourceRef{})
		return
	}
	s.queue(k, w)
}

func (s *DescriptorSet) SetTexture(binding uint32, tex rhi.Texture, opts ...rhi.BindOption) {
	s.setImage("SetTexture", binding, tex, nil, false, rhi.ResolveBindOptions(opts), rhi.ResourceTexture)
}

func (s *DescriptorSet) SetRWTexture(binding uint32, tex rhi.Texture, opts ...rhi.BindOption) {
	s.setImage("SetRWTexture", binding, tex, nil, true, rhi.ResolveBindOptions(opts), rhi.ResourceStorageImage)
}

func (s *DescriptorSet) SetSampler(binding uint32, sampler rhi.Sampler, opts ...rhi.BindOption) {
	s.setImage("SetSampler", binding, nil, sampler, false, rhi.ResolveBindOptions(opts), rhi.ResourceSampler)
}

func (s *DescriptorSet) SetCombinedTextureSampler(binding uint32, tex rhi.Texture, sampler rhi.Sampler, opts ...rhi.BindOption) {
	s.setImage("SetCombinedTextureSampler", binding, tex, sampler, false, rhi.ResolveBindOptions(opts), rhi.ResourceCombinedImageSampler)
}

func (s *DescriptorSet) SetAccelerationStructure(binding uint32, as rhi.AccelerationStructure, opts ...rhi.BindOption) {
	const op = "SetAccelerationStructure"
	h, k, ok := s.resolve(op, binding, rhi.ResolveBindOptions(opts), rhi.ResourceAccelerationStructure)
	if !ok {
		return
	}
	var ref resourceRef
	if as != nil {
		ref = resourceRef{kind: refAccelerationStructure, handle: as.Handle(), name: as.Name()}
	}
	if as == nil || !s.pool.backend.live(ref) {
		s.drop(op, k, ref)
		return
	}
	core.Assert(as.IsTopLevel(), "acceleration structure %q bound to a shader is not top level", as.Name())
	s.queue(k, pendingWrite{typ: h.Type, res: ref})
}

func (s *DescriptorSet) drop(op string, k writeKey, ref resourceRef) {
	err := fmt.Errorf("%s set %d binding %d[%d] %q (%s): %w", op, k.set, k.binding, k.element, ref.name, ref.handle, core.ErrStaleHandle)
	core.LogError("dropping write: %s", err)
	s.dropped = append(s.dropped, err)
}

// Update allocates the native sets nothing was written to and flushes every
// pending write in one call.
func (s *DescriptorSet) Update() {
	if s.released {
		core.LogError("Update: descriptor set %q used after its pool was reset", s.name)
		return
	}
	for i := range s.native {
		if err := s.ensureSet(uint32(i)); err != nil {
			core.LogError("Update: descriptor set %q: %s", s.name, err)
			return
		}
	}

	writes := make([]DescriptorWrite, 0, len(s.order))
	for _, k := range s.order {
		w := s.pending[k]
		dw, ok := s.pool.backend.descriptorWrite(s.native[k.set], k, w)
		if !ok {
			s.drop("Update", k, w.res)
			continue
		}
		writes = append(writes, dw)
	}
	if len(writes) > 0 {
		s.pool.backend.device.UpdateDescriptorSets(writes)
	}
	clear(s.pending)
	s.order = s.order[:0]
	s.state = rhi.DescriptorSetUpdated
}

// Validate reports writes that were dropped and bound resources that have
// been destroyed since.
func (s *DescriptorSet) Validate() error {
	errs := append([]error(nil), s.dropped...)
	for k, ref := range s.bound {
		if !s.pool.backend.live(ref) {
			errs = append(errs, fmt.Errorf("set %d binding %d[%d] %q (%s): %w", k.set, k.binding, k.element, ref.name, ref.handle, core.ErrStaleHandle))
		}
	}
	return errors.Join(errs...)
}

func (s *DescriptorSet) release() {
	s.released = true
	s.native = nil
	s.handles = nil
}

func (b *Backend) descriptorWrite(set vk.DescriptorSet, k writeKey, w pendingWrite) (DescriptorWrite, bool) {
	dw := DescriptorWrite{
		Set:     set,
		Binding: k.binding,
		Element: k.element,
		Type:    w.typ,
	}
	switch w.res.kind {
	case refBuffer:
		buf, ok := b.buffers.Get(w.res.handle)
		if !ok {
			return dw, false
		}
		dw.Buffer = &vk.DescriptorBufferInfo{
			Buffer: buf.Native(),
			Offset: vk.DeviceSize(w.offset),
			Range:  vk.DeviceSize(w.size),
		}
	case refTexture, refSampler:
		info := &vk.DescriptorImageInfo{ImageLayout: w.layout}
		if w.res.kind == refTexture {
			tex, ok := b.textures.Get(w.res.handle)
			if !ok {
				return dw, false
			}
			info.ImageView = tex.View()
		}
		if w.sampler.handle.IsValid() {
			s, ok := b.samplers.Get(w.sampler.handle)
			if !ok {
				return dw, false
			}
			info.Sampler = s.Native()
		}
		dw.Image = info
	case refAccelerationStructure:
		as, ok := b.accels.Get(w.res.handle)
		if !ok {
			return dw, false
		}
		dw.AccelerationStructure = as.alloc.Handle
	}
	return dw, true
}
