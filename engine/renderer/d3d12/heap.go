package d3d12

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// DescriptorHandle is a run of Count consecutive descriptors of one heap.
type DescriptorHandle struct {
	CPU    CPUDescriptorHandle
	GPU    GPUDescriptorHandle
	Stride uint32
	Count  uint32
}

// CPUAt returns the CPU handle of descriptor i of the run.
func (h DescriptorHandle) CPUAt(i uint32) CPUDescriptorHandle {
	return CPUDescriptorHandle{Ptr: h.CPU.Ptr + uintptr(i)*uintptr(h.Stride)}
}

// GPUAt returns the GPU handle of descriptor i of the run.
func (h DescriptorHandle) GPUAt(i uint32) GPUDescriptorHandle {
	return GPUDescriptorHandle{Ptr: h.GPU.Ptr + uint64(i)*uint64(h.Stride)}
}

func (h DescriptorHandle) IsValid() bool {
	return h.Count > 0
}

// DescriptorHeap is a linear allocator over one native heap. Handles are
// never freed one by one; Reset rewinds the cursor.
type DescriptorHeap struct {
	device   Device
	typ      HeapType
	native   NativeHeap
	stride   uint32
	capacity uint32
	offset   uint32
}

func NewDescriptorHeap(device Device, typ HeapType, capacity uint32, shaderVisible bool, name string) (*DescriptorHeap, error) {
	native, err := device.CreateDescriptorHeap(typ, capacity, shaderVisible)
	if err != nil {
		return nil, fmt.Errorf("%s heap %q: %w", typ, name, err)
	}
	if name != "" {
		device.SetObjectName(uintptr(native.Heap), name)
	}
	return &DescriptorHeap{
		device:   device,
		typ:      typ,
		native:   native,
		stride:   device.DescriptorIncrement(typ),
		capacity: capacity,
	}, nil
}

// GetHandle carves n descriptors. Overflowing the heap is a caller error.
func (h *DescriptorHeap) GetHandle(n uint32) DescriptorHandle {
	core.Assert(h.offset+n <= h.capacity, "%s heap overflow: %d + %d descriptors of %d", h.typ, h.offset, n, h.capacity)
	handle := DescriptorHandle{
		CPU:    CPUDescriptorHandle{Ptr: h.native.CPUStart.Ptr + uintptr(h.offset)*uintptr(h.stride)},
		Stride: h.stride,
		Count:  n,
	}
	if h.native.GPUStart.Ptr != 0 {
		handle.GPU = GPUDescriptorHandle{Ptr: h.native.GPUStart.Ptr + uint64(h.offset)*uint64(h.stride)}
	}
	h.offset += n
	return handle
}

func (h *DescriptorHeap) Reset() {
	h.offset = 0
}

func (h *DescriptorHeap) Type() HeapType     { return h.typ }
func (h *DescriptorHeap) Used() uint32       { return h.offset }
func (h *DescriptorHeap) Capacity() uint32   { return h.capacity }
func (h *DescriptorHeap) Native() HeapObject { return h.native.Heap }

func (h *DescriptorHeap) Destroy() {
	if h.native.Heap != 0 {
		h.device.Release(uintptr(h.native.Heap))
		h.native = NativeHeap{}
	}
}

// DescriptorPool pairs a shader-visible CBV/SRV/UAV heap with a sampler
// heap. Sets allocated from it carve their tables from both.
type DescriptorPool struct {
	backend   *Backend
	name      string
	resources *DescriptorHeap
	samplers  *DescriptorHeap
	sets      []*DescriptorSet
}

func (b *Backend) CreateDescriptorPool(name string) (rhi.DescriptorPool, error) {
	return b.newDescriptorPool(name)
}

func (b *Backend) newDescriptorPool(name string) (*DescriptorPool, error) {
	cfg := b.cfg.Descriptors
	resources, err := NewDescriptorHeap(b.device, HeapTypeCBVSRVUAV, cfg.HeapCapacity, true, b.objectName(name+".resources"))
	if err != nil {
		core.LogError("failed to create descriptor pool %q: %s", name, err)
		return nil, err
	}
	samplers, err := NewDescriptorHeap(b.device, HeapTypeSampler, cfg.SamplerHeapCapacity, true, b.objectName(name+".samplers"))
	if err != nil {
		resources.Destroy()
		core.LogError("failed to create descriptor pool %q: %s", name, err)
		return nil, err
	}
	return &DescriptorPool{backend: b, name: name, resources: resources, samplers: samplers}, nil
}

// AllocateSet returns a fresh set laid out for p. Nothing is carved until a
// binding is first written.
func (dp *DescriptorPool) AllocateSet(p rhi.Pipeline) (rhi.DescriptorSet, error) {
	pl, err := pipelineOf(p)
	if err != nil {
		return nil, err
	}
	set := &DescriptorSet{
		pool:     dp,
		pipeline: p,
		layout:   pl.root,
		handles:  make(map[rhi.BindingKey]DescriptorHandle),
		roots:    make(map[uint32]uint64),
		bound:    make(map[writeKey]resourceRef),
	}
	dp.sets = append(dp.sets, set)
	return set, nil
}

func (dp *DescriptorPool) heap(t HeapType) *DescriptorHeap {
	if t == HeapTypeSampler {
		return dp.samplers
	}
	return dp.resources
}

// Heaps returns the native heaps a command list binds before using sets of
// the pool.
func (dp *DescriptorPool) Heaps() []HeapObject {
	return []HeapObject{dp.resources.Native(), dp.samplers.Native()}
}

// Reset rewinds both heaps. Sets allocated before are released.
func (dp *DescriptorPool) Reset() error {
	dp.resources.Reset()
	dp.samplers.Reset()
	for _, s := range dp.sets {
		s.release()
	}
	dp.sets = dp.sets[:0]
	return nil
}

func (dp *DescriptorPool) Destroy() {
	for _, s := range dp.sets {
		s.release()
	}
	dp.sets = nil
	dp.resources.Destroy()
	dp.samplers.Destroy()
}
