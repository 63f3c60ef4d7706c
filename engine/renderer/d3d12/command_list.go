package d3d12

import (
	"fmt"
	"slices"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type CommandListState int

const (
	CommandListReady CommandListState = iota
	CommandListRecording
	CommandListInRenderPass
	CommandListRecordingEnded
	CommandListSubmitted
	CommandListNotAllocated
)

func (s CommandListState) String() string {
	switch s {
	case CommandListReady:
		return "ready"
	case CommandListRecording:
		return "recording"
	case CommandListInRenderPass:
		return "in render pass"
	case CommandListRecordingEnded:
		return "recording ended"
	case CommandListSubmitted:
		return "submitted"
	case CommandListNotAllocated:
		return "not allocated"
	}
	return "unknown"
}

// CommandPool is one command allocator shared by the lists it hands out.
type CommandPool struct {
	backend   *Backend
	name      string
	allocator CommandAllocator
	lists     []*CommandList
}

func (b *Backend) CreateCommandPool(name string) (rhi.CommandPool, error) {
	a, err := b.device.CreateCommandAllocator()
	if err != nil {
		core.LogError("failed to create command pool %q: %s", name, err)
		return nil, fmt.Errorf("command pool %q: %w", name, err)
	}
	b.setName(uintptr(a), name)
	return &CommandPool{backend: b, name: name, allocator: a}, nil
}

func (cp *CommandPool) Allocate(name string) (rhi.CommandList, error) {
	native, err := cp.backend.device.CreateCommandList(cp.allocator)
	if err != nil {
		return nil, fmt.Errorf("command pool %q: %w", cp.name, err)
	}
	cl := &CommandList{backend: cp.backend, pool: cp, Handle: native, State: CommandListReady}
	cl.SetName(name)
	cp.lists = append(cp.lists, cl)
	return cl, nil
}

func (cp *CommandPool) Reset() error {
	if err := cp.backend.device.ResetCommandAllocator(cp.allocator); err != nil {
		return fmt.Errorf("command pool %q: %w", cp.name, err)
	}
	for _, cl := range cp.lists {
		cl.State = CommandListReady
	}
	return nil
}

func (cp *CommandPool) Destroy() {
	d := cp.backend.device
	for _, cl := range cp.lists {
		cl.State = CommandListNotAllocated
		d.Release(uintptr(cl.Handle))
	}
	cp.lists = nil
	if cp.allocator != 0 {
		d.Release(uintptr(cp.allocator))
		cp.allocator = 0
	}
}

// CommandList records into one graphics command list. It is not safe for
// concurrent use.
type CommandList struct {
	backend *Backend
	pool    *CommandPool
	name    string
	Handle  GraphicsCommandList
	State   CommandListState

	heaps   []HeapObject
	targets []*Texture
}

func (cl *CommandList) SetName(name string) {
	if name == "" {
		return
	}
	cl.name = name
	cl.backend.setName(uintptr(cl.Handle), name)
}

func (cl *CommandList) recorder() Recorder { return cl.backend.device }

func (cl *CommandList) recording(op string) bool {
	if cl.State != CommandListRecording && cl.State != CommandListInRenderPass {
		core.LogError("%s on command list %q in state %s", op, cl.name, cl.State)
		return false
	}
	return true
}

func (cl *CommandList) Begin() error {
	if cl.State != CommandListReady {
		return fmt.Errorf("%w: command list %q begun in state %s", core.ErrInvalidHandle, cl.name, cl.State)
	}
	if err := cl.recorder().ResetCommandList(cl.Handle, cl.pool.allocator); err != nil {
		core.LogError("failed to begin command list %q: %s", cl.name, err)
		return err
	}
	cl.heaps = nil
	cl.State = CommandListRecording
	return nil
}

func (cl *CommandList) End() error {
	if cl.State != CommandListRecording {
		return fmt.Errorf("%w: command list %q ended in state %s", core.ErrInvalidHandle, cl.name, cl.State)
	}
	if err := cl.recorder().CloseCommandList(cl.Handle); err != nil {
		core.LogError("failed to end command list %q: %s", cl.name, err)
		return err
	}
	cl.State = CommandListRecordingEnded
	return nil
}

// BindPipeline sets the pipeline state and its root signature.
func (cl *CommandList) BindPipeline(p rhi.Pipeline) {
	dp, err := pipelineOf(p)
	if err != nil {
		core.LogError("BindPipeline: %s", err)
		return
	}
	if !cl.recording("BindPipeline") {
		return
	}
	r := cl.recorder()
	if rp, ok := p.(*RayTracingPipeline); ok {
		rt, ok := cl.backend.device.RayTracing()
		if !ok {
			core.LogError("BindPipeline: %q needs DXR: %s", rp.name, core.ErrUnsupported)
			return
		}
		rt.SetPipelineState1(cl.Handle, rp.Object)
	} else {
		r.SetPipelineState(cl.Handle, dp.State)
	}
	r.SetRootSignature(cl.Handle, dp.compute(), dp.root.Handle)
	if dp.kind == rhi.PipelineRaster {
		r.SetPrimitiveTopology(cl.Handle, TopologyTriangleList)
	}
}

// BindDescriptorSet sets the pool heaps and every root parameter written
// in set.
func (cl *CommandList) BindDescriptorSet(p rhi.Pipeline, set rhi.DescriptorSet) {
	dp, err := pipelineOf(p)
	if err != nil {
		core.LogError("BindDescriptorSet: %s", err)
		return
	}
	ds, ok := set.(*DescriptorSet)
	if !ok {
		core.LogError("BindDescriptorSet: %T is not a D3D12 descriptor set", set)
		return
	}
	if ds.State() != rhi.DescriptorSetUpdated {
		core.LogError("BindDescriptorSet: set %q of pipeline %q is %s, call Update first", ds.name, dp.name, ds.State())
		return
	}
	if !cl.recording("BindDescriptorSet") {
		return
	}
	r := cl.recorder()
	if heaps := ds.pool.Heaps(); !slices.Equal(heaps, cl.heaps) {
		r.SetDescriptorHeaps(cl.Handle, heaps)
		cl.heaps = heaps
	}
	compute := dp.compute()
	for key, info := range ds.layout.DescriptorInfo() {
		if ds.layout.IsRootDescriptor(info.Slot) {
			if addr, ok := ds.roots[info.Slot]; ok {
				r.SetRootConstantBufferView(cl.Handle, compute, info.Slot, addr)
			}
			continue
		}
		if h, ok := ds.handles[key]; ok {
			r.SetRootDescriptorTable(cl.Handle, compute, info.Slot, h.GPU)
		}
	}
}

// PushConstants has no D3D12 equivalent here: DXIL reflection does not
// report root constants.
func (cl *CommandList) PushConstants(p rhi.Pipeline, _ uint32, _ []byte) {
	core.LogWarn("PushConstants: pipeline %q: root constants are not supported on D3D12", p.Name())
}

func (cl *CommandList) barrier(barriers []Barrier) {
	if len(barriers) > 0 {
		cl.recorder().ResourceBarrier(cl.Handle, barriers)
	}
}

// BeginRenderPass moves targets into their writable states, binds and
// clears them.
func (cl *CommandList) BeginRenderPass(p rhi.Pipeline, targets rhi.RenderTargets) error {
	dp, err := pipelineOf(p)
	if err != nil {
		return err
	}
	if dp.kind != rhi.PipelineRaster {
		return fmt.Errorf("%w: pipeline %q has no render targets", core.ErrUnsupported, dp.name)
	}
	if err := dp.framebuffer.Match(targets); err != nil {
		return fmt.Errorf("%s: %w", dp.name, err)
	}
	if cl.State != CommandListRecording {
		return fmt.Errorf("%w: render pass begun in state %s", core.ErrInvalidHandle, cl.State)
	}

	colors := make([]*Texture, 0, len(targets.Color))
	for _, t := range targets.Color {
		tex, ok := cl.backend.textures.Get(t.Handle())
		if !ok {
			return fmt.Errorf("color target %q (%s): %w", t.Desc().Name, t.Handle(), core.ErrStaleHandle)
		}
		colors = append(colors, tex)
	}
	var depth *Texture
	if targets.Depth != nil {
		tex, ok := cl.backend.textures.Get(targets.Depth.Handle())
		if !ok {
			return fmt.Errorf("depth target %q (%s): %w", targets.Depth.Desc().Name, targets.Depth.Handle(), core.ErrStaleHandle)
		}
		depth = tex
	}

	var (
		barriers []Barrier
		rtvs     []CPUDescriptorHandle
		dsv      *CPUDescriptorHandle
	)
	cl.targets = cl.targets[:0]
	for _, tex := range colors {
		if b, ok := tex.transition(StateRenderTarget); ok {
			barriers = append(barriers, b)
		}
		rtvs = append(rtvs, tex.rtv.CPU)
		cl.targets = append(cl.targets, tex)
	}
	if depth != nil {
		if b, ok := depth.transition(StateDepthWrite); ok {
			barriers = append(barriers, b)
		}
		dsv = &depth.dsv.CPU
		cl.targets = append(cl.targets, depth)
	}

	r := cl.recorder()
	cl.barrier(barriers)
	r.SetRenderTargets(cl.Handle, rtvs, dsv)
	for _, rtv := range rtvs {
		r.ClearRenderTargetView(cl.Handle, rtv, targets.ClearColor)
	}
	if dsv != nil {
		r.ClearDepthStencilView(cl.Handle, *dsv, targets.ClearDepth)
	}
	r.SetViewport(cl.Handle, dp.viewport)
	r.SetScissor(cl.Handle, dp.scissor)
	cl.State = CommandListInRenderPass
	return nil
}

// EndRenderPass returns the targets to their resting states.
func (cl *CommandList) EndRenderPass() {
	if cl.State != CommandListInRenderPass {
		core.LogError("EndRenderPass on command list %q in state %s", cl.name, cl.State)
		return
	}
	var barriers []Barrier
	for _, tex := range cl.targets {
		if b, ok := tex.transition(tex.resting); ok {
			barriers = append(barriers, b)
		}
	}
	cl.barrier(barriers)
	cl.targets = cl.targets[:0]
	cl.State = CommandListRecording
}

func (cl *CommandList) BindVertexBuffer(buf rhi.Buffer, stride uint32) {
	b, ok := cl.backend.buffers.Get(buf.Handle())
	if !ok {
		core.LogError("BindVertexBuffer: buffer %q (%s): %s", buf.Desc().Name, buf.Handle(), core.ErrStaleHandle)
		return
	}
	if !cl.recording("BindVertexBuffer") {
		return
	}
	cl.recorder().SetVertexBuffer(cl.Handle, b.GPUAddress(), uint32(b.desc.Size), stride)
}

func (cl *CommandList) Draw(vertexCount, instanceCount uint32) {
	if cl.State != CommandListInRenderPass {
		core.LogError("Draw outside a render pass on command list %q", cl.name)
		return
	}
	cl.recorder().DrawInstanced(cl.Handle, vertexCount, instanceCount)
}

func (cl *CommandList) Dispatch(x, y, z uint32) {
	if !cl.recording("Dispatch") {
		return
	}
	cl.recorder().Dispatch(cl.Handle, x, y, z)
}

func (cl *CommandList) DispatchRays(p rhi.RayTracingPipeline, width, height, depth uint32) {
	rp, ok := p.(*RayTracingPipeline)
	if !ok {
		core.LogError("DispatchRays: %T is not a D3D12 ray tracing pipeline", p)
		return
	}
	rt, ok := cl.backend.device.RayTracing()
	if !ok || !cl.recording("DispatchRays") {
		return
	}
	desc := rp.dispatch(width, height, depth)
	rt.DispatchRays(cl.Handle, &desc)
}

// BuildAccelerationStructure records the build and a UAV barrier so later
// builds and traces see the result.
func (cl *CommandList) BuildAccelerationStructure(as rhi.AccelerationStructure) {
	a, ok := cl.backend.accels.Get(as.Handle())
	if !ok {
		core.LogError("BuildAccelerationStructure: %q (%s): %s", as.Name(), as.Handle(), core.ErrStaleHandle)
		return
	}
	rt, ok := cl.backend.device.RayTracing()
	if !ok || !cl.recording("BuildAccelerationStructure") {
		return
	}
	rt.BuildAccelerationStructure(cl.Handle, &a.inputs, a.result.Address, a.scratch.Address)
	cl.barrier([]Barrier{{Type: BarrierUAV, Resource: a.result.Resource}})
	a.built = true
}
