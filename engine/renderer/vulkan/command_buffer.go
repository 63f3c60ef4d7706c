package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type CommandBufferState int

const (
	CommandBufferReady CommandBufferState = iota
	CommandBufferRecording
	CommandBufferInRenderPass
	CommandBufferRecordingEnded
	CommandBufferSubmitted
	CommandBufferNotAllocated
)

func (s CommandBufferState) String() string {
	switch s {
	case CommandBufferReady:
		return "ready"
	case CommandBufferRecording:
		return "recording"
	case CommandBufferInRenderPass:
		return "in render pass"
	case CommandBufferRecordingEnded:
		return "recording ended"
	case CommandBufferSubmitted:
		return "submitted"
	case CommandBufferNotAllocated:
		return "not allocated"
	}
	return "unknown"
}

// CommandPool allocates primary command buffers. Reset recycles all of them.
type CommandPool struct {
	backend *Backend
	name    string
	native  vk.CommandPool
	lists   []*CommandList
}

func (b *Backend) CreateCommandPool(name string) (rhi.CommandPool, error) {
	native, err := b.device.CreateCommandPool()
	if err != nil {
		core.LogError("failed to create command pool %q: %s", name, err)
		return nil, fmt.Errorf("command pool %q: %w", name, err)
	}
	b.setName(native, name)
	return &CommandPool{backend: b, name: name, native: native}, nil
}

func (cp *CommandPool) Allocate(name string) (rhi.CommandList, error) {
	cb, err := cp.backend.device.AllocateCommandBuffer(cp.native)
	if err != nil {
		return nil, fmt.Errorf("command pool %q: %w", cp.name, err)
	}
	cl := &CommandList{backend: cp.backend, Handle: cb, State: CommandBufferReady}
	cl.SetName(name)
	cp.lists = append(cp.lists, cl)
	return cl, nil
}

func (cp *CommandPool) Reset() error {
	if err := cp.backend.device.ResetCommandPool(cp.native); err != nil {
		return fmt.Errorf("command pool %q: %w", cp.name, err)
	}
	for _, cl := range cp.lists {
		cl.State = CommandBufferReady
	}
	return nil
}

func (cp *CommandPool) Destroy() {
	for _, cl := range cp.lists {
		cl.State = CommandBufferNotAllocated
	}
	cp.lists = nil
	if cp.native != vk.NullCommandPool {
		cp.backend.device.DestroyCommandPool(cp.native)
		cp.native = vk.NullCommandPool
	}
}

// CommandList records into one command buffer. It is not safe for
// concurrent use.
type CommandList struct {
	backend *Backend
	name    string
	Handle  vk.CommandBuffer
	State   CommandBufferState
}

func (cl *CommandList) SetName(name string) {
	if name == "" {
		return
	}
	cl.name = name
	cl.backend.setName(cl.Handle, name)
}

func (cl *CommandList) recorder() Recorder { return cl.backend.device }

func (cl *CommandList) recording(op string) bool {
	if cl.State != CommandBufferRecording && cl.State != CommandBufferInRenderPass {
		core.LogError("%s on command list %q in state %s", op, cl.name, cl.State)
		return false
	}
	return true
}

func (cl *CommandList) Begin() error {
	if cl.State != CommandBufferReady {
		return fmt.Errorf("%w: command list %q begun in state %s", core.ErrInvalidHandle, cl.name, cl.State)
	}
	if err := cl.recorder().BeginCommandBuffer(cl.Handle); err != nil {
		core.LogError("failed to begin command list %q: %s", cl.name, err)
		return err
	}
	cl.State = CommandBufferRecording
	return nil
}

func (cl *CommandList) End() error {
	if cl.State != CommandBufferRecording {
		return fmt.Errorf("%w: command list %q ended in state %s", core.ErrInvalidHandle, cl.name, cl.State)
	}
	if err := cl.recorder().EndCommandBuffer(cl.Handle); err != nil {
		core.LogError("failed to end command list %q: %s", cl.name, err)
		return err
	}
	cl.State = CommandBufferRecordingEnded
	return nil
}

func (cl *CommandList) BindPipeline(p rhi.Pipeline) {
	vp, err := pipelineOf(p)
	if err != nil {
		core.LogError("BindPipeline: %s", err)
		return
	}
	if !cl.recording("BindPipeline") {
		return
	}
	cl.recorder().CmdBindPipeline(cl.Handle, vp.BindPoint, vp.Handle)
}

// BindDescriptorSet binds every native set of set starting at set 0.
func (cl *CommandList) BindDescriptorSet(p rhi.Pipeline, set rhi.DescriptorSet) {
	vp, err := pipelineOf(p)
	if err != nil {
		core.LogError("BindDescriptorSet: %s", err)
		return
	}
	ds, ok := set.(*DescriptorSet)
	if !ok {
		core.LogError("BindDescriptorSet: %T is not a Vulkan descriptor set", set)
		return
	}
	if ds.State() != rhi.DescriptorSetUpdated {
		core.LogError("BindDescriptorSet: set %q of pipeline %q is %s, call Update first", ds.name, vp.name, ds.State())
		return
	}
	if !cl.recording("BindDescriptorSet") || len(ds.native) == 0 {
		return
	}
	cl.recorder().CmdBindDescriptorSets(cl.Handle, vp.BindPoint, vp.layout.Handle, 0, ds.native)
}

func (cl *CommandList) PushConstants(p rhi.Pipeline, offset uint32, data []byte) {
	vp, err := pipelineOf(p)
	if err != nil {
		core.LogError("PushConstants: %s", err)
		return
	}
	push := vp.layout.Push
	if push.Size == 0 {
		core.LogWarn("PushConstants: pipeline %q declares no push constants", vp.name)
		return
	}
	if offset < push.Offset || offset+uint32(len(data)) > push.Offset+push.Size {
		core.LogError("PushConstants: [%d, %d) is outside the range of pipeline %q", offset, offset+uint32(len(data)), vp.name)
		return
	}
	if !cl.recording("PushConstants") {
		return
	}
	cl.recorder().CmdPushConstants(cl.Handle, vp.layout.Handle, push.StageFlags, offset, data)
}

func (cl *CommandList) BeginRenderPass(p rhi.Pipeline, targets rhi.RenderTargets) error {
	vp, err := pipelineOf(p)
	if err != nil {
		return err
	}
	if vp.pass == nil {
		return fmt.Errorf("%w: pipeline %q has no render pass", core.ErrUnsupported, vp.name)
	}
	if err := vp.pass.Matches(targets); err != nil {
		return fmt.Errorf("%s: %w", vp.name, err)
	}
	if cl.State != CommandBufferRecording {
		return fmt.Errorf("%w: render pass begun in state %s", core.ErrInvalidHandle, cl.State)
	}
	fb, err := cl.backend.framebuffer(vp.pass, targets)
	if err != nil {
		return err
	}
	values := vp.pass.clearValues(targets)
	cl.recorder().CmdBeginRenderPass(cl.Handle, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vp.pass.Handle,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height},
		},
		ClearValueCount: uint32(len(values)),
		PClearValues:    values,
	})
	cl.recorder().CmdSetViewport(cl.Handle, vp.viewport)
	cl.recorder().CmdSetScissor(cl.Handle, vp.scissor)
	cl.State = CommandBufferInRenderPass
	return nil
}

func (cl *CommandList) EndRenderPass() {
	if cl.State != CommandBufferInRenderPass {
		core.LogError("EndRenderPass on command list %q in state %s", cl.name, cl.State)
		return
	}
	cl.recorder().CmdEndRenderPass(cl.Handle)
	cl.State = CommandBufferRecording
}

// BindVertexBuffer binds buf to binding 0. The stride is part of the
// pipeline's vertex input state.
func (cl *CommandList) BindVertexBuffer(buf rhi.Buffer, _ uint32) {
	b, ok := cl.backend.buffers.Get(buf.Handle())
	if !ok {
		core.LogError("BindVertexBuffer: buffer %q (%s): %s", buf.Desc().Name, buf.Handle(), core.ErrStaleHandle)
		return
	}
	if !cl.recording("BindVertexBuffer") {
		return
	}
	cl.recorder().CmdBindVertexBuffer(cl.Handle, b.Native())
}

func (cl *CommandList) Draw(vertexCount, instanceCount uint32) {
	if cl.State != CommandBufferInRenderPass {
		core.LogError("Draw outside a render pass on command list %q", cl.name)
		return
	}
	cl.recorder().CmdDraw(cl.Handle, vertexCount, instanceCount)
}

func (cl *CommandList) Dispatch(x, y, z uint32) {
	if !cl.recording("Dispatch") {
		return
	}
	cl.recorder().CmdDispatch(cl.Handle, x, y, z)
}

func (cl *CommandList) DispatchRays(p rhi.RayTracingPipeline, width, height, depth uint32) {
	rp, ok := p.(*RayTracingPipeline)
	if !ok {
		core.LogError("DispatchRays: %T is not a Vulkan ray tracing pipeline", p)
		return
	}
	rt, ok := cl.backend.device.RayTracing()
	if !ok || !cl.recording("DispatchRays") {
		return
	}
	raygen, miss, hit := rp.regions()
	rt.CmdTraceRays(cl.Handle, raygen, miss, hit, StridedRegion{}, width, height, depth)
}

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
	rt.CmdBuildAccelerationStructure(cl.Handle, a.alloc, a.geom)
	a.built = true
}
