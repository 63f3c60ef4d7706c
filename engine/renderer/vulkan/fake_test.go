package vulkan

import (
	"bytes"
	"context"
	"os"
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// fakeHandle returns a unique non-nil pointer usable as any native handle.
// Compare handles made from it with ==: testify's reflect-based equality
// panics on cgo's incomplete handle types.
func fakeHandle() unsafe.Pointer {
	return unsafe.Pointer(new(uint64))
}

type fakeDevice struct {
	setLayouts   map[vk.DescriptorSetLayout][]vk.DescriptorSetLayoutBinding
	pipelineSets [][]vk.DescriptorSetLayout
	push         []vk.PushConstantRange

	setsAllocated int
	poolResets    int
	updates       [][]DescriptorWrite

	buffers   map[vk.Buffer][]byte
	destroyed map[string]int
	names     map[interface{}]string

	submits      int
	fenceWaits   int
	fencesMade   int
	failSubmit   bool
	graphics     []vk.GraphicsPipelineCreateInfo
	commands     []string
	traceRegions []StridedRegion

	rt *fakeRayTracing
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		setLayouts: make(map[vk.DescriptorSetLayout][]vk.DescriptorSetLayoutBinding),
		buffers:    make(map[vk.Buffer][]byte),
		destroyed:  make(map[string]int),
		names:      make(map[interface{}]string),
	}
}

func (d *fakeDevice) CreateDescriptorSetLayout(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	h := vk.DescriptorSetLayout(fakeHandle())
	d.setLayouts[h] = bindings
	return h, nil
}

func (d *fakeDevice) DestroyDescriptorSetLayout(vk.DescriptorSetLayout) { d.destroyed["set layout"]++ }

func (d *fakeDevice) CreatePipelineLayout(sets []vk.DescriptorSetLayout, push []vk.PushConstantRange) (vk.PipelineLayout, error) {
	d.pipelineSets = append(d.pipelineSets, sets)
	d.push = push
	return vk.PipelineLayout(fakeHandle()), nil
}

func (d *fakeDevice) DestroyPipelineLayout(vk.PipelineLayout) { d.destroyed["pipeline layout"]++ }

func (d *fakeDevice) CreateDescriptorPool(uint32, []vk.DescriptorPoolSize) (vk.DescriptorPool, error) {
	return vk.DescriptorPool(fakeHandle()), nil
}

func (d *fakeDevice) ResetDescriptorPool(vk.DescriptorPool) error {
	d.poolResets++
	return nil
}

func (d *fakeDevice) DestroyDescriptorPool(vk.DescriptorPool) { d.destroyed["descriptor pool"]++ }

func (d *fakeDevice) AllocateDescriptorSet(vk.DescriptorPool, vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	d.setsAllocated++
	return vk.DescriptorSet(fakeHandle()), nil
}

func (d *fakeDevice) UpdateDescriptorSets(writes []DescriptorWrite) {
	d.updates = append(d.updates, append([]DescriptorWrite(nil), writes...))
}

func (d *fakeDevice) CreateShaderModule([]byte) (vk.ShaderModule, error) {
	return vk.ShaderModule(fakeHandle()), nil
}

func (d *fakeDevice) DestroyShaderModule(vk.ShaderModule) { d.destroyed["shader module"]++ }

func (d *fakeDevice) CreateRenderPass(*vk.RenderPassCreateInfo) (vk.RenderPass, error) {
	return vk.RenderPass(fakeHandle()), nil
}

func (d *fakeDevice) DestroyRenderPass(vk.RenderPass) { d.destroyed["render pass"]++ }

func (d *fakeDevice) CreateFramebuffer(*vk.FramebufferCreateInfo) (vk.Framebuffer, error) {
	return vk.Framebuffer(fakeHandle()), nil
}

func (d *fakeDevice) DestroyFramebuffer(vk.Framebuffer) { d.destroyed["framebuffer"]++ }

func (d *fakeDevice) CreateGraphicsPipeline(info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, error) {
	d.graphics = append(d.graphics, *info)
	return vk.Pipeline(fakeHandle()), nil
}

func (d *fakeDevice) CreateComputePipeline(*vk.ComputePipelineCreateInfo) (vk.Pipeline, error) {
	return vk.Pipeline(fakeHandle()), nil
}

func (d *fakeDevice) DestroyPipeline(vk.Pipeline) { d.destroyed["pipeline"]++ }

func (d *fakeDevice) CreateBuffer(info *vk.BufferCreateInfo, _ vk.MemoryPropertyFlagBits) (BufferAllocation, error) {
	buf := vk.Buffer(fakeHandle())
	d.buffers[buf] = make([]byte, info.Size)
	return BufferAllocation{
		Buffer:  buf,
		Memory:  vk.DeviceMemory(fakeHandle()),
		Size:    uint64(info.Size),
		Address: 0x10000 * uint64(len(d.buffers)),
	}, nil
}

func (d *fakeDevice) WriteBuffer(buf BufferAllocation, offset uint64, data []byte) error {
	copy(d.buffers[buf.Buffer][offset:], data)
	return nil
}

func (d *fakeDevice) DestroyBuffer(buf BufferAllocation) {
	delete(d.buffers, buf.Buffer)
	d.destroyed["buffer"]++
}

func (d *fakeDevice) CreateImage(*vk.ImageCreateInfo, vk.ImageAspectFlagBits) (ImageAllocation, error) {
	return ImageAllocation{
		Image:  vk.Image(fakeHandle()),
		Memory: vk.DeviceMemory(fakeHandle()),
		View:   vk.ImageView(fakeHandle()),
	}, nil
}

func (d *fakeDevice) DestroyImage(ImageAllocation) { d.destroyed["image"]++ }

func (d *fakeDevice) CreateSampler(*vk.SamplerCreateInfo) (vk.Sampler, error) {
	return vk.Sampler(fakeHandle()), nil
}

func (d *fakeDevice) DestroySampler(vk.Sampler) { d.destroyed["sampler"]++ }

func (d *fakeDevice) CreateCommandPool() (vk.CommandPool, error) {
	return vk.CommandPool(fakeHandle()), nil
}

func (d *fakeDevice) ResetCommandPool(vk.CommandPool) error { return nil }
func (d *fakeDevice) DestroyCommandPool(vk.CommandPool)     { d.destroyed["command pool"]++ }

func (d *fakeDevice) AllocateCommandBuffer(vk.CommandPool) (vk.CommandBuffer, error) {
	return vk.CommandBuffer(fakeHandle()), nil
}

func (d *fakeDevice) CreateFence(bool) (vk.Fence, error) {
	d.fencesMade++
	return vk.Fence(fakeHandle()), nil
}

func (d *fakeDevice) WaitFence(ctx context.Context, _ vk.Fence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.fenceWaits++
	return nil
}

func (d *fakeDevice) ResetFence(vk.Fence) error { return nil }
func (d *fakeDevice) DestroyFence(vk.Fence)     { d.destroyed["fence"]++ }

func (d *fakeDevice) Submit([]vk.CommandBuffer, vk.Fence) error {
	if d.failSubmit {
		return core.ErrNativeCall
	}
	d.submits++
	return nil
}

func (d *fakeDevice) WaitIdle() error { return nil }

func (d *fakeDevice) SetObjectName(object interface{}, name string) { d.names[object] = name }

func (d *fakeDevice) RayTracing() (RayTracingDevice, bool) {
	if d.rt == nil {
		return nil, false
	}
	return d.rt, true
}

func (d *fakeDevice) Destroy() { d.destroyed["device"]++ }

func (d *fakeDevice) record(cmd string) { d.commands = append(d.commands, cmd) }

func (d *fakeDevice) BeginCommandBuffer(vk.CommandBuffer) error { d.record("begin"); return nil }
func (d *fakeDevice) EndCommandBuffer(vk.CommandBuffer) error   { d.record("end"); return nil }
func (d *fakeDevice) CmdBindPipeline(vk.CommandBuffer, vk.PipelineBindPoint, vk.Pipeline) {
	d.record("bind pipeline")
}
func (d *fakeDevice) CmdBindDescriptorSets(vk.CommandBuffer, vk.PipelineBindPoint, vk.PipelineLayout, uint32, []vk.DescriptorSet) {
	d.record("bind sets")
}
func (d *fakeDevice) CmdPushConstants(vk.CommandBuffer, vk.PipelineLayout, vk.ShaderStageFlags, uint32, []byte) {
	d.record("push constants")
}
func (d *fakeDevice) CmdBeginRenderPass(vk.CommandBuffer, *vk.RenderPassBeginInfo) {
	d.record("begin render pass")
}
func (d *fakeDevice) CmdEndRenderPass(vk.CommandBuffer)                    { d.record("end render pass") }
func (d *fakeDevice) CmdSetViewport(vk.CommandBuffer, vk.Viewport)         { d.record("viewport") }
func (d *fakeDevice) CmdSetScissor(vk.CommandBuffer, vk.Rect2D)            { d.record("scissor") }
func (d *fakeDevice) CmdBindVertexBuffer(vk.CommandBuffer, vk.Buffer)      { d.record("bind vertex buffer") }
func (d *fakeDevice) CmdDraw(vk.CommandBuffer, uint32, uint32)             { d.record("draw") }
func (d *fakeDevice) CmdDispatch(vk.CommandBuffer, uint32, uint32, uint32) { d.record("dispatch") }

// fakeRayTracing hands out shader group handles whose first byte is the
// group index.
type fakeRayTracing struct {
	dev    *fakeDevice
	props  RayTracingProperties
	groups []ShaderGroup
	depth  uint32
	built  int
}

func (r *fakeRayTracing) Properties() RayTracingProperties { return r.props }

func (r *fakeRayTracing) CreateRayTracingPipeline(_ vk.PipelineLayout, _ []vk.PipelineShaderStageCreateInfo, groups []ShaderGroup, depth uint32) (vk.Pipeline, error) {
	r.groups = groups
	r.depth = depth
	return vk.Pipeline(fakeHandle()), nil
}

func (r *fakeRayTracing) ShaderGroupHandles(_ vk.Pipeline, count uint32) ([]byte, error) {
	out := make([]byte, int(count)*int(r.props.HandleSize))
	for i := uint32(0); i < count; i++ {
		out[i*r.props.HandleSize] = byte(i + 1)
	}
	return out, nil
}

func (r *fakeRayTracing) CreateAccelerationStructure(geom AccelerationStructureGeometry) (AccelerationStructureAllocation, error) {
	buf, _ := r.dev.CreateBuffer(&vk.BufferCreateInfo{Size: 256}, 0)
	return AccelerationStructureAllocation{Handle: uint64(uintptr(fakeHandle())), Buffer: buf, Address: buf.Address}, nil
}

func (r *fakeRayTracing) DestroyAccelerationStructure(as AccelerationStructureAllocation) {
	r.dev.DestroyBuffer(as.Buffer)
}

func (r *fakeRayTracing) CmdBuildAccelerationStructure(vk.CommandBuffer, AccelerationStructureAllocation, AccelerationStructureGeometry) {
	r.built++
}

func (r *fakeRayTracing) CmdTraceRays(_ vk.CommandBuffer, raygen, miss, hit, _ StridedRegion, _, _, _ uint32) {
	r.dev.traceRegions = []StridedRegion{raygen, miss, hit}
	r.dev.record("trace rays")
}

func withRayTracing(d *fakeDevice) *fakeDevice {
	d.rt = &fakeRayTracing{dev: d, props: RayTracingProperties{
		HandleSize:      32,
		HandleAlignment: 32,
		BaseAlignment:   64,
		MaxRecursion:    4,
	}}
	return d
}

// fakeCompiler echoes sources back as four-byte blobs.
type fakeCompiler struct{}

func (fakeCompiler) Compile(_ context.Context, src rhi.ShaderSrc, format rhi.BytecodeFormat) (rhi.ShaderBlob, error) {
	return rhi.ShaderBlob{
		Code:   []byte{0x03, 0x02, 0x23, 0x07},
		Format: format,
		Stage:  src.Stage,
		Entry:  src.Entry,
		Path:   src.Path,
	}, nil
}

// newTestBackend wires dev to a backend whose reflector returns the stage
// reflections registered by entry name. fakeCompiler shifts no registers, so
// neither does the backend.
func newTestBackend(t *testing.T, dev *fakeDevice, stages ...rhi.StageReflection) *Backend {
	t.Helper()
	cfg := config.Default()
	cfg.Shaders.VulkanShift = config.RegisterShift{}
	b := New(cfg, dev, fakeCompiler{})
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
		return rhi.MergeReflections(out, rhi.SetSlot)
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
