package vulkan

import (
	"context"

	vk "github.com/goki/vulkan"
)

// Device is the slice of the Vulkan API the backend drives. VulkanDevice
// implements it on top of a real logical device; tests substitute a fake.
type Device interface {
	Recorder

	CreateDescriptorSetLayout(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout)
	CreatePipelineLayout(sets []vk.DescriptorSetLayout, push []vk.PushConstantRange) (vk.PipelineLayout, error)
	DestroyPipelineLayout(layout vk.PipelineLayout)

	CreateDescriptorPool(maxSets uint32, sizes []vk.DescriptorPoolSize) (vk.DescriptorPool, error)
	ResetDescriptorPool(pool vk.DescriptorPool) error
	DestroyDescriptorPool(pool vk.DescriptorPool)
	AllocateDescriptorSet(pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, error)
	// UpdateDescriptorSets issues every write in a single native call.
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreateShaderModule(code []byte) (vk.ShaderModule, error)
	DestroyShaderModule(module vk.ShaderModule)
	CreateRenderPass(info *vk.RenderPassCreateInfo) (vk.RenderPass, error)
	DestroyRenderPass(pass vk.RenderPass)
	CreateFramebuffer(info *vk.FramebufferCreateInfo) (vk.Framebuffer, error)
	DestroyFramebuffer(fb vk.Framebuffer)
	CreateGraphicsPipeline(info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, error)
	CreateComputePipeline(info *vk.ComputePipelineCreateInfo) (vk.Pipeline, error)
	DestroyPipeline(p vk.Pipeline)

	CreateBuffer(info *vk.BufferCreateInfo, memory vk.MemoryPropertyFlagBits) (BufferAllocation, error)
	WriteBuffer(buf BufferAllocation, offset uint64, data []byte) error
	DestroyBuffer(buf BufferAllocation)
	CreateImage(info *vk.ImageCreateInfo, aspect vk.ImageAspectFlagBits) (ImageAllocation, error)
	DestroyImage(img ImageAllocation)
	CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error)
	DestroySampler(s vk.Sampler)

	CreateCommandPool() (vk.CommandPool, error)
	ResetCommandPool(pool vk.CommandPool) error
	DestroyCommandPool(pool vk.CommandPool)
	AllocateCommandBuffer(pool vk.CommandPool) (vk.CommandBuffer, error)

	CreateFence(signaled bool) (vk.Fence, error)
	WaitFence(ctx context.Context, fence vk.Fence) error
	ResetFence(fence vk.Fence) error
	DestroyFence(fence vk.Fence)
	Submit(buffers []vk.CommandBuffer, fence vk.Fence) error
	WaitIdle() error

	// SetObjectName labels a native handle for debugging.
	SetObjectName(object interface{}, name string)
	// RayTracing returns the ray tracing extension of the device, if any.
	RayTracing() (RayTracingDevice, bool)
	Destroy()
}

// Recorder records commands into a command buffer.
type Recorder interface {
	BeginCommandBuffer(cb vk.CommandBuffer) error
	EndCommandBuffer(cb vk.CommandBuffer) error
	CmdBindPipeline(cb vk.CommandBuffer, point vk.PipelineBindPoint, p vk.Pipeline)
	CmdBindDescriptorSets(cb vk.CommandBuffer, point vk.PipelineBindPoint, layout vk.PipelineLayout, first uint32, sets []vk.DescriptorSet)
	CmdPushConstants(cb vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte)
	CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo)
	CmdEndRenderPass(cb vk.CommandBuffer)
	CmdSetViewport(cb vk.CommandBuffer, viewport vk.Viewport)
	CmdSetScissor(cb vk.CommandBuffer, scissor vk.Rect2D)
	CmdBindVertexBuffer(cb vk.CommandBuffer, buf vk.Buffer)
	CmdDraw(cb vk.CommandBuffer, vertexCount, instanceCount uint32)
	CmdDispatch(cb vk.CommandBuffer, x, y, z uint32)
}

// DescriptorWrite is one array element written by a descriptor set flush.
// Exactly one of Buffer, Image or AccelerationStructure is set.
type DescriptorWrite struct {
	Set                   vk.DescriptorSet
	Binding               uint32
	Element               uint32
	Type                  vk.DescriptorType
	Buffer                *vk.DescriptorBufferInfo
	Image                 *vk.DescriptorImageInfo
	AccelerationStructure uint64
}

type BufferAllocation struct {
	Buffer vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	// Address is the buffer device address, 0 when the device has none.
	Address uint64
}

type ImageAllocation struct {
	Image  vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
}

// ShaderGroupType follows VkRayTracingShaderGroupTypeKHR.
type ShaderGroupType uint32

const (
	ShaderGroupGeneral ShaderGroupType = iota
	ShaderGroupTriangles
	ShaderGroupProcedural
)

// ShaderUnused marks an absent shader of a group.
const ShaderUnused = ^uint32(0)

// ShaderGroup references stages of a ray tracing pipeline by index.
type ShaderGroup struct {
	Type         ShaderGroupType
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

type RayTracingProperties struct {
	HandleSize      uint32
	HandleAlignment uint32
	BaseAlignment   uint32
	MaxRecursion    uint32
}

// AccelerationStructureGeometry is the build input of one acceleration
// structure: triangles for a BLAS, an instance buffer for a TLAS.
type AccelerationStructureGeometry struct {
	TopLevel bool

	VertexAddress uint64
	VertexStride  uint32
	VertexCount   uint32
	VertexFormat  vk.Format
	IndexAddress  uint64
	IndexCount    uint32
	Opaque        bool

	InstanceAddress uint64
	InstanceCount   uint32
}

type AccelerationStructureAllocation struct {
	Handle  uint64
	Buffer  BufferAllocation
	Address uint64
}

// StridedRegion is one shader binding table range of a trace rays call.
type StridedRegion struct {
	Address uint64
	Stride  uint64
	Size    uint64
}

// RayTracingDevice is the KHR ray tracing pipeline and acceleration
// structure extension set.
type RayTracingDevice interface {
	Properties() RayTracingProperties
	CreateRayTracingPipeline(layout vk.PipelineLayout, stages []vk.PipelineShaderStageCreateInfo, groups []ShaderGroup, maxRecursion uint32) (vk.Pipeline, error)
	// ShaderGroupHandles returns count handles of HandleSize bytes, packed.
	ShaderGroupHandles(p vk.Pipeline, count uint32) ([]byte, error)
	CreateAccelerationStructure(geom AccelerationStructureGeometry) (AccelerationStructureAllocation, error)
	DestroyAccelerationStructure(as AccelerationStructureAllocation)
	CmdBuildAccelerationStructure(cb vk.CommandBuffer, as AccelerationStructureAllocation, geom AccelerationStructureGeometry)
	CmdTraceRays(cb vk.CommandBuffer, raygen, miss, hit, callable StridedRegion, width, height, depth uint32)
}
