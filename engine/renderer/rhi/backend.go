package rhi

import (
	"context"

	"github.com/spaghettifunk/anima-rhi/engine/config"
)

// GraphicsBackend is the capability set implemented once per native API.
// Construction calls return errors wrapping core sentinels; nothing in a
// backend locks, recording belongs to one goroutine.
type GraphicsBackend interface {
	Kind() config.Backend
	// BytecodeFormat is what the backend's reflector and pipelines consume.
	BytecodeFormat() BytecodeFormat

	Reflect(blobs []ShaderBlob) (*ReflectionResult, error)

	CreateRasterPipeline(ctx context.Context, desc RasterPipelineDesc) (Pipeline, error)
	CreateComputePipeline(ctx context.Context, desc ComputePipelineDesc) (Pipeline, error)
	CreateRayTracingPipeline(ctx context.Context, desc RayTracingPipelineDesc) (RayTracingPipeline, error)

	CreateDescriptorPool(name string) (DescriptorPool, error)
	CreateCommandPool(name string) (CommandPool, error)

	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateTexture(desc TextureDesc) (Texture, error)
	CreateSampler(desc SamplerDesc) (Sampler, error)
	CreateBlas(desc BlasDesc) (AccelerationStructure, error)
	CreateTlas(desc TlasDesc) (AccelerationStructure, error)

	// Submit executes closed command lists and returns a value Wait accepts.
	Submit(lists ...CommandList) (uint64, error)
	Wait(ctx context.Context, value uint64) error
	WaitIdle() error
	Shutdown() error
}

type CommandPool interface {
	Allocate(name string) (CommandList, error)
	// Reset recycles every list of the pool. Their GPU work must be complete.
	Reset() error
	Destroy()
}

// RenderTargets are the attachments of one render pass.
type RenderTargets struct {
	Color      []Texture
	Depth      Texture
	ClearColor [4]float32
	ClearDepth float32
}

type CommandList interface {
	Begin() error
	End() error

	BindPipeline(p Pipeline)
	// BindDescriptorSet binds an updated set with the layout of p.
	BindDescriptorSet(p Pipeline, set DescriptorSet)
	PushConstants(p Pipeline, offset uint32, data []byte)

	BeginRenderPass(p Pipeline, targets RenderTargets) error
	EndRenderPass()
	BindVertexBuffer(buf Buffer, stride uint32)
	Draw(vertexCount, instanceCount uint32)

	Dispatch(x, y, z uint32)
	DispatchRays(p RayTracingPipeline, width, height, depth uint32)
	BuildAccelerationStructure(as AccelerationStructure)

	SetName(name string)
}
