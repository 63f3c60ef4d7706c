package vulkan

import (
	"context"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shadercompiler"
)

// Pipeline holds a Vulkan pipeline, its layout and the reflection it was
// built from.
type Pipeline struct {
	backend *Backend
	id      rhi.PipelineID
	name    string
	kind    rhi.PipelineKind
	ref     *rhi.ReflectionResult

	Handle    vk.Pipeline
	BindPoint vk.PipelineBindPoint
	layout    *PipelineLayout
	pass      *RenderPass
	viewport  vk.Viewport
	scissor   vk.Rect2D
	modules   []vk.ShaderModule
	registers registers
}

func (p *Pipeline) ID() rhi.PipelineID                    { return p.id }
func (p *Pipeline) Name() string                          { return p.name }
func (p *Pipeline) Kind() rhi.PipelineKind                { return p.kind }
func (p *Pipeline) Reflection() *rhi.ReflectionResult     { return p.ref }
func (p *Pipeline) DescriptorInfo() rhi.DescriptorInfoMap { return p.layout.DescriptorInfo() }

// Layout returns the pipeline layout descriptor sets are bound with.
func (p *Pipeline) Layout() *PipelineLayout { return p.layout }

func (p *Pipeline) Destroy() {
	d := p.backend.device
	if p.Handle != vk.NullPipeline {
		d.DestroyPipeline(p.Handle)
		p.Handle = vk.NullPipeline
	}
	p.destroyModules()
	if p.pass != nil {
		for k, fb := range p.backend.framebuffers {
			if k.pass == p.pass.Handle {
				fb.Destroy(d)
				delete(p.backend.framebuffers, k)
			}
		}
		p.pass.Destroy(d)
		p.pass = nil
	}
	if p.layout != nil {
		p.layout.Destroy()
		p.layout = nil
	}
}

func (p *Pipeline) destroyModules() {
	for _, m := range p.modules {
		p.backend.device.DestroyShaderModule(m)
	}
	p.modules = nil
}

// registers maps the registers callers bind to SPIR-V binding numbers. dxc
// adds the shift of the register class to every HLSL binding; GLSL, WGSL
// and precompiled stages use their numbers as is.
type registers struct {
	shift  config.RegisterShift
	hlsl   bool
	native bool
}

func (r registers) find(info rhi.DescriptorInfoMap, space, register uint32, kinds ...rhi.ResourceKind) (rhi.BindingKey, rhi.DescriptorInfo, bool) {
	for _, kind := range kinds {
		if r.hlsl {
			if key, di, ok := info.Find(space, register+shiftOf(r.shift, kind.Class()), kind); ok {
				return key, di, true
			}
		}
		if r.native {
			if key, di, ok := info.Find(space, register, kind); ok {
				return key, di, true
			}
		}
	}
	return rhi.BindingKey{}, rhi.DescriptorInfo{}, false
}

func shiftOf(s config.RegisterShift, class rhi.RegisterClass) uint32 {
	switch class {
	case rhi.ClassCBV:
		return s.B
	case rhi.ClassSRV:
		return s.T
	case rhi.ClassSampler:
		return s.S
	case rhi.ClassUAV:
		return s.U
	}
	return 0
}

// pipelineOf unwraps the Vulkan pipeline behind p.
func pipelineOf(p rhi.Pipeline) (*Pipeline, error) {
	switch v := p.(type) {
	case *Pipeline:
		return v, nil
	case *RayTracingPipeline:
		return v.Pipeline, nil
	}
	return nil, fmt.Errorf("%w: %T is not a Vulkan pipeline", core.ErrUnsupported, p)
}

func pipelineID(id rhi.PipelineID) rhi.PipelineID {
	if id == uuid.Nil {
		return rhi.NewPipelineID()
	}
	return id
}

// build compiles srcs, reflects them and creates the pipeline layout and
// shader stages. On error everything created so far is released.
func (b *Backend) build(ctx context.Context, p *Pipeline, srcs []rhi.ShaderSrc) ([]rhi.ShaderBlob, []vk.PipelineShaderStageCreateInfo, error) {
	blobs, err := shadercompiler.CompileAll(ctx, b.compiler, srcs, rhi.BytecodeSPIRV)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", p.name, err)
	}
	ref, err := b.Reflect(blobs)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", p.name, err)
	}
	p.ref = ref
	p.registers = registers{shift: b.cfg.Shaders.VulkanShift}
	for _, src := range srcs {
		if src.DetectLanguage() == rhi.LanguageHLSL {
			p.registers.hlsl = true
		} else {
			p.registers.native = true
		}
	}
	p.layout, err = newPipelineLayout(b.device, ref, p.name)
	if err != nil {
		return nil, nil, err
	}
	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(blobs))
	for _, blob := range blobs {
		module, err := b.device.CreateShaderModule(blob.Code)
		if err != nil {
			p.Destroy()
			return nil, nil, fmt.Errorf("%s: shader module %s: %w", p.name, blob.Path, err)
		}
		p.modules = append(p.modules, module)
		b.setName(module, fmt.Sprintf("%s.%s", p.name, blob.Stage))
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vkStage(blob.Stage),
			Module: module,
			PName:  VulkanSafeString(blob.Entry),
		})
	}
	return blobs, stages, nil
}

func vertexInput(ref *rhi.ReflectionResult) ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription, error) {
	if !ref.HasVertexInput() {
		return nil, nil, nil
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(ref.VertexInputs))
	for i, in := range ref.VertexInputs {
		format, err := vkFormat(in.Format)
		if err != nil {
			return nil, nil, fmt.Errorf("vertex input %q: %w", in.Name, err)
		}
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: in.Location,
			Binding:  0,
			Format:   format,
			Offset:   in.Offset,
		}
	}
	bindings := []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    ref.VertexStride,
		InputRate: vk.VertexInputRateVertex,
	}}
	return bindings, attributes, nil
}

func (b *Backend) CreateRasterPipeline(ctx context.Context, desc rhi.RasterPipelineDesc) (rhi.Pipeline, error) {
	p := &Pipeline{
		backend:   b,
		id:        pipelineID(desc.ID),
		name:      desc.Name,
		kind:      rhi.PipelineRaster,
		BindPoint: vk.PipelineBindPointGraphics,
	}
	_, stages, err := b.build(ctx, p, desc.Shaders)
	if err != nil {
		core.LogError("failed to create raster pipeline %q: %s", desc.Name, err)
		return nil, err
	}
	fail := func(err error) (rhi.Pipeline, error) {
		p.Destroy()
		core.LogError("failed to create raster pipeline %q: %s", desc.Name, err)
		return nil, err
	}
	if err := rhi.ValidateAttachments(p.ref, desc.Framebuffer); err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}
	bindings, attributes, err := vertexInput(p.ref)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}
	p.pass, err = NewRenderPass(b.device, desc.Framebuffer, desc.Name)
	if err != nil {
		return fail(err)
	}

	fb := desc.Framebuffer
	p.viewport = vk.Viewport{
		Width:    float32(fb.Width),
		Height:   float32(fb.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	p.scissor = vk.Rect2D{Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height}}

	polygon := vk.PolygonModeFill
	if desc.Wireframe {
		polygon = vk.PolygonModeLine
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:          vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp: vk.CompareOpLess,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	blend := make([]vk.PipelineColorBlendAttachmentState, len(fb.ColorFormats))
	for i := range blend {
		blend[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
			DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
				vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
		}
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}

	handle, err := b.device.CreateGraphicsPipeline(&vk.GraphicsPipelineCreateInfo{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			PViewports:    []vk.Viewport{p.viewport},
			ScissorCount:  1,
			PScissors:     []vk.Rect2D{p.scissor},
		},
		// Front faces are culled: meshes are wound counter-clockwise.
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: polygon,
			CullMode:    vk.CullModeFlags(vk.CullModeFrontBit),
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
			MinSampleShading:     1.0,
		},
		PDepthStencilState: &depthStencil,
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			LogicOp:         vk.LogicOpCopy,
			AttachmentCount: uint32(len(blend)),
			PAttachments:    blend,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamicStates)),
			PDynamicStates:    dynamicStates,
		},
		Layout:            p.layout.Handle,
		RenderPass:        p.pass.Handle,
		BasePipelineIndex: -1,
	})
	if err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}
	p.Handle = handle
	p.destroyModules()
	b.setName(handle, desc.Name)
	core.LogDebug("raster pipeline %s created (%s)", desc.Name, p.id)
	return p, nil
}

func (b *Backend) CreateComputePipeline(ctx context.Context, desc rhi.ComputePipelineDesc) (rhi.Pipeline, error) {
	p := &Pipeline{
		backend:   b,
		id:        pipelineID(desc.ID),
		name:      desc.Name,
		kind:      rhi.PipelineCompute,
		BindPoint: vk.PipelineBindPointCompute,
	}
	_, stages, err := b.build(ctx, p, []rhi.ShaderSrc{desc.Shader})
	if err != nil {
		core.LogError("failed to create compute pipeline %q: %s", desc.Name, err)
		return nil, err
	}
	handle, err := b.device.CreateComputePipeline(&vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stages[0],
		Layout: p.layout.Handle,
	})
	if err != nil {
		p.Destroy()
		core.LogError("failed to create compute pipeline %q: %s", desc.Name, err)
		return nil, fmt.Errorf("%s: %w", desc.Name, err)
	}
	p.Handle = handle
	p.destroyModules()
	b.setName(handle, desc.Name)
	core.LogDebug("compute pipeline %s created (%s)", desc.Name, p.id)
	return p, nil
}
