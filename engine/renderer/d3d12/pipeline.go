package d3d12

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shadercompiler"
)

// Pipeline holds a pipeline state object, its root signature and the
// reflection it was built from.
type Pipeline struct {
	backend *Backend
	id      rhi.PipelineID
	name    string
	kind    rhi.PipelineKind
	ref     *rhi.ReflectionResult

	State       PipelineState
	root        *RootLayout
	framebuffer rhi.FramebufferDesc
	viewport    Viewport
	scissor     Rect
}

func (p *Pipeline) ID() rhi.PipelineID                    { return p.id }
func (p *Pipeline) Name() string                          { return p.name }
func (p *Pipeline) Kind() rhi.PipelineKind                { return p.kind }
func (p *Pipeline) Reflection() *rhi.ReflectionResult     { return p.ref }
func (p *Pipeline) DescriptorInfo() rhi.DescriptorInfoMap { return p.root.DescriptorInfo() }

// RootLayout returns the root signature descriptor sets are bound with.
func (p *Pipeline) RootLayout() *RootLayout { return p.root }

func (p *Pipeline) compute() bool {
	return p.kind != rhi.PipelineRaster
}

func (p *Pipeline) Destroy() {
	if p.State != 0 {
		p.backend.device.Release(uintptr(p.State))
		p.State = 0
	}
	if p.root != nil {
		p.root.Destroy()
		p.root = nil
	}
}

// pipelineOf unwraps the D3D12 pipeline behind p.
func pipelineOf(p rhi.Pipeline) (*Pipeline, error) {
	switch v := p.(type) {
	case *Pipeline:
		return v, nil
	case *RayTracingPipeline:
		return v.Pipeline, nil
	}
	return nil, fmt.Errorf("%w: %T is not a D3D12 pipeline", core.ErrUnsupported, p)
}

func pipelineID(id rhi.PipelineID) rhi.PipelineID {
	if id == uuid.Nil {
		return rhi.NewPipelineID()
	}
	return id
}

// build compiles srcs, reflects them and creates the root signature.
func (b *Backend) build(ctx context.Context, p *Pipeline, srcs []rhi.ShaderSrc) ([]rhi.ShaderBlob, error) {
	blobs, err := shadercompiler.CompileAll(ctx, b.compiler, srcs, rhi.BytecodeDXIL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	ref, err := b.Reflect(blobs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	p.ref = ref
	p.root, err = newRootLayout(b.device, ref, p.name)
	if err != nil {
		return nil, err
	}
	b.setName(uintptr(p.root.Handle), p.name)
	return blobs, nil
}

func inputLayout(ref *rhi.ReflectionResult) ([]InputElement, error) {
	elements := make([]InputElement, 0, len(ref.VertexInputs))
	for _, in := range ref.VertexInputs {
		format, err := dxgiFormat(in.Format)
		if err != nil {
			return nil, fmt.Errorf("vertex input %q: %w", in.Name, err)
		}
		elements = append(elements, InputElement{
			SemanticName:  in.Name,
			SemanticIndex: in.SemanticIndex,
			Format:        format,
			Offset:        in.Offset,
		})
	}
	return elements, nil
}

func stageCode(blobs []rhi.ShaderBlob, stage rhi.ShaderStage) []byte {
	for _, blob := range blobs {
		if blob.Stage == stage {
			return blob.Code
		}
	}
	return nil
}

func (b *Backend) CreateRasterPipeline(ctx context.Context, desc rhi.RasterPipelineDesc) (rhi.Pipeline, error) {
	p := &Pipeline{
		backend:     b,
		id:          pipelineID(desc.ID),
		name:        desc.Name,
		kind:        rhi.PipelineRaster,
		framebuffer: desc.Framebuffer,
	}
	blobs, err := b.build(ctx, p, desc.Shaders)
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
	layout, err := inputLayout(p.ref)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}

	fb := desc.Framebuffer
	pd := &GraphicsPipelineDesc{
		RootSignature: p.root.Handle,
		VS:            stageCode(blobs, rhi.StageVertex),
		PS:            stageCode(blobs, rhi.StageFragment),
		InputLayout:   layout,
		DepthTest:     desc.DepthTest,
		DepthWrite:    desc.DepthWrite,
		Wireframe:     desc.Wireframe,
		// Front faces are culled: meshes are wound counter-clockwise.
		CullFront:             true,
		FrontCounterClockwise: true,
	}
	if pd.VS == nil {
		return fail(fmt.Errorf("%w: %s has no vertex shader", core.ErrEntryPointNotFound, desc.Name))
	}
	for _, f := range fb.ColorFormats {
		format, err := dxgiFormat(f)
		if err != nil {
			return fail(fmt.Errorf("%s: color target: %w", desc.Name, err))
		}
		pd.RTVFormats = append(pd.RTVFormats, format)
	}
	if fb.HasDepth() {
		if pd.DSVFormat, err = dxgiFormat(fb.DepthFormat); err != nil {
			return fail(fmt.Errorf("%s: depth target: %w", desc.Name, err))
		}
	}

	p.viewport = Viewport{Width: float32(fb.Width), Height: float32(fb.Height), MaxDepth: 1}
	p.scissor = Rect{Right: int32(fb.Width), Bottom: int32(fb.Height)}

	p.State, err = b.device.CreateGraphicsPipeline(pd)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}
	b.setName(uintptr(p.State), desc.Name)
	core.LogDebug("raster pipeline %s created (%s)", desc.Name, p.id)
	return p, nil
}

func (b *Backend) CreateComputePipeline(ctx context.Context, desc rhi.ComputePipelineDesc) (rhi.Pipeline, error) {
	p := &Pipeline{
		backend: b,
		id:      pipelineID(desc.ID),
		name:    desc.Name,
		kind:    rhi.PipelineCompute,
	}
	blobs, err := b.build(ctx, p, []rhi.ShaderSrc{desc.Shader})
	if err != nil {
		core.LogError("failed to create compute pipeline %q: %s", desc.Name, err)
		return nil, err
	}
	p.State, err = b.device.CreateComputePipeline(p.root.Handle, blobs[0].Code)
	if err != nil {
		p.Destroy()
		core.LogError("failed to create compute pipeline %q: %s", desc.Name, err)
		return nil, fmt.Errorf("%s: %w", desc.Name, err)
	}
	b.setName(uintptr(p.State), desc.Name)
	core.LogDebug("compute pipeline %s created (%s)", desc.Name, p.id)
	return p, nil
}
