package vulkan

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// RayTracingPipeline owns the pipeline and the shader binding table its
// group handles were copied into.
type RayTracingPipeline struct {
	*Pipeline
	groups    rhi.ShaderGroups
	table     *Buffer
	tableDesc rhi.ShaderTableLayout
}

func (p *RayTracingPipeline) NumHitGroups() int                        { return len(p.groups.HitGroups) }
func (p *RayTracingPipeline) HitGroupNames() []string                  { return p.groups.HitGroupNames() }
func (p *RayTracingPipeline) ShaderTable() rhi.Buffer                  { return p.table }
func (p *RayTracingPipeline) ShaderTableLayout() rhi.ShaderTableLayout { return p.tableDesc }

func (p *RayTracingPipeline) Destroy() {
	if p.table != nil {
		p.table.Destroy()
		p.table = nil
	}
	p.Pipeline.Destroy()
}

// regions returns the raygen, miss and hit regions of a trace rays call.
// Raygen covers a single record.
func (p *RayTracingPipeline) regions() (raygen, miss, hit StridedRegion) {
	base := p.table.GPUAddress()
	l := p.tableDesc
	raygen = StridedRegion{Address: base + l.RayGen.Offset, Stride: l.RayGen.Stride, Size: l.RayGen.Stride}
	if l.Miss.Count > 0 {
		miss = StridedRegion{Address: base + l.Miss.Offset, Stride: l.Miss.Stride, Size: l.Miss.Size}
	}
	if l.HitGroup.Count > 0 {
		hit = StridedRegion{Address: base + l.HitGroup.Offset, Stride: l.HitGroup.Stride, Size: l.HitGroup.Size}
	}
	return raygen, miss, hit
}

// shaderGroups lists raygen, miss and unique hit groups in that order with
// the export name of each.
func shaderGroups(sg rhi.ShaderGroups, stageOf map[string]uint32) ([]ShaderGroup, []string) {
	var (
		groups []ShaderGroup
		names  []string
	)
	general := func(entry string) {
		groups = append(groups, ShaderGroup{
			Type:         ShaderGroupGeneral,
			General:      stageOf[entry],
			ClosestHit:   ShaderUnused,
			AnyHit:       ShaderUnused,
			Intersection: ShaderUnused,
		})
		names = append(names, entry)
	}
	for _, e := range sg.RayGen {
		general(e)
	}
	for _, e := range sg.Miss {
		general(e)
	}
	index := func(entry string) uint32 {
		if entry == "" {
			return ShaderUnused
		}
		return stageOf[entry]
	}
	for _, g := range sg.UniqueHitGroups() {
		typ := ShaderGroupTriangles
		if g.Intersection != "" {
			typ = ShaderGroupProcedural
		}
		groups = append(groups, ShaderGroup{
			Type:         typ,
			General:      ShaderUnused,
			ClosestHit:   index(g.ClosestHit),
			AnyHit:       index(g.AnyHit),
			Intersection: index(g.Intersection),
		})
		names = append(names, g.Name)
	}
	return groups, names
}

func (b *Backend) CreateRayTracingPipeline(ctx context.Context, desc rhi.RayTracingPipelineDesc) (rhi.RayTracingPipeline, error) {
	rt, err := b.rayTracing("ray tracing pipeline " + desc.Name)
	if err != nil {
		core.LogError("failed to create ray tracing pipeline %q: %s", desc.Name, err)
		return nil, err
	}
	p := &RayTracingPipeline{Pipeline: &Pipeline{
		backend:   b,
		id:        pipelineID(desc.ID),
		name:      desc.Name,
		kind:      rhi.PipelineRayTracing,
		BindPoint: pipelineBindPointRayTracing,
	}}
	blobs, stages, err := b.build(ctx, p.Pipeline, desc.Shaders)
	if err != nil {
		core.LogError("failed to create ray tracing pipeline %q: %s", desc.Name, err)
		return nil, err
	}
	fail := func(err error) (rhi.RayTracingPipeline, error) {
		p.Destroy()
		core.LogError("failed to create ray tracing pipeline %q: %s", desc.Name, err)
		return nil, err
	}

	p.groups, err = rhi.BuildShaderGroups(blobs, desc.HitGroups, desc.LocalRootParameters)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}
	stageOf := make(map[string]uint32, len(blobs))
	for i, blob := range blobs {
		stageOf[blob.Entry] = uint32(i)
	}
	groups, names := shaderGroups(p.groups, stageOf)

	props := rt.Properties()
	recursion := desc.MaxRecursionDepth
	if recursion == 0 {
		recursion = b.cfg.RayTracing.MaxRecursionDepth
	}
	if props.MaxRecursion > 0 && recursion > props.MaxRecursion {
		core.LogWarn("%s: recursion depth %d clamped to %d", desc.Name, recursion, props.MaxRecursion)
		recursion = props.MaxRecursion
	}

	p.Handle, err = rt.CreateRayTracingPipeline(p.layout.Handle, stages, groups, recursion)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}
	p.destroyModules()
	b.setName(p.Handle, desc.Name)

	handles, err := rt.ShaderGroupHandles(p.Handle, uint32(len(groups)))
	if err != nil {
		return fail(fmt.Errorf("%s: shader group handles: %w", desc.Name, err))
	}
	identifiers := make(map[string][]byte, len(names))
	size := int(props.HandleSize)
	for i, name := range names {
		if (i+1)*size > len(handles) {
			return fail(fmt.Errorf("%w: %s: %d bytes of shader group handles for %d groups", core.ErrNativeCall, desc.Name, len(handles), len(groups)))
		}
		identifiers[name] = handles[i*size : (i+1)*size]
	}

	p.tableDesc = rhi.NewShaderTableLayout(p.groups, props.HandleSize, props.HandleAlignment, props.BaseAlignment)
	data, err := rhi.FillShaderTable(p.tableDesc, p.groups, func(export string) ([]byte, error) {
		id, ok := identifiers[export]
		if !ok {
			return nil, fmt.Errorf("%w: no shader group handle for %s", core.ErrEntryPointNotFound, export)
		}
		return id, nil
	})
	if err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}
	p.table, err = b.createBuffer(rhi.BufferDesc{
		Name:   desc.Name + ".sbt",
		Size:   p.tableDesc.Size,
		Usage:  core.NewFlags(rhi.BufferUsageShaderTable),
		Memory: rhi.MemoryUpload,
	})
	if err != nil {
		return fail(err)
	}
	if err := p.table.Write(0, data); err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}

	core.LogDebug("ray tracing pipeline %s: %d raygen, %d miss, %d hit groups (%d unique)",
		desc.Name, len(p.groups.RayGen), len(p.groups.Miss), len(p.groups.HitGroups), len(groups)-len(p.groups.RayGen)-len(p.groups.Miss))
	return p, nil
}
