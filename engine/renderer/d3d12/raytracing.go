package d3d12

import (
	"context"
	"fmt"
	"slices"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// RayTracingPipeline is a DXR state object and the shader table its
// identifiers were copied into.
type RayTracingPipeline struct {
	*Pipeline
	Object     StateObject
	groups     rhi.ShaderGroups
	localRoots []RootSignature
	table      *Buffer
	tableDesc  rhi.ShaderTableLayout
}

func (p *RayTracingPipeline) NumHitGroups() int                        { return len(p.groups.HitGroups) }
func (p *RayTracingPipeline) HitGroupNames() []string                  { return p.groups.HitGroupNames() }
func (p *RayTracingPipeline) ShaderTable() rhi.Buffer                  { return p.table }
func (p *RayTracingPipeline) ShaderTableLayout() rhi.ShaderTableLayout { return p.tableDesc }

func (p *RayTracingPipeline) Destroy() {
	d := p.backend.device
	if p.table != nil {
		p.table.Destroy()
		p.table = nil
	}
	if p.Object != 0 {
		d.Release(uintptr(p.Object))
		p.Object = 0
	}
	for _, rs := range p.localRoots {
		d.Release(uintptr(rs))
	}
	p.localRoots = nil
	p.Pipeline.Destroy()
}

// dispatch fills the shader table ranges of a DispatchRays call. Raygen
// covers a single record.
func (p *RayTracingPipeline) dispatch(width, height, depth uint32) DispatchRaysDesc {
	base := p.table.GPUAddress()
	l := p.tableDesc
	d := DispatchRaysDesc{
		RayGen: ShaderTableRange{Address: base + l.RayGen.Offset, Size: l.RayGen.Stride},
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	if l.Miss.Count > 0 {
		d.Miss = ShaderTableRange{Address: base + l.Miss.Offset, Size: l.Miss.Size, Stride: l.Miss.Stride}
	}
	if l.HitGroup.Count > 0 {
		d.HitGroup = ShaderTableRange{Address: base + l.HitGroup.Offset, Size: l.HitGroup.Size, Stride: l.HitGroup.Stride}
	}
	return d
}

// stateObjectDesc exports every blob from its own library and declares the
// unique hit groups.
func stateObjectDesc(blobs []rhi.ShaderBlob, sg rhi.ShaderGroups) *StateObjectDesc {
	desc := &StateObjectDesc{}
	for _, blob := range blobs {
		desc.Libraries = append(desc.Libraries, Library{Code: blob.Code, Exports: []string{blob.Entry}})
	}
	for _, g := range sg.UniqueHitGroups() {
		typ := HitGroupTriangles
		if g.Intersection != "" {
			typ = HitGroupProcedural
		}
		desc.HitGroups = append(desc.HitGroups, HitGroupExport{
			Name:         g.Name,
			Type:         typ,
			ClosestHit:   g.ClosestHit,
			AnyHit:       g.AnyHit,
			Intersection: g.Intersection,
		})
	}
	return desc
}

// localRootExports groups exports by the number of local root arguments
// they take. Exports without arguments are left out.
func localRootExports(sg rhi.ShaderGroups) map[uint32][]string {
	out := make(map[uint32][]string)
	add := func(params uint32, exports ...string) {
		if params > 0 && len(exports) > 0 {
			out[params] = append(out[params], exports...)
		}
	}
	add(sg.RayGenLocalParams, sg.RayGen...)
	add(sg.MissLocalParams, sg.Miss...)
	for _, g := range sg.UniqueHitGroups() {
		add(g.LocalRootParameters, g.Name)
	}
	return out
}

func (b *Backend) CreateRayTracingPipeline(ctx context.Context, desc rhi.RayTracingPipelineDesc) (rhi.RayTracingPipeline, error) {
	rt, err := b.rayTracing("ray tracing pipeline " + desc.Name)
	if err != nil {
		core.LogError("failed to create ray tracing pipeline %q: %s", desc.Name, err)
		return nil, err
	}
	p := &RayTracingPipeline{Pipeline: &Pipeline{
		backend: b,
		id:      pipelineID(desc.ID),
		name:    desc.Name,
		kind:    rhi.PipelineRayTracing,
	}}
	blobs, err := b.build(ctx, p.Pipeline, desc.Shaders)
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

	so := stateObjectDesc(blobs, p.groups)
	so.GlobalRoot = p.root.Handle
	locals := localRootExports(p.groups)
	counts := make([]uint32, 0, len(locals))
	for n := range locals {
		counts = append(counts, n)
	}
	slices.Sort(counts)
	for _, n := range counts {
		rs, err := newLocalRootSignature(b.device, n)
		if err != nil {
			return fail(fmt.Errorf("%s: local root signature: %w", desc.Name, err))
		}
		p.localRoots = append(p.localRoots, rs)
		so.LocalRoots = append(so.LocalRoots, LocalRootAssociation{RootSignature: rs, Exports: locals[n]})
	}

	cfg := b.cfg.RayTracing
	so.MaxPayloadSize = max(desc.MaxPayloadSize, cfg.MaxPayloadSize)
	so.MaxAttributeSize = max(desc.MaxAttributeSize, cfg.MaxAttributeSize)
	props := rt.Properties()
	recursion := desc.MaxRecursionDepth
	if recursion == 0 {
		recursion = cfg.MaxRecursionDepth
	}
	limit := props.MaxRecursion
	if limit == 0 {
		limit = MaxRecursionDepth
	}
	if recursion > limit {
		core.LogWarn("%s: recursion depth %d clamped to %d", desc.Name, recursion, limit)
		recursion = limit
	}
	so.MaxRecursionDepth = recursion

	p.Object, err = rt.CreateStateObject(so)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", desc.Name, err))
	}
	b.setName(uintptr(p.Object), desc.Name)

	p.tableDesc = rhi.NewShaderTableLayout(p.groups, props.IdentifierSize, props.RecordAlignment, props.TableAlignment)
	data, err := rhi.FillShaderTable(p.tableDesc, p.groups, func(export string) ([]byte, error) {
		id, err := rt.ShaderIdentifier(p.Object, export)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrEntryPointNotFound, export, err)
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
		desc.Name, len(p.groups.RayGen), len(p.groups.Miss), len(p.groups.HitGroups), len(so.HitGroups))
	return p, nil
}
