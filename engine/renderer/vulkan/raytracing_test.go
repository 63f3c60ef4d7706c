package vulkan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func rtStages() []rhi.StageReflection {
	return []rhi.StageReflection{
		{
			Stage: rhi.StageRayGen, Entry: "RayGen", Library: true,
			Bindings: []rhi.ShaderBinding{
				binding("scene", rhi.ResourceAccelerationStructure, 0, 0, 1),
				binding("output", rhi.ResourceStorageImage, 0, 1, 1),
			},
		},
		{Stage: rhi.StageMiss, Entry: "Miss", Library: true},
		{Stage: rhi.StageClosestHit, Entry: "ClosestHitA", Library: true},
		{Stage: rhi.StageClosestHit, Entry: "ClosestHitB", Library: true},
	}
}

func rtDesc(groups ...rhi.HitGroupDesc) rhi.RayTracingPipelineDesc {
	return rhi.RayTracingPipelineDesc{
		Name: "pathtrace",
		Shaders: []rhi.ShaderSrc{
			{Path: "rt.hlsl", Entry: "RayGen", Stage: rhi.StageRayGen},
			{Path: "rt.hlsl", Entry: "Miss", Stage: rhi.StageMiss},
			{Path: "rt.hlsl", Entry: "ClosestHitA", Stage: rhi.StageClosestHit},
			{Path: "rt.hlsl", Entry: "ClosestHitB", Stage: rhi.StageClosestHit},
		},
		HitGroups: groups,
	}
}

func TestRayTracingPipelineShaderTable(t *testing.T) {
	dev := withRayTracing(newFakeDevice())
	b := newTestBackend(t, dev, rtStages()...)

	p, err := b.CreateRayTracingPipeline(context.Background(), rtDesc())
	require.NoError(t, err)
	assert.Equal(t, 2, p.NumHitGroups())
	assert.Equal(t, []string{"HitGroup_ClosestHitA", "HitGroup_ClosestHitB"}, p.HitGroupNames())

	require.Len(t, dev.rt.groups, 4)
	assert.Equal(t, ShaderGroupGeneral, dev.rt.groups[0].Type)
	assert.Equal(t, uint32(0), dev.rt.groups[0].General)
	assert.Equal(t, ShaderGroupTriangles, dev.rt.groups[3].Type)
	assert.Equal(t, uint32(3), dev.rt.groups[3].ClosestHit)
	assert.Equal(t, ShaderUnused, dev.rt.groups[3].AnyHit)
	assert.Equal(t, uint32(1), dev.rt.depth)

	l := p.ShaderTableLayout()
	assert.Equal(t, uint64(0), l.RayGen.Offset)
	assert.Equal(t, uint64(64), l.Miss.Offset)
	assert.Equal(t, uint64(128), l.HitGroup.Offset)
	assert.Equal(t, uint64(32), l.HitGroup.Stride)
	assert.Equal(t, uint64(192), l.Size)

	native := p.ShaderTable().(*Buffer).Native()
	table := dev.buffers[native]
	require.Len(t, table, 192)
	assert.Equal(t, byte(1), table[0])
	assert.Equal(t, byte(2), table[64])
	assert.Equal(t, byte(3), table[128])
	assert.Equal(t, byte(4), table[160])

	p.Destroy()
	assert.NotContains(t, dev.buffers, native)
}

func TestRayTracingPipelineCollidingHitGroups(t *testing.T) {
	dev := withRayTracing(newFakeDevice())
	b := newTestBackend(t, dev, rtStages()...)

	p, err := b.CreateRayTracingPipeline(context.Background(), rtDesc(
		rhi.HitGroupDesc{ClosestHit: "ClosestHitA"},
		rhi.HitGroupDesc{ClosestHit: "ClosestHitA"},
		rhi.HitGroupDesc{ClosestHit: "ClosestHitB"},
	))
	require.NoError(t, err)
	assert.Equal(t, 3, p.NumHitGroups())
	assert.Len(t, dev.rt.groups, 4)

	table := dev.buffers[p.ShaderTable().(*Buffer).Native()]
	hit := p.ShaderTableLayout().HitGroup
	assert.Equal(t, uint32(3), hit.Count)
	assert.Equal(t, byte(3), table[hit.Record(0)])
	assert.Equal(t, byte(3), table[hit.Record(1)])
	assert.Equal(t, byte(4), table[hit.Record(2)])
}

func TestRayTracingRecursionIsClamped(t *testing.T) {
	captureLogs(t)
	dev := withRayTracing(newFakeDevice())
	b := newTestBackend(t, dev, rtStages()...)
	desc := rtDesc()
	desc.MaxRecursionDepth = 31

	_, err := b.CreateRayTracingPipeline(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), dev.rt.depth)
}

func TestRayTracingUnsupported(t *testing.T) {
	captureLogs(t)
	b := newTestBackend(t, newFakeDevice(), rtStages()...)

	_, err := b.CreateRayTracingPipeline(context.Background(), rtDesc())
	assert.ErrorIs(t, err, core.ErrUnsupported)
	_, err = b.CreateTlas(rhi.TlasDesc{Name: "scene"})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestAccelerationStructureBinding(t *testing.T) {
	dev := withRayTracing(newFakeDevice())
	b := newTestBackend(t, dev, rtStages()...)
	ctx := context.Background()

	vertices, err := b.CreateBuffer(rhi.BufferDesc{
		Name: "tri", Size: 36,
		Usage:  core.NewFlags(rhi.BufferUsageAccelerationStructureInput),
		Memory: rhi.MemoryUpload,
	})
	require.NoError(t, err)
	blas, err := b.CreateBlas(rhi.BlasDesc{
		Name: "tri", Vertices: vertices, VertexCount: 3, VertexStride: 12,
		VertexFormat: rhi.FormatRGB32Float, Opaque: true,
	})
	require.NoError(t, err)
	tlas, err := b.CreateTlas(rhi.TlasDesc{Name: "scene", Instances: []rhi.Instance{
		{Transform: rhi.IdentityTransform, Mask: 0xFF, Blas: blas},
	}})
	require.NoError(t, err)
	assert.True(t, tlas.IsTopLevel())
	assert.False(t, blas.IsTopLevel())

	p, err := b.CreateRayTracingPipeline(ctx, rtDesc())
	require.NoError(t, err)
	pool, err := b.CreateDescriptorPool("rt")
	require.NoError(t, err)
	set, err := pool.AllocateSet(p)
	require.NoError(t, err)

	if core.DebugBuild {
		captureLogs(t)
		assert.Panics(t, func() { set.SetAccelerationStructure(0, blas) })
	}
	set.SetAccelerationStructure(0, tlas)
	set.Update()
	require.Len(t, dev.updates, 1)
	assert.Equal(t, tlas.(*AccelerationStructure).alloc.Handle, dev.updates[0][0].AccelerationStructure)
	assert.Equal(t, descriptorTypeAccelerationStructure, dev.updates[0][0].Type)

	cmds, err := b.CreateCommandPool("rt")
	require.NoError(t, err)
	cl, err := cmds.Allocate("trace")
	require.NoError(t, err)
	require.NoError(t, cl.Begin())
	cl.BuildAccelerationStructure(blas)
	cl.BuildAccelerationStructure(tlas)
	cl.BindPipeline(p)
	cl.BindDescriptorSet(p, set)
	cl.DispatchRays(p, 640, 480, 1)
	require.NoError(t, cl.End())
	assert.Equal(t, 2, dev.rt.built)

	require.Len(t, dev.traceRegions, 3)
	raygen, miss, hit := dev.traceRegions[0], dev.traceRegions[1], dev.traceRegions[2]
	base := p.ShaderTable().GPUAddress()
	assert.Equal(t, base, raygen.Address)
	assert.Equal(t, raygen.Stride, raygen.Size)
	assert.Equal(t, base+64, miss.Address)
	assert.Equal(t, base+128, hit.Address)
	assert.Equal(t, uint64(64), hit.Size)

	tlas.Destroy()
	assert.ErrorIs(t, set.Validate(), core.ErrStaleHandle)
}
