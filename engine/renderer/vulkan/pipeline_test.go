package vulkan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func meshStages() []rhi.StageReflection {
	return []rhi.StageReflection{
		{
			Stage: rhi.StageVertex,
			Entry: "VSMain",
			Bindings: []rhi.ShaderBinding{
				binding("camera", rhi.ResourceConstantBuffer, 0, 0, 1),
			},
			VertexInputs: []rhi.VertexAttribute{
				{Name: "POSITION", Location: 0, Format: rhi.FormatRGB32Float, Offset: 0},
				{Name: "TEXCOORD", Location: 1, Format: rhi.FormatRG32Float, Offset: 12},
			},
		},
		{
			Stage: rhi.StageFragment,
			Entry: "PSMain",
			Bindings: []rhi.ShaderBinding{
				binding("camera", rhi.ResourceConstantBuffer, 0, 0, 1),
				binding("albedo", rhi.ResourceTexture, 0, 1, 1),
			},
			ColorOutputs: []rhi.ColorAttachment{{Location: 0, Format: rhi.FormatRGBA8Unorm, Name: "SV_Target0"}},
		},
	}
}

func meshDesc(colors ...rhi.Format) rhi.RasterPipelineDesc {
	return rhi.RasterPipelineDesc{
		Name: "mesh",
		Shaders: []rhi.ShaderSrc{
			{Path: "mesh.hlsl", Entry: "VSMain", Stage: rhi.StageVertex},
			{Path: "mesh.hlsl", Entry: "PSMain", Stage: rhi.StageFragment},
		},
		Framebuffer: rhi.FramebufferDesc{
			ColorFormats: colors,
			DepthFormat:  rhi.FormatD32Float,
			Width:        640,
			Height:       480,
		},
		DepthTest:  true,
		DepthWrite: true,
	}
}

func TestCreateRasterPipeline(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBackend(t, dev, meshStages()...)

	p, err := b.CreateRasterPipeline(context.Background(), meshDesc(rhi.FormatRGBA8Unorm))
	require.NoError(t, err)
	assert.Equal(t, rhi.PipelineRaster, p.Kind())
	assert.NotEqual(t, rhi.PipelineID{}, p.ID())

	require.Len(t, dev.graphics, 1)
	vi := dev.graphics[0].PVertexInputState
	require.Len(t, vi.PVertexBindingDescriptions, 1)
	assert.Equal(t, uint32(20), vi.PVertexBindingDescriptions[0].Stride)
	assert.Len(t, vi.PVertexAttributeDescriptions, 2)
	assert.Equal(t, 2, dev.destroyed["shader module"])

	camera := p.Reflection().Bindings[0]
	assert.True(t, camera.Stages.Has(rhi.StageVertex))
	assert.True(t, camera.Stages.Has(rhi.StageFragment))

	p.Destroy()
	assert.Equal(t, 1, dev.destroyed["pipeline"])
	assert.Equal(t, 1, dev.destroyed["render pass"])
	assert.Equal(t, 1, dev.destroyed["pipeline layout"])
}

func TestCreateRasterPipelineAttachmentMismatch(t *testing.T) {
	captureLogs(t)
	dev := newFakeDevice()
	b := newTestBackend(t, dev, meshStages()...)

	_, err := b.CreateRasterPipeline(context.Background(), meshDesc(rhi.FormatRGBA8Unorm, rhi.FormatRGBA16Float))
	assert.ErrorIs(t, err, core.ErrAttachmentMismatch)
	assert.Empty(t, dev.graphics)
	assert.Equal(t, 2, dev.destroyed["shader module"])
	assert.Equal(t, 1, dev.destroyed["pipeline layout"])
}

func TestCreatePipelineWithConflictingStages(t *testing.T) {
	captureLogs(t)
	stages := meshStages()
	stages[1].Bindings[0].Count = 2
	b := newTestBackend(t, newFakeDevice(), stages...)

	_, err := b.CreateRasterPipeline(context.Background(), meshDesc(rhi.FormatRGBA8Unorm))
	assert.ErrorIs(t, err, core.ErrBindingConflict)
}

func renderTargets(t *testing.T, b *Backend) rhi.RenderTargets {
	t.Helper()
	color, err := b.CreateTexture(rhi.TextureDesc{
		Name: "hdr", Width: 640, Height: 480, Format: rhi.FormatRGBA8Unorm,
		Usage: core.NewFlags(rhi.TextureUsageRenderTarget, rhi.TextureUsageSampled),
	})
	require.NoError(t, err)
	depth, err := b.CreateTexture(rhi.TextureDesc{
		Name: "depth", Width: 640, Height: 480, Format: rhi.FormatD32Float,
		Usage: core.NewFlags(rhi.TextureUsageDepthStencil),
	})
	require.NoError(t, err)
	return rhi.RenderTargets{Color: []rhi.Texture{color}, Depth: depth, ClearDepth: 1}
}

func TestRecordAndSubmit(t *testing.T) {
	logs := captureLogs(t)
	dev := newFakeDevice()
	b := newTestBackend(t, dev, meshStages()...)
	ctx := context.Background()

	p, err := b.CreateRasterPipeline(ctx, meshDesc(rhi.FormatRGBA8Unorm))
	require.NoError(t, err)
	targets := renderTargets(t, b)
	pool, err := b.CreateDescriptorPool("frame")
	require.NoError(t, err)
	set, err := pool.AllocateSet(p)
	require.NoError(t, err)
	vertices, err := b.CreateBuffer(rhi.BufferDesc{Name: "quad", Size: 80, Usage: core.NewFlags(rhi.BufferUsageVertex)})
	require.NoError(t, err)

	cmds, err := b.CreateCommandPool("main")
	require.NoError(t, err)
	cl, err := cmds.Allocate("frame0")
	require.NoError(t, err)

	require.NoError(t, cl.Begin())
	cl.BindPipeline(p)
	cl.BindDescriptorSet(p, set)
	assert.Contains(t, logs.String(), "call Update first")

	err = cl.BeginRenderPass(p, rhi.RenderTargets{Color: targets.Color})
	assert.ErrorIs(t, err, core.ErrAttachmentMismatch)
	cl.Draw(3, 1)
	assert.NotContains(t, dev.commands, "draw")

	set.Update()
	cl.BindDescriptorSet(p, set)
	require.NoError(t, cl.BeginRenderPass(p, targets))
	cl.BindVertexBuffer(vertices, 20)
	cl.Draw(3, 1)
	cl.EndRenderPass()
	require.NoError(t, cl.End())

	assert.Equal(t, []string{
		"begin", "bind pipeline", "bind sets",
		"begin render pass", "viewport", "scissor",
		"bind vertex buffer", "draw", "end render pass", "end",
	}, dev.commands)

	value, err := b.Submit(cl)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), value)
	assert.Equal(t, CommandBufferSubmitted, cl.(*CommandList).State)

	_, err = b.Submit(cl)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)

	require.NoError(t, b.Wait(ctx, value))
	assert.Equal(t, 1, dev.fenceWaits)
	assert.ErrorIs(t, b.Wait(ctx, 7), core.ErrInvalidHandle)

	// Framebuffers are cached per target set.
	require.NoError(t, cmds.Reset())
	require.NoError(t, cl.Begin())
	require.NoError(t, cl.BeginRenderPass(p, targets))
	cl.EndRenderPass()
	require.NoError(t, cl.End())
	assert.Len(t, b.framebuffers, 1)

	_, err = b.Submit(cl)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.fencesMade)

	require.NoError(t, b.Shutdown())
	assert.Equal(t, 1, dev.destroyed["framebuffer"])
	assert.Equal(t, 1, dev.destroyed["device"])
}

func TestPushConstantsRange(t *testing.T) {
	logs := captureLogs(t)
	dev := newFakeDevice()
	b, p := newCullPipeline(t, dev)
	cmds, err := b.CreateCommandPool("compute")
	require.NoError(t, err)
	cl, err := cmds.Allocate("cull")
	require.NoError(t, err)

	require.NoError(t, cl.Begin())
	cl.PushConstants(p, 0, make([]byte, 16))
	cl.PushConstants(p, 8, make([]byte, 16))
	cl.Dispatch(8, 8, 1)
	require.NoError(t, cl.End())

	assert.Contains(t, logs.String(), "outside the range")
	assert.Equal(t, []string{"begin", "push constants", "dispatch", "end"}, dev.commands)
}

func TestSubmitFailureRecyclesFence(t *testing.T) {
	captureLogs(t)
	dev := newFakeDevice()
	b := newTestBackend(t, dev)
	cmds, err := b.CreateCommandPool("main")
	require.NoError(t, err)
	cl, err := cmds.Allocate("")
	require.NoError(t, err)
	require.NoError(t, cl.Begin())
	require.NoError(t, cl.End())

	dev.failSubmit = true
	_, err = b.Submit(cl)
	require.ErrorIs(t, err, core.ErrNativeCall)
	assert.Equal(t, CommandBufferRecordingEnded, cl.(*CommandList).State)

	dev.failSubmit = false
	value, err := b.Submit(cl)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), value)
	assert.Equal(t, 1, dev.fencesMade)
	require.NoError(t, b.WaitIdle())
}

func TestWaitHonoursContext(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBackend(t, dev)
	cmds, err := b.CreateCommandPool("main")
	require.NoError(t, err)
	cl, err := cmds.Allocate("")
	require.NoError(t, err)
	require.NoError(t, cl.Begin())
	require.NoError(t, cl.End())
	value, err := b.Submit(cl)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Wait(ctx, value), context.Canceled)
	require.NoError(t, b.Wait(context.Background(), value))
}

func TestObjectNamesFollowConfig(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBackend(t, dev)
	buf, err := b.CreateBuffer(rhi.BufferDesc{Name: "named", Size: 16})
	require.NoError(t, err)
	assert.Equal(t, "named", dev.names[buf.(*Buffer).Native()])

	b.cfg.Debug.ObjectNames = false
	buf, err = b.CreateBuffer(rhi.BufferDesc{Name: "anonymous", Size: 16})
	require.NoError(t, err)
	_, named := dev.names[buf.(*Buffer).Native()]
	assert.False(t, named)
}
