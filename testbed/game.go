// Package testbed draws a spinning textured triangle and, when the device
// supports it, path traces the same triangle into a storage image.
package testbed

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

const vertexStride = 20

// position xyz, uv
var triangle = []float32{
	0.0, 0.6, 0.5, 0.5, 0.0,
	-0.6, -0.4, 0.5, 0.0, 1.0,
	0.6, -0.4, 0.5, 1.0, 1.0,
}

type TestGame struct {
	*engine.Game
}

type gameState struct {
	cfg      *config.Config
	renderer *renderer.Renderer
	backend  rhi.GraphicsBackend

	width  uint32
	height uint32
	time   float32

	mesh      rhi.PipelineID
	pathtrace rhi.PipelineID

	frame    rhi.Buffer
	vertices rhi.Buffer
	indices  rhi.Buffer
	albedo   rhi.Texture
	sampler  rhi.Sampler

	color  rhi.Texture
	depth  rhi.Texture
	output rhi.Texture

	blas       rhi.AccelerationStructure
	tlas       rhi.AccelerationStructure
	sceneBuilt bool
}

func NewTestGame(cfg *config.Config) *TestGame {
	state := &gameState{cfg: cfg}
	return &TestGame{
		Game: &engine.Game{
			State:        state,
			FnInitialize: state.initialize,
			FnUpdate:     state.update,
			FnRender:     state.render,
			FnOnResize:   state.onResize,
			FnOnReload:   state.onReload,
			FnShutdown:   state.shutdown,
		},
	}
}

// Shaders lists every source the testbed compiles.
func Shaders(dir string) []rhi.ShaderSrc {
	mesh := filepath.Join(dir, "mesh.hlsl")
	pathtrace := filepath.Join(dir, "pathtrace.hlsl")
	return []rhi.ShaderSrc{
		{Path: mesh, Entry: "VSMain", Stage: rhi.StageVertex},
		{Path: mesh, Entry: "PSMain", Stage: rhi.StageFragment},
		{Path: pathtrace, Entry: "RayGen", Stage: rhi.StageRayGen},
		{Path: pathtrace, Entry: "Miss", Stage: rhi.StageMiss},
		{Path: pathtrace, Entry: "ClosestHit", Stage: rhi.StageClosestHit},
	}
}

func (s *gameState) initialize(r *renderer.Renderer) error {
	s.renderer = r
	s.backend = r.Backend()
	ctx := context.Background()
	b := s.backend

	var err error
	if s.frame, err = b.CreateBuffer(rhi.BufferDesc{
		Name:   "frame_constants",
		Size:   16,
		Usage:  core.NewFlags(rhi.BufferUsageConstantBuffer),
		Memory: rhi.MemoryUpload,
	}); err != nil {
		return err
	}
	if s.vertices, err = b.CreateBuffer(rhi.BufferDesc{
		Name:   "triangle_vertices",
		Size:   uint64(len(triangle) * 4),
		Stride: vertexStride,
		Usage:  core.NewFlags(rhi.BufferUsageVertex, rhi.BufferUsageAccelerationStructureInput),
		Memory: rhi.MemoryUpload,
	}); err != nil {
		return err
	}
	if err := s.vertices.Write(0, floatBytes(triangle...)); err != nil {
		return err
	}
	if s.indices, err = b.CreateBuffer(rhi.BufferDesc{
		Name:   "triangle_indices",
		Size:   12,
		Usage:  core.NewFlags(rhi.BufferUsageIndex, rhi.BufferUsageAccelerationStructureInput),
		Memory: rhi.MemoryUpload,
	}); err != nil {
		return err
	}
	if err := s.indices.Write(0, uintBytes(0, 1, 2)); err != nil {
		return err
	}
	if s.albedo, err = b.CreateTexture(rhi.TextureDesc{
		Name:      "albedo",
		Width:     256,
		Height:    256,
		MipLevels: 1,
		Format:    rhi.FormatRGBA8Srgb,
		Usage:     core.NewFlags(rhi.TextureUsageSampled),
	}); err != nil {
		return err
	}
	if s.sampler, err = b.CreateSampler(rhi.SamplerDesc{Name: "linear", Filter: rhi.FilterLinear, Address: rhi.AddressWrap}); err != nil {
		return err
	}

	shaders := Shaders(s.cfg.Shaders.SourceDir)
	mesh, err := r.CreateRasterPipeline(ctx, rhi.RasterPipelineDesc{
		Name:    "mesh",
		Shaders: shaders[:2],
		Framebuffer: rhi.FramebufferDesc{
			ColorFormats: []rhi.Format{rhi.FormatRGBA16Float},
			DepthFormat:  rhi.FormatD32Float,
			Width:        s.cfg.Application.Width,
			Height:       s.cfg.Application.Height,
		},
		DepthTest:  true,
		DepthWrite: true,
	})
	if err != nil {
		return err
	}
	s.mesh = mesh.ID()

	pathtrace, err := r.CreateRayTracingPipeline(ctx, rhi.RayTracingPipelineDesc{
		Name:      "pathtrace",
		Shaders:   shaders[2:],
		HitGroups: []rhi.HitGroupDesc{{ClosestHit: "ClosestHit"}},
	})
	switch {
	case errors.Is(err, core.ErrUnsupported):
		core.LogWarn("ray tracing unavailable, drawing the raster pass only")
	case err != nil:
		return err
	default:
		s.pathtrace = pathtrace.ID()
		return s.createScene()
	}
	return nil
}

func (s *gameState) createScene() error {
	var err error
	if s.blas, err = s.backend.CreateBlas(rhi.BlasDesc{
		Name:         "triangle_blas",
		Vertices:     s.vertices,
		VertexCount:  3,
		VertexStride: vertexStride,
		VertexFormat: rhi.FormatRGB32Float,
		Indices:      s.indices,
		IndexCount:   3,
		Opaque:       true,
	}); err != nil {
		return err
	}
	s.tlas, err = s.backend.CreateTlas(rhi.TlasDesc{
		Name: "scene_tlas",
		Instances: []rhi.Instance{{
			Transform: rhi.IdentityTransform,
			Mask:      0xFF,
			Blas:      s.blas,
		}},
	})
	return err
}

func (s *gameState) onResize(width, height uint32) error {
	if s.width == width && s.height == height && s.color != nil {
		return nil
	}
	s.width, s.height = width, height
	if err := s.backend.WaitIdle(); err != nil {
		return err
	}
	s.destroyTargets()

	var err error
	if s.color, err = s.backend.CreateTexture(rhi.TextureDesc{
		Name: "hdr", Width: width, Height: height, MipLevels: 1,
		Format: rhi.FormatRGBA16Float,
		Usage:  core.NewFlags(rhi.TextureUsageRenderTarget, rhi.TextureUsageSampled),
	}); err != nil {
		return err
	}
	if s.depth, err = s.backend.CreateTexture(rhi.TextureDesc{
		Name: "depth", Width: width, Height: height, MipLevels: 1,
		Format: rhi.FormatD32Float,
		Usage:  core.NewFlags(rhi.TextureUsageDepthStencil),
	}); err != nil {
		return err
	}
	if s.pathtrace != rhi.NilPipelineID {
		if s.output, err = s.backend.CreateTexture(rhi.TextureDesc{
			Name: "pathtrace_output", Width: width, Height: height, MipLevels: 1,
			Format: rhi.FormatRGBA16Float,
			Usage:  core.NewFlags(rhi.TextureUsageStorage, rhi.TextureUsageSampled),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *gameState) update(deltaTime float64) error {
	s.time += float32(deltaTime)
	aspect := float32(1)
	if s.height != 0 {
		aspect = float32(s.width) / float32(s.height)
	}
	return s.frame.Write(0, floatBytes(s.time, aspect, 0, 0))
}

func (s *gameState) render(frame *rhi.Frame, _ float64) ([]rhi.CommandList, error) {
	cl, err := frame.Commands.Allocate(fmt.Sprintf("frame_%d", frame.Index))
	if err != nil {
		return nil, err
	}
	if err := cl.Begin(); err != nil {
		return nil, err
	}

	if rt := s.renderer.RayTracingPipeline(s.pathtrace); rt != nil {
		if err := s.tracePass(cl, frame, rt); err != nil {
			return nil, err
		}
	}
	if err := s.meshPass(cl, frame); err != nil {
		return nil, err
	}

	if err := cl.End(); err != nil {
		return nil, err
	}
	return []rhi.CommandList{cl}, nil
}

func (s *gameState) meshPass(cl rhi.CommandList, frame *rhi.Frame) error {
	p := s.renderer.Pipeline(s.mesh)
	set, err := frame.Descriptors.AllocateSet(p)
	if err != nil {
		return err
	}
	set.SetName("mesh_set")
	set.SetConstantBuffer(0, s.frame)
	set.SetTexture(0, s.albedo)
	set.SetSampler(0, s.sampler)
	set.Update()

	cl.BindPipeline(p)
	cl.BindDescriptorSet(p, set)
	if err := cl.BeginRenderPass(p, rhi.RenderTargets{
		Color:      []rhi.Texture{s.color},
		Depth:      s.depth,
		ClearColor: [4]float32{0.02, 0.02, 0.03, 1},
		ClearDepth: 1,
	}); err != nil {
		return err
	}
	cl.BindVertexBuffer(s.vertices, vertexStride)
	cl.Draw(3, 1)
	cl.EndRenderPass()
	return nil
}

func (s *gameState) tracePass(cl rhi.CommandList, frame *rhi.Frame, p rhi.RayTracingPipeline) error {
	if !s.sceneBuilt {
		cl.BuildAccelerationStructure(s.blas)
		cl.BuildAccelerationStructure(s.tlas)
		s.sceneBuilt = true
	}

	set, err := frame.Descriptors.AllocateSet(p)
	if err != nil {
		return err
	}
	set.SetName("pathtrace_set")
	set.SetConstantBuffer(0, s.frame)
	set.SetAccelerationStructure(0, s.tlas)
	set.SetRWTexture(0, s.output)
	set.Update()
	if err := set.Validate(); err != nil {
		return err
	}

	cl.BindPipeline(p)
	cl.BindDescriptorSet(p, set)
	cl.DispatchRays(p, s.width, s.height, 1)
	return nil
}

func (s *gameState) onReload(ids []rhi.PipelineID) error {
	for _, id := range ids {
		if p := s.renderer.Pipeline(id); p != nil {
			core.LogInfo("testbed picked up pipeline %s", p.Name())
		}
	}
	return nil
}

func (s *gameState) destroyTargets() {
	for _, t := range []rhi.Texture{s.color, s.depth, s.output} {
		if t != nil {
			t.Destroy()
		}
	}
	s.color, s.depth, s.output = nil, nil, nil
}

func (s *gameState) shutdown() error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.WaitIdle(); err != nil {
		return err
	}
	s.destroyTargets()
	for _, as := range []rhi.AccelerationStructure{s.tlas, s.blas} {
		if as != nil {
			as.Destroy()
		}
	}
	for _, b := range []rhi.Buffer{s.frame, s.vertices, s.indices} {
		if b != nil {
			b.Destroy()
		}
	}
	if s.albedo != nil {
		s.albedo.Destroy()
	}
	if s.sampler != nil {
		s.sampler.Destroy()
	}
	return nil
}

func floatBytes(values ...float32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func uintBytes(values ...uint32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}
