package renderer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type buildFunc func(ctx context.Context) (rhi.Pipeline, error)

type registered struct {
	pipeline rhi.Pipeline
	sources  []string
	build    buildFunc
}

// Renderer owns a backend, its frames in flight and every pipeline created
// through it. Pipelines keep their ID when they are rebuilt from edited
// sources, so callers hold IDs rather than pipelines across frames.
type Renderer struct {
	cfg       *config.Config
	backend   rhi.GraphicsBackend
	frames    *rhi.FrameRing
	pipelines map[rhi.PipelineID]*registered
}

func New(cfg *config.Config, backend rhi.GraphicsBackend) (*Renderer, error) {
	frames, err := rhi.NewFrameRing(backend, cfg.Frames.InFlight)
	if err != nil {
		return nil, fmt.Errorf("creating frames in flight: %w", err)
	}
	core.LogInfo("renderer ready on %s with %d frames in flight", backend.Kind(), cfg.Frames.InFlight)
	return &Renderer{
		cfg:       cfg,
		backend:   backend,
		frames:    frames,
		pipelines: make(map[rhi.PipelineID]*registered),
	}, nil
}

func (r *Renderer) Backend() rhi.GraphicsBackend {
	return r.backend
}

func (r *Renderer) CreateRasterPipeline(ctx context.Context, desc rhi.RasterPipelineDesc) (rhi.Pipeline, error) {
	if desc.ID == rhi.NilPipelineID {
		desc.ID = rhi.NewPipelineID()
	}
	build := func(ctx context.Context) (rhi.Pipeline, error) {
		return r.backend.CreateRasterPipeline(ctx, desc)
	}
	return r.register(ctx, desc.ID, desc.Shaders, build)
}

func (r *Renderer) CreateComputePipeline(ctx context.Context, desc rhi.ComputePipelineDesc) (rhi.Pipeline, error) {
	if desc.ID == rhi.NilPipelineID {
		desc.ID = rhi.NewPipelineID()
	}
	build := func(ctx context.Context) (rhi.Pipeline, error) {
		return r.backend.CreateComputePipeline(ctx, desc)
	}
	return r.register(ctx, desc.ID, []rhi.ShaderSrc{desc.Shader}, build)
}

func (r *Renderer) CreateRayTracingPipeline(ctx context.Context, desc rhi.RayTracingPipelineDesc) (rhi.RayTracingPipeline, error) {
	if desc.ID == rhi.NilPipelineID {
		desc.ID = rhi.NewPipelineID()
	}
	if desc.MaxRecursionDepth == 0 {
		desc.MaxRecursionDepth = r.cfg.RayTracing.MaxRecursionDepth
	}
	if desc.MaxPayloadSize == 0 {
		desc.MaxPayloadSize = r.cfg.RayTracing.MaxPayloadSize
	}
	if desc.MaxAttributeSize == 0 {
		desc.MaxAttributeSize = r.cfg.RayTracing.MaxAttributeSize
	}
	build := func(ctx context.Context) (rhi.Pipeline, error) {
		return r.backend.CreateRayTracingPipeline(ctx, desc)
	}
	p, err := r.register(ctx, desc.ID, desc.Shaders, build)
	if err != nil {
		return nil, err
	}
	return p.(rhi.RayTracingPipeline), nil
}

func (r *Renderer) register(ctx context.Context, id rhi.PipelineID, shaders []rhi.ShaderSrc, build buildFunc) (rhi.Pipeline, error) {
	if _, ok := r.pipelines[id]; ok {
		return nil, fmt.Errorf("%w: pipeline %s already exists", core.ErrInvalidConfig, id)
	}
	p, err := build(ctx)
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, s := range shaders {
		if s.Path != "" {
			sources = append(sources, cleanPath(s.Path))
		}
	}
	r.pipelines[id] = &registered{pipeline: p, sources: sources, build: build}
	return p, nil
}

// Pipeline returns the current pipeline for id, or nil.
func (r *Renderer) Pipeline(id rhi.PipelineID) rhi.Pipeline {
	if e, ok := r.pipelines[id]; ok {
		return e.pipeline
	}
	return nil
}

// RayTracingPipeline returns the current ray tracing pipeline for id, or nil.
func (r *Renderer) RayTracingPipeline(id rhi.PipelineID) rhi.RayTracingPipeline {
	p, _ := r.Pipeline(id).(rhi.RayTracingPipeline)
	return p
}

// DestroyPipeline waits for the GPU and releases the pipeline.
func (r *Renderer) DestroyPipeline(id rhi.PipelineID) error {
	e, ok := r.pipelines[id]
	if !ok {
		return nil
	}
	if err := r.backend.WaitIdle(); err != nil {
		return err
	}
	e.pipeline.Destroy()
	delete(r.pipelines, id)
	return nil
}

// Reload rebuilds every pipeline reading one of the changed source files.
// A pipeline that fails to build keeps running with its previous version.
func (r *Renderer) Reload(ctx context.Context, changed []string) ([]rhi.PipelineID, error) {
	dirty := make(map[string]struct{}, len(changed))
	for _, c := range changed {
		dirty[cleanPath(c)] = struct{}{}
	}

	ids := make([]rhi.PipelineID, 0, len(r.pipelines))
	for id, e := range r.pipelines {
		if slices.ContainsFunc(e.sources, func(s string) bool {
			_, ok := dirty[s]
			return ok
		}) {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b rhi.PipelineID) int {
		return slices.Compare(a[:], b[:])
	})

	var errs []error
	rebuilt := make(map[rhi.PipelineID]rhi.Pipeline, len(ids))
	for _, id := range ids {
		e := r.pipelines[id]
		p, err := e.build(ctx)
		if err != nil {
			core.LogError("failed to reload pipeline %s: %s", e.pipeline.Name(), err)
			errs = append(errs, fmt.Errorf("reloading %s: %w", e.pipeline.Name(), err))
			continue
		}
		rebuilt[id] = p
	}
	if len(rebuilt) == 0 {
		return nil, errors.Join(errs...)
	}

	if err := r.backend.WaitIdle(); err != nil {
		for _, p := range rebuilt {
			p.Destroy()
		}
		return nil, errors.Join(append(errs, err)...)
	}
	reloaded := make([]rhi.PipelineID, 0, len(rebuilt))
	for _, id := range ids {
		p, ok := rebuilt[id]
		if !ok {
			continue
		}
		e := r.pipelines[id]
		e.pipeline.Destroy()
		e.pipeline = p
		reloaded = append(reloaded, id)
		core.LogInfo("pipeline %s reloaded (%s)", p.Name(), id)
	}
	return reloaded, errors.Join(errs...)
}

// BeginFrame waits for the oldest frame in flight and hands it out with
// reset pools.
func (r *Renderer) BeginFrame(ctx context.Context) (*rhi.Frame, error) {
	return r.frames.Begin(ctx)
}

// EndFrame submits the recorded lists of the current frame.
func (r *Renderer) EndFrame(lists ...rhi.CommandList) error {
	return r.frames.Submit(lists...)
}

func (r *Renderer) Shutdown() error {
	if err := r.backend.WaitIdle(); err != nil {
		core.LogWarn("waiting for the gpu before shutdown: %s", err)
	}
	for id, e := range r.pipelines {
		e.pipeline.Destroy()
		delete(r.pipelines, id)
	}
	r.frames.Destroy()
	return r.backend.Shutdown()
}

func cleanPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
