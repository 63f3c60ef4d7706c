package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type fakeWindow struct {
	closeAfter int
	polls      int
	sizes      map[int][2]int
	width      int
	height     int
	changed    bool
	destroyed  bool
	shouldStop func() bool
}

func (w *fakeWindow) ShouldClose() bool {
	if w.shouldStop != nil {
		return w.shouldStop()
	}
	return w.polls >= w.closeAfter
}

func (w *fakeWindow) PollEvents() {
	w.polls++
	if s, ok := w.sizes[w.polls]; ok {
		w.width, w.height, w.changed = s[0], s[1], true
	}
}

func (w *fakeWindow) Size() (int, int, bool) {
	changed := w.changed
	w.changed = false
	return w.width, w.height, changed
}

func (w *fakeWindow) Destroy() { w.destroyed = true }

type fakePipeline struct {
	id        rhi.PipelineID
	name      string
	destroyed bool
}

func (p *fakePipeline) ID() rhi.PipelineID                    { return p.id }
func (p *fakePipeline) Name() string                          { return p.name }
func (p *fakePipeline) Kind() rhi.PipelineKind                { return rhi.PipelineRaster }
func (p *fakePipeline) Reflection() *rhi.ReflectionResult     { return nil }
func (p *fakePipeline) DescriptorInfo() rhi.DescriptorInfoMap { return nil }
func (p *fakePipeline) Destroy()                              { p.destroyed = true }

type fakePool struct{}

func (fakePool) AllocateSet(rhi.Pipeline) (rhi.DescriptorSet, error) { return nil, nil }
func (fakePool) Allocate(string) (rhi.CommandList, error)            { return nil, nil }
func (fakePool) Reset() error                                        { return nil }
func (fakePool) Destroy()                                            {}

type fakeBackend struct {
	rhi.GraphicsBackend
	builds   int
	submits  uint64
	shutdown bool
}

func (b *fakeBackend) Kind() config.Backend { return config.BackendVulkan }

func (b *fakeBackend) CreateRasterPipeline(_ context.Context, desc rhi.RasterPipelineDesc) (rhi.Pipeline, error) {
	b.builds++
	return &fakePipeline{id: desc.ID, name: desc.Name}, nil
}

func (b *fakeBackend) CreateCommandPool(string) (rhi.CommandPool, error) { return fakePool{}, nil }
func (b *fakeBackend) CreateDescriptorPool(string) (rhi.DescriptorPool, error) {
	return fakePool{}, nil
}

func (b *fakeBackend) Submit(...rhi.CommandList) (uint64, error) {
	b.submits++
	return b.submits, nil
}

func (b *fakeBackend) Wait(context.Context, uint64) error { return nil }
func (b *fakeBackend) WaitIdle() error                    { return nil }
func (b *fakeBackend) Shutdown() error                    { b.shutdown = true; return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Shaders.Watch = false
	return cfg
}

func TestNeedsRenderCallback(t *testing.T) {
	_, err := NewWithBackend(testConfig(), &Game{}, &fakeWindow{}, &fakeBackend{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestRunRendersUntilWindowCloses(t *testing.T) {
	b := &fakeBackend{}
	w := &fakeWindow{closeAfter: 5}
	var updates, renders int
	var indices []int
	g := &Game{
		FnUpdate: func(float64) error { updates++; return nil },
		FnRender: func(f *rhi.Frame, _ float64) ([]rhi.CommandList, error) {
			renders++
			indices = append(indices, f.Index)
			return nil, nil
		},
	}

	e, err := NewWithBackend(testConfig(), g, w, b)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 5, updates)
	assert.Equal(t, 5, renders)
	assert.Equal(t, []int{0, 1, 0, 1, 0}, indices)
	assert.Equal(t, uint64(5), b.submits)

	require.NoError(t, e.Shutdown())
	assert.True(t, b.shutdown)
	assert.True(t, w.destroyed)
	assert.Equal(t, EngineStageShutdown, e.Stage())
	require.NoError(t, e.Shutdown())
}

func TestRunRequiresInitialize(t *testing.T) {
	g := &Game{FnRender: func(*rhi.Frame, float64) ([]rhi.CommandList, error) { return nil, nil }}
	e, err := NewWithBackend(testConfig(), g, &fakeWindow{}, &fakeBackend{})
	require.NoError(t, err)
	assert.Error(t, e.Run(context.Background()))
}

func TestMinimizedWindowSuspendsRendering(t *testing.T) {
	w := &fakeWindow{
		closeAfter: 6,
		sizes: map[int][2]int{
			2: {0, 0},
			4: {800, 600},
		},
	}
	var renders int
	var resizes [][2]uint32
	g := &Game{
		FnRender: func(*rhi.Frame, float64) ([]rhi.CommandList, error) {
			renders++
			return nil, nil
		},
		FnOnResize: func(width, height uint32) error {
			resizes = append(resizes, [2]uint32{width, height})
			return nil
		},
	}

	e, err := NewWithBackend(testConfig(), g, w, &fakeBackend{})
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))

	// Polls 2 and 3 happen while minimized.
	assert.Equal(t, 4, renders)
	assert.Equal(t, [][2]uint32{{1280, 720}, {800, 600}}, resizes)
	width, height := e.GetFramebufferSize()
	assert.Equal(t, uint32(800), width)
	assert.Equal(t, uint32(600), height)
}

func TestCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var renders int
	g := &Game{
		FnRender: func(*rhi.Frame, float64) ([]rhi.CommandList, error) {
			renders++
			if renders == 3 {
				cancel()
			}
			return nil, nil
		},
	}
	e, err := NewWithBackend(testConfig(), g, &fakeWindow{closeAfter: 100}, &fakeBackend{})
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, 3, renders)
}

func TestEditedShaderReloadsPipeline(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "mesh.hlsl")
	require.NoError(t, os.WriteFile(source, []byte("// v1"), 0o644))

	cfg := testConfig()
	cfg.Shaders.Watch = true
	cfg.Shaders.SourceDir = dir

	b := &fakeBackend{}
	var meshID rhi.PipelineID
	var reloaded []rhi.PipelineID
	g := &Game{
		FnInitialize: func(r *renderer.Renderer) error {
			p, err := r.CreateRasterPipeline(context.Background(), rhi.RasterPipelineDesc{
				Name: "mesh",
				Shaders: []rhi.ShaderSrc{
					{Path: source, Entry: "VSMain", Stage: rhi.StageVertex},
					{Path: source, Entry: "PSMain", Stage: rhi.StageFragment},
				},
			})
			if err != nil {
				return err
			}
			meshID = p.ID()
			return os.WriteFile(source, []byte("// v2"), 0o644)
		},
		FnRender: func(*rhi.Frame, float64) ([]rhi.CommandList, error) {
			time.Sleep(time.Millisecond)
			return nil, nil
		},
		FnOnReload: func(ids []rhi.PipelineID) error {
			reloaded = ids
			return nil
		},
	}
	w := &fakeWindow{shouldStop: func() bool { return reloaded != nil }}

	e, err := NewWithBackend(cfg, g, w, b)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	assert.Equal(t, []rhi.PipelineID{meshID}, reloaded)
	assert.Equal(t, 2, b.builds)
	assert.Equal(t, meshID, e.Renderer().Pipeline(meshID).ID())
	require.NoError(t, e.Shutdown())
}
