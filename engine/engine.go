package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/platform"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owns
	EngineStageShutdown
)

// Window is what the frame loop needs from the platform layer.
type Window interface {
	ShouldClose() bool
	PollEvents()
	Size() (width, height int, changed bool)
	Destroy()
}

type Engine struct {
	cfg          *config.Config
	currentStage Stage
	gameInstance *Game
	isSuspended  bool
	window       Window
	renderer     *renderer.Renderer
	watcher      *assets.ShaderWatcher
	clock        *core.Clock
	metrics      core.FrameMetrics
	width        uint32
	height       uint32
	lastTime     float64
}

// New opens the window and the configured backend.
func New(cfg *config.Config, g *Game) (*Engine, error) {
	core.SetLogLevel(cfg.Log.Level)

	p, err := platform.New(cfg.Application)
	if err != nil {
		return nil, err
	}
	backend, err := renderer.OpenBackend(cfg, p)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	e, err := NewWithBackend(cfg, g, p, backend)
	if err != nil {
		_ = backend.Shutdown()
		p.Destroy()
		return nil, err
	}
	return e, nil
}

// NewWithBackend wires an engine around an existing window and backend.
func NewWithBackend(cfg *config.Config, g *Game, window Window, backend rhi.GraphicsBackend) (*Engine, error) {
	if g == nil || g.FnRender == nil {
		return nil, fmt.Errorf("%w: game has no render callback", core.ErrInvalidConfig)
	}
	r, err := renderer.New(cfg, backend)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:          cfg,
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		window:       window,
		renderer:     r,
		clock:        core.NewClock(),
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
	}, nil
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if e.cfg.Shaders.Watch {
		w, err := assets.NewShaderWatcher(e.cfg.Shaders.SourceDir)
		if err != nil {
			// Rendering works without hot reload.
			core.LogWarn("shader hot reload disabled for %s: %s", e.cfg.Shaders.SourceDir, err)
		} else {
			e.watcher = w
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.renderer); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives frames until the window closes or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is not initialized")
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for !e.window.ShouldClose() {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		e.window.PollEvents()
		if err := e.handleResize(); err != nil {
			return err
		}
		if e.isSuspended {
			continue
		}
		e.reloadShaders(ctx)

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.frame(ctx, delta); err != nil {
			return err
		}

		e.clock.Update()
		if e.metrics.Update(e.clock.Elapsed() - currentTime) {
			core.LogDebug("%.0f fps, %.2f ms per frame", e.metrics.FPS(), e.metrics.FrameTime())
		}
		e.lastTime = currentTime
	}
	return nil
}

func (e *Engine) frame(ctx context.Context, delta float64) error {
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}

	frame, err := e.renderer.BeginFrame(ctx)
	if err != nil {
		return fmt.Errorf("beginning frame: %w", err)
	}
	lists, err := e.gameInstance.FnRender(frame, delta)
	if err != nil {
		return fmt.Errorf("game render: %w", err)
	}
	if err := e.renderer.EndFrame(lists...); err != nil {
		return fmt.Errorf("submitting frame %d: %w", frame.Index, err)
	}
	return nil
}

func (e *Engine) reloadShaders(ctx context.Context) {
	if e.watcher == nil {
		return
	}
	changed := e.watcher.Drain()
	if len(changed) == 0 {
		return
	}
	core.LogInfo("shader sources changed: %v", changed)
	ids, err := e.renderer.Reload(ctx, changed)
	if err != nil {
		core.LogError("shader reload: %s", err)
	}
	if len(ids) > 0 && e.gameInstance.FnOnReload != nil {
		if err := e.gameInstance.FnOnReload(ids); err != nil {
			core.LogError("game reload callback: %s", err)
		}
	}
}

func (e *Engine) handleResize() error {
	w, h, changed := e.window.Size()
	if !changed || (uint32(w) == e.width && uint32(h) == e.height) {
		return nil
	}
	e.width, e.height = uint32(w), uint32(h)
	core.LogDebug("window resize: %d, %d", w, h)

	// Handle minimization
	if w == 0 || h == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return nil
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		return e.gameInstance.FnOnResize(e.width, e.height)
	}
	return nil
}

// GetFramebufferSize returns the width and height (in this order)
// of the application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	errs = append(errs, e.renderer.Shutdown())
	e.window.Destroy()

	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}
