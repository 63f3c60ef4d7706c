package engine

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// Game is the set of callbacks the engine drives. Only FnRender is required.
type Game struct {
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnOnReload   OnReload
	FnShutdown   Shutdown
}

type Initialize func(r *renderer.Renderer) error
type Update func(deltaTime float64) error

// Render records the frame's work and returns the closed lists to submit.
type Render func(frame *rhi.Frame, deltaTime float64) ([]rhi.CommandList, error)
type OnResize func(width uint32, height uint32) error

// OnReload is called after pipelines were rebuilt from edited sources.
type OnReload func(ids []rhi.PipelineID) error
type Shutdown func() error
