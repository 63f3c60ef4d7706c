package renderer

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/d3d12"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shadercompiler"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/vulkan"
)

// OpenBackend creates the native backend selected by cfg.Backend. The loader
// is only consulted by Vulkan; D3D12 renders offscreen.
func OpenBackend(cfg *config.Config, loader vulkan.Loader) (rhi.GraphicsBackend, error) {
	compiler := shadercompiler.New(cfg.Shaders)
	switch cfg.Backend {
	case config.BackendVulkan:
		if loader == nil {
			return nil, fmt.Errorf("%w: vulkan backend needs a window loader", core.ErrInvalidConfig)
		}
		b, err := vulkan.NewNative(cfg, loader, compiler)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendD3D12:
		b, err := d3d12.NewNative(cfg, compiler)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", core.ErrInvalidConfig, cfg.Backend)
}
