//go:build !windows

package d3d12

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// NewNative is only available on Windows.
func NewNative(_ *config.Config, _ rhi.ShaderCompiler) (*Backend, error) {
	return nil, fmt.Errorf("%w: D3D12 is only available on Windows", core.ErrUnsupported)
}
