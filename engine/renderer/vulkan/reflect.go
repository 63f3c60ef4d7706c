package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/reflect/spirv"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// reflectSPIRV reflects every blob and merges them with set-scoped slots:
// a binding number is unique within its set whatever the resource kind.
func (b *Backend) reflectSPIRV(blobs []rhi.ShaderBlob) (*rhi.ReflectionResult, error) {
	opts := spirv.Options{UnboundedArraySize: b.cfg.Descriptors.UnboundedArraySize}
	stages := make([]rhi.StageReflection, 0, len(blobs))
	for _, blob := range blobs {
		if blob.Format != rhi.BytecodeSPIRV {
			return nil, fmt.Errorf("%w: %s is %s, want spirv", core.ErrUnsupported, blob.Path, blob.Format)
		}
		st, err := spirv.Reflect(blob, opts)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return rhi.MergeReflections(stages, rhi.SetSlot)
}
