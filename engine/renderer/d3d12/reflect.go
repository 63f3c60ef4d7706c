package d3d12

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/reflect/dxil"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// reflectDXIL reflects every blob and merges them with register-scoped
// slots: b0 and t0 of one space are different bindings.
func (b *Backend) reflectDXIL(blobs []rhi.ShaderBlob) (*rhi.ReflectionResult, error) {
	opts := dxil.Options{UnboundedArraySize: b.cfg.Descriptors.UnboundedArraySize}
	stages := make([]rhi.StageReflection, 0, len(blobs))
	for _, blob := range blobs {
		if blob.Format != rhi.BytecodeDXIL {
			return nil, fmt.Errorf("%w: %s is %s, want dxil", core.ErrUnsupported, blob.Path, blob.Format)
		}
		st, err := dxil.Reflect(blob, opts)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return rhi.MergeReflections(stages, rhi.RegisterSlot)
}
