package d3d12

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// DXGIFormat follows DXGI_FORMAT.
type DXGIFormat uint32

const (
	FormatUnknown            DXGIFormat = 0
	FormatRGBA32Float        DXGIFormat = 2
	FormatRGBA32Uint         DXGIFormat = 3
	FormatRGBA32Sint         DXGIFormat = 4
	FormatRGB32Float         DXGIFormat = 6
	FormatRGB32Uint          DXGIFormat = 7
	FormatRGB32Sint          DXGIFormat = 8
	FormatRGBA16Float        DXGIFormat = 10
	FormatRG32Float          DXGIFormat = 16
	FormatRG32Uint           DXGIFormat = 17
	FormatRG32Sint           DXGIFormat = 18
	FormatR32G8X24Typeless   DXGIFormat = 19
	FormatD32FloatS8X24Uint  DXGIFormat = 20
	FormatR32FloatX8X24      DXGIFormat = 21
	FormatRGBA8Unorm         DXGIFormat = 28
	FormatRGBA8UnormSrgb     DXGIFormat = 29
	FormatR32Typeless        DXGIFormat = 39
	FormatD32Float           DXGIFormat = 40
	FormatR32Float           DXGIFormat = 41
	FormatR32Uint            DXGIFormat = 42
	FormatR32Sint            DXGIFormat = 43
	FormatR24G8Typeless      DXGIFormat = 44
	FormatD24UnormS8Uint     DXGIFormat = 45
	FormatR24UnormX8Typeless DXGIFormat = 46
	FormatR16Typeless        DXGIFormat = 53
	FormatD16Unorm           DXGIFormat = 55
	FormatR16Unorm           DXGIFormat = 56
	FormatR8Unorm            DXGIFormat = 61
	FormatBGRA8Unorm         DXGIFormat = 87
	FormatBGRA8UnormSrgb     DXGIFormat = 91
)

var formats = map[rhi.Format]DXGIFormat{
	rhi.FormatR32Float:       FormatR32Float,
	rhi.FormatRG32Float:      FormatRG32Float,
	rhi.FormatRGB32Float:     FormatRGB32Float,
	rhi.FormatRGBA32Float:    FormatRGBA32Float,
	rhi.FormatR32Uint:        FormatR32Uint,
	rhi.FormatRG32Uint:       FormatRG32Uint,
	rhi.FormatRGB32Uint:      FormatRGB32Uint,
	rhi.FormatRGBA32Uint:     FormatRGBA32Uint,
	rhi.FormatR32Sint:        FormatR32Sint,
	rhi.FormatRG32Sint:       FormatRG32Sint,
	rhi.FormatRGB32Sint:      FormatRGB32Sint,
	rhi.FormatRGBA32Sint:     FormatRGBA32Sint,
	rhi.FormatR8Unorm:        FormatR8Unorm,
	rhi.FormatRGBA8Unorm:     FormatRGBA8Unorm,
	rhi.FormatRGBA8Srgb:      FormatRGBA8UnormSrgb,
	rhi.FormatBGRA8Unorm:     FormatBGRA8Unorm,
	rhi.FormatBGRA8Srgb:      FormatBGRA8UnormSrgb,
	rhi.FormatRGBA16Float:    FormatRGBA16Float,
	rhi.FormatR16Unorm:       FormatR16Unorm,
	rhi.FormatR24UnormX8:     FormatR24UnormX8Typeless,
	rhi.FormatR32FloatX8X24:  FormatR32FloatX8X24,
	rhi.FormatD16Unorm:       FormatD16Unorm,
	rhi.FormatD24UnormS8Uint: FormatD24UnormS8Uint,
	rhi.FormatD32Float:       FormatD32Float,
	rhi.FormatD32FloatS8Uint: FormatD32FloatS8X24Uint,
}

func dxgiFormat(f rhi.Format) (DXGIFormat, error) {
	if v, ok := formats[f]; ok {
		return v, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %s has no DXGI format", core.ErrUnsupportedFormat, f)
}

// typelessFormats lets a depth buffer be viewed both as depth and as color.
var typelessFormats = map[rhi.Format]DXGIFormat{
	rhi.FormatD16Unorm:       FormatR16Typeless,
	rhi.FormatD24UnormS8Uint: FormatR24G8Typeless,
	rhi.FormatD32Float:       FormatR32Typeless,
	rhi.FormatD32FloatS8Uint: FormatR32G8X24Typeless,
}

// resourceFormat is the format a texture is created with.
func resourceFormat(desc rhi.TextureDesc) (DXGIFormat, error) {
	if desc.Format.IsDepth() && desc.Usage.Has(rhi.TextureUsageSampled) {
		return typelessFormats[desc.Format], nil
	}
	return dxgiFormat(desc.Format)
}

// depthClearFormat is the depth format clear values of a typeless depth
// resource are given in.
func depthClearFormat(f DXGIFormat) DXGIFormat {
	for depth, typeless := range typelessFormats {
		if typeless == f {
			return formats[depth]
		}
	}
	return f
}

// viewFormat is the format shader views of a texture use. Depth formats
// map to their color-readable counterpart.
func viewFormat(f rhi.Format) (DXGIFormat, error) {
	return dxgiFormat(f.ViewFormat())
}

// Filters and address modes of D3D12_SAMPLER_DESC.
const (
	filterMinMagMipPoint  = 0x00
	filterMinMagMipLinear = 0x15

	addressWrap   = 1
	addressMirror = 2
	addressClamp  = 3
)

var addressModes = map[rhi.AddressMode]uint32{
	rhi.AddressWrap:   addressWrap,
	rhi.AddressMirror: addressMirror,
	rhi.AddressClamp:  addressClamp,
}

func samplerView(desc rhi.SamplerDesc) SamplerView {
	v := SamplerView{
		Filter:   filterMinMagMipLinear,
		Address:  addressModes[desc.Address],
		MaxLOD:   1000,
		MaxAniso: 1,
	}
	if desc.Filter == rhi.FilterNearest {
		v.Filter = filterMinMagMipPoint
	}
	return v
}

// visibility is the root parameter visibility of stages. Only the vertex
// and pixel stages have a dedicated value.
func visibility(s rhi.ShaderStage) ShaderVisibility {
	switch s {
	case rhi.StageVertex:
		return VisibilityVertex
	case rhi.StageFragment:
		return VisibilityPixel
	}
	return VisibilityAll
}

func heapKind(m rhi.MemoryType) HeapKind {
	switch m {
	case rhi.MemoryUpload:
		return HeapUpload
	case rhi.MemoryReadback:
		return HeapReadback
	}
	return HeapDefault
}
