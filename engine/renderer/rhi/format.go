package rhi

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type Format uint16

const (
	FormatUnknown Format = iota
	FormatR32Float
	FormatRG32Float
	FormatRGB32Float
	FormatRGBA32Float
	FormatR32Uint
	FormatRG32Uint
	FormatRGB32Uint
	FormatRGBA32Uint
	FormatR32Sint
	FormatRG32Sint
	FormatRGB32Sint
	FormatRGBA32Sint
	FormatR8Unorm
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatRGBA16Float
	FormatR16Unorm
	FormatR24UnormX8
	FormatR32FloatX8X24
	FormatD16Unorm
	FormatD24UnormS8Uint
	FormatD32Float
	FormatD32FloatS8Uint
)

var formatNames = [...]string{
	FormatUnknown:        "Unknown",
	FormatR32Float:       "R32Float",
	FormatRG32Float:      "RG32Float",
	FormatRGB32Float:     "RGB32Float",
	FormatRGBA32Float:    "RGBA32Float",
	FormatR32Uint:        "R32Uint",
	FormatRG32Uint:       "RG32Uint",
	FormatRGB32Uint:      "RGB32Uint",
	FormatRGBA32Uint:     "RGBA32Uint",
	FormatR32Sint:        "R32Sint",
	FormatRG32Sint:       "RG32Sint",
	FormatRGB32Sint:      "RGB32Sint",
	FormatRGBA32Sint:     "RGBA32Sint",
	FormatR8Unorm:        "R8Unorm",
	FormatRGBA8Unorm:     "RGBA8Unorm",
	FormatRGBA8Srgb:      "RGBA8Srgb",
	FormatBGRA8Unorm:     "BGRA8Unorm",
	FormatBGRA8Srgb:      "BGRA8Srgb",
	FormatRGBA16Float:    "RGBA16Float",
	FormatR16Unorm:       "R16Unorm",
	FormatR24UnormX8:     "R24UnormX8",
	FormatR32FloatX8X24:  "R32FloatX8X24",
	FormatD16Unorm:       "D16Unorm",
	FormatD24UnormS8Uint: "D24UnormS8Uint",
	FormatD32Float:       "D32Float",
	FormatD32FloatS8Uint: "D32FloatS8Uint",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

func (f Format) IsDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD24UnormS8Uint, FormatD32Float, FormatD32FloatS8Uint:
		return true
	}
	return false
}

func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32FloatS8Uint
}

// ViewFormat returns the format a shader view of f must use. Depth formats
// are not readable as-is, so they map to the matching color format.
func (f Format) ViewFormat() Format {
	switch f {
	case FormatD32Float:
		return FormatR32Float
	case FormatD24UnormS8Uint:
		return FormatR24UnormX8
	case FormatD32FloatS8Uint:
		return FormatR32FloatX8X24
	case FormatD16Unorm:
		return FormatR16Unorm
	}
	return f
}

// Size is the size of one texel or vertex element in bytes.
func (f Format) Size() uint32 {
	switch f {
	case FormatR32Float, FormatR32Uint, FormatR32Sint, FormatRGBA8Unorm, FormatRGBA8Srgb,
		FormatBGRA8Unorm, FormatBGRA8Srgb, FormatR24UnormX8, FormatD24UnormS8Uint, FormatD32Float:
		return 4
	case FormatRG32Float, FormatRG32Uint, FormatRG32Sint, FormatRGBA16Float,
		FormatR32FloatX8X24, FormatD32FloatS8Uint:
		return 8
	case FormatRGB32Float, FormatRGB32Uint, FormatRGB32Sint:
		return 12
	case FormatRGBA32Float, FormatRGBA32Uint, FormatRGBA32Sint:
		return 16
	case FormatR16Unorm, FormatD16Unorm:
		return 2
	case FormatR8Unorm:
		return 1
	}
	return 0
}

// ComponentType is the scalar type of a shader interface variable.
type ComponentType uint8

const (
	ComponentUnknown ComponentType = iota
	ComponentFloat32
	ComponentUint32
	ComponentSint32
	ComponentFloat16
)

func (c ComponentType) String() string {
	switch c {
	case ComponentFloat32:
		return "float32"
	case ComponentUint32:
		return "uint32"
	case ComponentSint32:
		return "sint32"
	case ComponentFloat16:
		return "float16"
	}
	return "unknown"
}

var (
	floatFormats = [...]Format{FormatR32Float, FormatRG32Float, FormatRGB32Float, FormatRGBA32Float}
	uintFormats  = [...]Format{FormatR32Uint, FormatRG32Uint, FormatRGB32Uint, FormatRGBA32Uint}
)

// AttributeFormat picks the packed format for a shader interface variable.
// Only 32-bit float and unsigned components with 1 to 4 lanes are supported.
func AttributeFormat(ct ComponentType, components uint32) (Format, error) {
	if components < 1 || components > 4 {
		return FormatUnknown, fmt.Errorf("%w: %d components", core.ErrUnsupportedFormat, components)
	}
	switch ct {
	case ComponentFloat32:
		return floatFormats[components-1], nil
	case ComponentUint32:
		return uintFormats[components-1], nil
	}
	return FormatUnknown, fmt.Errorf("%w: component type %s", core.ErrUnsupportedFormat, ct)
}
