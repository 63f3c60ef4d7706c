package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// Ray tracing bits and types of VK_KHR_ray_tracing_pipeline and
// VK_KHR_acceleration_structure.
const (
	shaderStageRaygenBit       vk.ShaderStageFlagBits = 0x00000100
	shaderStageAnyHitBit       vk.ShaderStageFlagBits = 0x00000200
	shaderStageClosestHitBit   vk.ShaderStageFlagBits = 0x00000400
	shaderStageMissBit         vk.ShaderStageFlagBits = 0x00000800
	shaderStageIntersectionBit vk.ShaderStageFlagBits = 0x00001000

	pipelineBindPointRayTracing vk.PipelineBindPoint = 1000165000

	descriptorTypeAccelerationStructure vk.DescriptorType = 1000150000

	bufferUsageShaderDeviceAddressBit vk.BufferUsageFlagBits = 0x00020000
)

var formats = map[rhi.Format]vk.Format{
	rhi.FormatR32Float:       vk.FormatR32Sfloat,
	rhi.FormatRG32Float:      vk.FormatR32g32Sfloat,
	rhi.FormatRGB32Float:     vk.FormatR32g32b32Sfloat,
	rhi.FormatRGBA32Float:    vk.FormatR32g32b32a32Sfloat,
	rhi.FormatR32Uint:        vk.FormatR32Uint,
	rhi.FormatRG32Uint:       vk.FormatR32g32Uint,
	rhi.FormatRGB32Uint:      vk.FormatR32g32b32Uint,
	rhi.FormatRGBA32Uint:     vk.FormatR32g32b32a32Uint,
	rhi.FormatR32Sint:        vk.FormatR32Sint,
	rhi.FormatRG32Sint:       vk.FormatR32g32Sint,
	rhi.FormatRGB32Sint:      vk.FormatR32g32b32Sint,
	rhi.FormatRGBA32Sint:     vk.FormatR32g32b32a32Sint,
	rhi.FormatR8Unorm:        vk.FormatR8Unorm,
	rhi.FormatRGBA8Unorm:     vk.FormatR8g8b8a8Unorm,
	rhi.FormatRGBA8Srgb:      vk.FormatR8g8b8a8Srgb,
	rhi.FormatBGRA8Unorm:     vk.FormatB8g8r8a8Unorm,
	rhi.FormatBGRA8Srgb:      vk.FormatB8g8r8a8Srgb,
	rhi.FormatRGBA16Float:    vk.FormatR16g16b16a16Sfloat,
	rhi.FormatR16Unorm:       vk.FormatR16Unorm,
	rhi.FormatD16Unorm:       vk.FormatD16Unorm,
	rhi.FormatD24UnormS8Uint: vk.FormatD24UnormS8Uint,
	rhi.FormatD32Float:       vk.FormatD32Sfloat,
	rhi.FormatD32FloatS8Uint: vk.FormatD32SfloatS8Uint,
	// Vulkan reads depth through the depth format itself.
	rhi.FormatR24UnormX8:    vk.FormatD24UnormS8Uint,
	rhi.FormatR32FloatX8X24: vk.FormatD32SfloatS8Uint,
}

func vkFormat(f rhi.Format) (vk.Format, error) {
	if v, ok := formats[f]; ok {
		return v, nil
	}
	return vk.FormatUndefined, fmt.Errorf("%w: %s has no Vulkan format", core.ErrUnsupportedFormat, f)
}

var stageBits = map[rhi.ShaderStage]vk.ShaderStageFlagBits{
	rhi.StageVertex:       vk.ShaderStageVertexBit,
	rhi.StageFragment:     vk.ShaderStageFragmentBit,
	rhi.StageCompute:      vk.ShaderStageComputeBit,
	rhi.StageRayGen:       shaderStageRaygenBit,
	rhi.StageClosestHit:   shaderStageClosestHitBit,
	rhi.StageAnyHit:       shaderStageAnyHitBit,
	rhi.StageMiss:         shaderStageMissBit,
	rhi.StageIntersection: shaderStageIntersectionBit,
}

func vkStage(s rhi.ShaderStage) vk.ShaderStageFlagBits {
	return stageBits[s]
}

func vkStageFlags(stages rhi.StageFlags) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	stages.Each(func(s rhi.ShaderStage) {
		out |= stageBits[s]
	})
	return vk.ShaderStageFlags(out)
}

// descriptorType is the native type a reflected binding is declared with.
// A constant buffer array stays a uniform buffer; arrays only change the count.
func descriptorType(kind rhi.ResourceKind) (vk.DescriptorType, error) {
	switch kind {
	case rhi.ResourceConstantBuffer:
		return vk.DescriptorTypeUniformBuffer, nil
	case rhi.ResourceTexture:
		return vk.DescriptorTypeSampledImage, nil
	case rhi.ResourceSampler:
		return vk.DescriptorTypeSampler, nil
	case rhi.ResourceCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler, nil
	case rhi.ResourceStorageImage:
		return vk.DescriptorTypeStorageImage, nil
	case rhi.ResourceStorageBuffer, rhi.ResourceByteAddressBuffer, rhi.ResourceStructuredBuffer:
		return vk.DescriptorTypeStorageBuffer, nil
	case rhi.ResourceAccelerationStructure:
		return descriptorTypeAccelerationStructure, nil
	}
	return 0, fmt.Errorf("%w: %s", core.ErrUnsupportedResource, kind)
}

func bufferUsage(u rhi.BufferUsageFlags) vk.BufferUsageFlagBits {
	var out vk.BufferUsageFlagBits
	u.Each(func(b rhi.BufferUsage) {
		switch b {
		case rhi.BufferUsageVertex:
			out |= vk.BufferUsageVertexBufferBit
		case rhi.BufferUsageIndex:
			out |= vk.BufferUsageIndexBufferBit
		case rhi.BufferUsageConstantBuffer:
			out |= vk.BufferUsageUniformBufferBit
		case rhi.BufferUsageShaderResource, rhi.BufferUsageUnorderedAccess, rhi.BufferUsageAccelerationStructure:
			out |= vk.BufferUsageStorageBufferBit
		case rhi.BufferUsageAccelerationStructureInput, rhi.BufferUsageShaderTable:
			out |= vk.BufferUsageStorageBufferBit | bufferUsageShaderDeviceAddressBit
		case rhi.BufferUsageTransferSrc:
			out |= vk.BufferUsageTransferSrcBit
		case rhi.BufferUsageTransferDst:
			out |= vk.BufferUsageTransferDstBit
		}
	})
	if out == 0 {
		out = vk.BufferUsageStorageBufferBit
	}
	return out
}

func memoryProperties(m rhi.MemoryType) vk.MemoryPropertyFlagBits {
	switch m {
	case rhi.MemoryUpload:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	case rhi.MemoryReadback:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit
	}
	return vk.MemoryPropertyDeviceLocalBit
}

func imageUsage(desc rhi.TextureDesc) vk.ImageUsageFlagBits {
	out := vk.ImageUsageTransferDstBit
	if desc.Usage.Has(rhi.TextureUsageSampled) {
		out |= vk.ImageUsageSampledBit
	}
	if desc.Usage.Has(rhi.TextureUsageStorage) {
		out |= vk.ImageUsageStorageBit
	}
	if desc.Usage.Has(rhi.TextureUsageRenderTarget) {
		out |= vk.ImageUsageColorAttachmentBit
	}
	if desc.Usage.Has(rhi.TextureUsageDepthStencil) {
		out |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return out
}

func imageAspect(f rhi.Format) vk.ImageAspectFlagBits {
	if f.IsDepth() {
		return vk.ImageAspectDepthBit
	}
	return vk.ImageAspectColorBit
}

var addressModes = map[rhi.AddressMode]vk.SamplerAddressMode{
	rhi.AddressWrap:   vk.SamplerAddressModeRepeat,
	rhi.AddressClamp:  vk.SamplerAddressModeClampToEdge,
	rhi.AddressMirror: vk.SamplerAddressModeMirroredRepeat,
}

func filter(f rhi.Filter) (vk.Filter, vk.SamplerMipmapMode) {
	if f == rhi.FilterNearest {
		return vk.FilterNearest, vk.SamplerMipmapModeNearest
	}
	return vk.FilterLinear, vk.SamplerMipmapModeLinear
}
