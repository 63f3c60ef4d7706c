package rhi

import "fmt"

// ResourceKind is the shader-visible shape of a bound resource.
type ResourceKind uint8

const (
	ResourceUnknown ResourceKind = iota
	ResourceConstantBuffer
	ResourceTexture
	ResourceSampler
	ResourceStorageImage
	ResourceStorageBuffer
	ResourceByteAddressBuffer
	ResourceStructuredBuffer
	ResourceAccelerationStructure
	// ResourceCombinedImageSampler only comes out of GLSL-authored SPIR-V.
	ResourceCombinedImageSampler
)

var resourceKindNames = [...]string{
	ResourceUnknown:               "unknown",
	ResourceConstantBuffer:        "ConstantBuffer",
	ResourceTexture:               "Texture",
	ResourceSampler:               "Sampler",
	ResourceStorageImage:          "StorageImage",
	ResourceStorageBuffer:         "StorageBuffer",
	ResourceByteAddressBuffer:     "ByteAddressBuffer",
	ResourceStructuredBuffer:      "StructuredBuffer",
	ResourceAccelerationStructure: "AccelerationStructure",
	ResourceCombinedImageSampler:  "CombinedImageSampler",
}

func (k ResourceKind) String() string {
	if int(k) < len(resourceKindNames) {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("ResourceKind(%d)", k)
}

// RegisterClass is the HLSL register class (b, t, s, u) a kind lives in.
type RegisterClass uint8

const (
	ClassCBV RegisterClass = iota
	ClassSRV
	ClassUAV
	ClassSampler
)

func (c RegisterClass) String() string {
	switch c {
	case ClassCBV:
		return "b"
	case ClassSRV:
		return "t"
	case ClassUAV:
		return "u"
	case ClassSampler:
		return "s"
	}
	return "?"
}

func (k ResourceKind) Class() RegisterClass {
	switch k {
	case ResourceConstantBuffer:
		return ClassCBV
	case ResourceSampler:
		return ClassSampler
	case ResourceStorageImage, ResourceStorageBuffer:
		return ClassUAV
	}
	return ClassSRV
}

// BindingKey identifies one binding slot across every stage of a pipeline.
type BindingKey struct {
	Kind    ResourceKind
	Space   uint32
	Binding uint32
}

func (k BindingKey) String() string {
	return fmt.Sprintf("%s(space=%d, binding=%d)", k.Kind, k.Space, k.Binding)
}

// SlotKey is the namespace two bindings compete for. Two keys mapping to the
// same SlotKey with different kinds are a conflict.
type SlotKey struct {
	Class   int
	Space   uint32
	Binding uint32
}

// RegisterSlot is the D3D12 namespace: t0 and s0 are different slots.
func RegisterSlot(k BindingKey) SlotKey {
	return SlotKey{Class: int(k.Kind.Class()), Space: k.Space, Binding: k.Binding}
}

// SetSlot is the Vulkan namespace: a binding number is unique per set.
func SetSlot(k BindingKey) SlotKey {
	return SlotKey{Space: k.Space, Binding: k.Binding}
}

// DescriptorInfo is the layout position of a key: the root parameter index
// (D3D12) or the index inside the set layout (Vulkan), and the array size.
type DescriptorInfo struct {
	Slot  uint32
	Count uint32
}

// DescriptorInfoMap is built once per pipeline and read-only afterwards.
type DescriptorInfoMap map[BindingKey]DescriptorInfo

// Find returns the first of kinds declared at (space, binding).
func (m DescriptorInfoMap) Find(space, binding uint32, kinds ...ResourceKind) (BindingKey, DescriptorInfo, bool) {
	for _, kind := range kinds {
		key := BindingKey{Kind: kind, Space: space, Binding: binding}
		if info, ok := m[key]; ok {
			return key, info, true
		}
	}
	return BindingKey{}, DescriptorInfo{}, false
}
