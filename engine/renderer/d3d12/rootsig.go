package d3d12

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// localRootSpace is the register space of local root arguments. Each
// argument is a root constant buffer view at b0, b1, ...
const localRootSpace = 100

var rangeTypes = map[rhi.RegisterClass]DescriptorRangeType{
	rhi.ClassCBV:     RangeCBV,
	rhi.ClassSRV:     RangeSRV,
	rhi.ClassUAV:     RangeUAV,
	rhi.ClassSampler: RangeSampler,
}

// rootParameter maps one merged binding to a root parameter. A single
// constant buffer is a root descriptor; everything else, single textures
// included, is a table with one range.
func rootParameter(b rhi.MergedBinding) RootParameter {
	vis := visibility(b.Visibility())
	if b.Key.Kind == rhi.ResourceConstantBuffer && b.Count == 1 {
		return RootParameter{
			Type:           RootParameterCBV,
			Visibility:     vis,
			ShaderRegister: b.Key.Binding,
			RegisterSpace:  b.Key.Space,
		}
	}
	return RootParameter{
		Type:       RootParameterDescriptorTable,
		Visibility: vis,
		Range: DescriptorRange{
			Type:               rangeTypes[b.Key.Kind.Class()],
			NumDescriptors:     b.Count,
			BaseShaderRegister: b.Key.Binding,
			RegisterSpace:      b.Key.Space,
		},
	}
}

// RootLayout is a root signature with one parameter per reflected binding,
// in reflection order.
type RootLayout struct {
	device Device
	Handle RootSignature
	Params []RootParameter
	Flags  RootSignatureFlags
	info   rhi.DescriptorInfoMap
}

func newRootLayout(device Device, ref *rhi.ReflectionResult, name string) (*RootLayout, error) {
	l := &RootLayout{device: device}
	for _, b := range ref.Bindings {
		l.Params = append(l.Params, rootParameter(b))
	}
	if ref.HasVertexInput() {
		l.Flags |= RootSignatureAllowInputAssembler
	}
	l.info = ref.DescriptorInfo(func(_ rhi.MergedBinding, index int) uint32 {
		return uint32(index)
	})
	handle, err := device.CreateRootSignature(RootSignatureDesc{Parameters: l.Params, Flags: l.Flags})
	if err != nil {
		return nil, fmt.Errorf("%s: root signature: %w", name, err)
	}
	l.Handle = handle
	core.LogDebug("root signature %s: %d parameters", name, len(l.Params))
	return l, nil
}

// newLocalRootSignature declares params root constant buffer views in
// localRootSpace.
func newLocalRootSignature(device Device, params uint32) (RootSignature, error) {
	desc := RootSignatureDesc{Flags: RootSignatureLocal}
	for i := uint32(0); i < params; i++ {
		desc.Parameters = append(desc.Parameters, RootParameter{
			Type:           RootParameterCBV,
			Visibility:     VisibilityAll,
			ShaderRegister: i,
			RegisterSpace:  localRootSpace,
		})
	}
	return device.CreateRootSignature(desc)
}

func (l *RootLayout) DescriptorInfo() rhi.DescriptorInfoMap {
	return l.info
}

// IsRootDescriptor reports whether parameter i is bound without a table.
func (l *RootLayout) IsRootDescriptor(i uint32) bool {
	return l.Params[i].Type == RootParameterCBV
}

// heapType is the heap the table of parameter i lives in.
func (l *RootLayout) heapType(i uint32) HeapType {
	if l.Params[i].Range.Type == RangeSampler {
		return HeapTypeSampler
	}
	return HeapTypeCBVSRVUAV
}

func (l *RootLayout) Destroy() {
	if l.Handle != 0 {
		l.device.Release(uintptr(l.Handle))
		l.Handle = 0
	}
}
