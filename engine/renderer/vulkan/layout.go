package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// layoutBinding is one binding of a set layout with its reflected key.
type layoutBinding struct {
	key  rhi.BindingKey
	vk   vk.DescriptorSetLayoutBinding
	kind rhi.ResourceKind
}

// PipelineLayout holds one set layout per set index, gaps included, and the
// pipeline layout referencing all of them.
type PipelineLayout struct {
	device Device

	Sets     []vk.DescriptorSetLayout
	Handle   vk.PipelineLayout
	Push     vk.PushConstantRange
	bindings [][]layoutBinding
	types    map[rhi.BindingKey]vk.DescriptorType
	info     rhi.DescriptorInfoMap
}

// setBindings groups reflected bindings by set. Sets nobody uses get an
// empty binding list so set numbers stay positional.
func setBindings(ref *rhi.ReflectionResult) ([][]layoutBinding, error) {
	sets := make([][]layoutBinding, ref.Spaces())
	for _, b := range ref.Bindings {
		typ, err := descriptorType(b.Key.Kind)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", b.Name, err)
		}
		sets[b.Key.Space] = append(sets[b.Key.Space], layoutBinding{
			key:  b.Key,
			kind: b.Key.Kind,
			vk: vk.DescriptorSetLayoutBinding{
				Binding:         b.Key.Binding,
				DescriptorType:  typ,
				DescriptorCount: b.Count,
				StageFlags:      vkStageFlags(b.Stages),
			},
		})
	}
	return sets, nil
}

func newPipelineLayout(device Device, ref *rhi.ReflectionResult, name string) (*PipelineLayout, error) {
	sets, err := setBindings(ref)
	if err != nil {
		return nil, err
	}
	l := &PipelineLayout{
		device:   device,
		bindings: sets,
		types:    make(map[rhi.BindingKey]vk.DescriptorType, len(ref.Bindings)),
	}
	index := make(map[rhi.BindingKey]uint32, len(ref.Bindings))
	for _, set := range sets {
		for i, b := range set {
			l.types[b.key] = b.vk.DescriptorType
			index[b.key] = uint32(i)
		}
	}
	l.info = ref.DescriptorInfo(func(b rhi.MergedBinding, _ int) uint32 {
		return index[b.Key]
	})

	for i, set := range sets {
		native := make([]vk.DescriptorSetLayoutBinding, len(set))
		for j, b := range set {
			native[j] = b.vk
		}
		handle, err := device.CreateDescriptorSetLayout(native)
		if err != nil {
			l.Destroy()
			return nil, fmt.Errorf("%s: set %d layout: %w", name, i, err)
		}
		device.SetObjectName(handle, fmt.Sprintf("%s.set%d", name, i))
		l.Sets = append(l.Sets, handle)
	}

	var push []vk.PushConstantRange
	if pc := ref.PushConstants; !pc.IsEmpty() {
		l.Push = vk.PushConstantRange{
			StageFlags: vkStageFlags(pc.Stages),
			Offset:     pc.Offset,
			Size:       pc.Size,
		}
		push = append(push, l.Push)
	}
	handle, err := device.CreatePipelineLayout(l.Sets, push)
	if err != nil {
		l.Destroy()
		return nil, fmt.Errorf("%s: pipeline layout: %w", name, err)
	}
	device.SetObjectName(handle, name)
	l.Handle = handle
	core.LogDebug("pipeline layout %s: %d sets, %d bindings", name, len(l.Sets), len(ref.Bindings))
	return l, nil
}

// SetCount is the number of descriptor sets the layout declares.
func (l *PipelineLayout) SetCount() int {
	return len(l.Sets)
}

// Bindings returns the native bindings of set i.
func (l *PipelineLayout) Bindings(set int) []vk.DescriptorSetLayoutBinding {
	out := make([]vk.DescriptorSetLayoutBinding, len(l.bindings[set]))
	for i, b := range l.bindings[set] {
		out[i] = b.vk
	}
	return out
}

func (l *PipelineLayout) DescriptorInfo() rhi.DescriptorInfoMap {
	return l.info
}

func (l *PipelineLayout) descriptorType(key rhi.BindingKey) vk.DescriptorType {
	return l.types[key]
}

func (l *PipelineLayout) Destroy() {
	if l.Handle != vk.NullPipelineLayout {
		l.device.DestroyPipelineLayout(l.Handle)
		l.Handle = vk.NullPipelineLayout
	}
	for _, s := range l.Sets {
		l.device.DestroyDescriptorSetLayout(s)
	}
	l.Sets = nil
}
