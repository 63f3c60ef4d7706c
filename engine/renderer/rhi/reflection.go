package rhi

// VertexAttribute is one vertex shader input with its packed offset.
type VertexAttribute struct {
	Name          string
	SemanticIndex uint32
	Location      uint32
	Format        Format
	Offset        uint32
}

// ColorAttachment is one fragment shader output.
type ColorAttachment struct {
	Location uint32
	Format   Format
	Name     string
}

type PushConstantRange struct {
	Stages StageFlags
	Offset uint32
	Size   uint32
}

func (r PushConstantRange) IsEmpty() bool {
	return r.Size == 0
}

// ShaderBinding is a resource as declared by a single stage.
type ShaderBinding struct {
	Name  string
	Key   BindingKey
	Count uint32
	// Stride is the element size of structured buffers, 0 when unknown.
	Stride uint32
}

// StageReflection is what a reflector recovers from one compiled blob.
type StageReflection struct {
	Stage         ShaderStage
	Entry         string
	Bindings      []ShaderBinding
	VertexInputs  []VertexAttribute
	ColorOutputs  []ColorAttachment
	PushConstants PushConstantRange
	// Library is set when the entry was found in a multi-entry library.
	Library bool
}

// MergedBinding is one key after all stages were folded together.
type MergedBinding struct {
	Name   string
	Key    BindingKey
	Count  uint32
	Stride uint32
	Stages StageFlags
}

// Visibility is the single stage that sees the binding, or AllStages when
// more than one does.
func (b MergedBinding) Visibility() ShaderStage {
	if b.Stages.Count() == 1 {
		return b.Stages.Bits()
	}
	return AllStages
}

// ReflectionResult is the joint reflection of every stage of a pipeline.
// Bindings keep the order in which keys were first seen.
type ReflectionResult struct {
	Bindings      []MergedBinding
	Stages        []StageReflection
	VertexInputs  []VertexAttribute
	VertexStride  uint32
	ColorOutputs  []ColorAttachment
	PushConstants PushConstantRange
}

// DescriptorInfo assigns every binding a slot using slotOf, which receives
// the binding and its position in Bindings.
func (r *ReflectionResult) DescriptorInfo(slotOf func(b MergedBinding, index int) uint32) DescriptorInfoMap {
	m := make(DescriptorInfoMap, len(r.Bindings))
	for i, b := range r.Bindings {
		m[b.Key] = DescriptorInfo{Slot: slotOf(b, i), Count: b.Count}
	}
	return m
}

// Spaces returns the highest space index used plus one.
func (r *ReflectionResult) Spaces() uint32 {
	var n uint32
	for _, b := range r.Bindings {
		if b.Key.Space+1 > n {
			n = b.Key.Space + 1
		}
	}
	return n
}

func (r *ReflectionResult) HasVertexInput() bool {
	return len(r.VertexInputs) > 0
}

func (r *ReflectionResult) Stage(s ShaderStage) (StageReflection, bool) {
	for _, st := range r.Stages {
		if st.Stage == s {
			return st, true
		}
	}
	return StageReflection{}, false
}
