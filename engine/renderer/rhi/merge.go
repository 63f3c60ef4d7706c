package rhi

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// MergeReflections folds per-stage reflections into one result. A key seen
// by several stages is kept once with the union of their visibility. A key
// whose count differs between stages, or two kinds claiming the same slot
// of the namespace computed by slotOf, is an ErrBindingConflict.
func MergeReflections(stages []StageReflection, slotOf func(BindingKey) SlotKey) (*ReflectionResult, error) {
	res := &ReflectionResult{Stages: stages}
	byKey := make(map[BindingKey]int)
	bySlot := make(map[SlotKey]BindingKey)

	for _, st := range stages {
		for _, b := range st.Bindings {
			if idx, ok := byKey[b.Key]; ok {
				m := &res.Bindings[idx]
				if m.Count != b.Count {
					return nil, fmt.Errorf("%w: %s declared with %d descriptors in %s but %d in %s",
						core.ErrBindingConflict, b.Key, m.Count, m.Stages.Bits(), b.Count, st.Stage)
				}
				if m.Stride == 0 {
					m.Stride = b.Stride
				}
				m.Stages = m.Stages.With(st.Stage)
				continue
			}

			slot := slotOf(b.Key)
			if other, ok := bySlot[slot]; ok {
				return nil, fmt.Errorf("%w: %s in %s overlaps %s",
					core.ErrBindingConflict, b.Key, st.Stage, other)
			}
			bySlot[slot] = b.Key
			byKey[b.Key] = len(res.Bindings)
			res.Bindings = append(res.Bindings, MergedBinding{
				Name:   b.Name,
				Key:    b.Key,
				Count:  b.Count,
				Stride: b.Stride,
				Stages: core.NewFlags(st.Stage),
			})
		}

		switch st.Stage {
		case StageVertex:
			res.VertexInputs = st.VertexInputs
			res.VertexStride = 0
			for _, a := range st.VertexInputs {
				if end := a.Offset + a.Format.Size(); end > res.VertexStride {
					res.VertexStride = end
				}
			}
		case StageFragment:
			res.ColorOutputs = st.ColorOutputs
		}

		if !st.PushConstants.IsEmpty() {
			res.PushConstants = mergePushConstants(res.PushConstants, st.PushConstants, st.Stage)
		}
	}
	return res, nil
}

func mergePushConstants(acc, next PushConstantRange, stage ShaderStage) PushConstantRange {
	if acc.IsEmpty() {
		return PushConstantRange{Stages: core.NewFlags(stage), Offset: next.Offset, Size: next.Size}
	}
	begin := min(acc.Offset, next.Offset)
	end := max(acc.Offset+acc.Size, next.Offset+next.Size)
	return PushConstantRange{Stages: acc.Stages.With(stage), Offset: begin, Size: end - begin}
}
