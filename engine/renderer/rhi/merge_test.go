package rhi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func binding(name string, kind ResourceKind, space, slot, count uint32) ShaderBinding {
	return ShaderBinding{Name: name, Key: BindingKey{Kind: kind, Space: space, Binding: slot}, Count: count}
}

func TestMergeReflectionsWidensVisibility(t *testing.T) {
	vs := StageReflection{
		Stage:    StageVertex,
		Bindings: []ShaderBinding{binding("camera", ResourceConstantBuffer, 0, 0, 1)},
		VertexInputs: []VertexAttribute{
			{Name: "POSITION", Format: FormatRGB32Float, Offset: 0},
			{Name: "TEXCOORD", Format: FormatRG32Float, Offset: 12},
		},
	}
	fs := StageReflection{
		Stage: StageFragment,
		Bindings: []ShaderBinding{
			binding("camera", ResourceConstantBuffer, 0, 0, 1),
			binding("albedo", ResourceTexture, 0, 0, 1),
		},
		ColorOutputs: []ColorAttachment{{Location: 0, Format: FormatRGBA32Float, Name: "SV_Target"}},
	}

	res, err := MergeReflections([]StageReflection{vs, fs}, RegisterSlot)
	require.NoError(t, err)
	require.Len(t, res.Bindings, 2)

	camera := res.Bindings[0]
	assert.Equal(t, "camera", camera.Name)
	assert.True(t, camera.Stages.Has(StageVertex|StageFragment))
	assert.Equal(t, AllStages, camera.Visibility())
	assert.Equal(t, StageFragment, res.Bindings[1].Visibility())

	assert.Equal(t, uint32(20), res.VertexStride)
	assert.Len(t, res.ColorOutputs, 1)
	assert.True(t, res.HasVertexInput())
}

func TestMergeReflectionsKeysAreUnique(t *testing.T) {
	stages := []StageReflection{
		{Stage: StageRayGen, Bindings: []ShaderBinding{binding("scene", ResourceAccelerationStructure, 0, 0, 1), binding("out", ResourceStorageImage, 0, 0, 1)}},
		{Stage: StageClosestHit, Bindings: []ShaderBinding{binding("scene", ResourceAccelerationStructure, 0, 0, 1)}},
		{Stage: StageMiss, Bindings: []ShaderBinding{binding("scene", ResourceAccelerationStructure, 0, 0, 1)}},
	}
	res, err := MergeReflections(stages, RegisterSlot)
	require.NoError(t, err)

	seen := map[BindingKey]int{}
	for _, b := range res.Bindings {
		seen[b.Key]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, k.String())
	}
	assert.Equal(t, 3, res.Bindings[0].Stages.Count())

	info := res.DescriptorInfo(func(_ MergedBinding, i int) uint32 { return uint32(i) })
	assert.Equal(t, DescriptorInfo{Slot: 0, Count: 1}, info[BindingKey{Kind: ResourceAccelerationStructure}])
	assert.Equal(t, DescriptorInfo{Slot: 1, Count: 1}, info[BindingKey{Kind: ResourceStorageImage}])
}

func TestMergeReflectionsConflicts(t *testing.T) {
	tests := []struct {
		name   string
		a, b   ShaderBinding
		slotOf func(BindingKey) SlotKey
	}{
		{
			name:   "count mismatch",
			a:      binding("textures", ResourceTexture, 0, 2, 8),
			b:      binding("textures", ResourceTexture, 0, 2, 4),
			slotOf: RegisterSlot,
		},
		{
			name:   "kind mismatch in the same register class",
			a:      binding("data", ResourceStructuredBuffer, 1, 0, 1),
			b:      binding("data", ResourceTexture, 1, 0, 1),
			slotOf: RegisterSlot,
		},
		{
			name:   "kind mismatch in the same vulkan binding",
			a:      binding("tex", ResourceTexture, 0, 0, 1),
			b:      binding("smp", ResourceSampler, 0, 0, 1),
			slotOf: SetSlot,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MergeReflections([]StageReflection{
				{Stage: StageVertex, Bindings: []ShaderBinding{tt.a}},
				{Stage: StageFragment, Bindings: []ShaderBinding{tt.b}},
			}, tt.slotOf)
			assert.ErrorIs(t, err, core.ErrBindingConflict)
		})
	}
}

func TestMergeReflectionsRegisterClassesDoNotCollide(t *testing.T) {
	res, err := MergeReflections([]StageReflection{{
		Stage: StageFragment,
		Bindings: []ShaderBinding{
			binding("tex", ResourceTexture, 0, 0, 1),
			binding("smp", ResourceSampler, 0, 0, 1),
		},
	}}, RegisterSlot)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 2)
}

func TestMergePushConstants(t *testing.T) {
	res, err := MergeReflections([]StageReflection{
		{Stage: StageVertex, PushConstants: PushConstantRange{Offset: 0, Size: 64}},
		{Stage: StageFragment, PushConstants: PushConstantRange{Offset: 64, Size: 16}},
	}, SetSlot)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), res.PushConstants.Offset)
	assert.Equal(t, uint32(80), res.PushConstants.Size)
	assert.True(t, res.PushConstants.Stages.Has(StageVertex|StageFragment))
}

func TestDescriptorInfoMapFind(t *testing.T) {
	m := DescriptorInfoMap{
		{Kind: ResourceStructuredBuffer, Space: 0, Binding: 3}: {Slot: 2, Count: 1},
	}
	key, info, ok := m.Find(0, 3, ResourceByteAddressBuffer, ResourceStructuredBuffer)
	require.True(t, ok)
	assert.Equal(t, ResourceStructuredBuffer, key.Kind)
	assert.Equal(t, uint32(2), info.Slot)

	_, _, ok = m.Find(0, 99, ResourceTexture)
	assert.False(t, ok)
}
