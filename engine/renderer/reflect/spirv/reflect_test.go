package spirv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

const version10 = 0x00010000

func vertexModule() []byte {
	b := newModule(version10)
	f32 := b.typeFloat()
	v2 := b.typeVector(f32, 2)
	v3 := b.typeVector(f32, 3)
	v4 := b.typeVector(f32, 4)
	uv := b.location(b.variable(v2, StorageInput, "in.var.TEXCOORD"), 1)
	pos := b.location(b.variable(v3, StorageInput, "in.var.POSITION"), 0)
	out := b.variable(v4, StorageOutput, "gl_Position")
	b.decorate(out, decorationBuiltIn, 0)
	b.entry(ModelVertex, "main", uv, pos, out)
	return b.bytes()
}

func fragmentModule() []byte {
	b := newModule(version10)
	f32 := b.typeFloat()
	v4 := b.typeVector(f32, 4)
	img := b.typeImage(f32, 1, 1)
	smp := b.simple(opTypeSampler)
	b.resource(img, StorageUniformConstant, "albedo", 0, 0)
	b.resource(smp, StorageUniformConstant, "linearSampler", 0, 1)
	out := b.location(b.variable(v4, StorageOutput, "out.var.SV_Target0"), 0)
	b.entry(ModelFragment, "main", out)
	return b.bytes()
}

func TestReflectRasterPipeline(t *testing.T) {
	vs, err := Reflect(rhi.ShaderBlob{Code: vertexModule(), Stage: rhi.StageVertex, Entry: "main", Path: "mesh.vs"}, Options{})
	require.NoError(t, err)
	fs, err := Reflect(rhi.ShaderBlob{Code: fragmentModule(), Stage: rhi.StageFragment, Entry: "main", Path: "mesh.fs"}, Options{})
	require.NoError(t, err)

	require.Len(t, vs.VertexInputs, 2)
	assert.Equal(t, rhi.VertexAttribute{Name: "POSITION", Location: 0, Format: rhi.FormatRGB32Float, Offset: 0}, vs.VertexInputs[0])
	assert.Equal(t, rhi.VertexAttribute{Name: "TEXCOORD", Location: 1, Format: rhi.FormatRG32Float, Offset: 12}, vs.VertexInputs[1])
	assert.Empty(t, vs.Bindings)

	require.Len(t, fs.ColorOutputs, 1)
	assert.Equal(t, rhi.ColorAttachment{Location: 0, Format: rhi.FormatRGBA32Float, Name: "SV_Target0"}, fs.ColorOutputs[0])

	res, err := rhi.MergeReflections([]rhi.StageReflection{vs, fs}, rhi.SetSlot)
	require.NoError(t, err)
	info := res.DescriptorInfo(func(_ rhi.MergedBinding, i int) uint32 { return uint32(i) })
	require.Len(t, info, 2)
	assert.Equal(t, uint32(1), info[rhi.BindingKey{Kind: rhi.ResourceTexture, Space: 0, Binding: 0}].Count)
	assert.Equal(t, uint32(1), info[rhi.BindingKey{Kind: rhi.ResourceSampler, Space: 0, Binding: 1}].Count)
	assert.Equal(t, uint32(20), res.VertexStride)
}

func rayTracingLibrary() []byte {
	b := newModule(0x00010500)
	f32 := b.typeFloat()
	u32 := b.typeInt(false)
	v4 := b.typeVector(f32, 4)

	as := b.simple(opTypeAccelerationStructureKHR)
	scene := b.resource(as, StorageUniformConstant, "scene", 0, 0)

	words := b.typeRuntimeArray(u32, 4)
	raw := b.typeStruct(words)
	b.decorate(raw, decorationBlock)
	b.memberDecorate(raw, 0, decorationNonWritable)
	indices := b.resource(raw, StorageStorageBuffer, "indices", 0, 1)

	elem := b.typeStruct(v4)
	elems := b.typeRuntimeArray(elem, 16)
	structured := b.typeStruct(elems)
	b.decorate(structured, decorationBlock)
	b.memberDecorate(structured, 0, decorationNonWritable)
	vertices := b.resource(structured, StorageStorageBuffer, "vertices", 0, 2)

	rwWords := b.typeRuntimeArray(u32, 4)
	rw := b.typeStruct(rwWords)
	b.decorate(rw, decorationBlock)
	counters := b.resource(rw, StorageStorageBuffer, "counters", 0, 3)

	storage := b.typeImage(f32, 1, 2)
	output := b.resource(storage, StorageUniformConstant, "output", 0, 4)

	img := b.typeImage(f32, 1, 1)
	textures := b.resource(b.typeRuntimeArray(img, 0), StorageUniformConstant, "textures", 1, 0)
	shadows := b.resource(b.typeArray(img, u32, 8), StorageUniformConstant, "shadows", 1, 1)

	b.entry(ModelRayGen, "RayGen", scene, indices, output)
	b.entry(ModelClosestHit, "ClosestHit", scene, vertices, counters, textures, shadows)
	return b.bytes()
}

func kinds(st rhi.StageReflection) map[string]rhi.ShaderBinding {
	out := make(map[string]rhi.ShaderBinding)
	for _, b := range st.Bindings {
		out[b.Name] = b
	}
	return out
}

func TestReflectLibraryEntries(t *testing.T) {
	code := rayTracingLibrary()

	rg, err := Reflect(rhi.ShaderBlob{Code: code, Stage: rhi.StageRayGen, Entry: "RayGen"}, Options{})
	require.NoError(t, err)
	assert.True(t, rg.Library)
	got := kinds(rg)
	require.Len(t, got, 3)
	assert.Equal(t, rhi.ResourceAccelerationStructure, got["scene"].Key.Kind)
	assert.Equal(t, rhi.ResourceByteAddressBuffer, got["indices"].Key.Kind)
	assert.Equal(t, uint32(4), got["indices"].Stride)
	assert.Equal(t, rhi.BindingKey{Kind: rhi.ResourceStorageImage, Space: 0, Binding: 4}, got["output"].Key)

	ch, err := Reflect(rhi.ShaderBlob{Code: code, Stage: rhi.StageClosestHit, Entry: "ClosestHit"}, Options{UnboundedArraySize: 128})
	require.NoError(t, err)
	got = kinds(ch)
	require.Len(t, got, 5)
	assert.Equal(t, rhi.ResourceStructuredBuffer, got["vertices"].Key.Kind)
	assert.Equal(t, uint32(16), got["vertices"].Stride)
	assert.Equal(t, rhi.ResourceStorageBuffer, got["counters"].Key.Kind)
	assert.Equal(t, uint32(128), got["textures"].Count)
	assert.Equal(t, uint32(1), got["textures"].Key.Space)
	assert.Equal(t, uint32(8), got["shadows"].Count)
}

func TestReflectPushConstants(t *testing.T) {
	b := newModule(version10)
	f32 := b.typeFloat()
	v4 := b.typeVector(f32, 4)
	block := b.typeStruct(v4, v4)
	b.decorate(block, decorationBlock)
	b.memberDecorate(block, 0, decorationOffset, 0)
	b.memberDecorate(block, 1, decorationOffset, 16)
	b.variable(block, StoragePushConstant, "constants")
	b.entry(ModelGLCompute, "main")

	st, err := Reflect(rhi.ShaderBlob{Code: b.bytes(), Stage: rhi.StageCompute, Entry: "main"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint32(32), st.PushConstants.Size)
	assert.True(t, st.PushConstants.Stages.Has(rhi.StageCompute))
	assert.Empty(t, st.Bindings)
}

func TestReflectConstantBuffer(t *testing.T) {
	b := newModule(version10)
	f32 := b.typeFloat()
	v4 := b.typeVector(f32, 4)
	block := b.typeStruct(v4)
	b.decorate(block, decorationBlock)
	b.resource(block, StorageUniform, "camera", 2, 0)
	b.entry(ModelVertex, "main")

	st, err := Reflect(rhi.ShaderBlob{Code: b.bytes(), Stage: rhi.StageVertex, Entry: "main"}, Options{})
	require.NoError(t, err)
	require.Len(t, st.Bindings, 1)
	assert.Equal(t, rhi.BindingKey{Kind: rhi.ResourceConstantBuffer, Space: 2, Binding: 0}, st.Bindings[0].Key)
}

func TestReflectErrors(t *testing.T) {
	t.Run("missing entry point", func(t *testing.T) {
		_, err := Reflect(rhi.ShaderBlob{Code: rayTracingLibrary(), Stage: rhi.StageMiss, Entry: "Miss"}, Options{})
		assert.ErrorIs(t, err, core.ErrEntryPointNotFound)
	})
	t.Run("wrong stage for entry", func(t *testing.T) {
		_, err := Reflect(rhi.ShaderBlob{Code: vertexModule(), Stage: rhi.StageFragment, Entry: "main"}, Options{})
		assert.ErrorIs(t, err, core.ErrEntryPointNotFound)
	})
	t.Run("bad magic", func(t *testing.T) {
		_, err := Reflect(rhi.ShaderBlob{Code: make([]byte, 40), Stage: rhi.StageVertex}, Options{})
		assert.ErrorIs(t, err, core.ErrReflection)
	})
	t.Run("signed vertex input", func(t *testing.T) {
		b := newModule(version10)
		i32 := b.typeInt(true)
		in := b.location(b.variable(i32, StorageInput, "in.var.BONE"), 0)
		b.entry(ModelVertex, "main", in)
		_, err := Reflect(rhi.ShaderBlob{Code: b.bytes(), Stage: rhi.StageVertex, Entry: "main"}, Options{})
		assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
	})
	t.Run("texel buffer", func(t *testing.T) {
		b := newModule(version10)
		f32 := b.typeFloat()
		b.resource(b.typeImage(f32, 5, 1), StorageUniformConstant, "texels", 0, 0)
		b.entry(ModelFragment, "main")
		_, err := Reflect(rhi.ShaderBlob{Code: b.bytes(), Stage: rhi.StageFragment, Entry: "main"}, Options{})
		assert.ErrorIs(t, err, core.ErrUnsupportedResource)
	})
}
