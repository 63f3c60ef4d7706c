package shadercompiler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/reflect/spirv"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func TestProfile(t *testing.T) {
	tests := []struct {
		stage rhi.ShaderStage
		sm    string
		want  string
	}{
		{rhi.StageVertex, "6_5", "vs_6_5"},
		{rhi.StageFragment, "6_0", "ps_6_0"},
		{rhi.StageCompute, "6_6", "cs_6_6"},
		{rhi.StageRayGen, "6_5", "lib_6_5"},
		{rhi.StageClosestHit, "6_0", "lib_6_3"},
	}
	for _, tt := range tests {
		got, err := Profile(tt.stage, tt.sm)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := Profile(rhi.StageVertex|rhi.StageFragment, "6_5")
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestDXCArgs(t *testing.T) {
	d := NewDXC(config.Default().Shaders)
	src := rhi.ShaderSrc{
		Path:    "mesh.hlsl",
		Entry:   "PSMain",
		Stage:   rhi.StageFragment,
		Defines: map[string]string{"USE_NORMALS": "1", "ALPHA_TEST": ""},
	}

	args, err := d.args(src, rhi.BytecodeDXIL, "in.hlsl", "out.bin")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-T", "ps_6_5", "-E", "PSMain",
		"-D", "ALPHA_TEST", "-D", "USE_NORMALS=1",
		"-Qembed_debug", "-Zi",
		"-Fo", "out.bin", "in.hlsl",
	}, args)

	args, err = d.args(src, rhi.BytecodeSPIRV, "in.hlsl", "out.bin")
	require.NoError(t, err)
	assert.Contains(t, args, "-spirv")
	assert.Subset(t, args, []string{"-fvk-t-shift", "1000", "-fvk-s-shift", "2000", "-fvk-u-shift", "3000", "all"})

	src.Stage = rhi.StageRayGen
	args, err = d.args(src, rhi.BytecodeDXIL, "in.hlsl", "out.bin")
	require.NoError(t, err)
	assert.Equal(t, "lib_6_5", args[1])
	assert.NotContains(t, args, "-E")
}

func TestGlslcArgs(t *testing.T) {
	g := &Glslc{Path: "glslc"}
	args, err := g.args(rhi.ShaderSrc{Stage: rhi.StageClosestHit, Defines: map[string]string{"MAX": "4"}}, "in.glsl", "out.spv")
	require.NoError(t, err)
	assert.Equal(t, []string{"-fshader-stage=rchit", "--target-env=vulkan1.2", "-DMAX=4", "-o", "out.spv", "in.glsl"}, args)

	_, err = g.Compile(context.Background(), rhi.ShaderSrc{Stage: rhi.StageVertex}, rhi.BytecodeDXIL)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

const scaleWGSL = `
struct Params {
    scale: f32,
    count: u32,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read_write> data: array<f32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x < params.count) {
        data[id.x] = data[id.x] * params.scale;
    }
}
`

func TestNagaCompileReflects(t *testing.T) {
	n := &Naga{}
	blob, err := n.Compile(context.Background(), rhi.ShaderSrc{
		Path:   "scale.wgsl",
		Entry:  "main",
		Stage:  rhi.StageCompute,
		Source: []byte(scaleWGSL),
	}, rhi.BytecodeSPIRV)
	require.NoError(t, err)
	assert.Equal(t, rhi.BytecodeSPIRV, blob.Format)

	st, err := spirv.Reflect(blob, spirv.Options{})
	require.NoError(t, err)
	byBinding := map[uint32]rhi.ShaderBinding{}
	for _, b := range st.Bindings {
		byBinding[b.Key.Binding] = b
	}
	require.Len(t, byBinding, 2)
	assert.Equal(t, rhi.ResourceConstantBuffer, byBinding[0].Key.Kind)
	assert.Equal(t, rhi.ResourceStorageBuffer, byBinding[1].Key.Kind)
}

func TestNagaErrors(t *testing.T) {
	n := &Naga{}
	_, err := n.Compile(context.Background(), rhi.ShaderSrc{Path: "scale.wgsl", Entry: "other", Stage: rhi.StageCompute, Source: []byte(scaleWGSL)}, rhi.BytecodeSPIRV)
	assert.ErrorIs(t, err, core.ErrEntryPointNotFound)

	_, err = n.Compile(context.Background(), rhi.ShaderSrc{Path: "scale.wgsl", Entry: "main", Stage: rhi.StageCompute, Source: []byte(scaleWGSL)}, rhi.BytecodeDXIL)
	assert.ErrorIs(t, err, core.ErrUnsupported)

	_, err = n.Compile(context.Background(), rhi.ShaderSrc{Path: "broken.wgsl", Entry: "main", Stage: rhi.StageCompute, Source: []byte("fn main( {")}, rhi.BytecodeSPIRV)
	assert.ErrorIs(t, err, core.ErrCompile)
}

func TestCompilerRejectsUnknownLanguage(t *testing.T) {
	c := New(config.Default().Shaders)
	_, err := c.Compile(context.Background(), rhi.ShaderSrc{Path: "shader.metal"}, rhi.BytecodeSPIRV)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

type mapCompiler map[string]rhi.ShaderBlob

func (m mapCompiler) Compile(_ context.Context, src rhi.ShaderSrc, _ rhi.BytecodeFormat) (rhi.ShaderBlob, error) {
	blob, ok := m[src.Path]
	if !ok {
		return blob, errors.New("no such shader")
	}
	return blob, nil
}

func TestCompileAll(t *testing.T) {
	c := mapCompiler{
		"a": {Entry: "A"},
		"b": {Entry: "B"},
		"c": {Entry: "C"},
	}
	blobs, err := CompileAll(context.Background(), c, []rhi.ShaderSrc{{Path: "c"}, {Path: "a"}, {Path: "b"}}, rhi.BytecodeSPIRV)
	require.NoError(t, err)
	require.Len(t, blobs, 3)
	assert.Equal(t, "C", blobs[0].Entry)
	assert.Equal(t, "A", blobs[1].Entry)
	assert.Equal(t, "B", blobs[2].Entry)

	_, err = CompileAll(context.Background(), c, []rhi.ShaderSrc{{Path: "a"}, {Path: "missing"}}, rhi.BytecodeSPIRV)
	assert.Error(t, err)
}
