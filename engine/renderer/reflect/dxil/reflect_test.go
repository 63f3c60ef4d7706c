package dxil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func vertexShader() []byte {
	return container(
		dxilProgram,
		part{PartISG1, signature(
			sigElem{name: "POSITION", compType: CompTypeFloat32, register: 0, mask: 0x7},
			sigElem{name: "TEXCOORD", compType: CompTypeFloat32, register: 1, mask: 0x3},
			sigElem{name: "SV_VertexID", systemValue: SystemValueVertexID, compType: CompTypeUint32, register: 2, mask: 0x1},
		)},
		part{PartOSG1, signature(sigElem{name: "SV_Position", systemValue: SystemValuePosition, compType: CompTypeFloat32, mask: 0xF})},
		part{PartPSV0, psv0(KindVertex)},
	)
}

func pixelShader() []byte {
	return container(
		dxilProgram,
		part{PartOSG1, signature(sigElem{name: "SV_Target", systemValue: SystemValueTarget, compType: CompTypeFloat32, mask: 0xF})},
		part{PartPSV0, psv0(KindPixel,
			psvRes{resType: ResTypeSRVTyped, space: 0, lower: 0, upper: 0, kind: ResKindTexture2D},
			psvRes{resType: ResTypeSampler, space: 0, lower: 0, upper: 0, kind: ResKindSampler},
		)},
		part{PartRDAT, rdatPart([]rdatRes{
			{class: ClassSRV, kind: ResKindTexture2D, name: "albedo"},
			{class: ClassSampler, kind: ResKindSampler, name: "linearSampler"},
		}, nil)},
	)
}

func TestReflectRasterShaders(t *testing.T) {
	vs, err := Reflect(rhi.ShaderBlob{Code: vertexShader(), Stage: rhi.StageVertex, Entry: "VSMain"}, Options{})
	require.NoError(t, err)
	require.Len(t, vs.VertexInputs, 2)
	assert.Equal(t, rhi.VertexAttribute{Name: "POSITION", Location: 0, Format: rhi.FormatRGB32Float}, vs.VertexInputs[0])
	assert.Equal(t, rhi.VertexAttribute{Name: "TEXCOORD", Location: 1, Format: rhi.FormatRG32Float, Offset: 12}, vs.VertexInputs[1])
	assert.False(t, vs.Library)

	ps, err := Reflect(rhi.ShaderBlob{Code: pixelShader(), Stage: rhi.StageFragment, Entry: "PSMain"}, Options{})
	require.NoError(t, err)
	require.Len(t, ps.Bindings, 2)
	assert.Equal(t, "albedo", ps.Bindings[0].Name)
	assert.Equal(t, rhi.BindingKey{Kind: rhi.ResourceTexture}, ps.Bindings[0].Key)
	assert.Equal(t, rhi.BindingKey{Kind: rhi.ResourceSampler}, ps.Bindings[1].Key)
	require.Len(t, ps.ColorOutputs, 1)
	assert.Equal(t, rhi.ColorAttachment{Location: 0, Format: rhi.FormatRGBA32Float, Name: "SV_Target0"}, ps.ColorOutputs[0])

	res, err := rhi.MergeReflections([]rhi.StageReflection{vs, ps}, rhi.RegisterSlot)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 2)
	for _, b := range res.Bindings {
		assert.Equal(t, uint32(1), b.Count)
	}
	assert.NotEmpty(t, res.VertexInputs)
}

func library() []byte {
	return container(
		dxilProgram,
		part{PartRDAT, rdatPart(
			[]rdatRes{
				{class: ClassSRV, kind: ResKindRTAccelStruct, space: 0, lower: 0, upper: 0, name: "scene"},
				{class: ClassUAV, kind: ResKindTexture2D, space: 0, lower: 0, upper: 0, name: "output"},
				{class: ClassSRV, kind: ResKindRawBuffer, space: 1, lower: 0, upper: Unbounded, name: "indices"},
				{class: ClassSRV, kind: ResKindStructuredBuffer, space: 1, lower: 1, upper: 4, name: "vertices"},
				{class: ClassCBuffer, kind: ResKindCBuffer, space: 0, lower: 0, upper: 0, name: "camera"},
			},
			[]rdatFn{
				{name: "\x01?RayGen@@YAXXZ", unmangled: "RayGen", kind: KindRayGen, resources: []uint32{0, 1, 4}},
				{name: "\x01?Miss@@YAXUPayload@@@Z", unmangled: "Miss", kind: KindMiss},
				{name: "\x01?ClosestHit@@YAXUPayload@@UAttributes@@@Z", unmangled: "ClosestHit", kind: KindClosestHit, resources: []uint32{0, 2, 3}},
				{name: "\x01?helper@@YAMM@Z", unmangled: "helper", kind: KindLibrary},
			},
		)},
	)
}

func TestReflectLibrary(t *testing.T) {
	code := library()

	rg, err := Reflect(rhi.ShaderBlob{Code: code, Stage: rhi.StageRayGen, Entry: "RayGen"}, Options{})
	require.NoError(t, err)
	assert.True(t, rg.Library)
	require.Len(t, rg.Bindings, 3)
	assert.Equal(t, rhi.ResourceAccelerationStructure, rg.Bindings[0].Key.Kind)
	assert.Equal(t, rhi.ResourceStorageImage, rg.Bindings[1].Key.Kind)
	assert.Equal(t, rhi.ResourceConstantBuffer, rg.Bindings[2].Key.Kind)

	miss, err := Reflect(rhi.ShaderBlob{Code: code, Stage: rhi.StageMiss, Entry: "Miss"}, Options{})
	require.NoError(t, err)
	assert.Empty(t, miss.Bindings)

	ch, err := Reflect(rhi.ShaderBlob{Code: code, Stage: rhi.StageClosestHit, Entry: "ClosestHit"}, Options{UnboundedArraySize: 32})
	require.NoError(t, err)
	require.Len(t, ch.Bindings, 3)
	assert.Equal(t, rhi.BindingKey{Kind: rhi.ResourceByteAddressBuffer, Space: 1, Binding: 0}, ch.Bindings[1].Key)
	assert.Equal(t, uint32(32), ch.Bindings[1].Count)
	assert.Equal(t, rhi.ResourceStructuredBuffer, ch.Bindings[2].Key.Kind)
	assert.Equal(t, uint32(4), ch.Bindings[2].Count)
}

func TestReflectLibraryEntryNotFound(t *testing.T) {
	// helper exists but is not a closest-hit shader.
	_, err := Reflect(rhi.ShaderBlob{Code: library(), Stage: rhi.StageClosestHit, Entry: "helper"}, Options{})
	assert.ErrorIs(t, err, core.ErrEntryPointNotFound)

	_, err = Reflect(rhi.ShaderBlob{Code: library(), Stage: rhi.StageAnyHit, Entry: "AnyHit"}, Options{})
	assert.ErrorIs(t, err, core.ErrEntryPointNotFound)
}

func TestReflectErrors(t *testing.T) {
	tests := []struct {
		name  string
		code  []byte
		stage rhi.ShaderStage
		err   error
	}{
		{"not a container", []byte("not dxil at all, definitely not"), rhi.StageVertex, core.ErrReflection},
		{"missing DXIL part", container(part{PartPSV0, psv0(KindVertex)}), rhi.StageVertex, core.ErrMissingPart},
		{"missing PSV0 part", container(dxilProgram), rhi.StageCompute, core.ErrMissingPart},
		{"missing input signature", container(dxilProgram, part{PartPSV0, psv0(KindVertex)}), rhi.StageVertex, core.ErrMissingPart},
		{"stage mismatch", container(dxilProgram, part{PartPSV0, psv0(KindCompute)}), rhi.StageVertex, core.ErrEntryPointNotFound},
		{
			"unsupported component type",
			container(
				dxilProgram,
				part{PartISG1, signature(sigElem{name: "BLENDINDICES", compType: CompTypeSint32, mask: 0xF})},
				part{PartPSV0, psv0(KindVertex)},
			),
			rhi.StageVertex,
			core.ErrUnsupportedFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reflect(rhi.ShaderBlob{Code: tt.code, Stage: tt.stage, Entry: "main"}, Options{})
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestPSVWithoutNames(t *testing.T) {
	code := container(dxilProgram, part{PartPSV0, psv0(KindCompute,
		psvRes{resType: ResTypeUAVStructured, space: 2, lower: 3, upper: 3},
		psvRes{resType: ResTypeCBV, space: 0, lower: 0, upper: 0},
	)})
	st, err := Reflect(rhi.ShaderBlob{Code: code, Stage: rhi.StageCompute, Entry: "main"}, Options{})
	require.NoError(t, err)
	require.Len(t, st.Bindings, 2)
	assert.Equal(t, "u3_space2", st.Bindings[0].Name)
	assert.Equal(t, rhi.BindingKey{Kind: rhi.ResourceStorageBuffer, Space: 2, Binding: 3}, st.Bindings[0].Key)
	assert.Equal(t, rhi.ResourceConstantBuffer, st.Bindings[1].Key.Kind)
}

func TestOversizedCountsAreRejected(t *testing.T) {
	fn := words(0, 0, 0, noIndex, 0, 0, 0, 0, 0, 0, 0)
	psv := append(append(words(36), make([]byte, 36)...), words(50_000_000, 24)...)
	tests := []struct {
		name  string
		parse func() error
	}{
		{"rdat resource count", func() error {
			part := rdatParts(rdatBody(rdatResourceTable, words(50_000_000, 32)))
			require.Len(t, part, 28)
			_, err := ParseRDAT(part)
			return err
		}},
		{"rdat resource stride", func() error {
			_, err := ParseRDAT(rdatParts(rdatBody(rdatResourceTable, words(1, 8, 0, 0))))
			return err
		}},
		{"rdat part count", func() error {
			_, err := ParseRDAT(words(rdatVersion, 1<<30))
			return err
		}},
		{"rdat function resources", func() error {
			_, err := ParseRDAT(rdatParts(
				rdatBody(rdatIndexArrays, words(1_000_000)),
				rdatBody(rdatFunctionTable, append(words(1, 44), fn...)),
			))
			return err
		}},
		{"signature element count", func() error {
			_, err := ParseSignature(words(50_000_000, 8))
			return err
		}},
		{"psv binding count", func() error {
			_, err := ParsePSV(psv)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.parse(), core.ErrReflection)
		})
	}
}
