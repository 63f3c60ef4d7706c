package rhi

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func rtShaders() []ShaderBlob {
	return []ShaderBlob{
		{Entry: "RayGen", Stage: StageRayGen},
		{Entry: "Miss", Stage: StageMiss},
		{Entry: "ClosestHitOpaque", Stage: StageClosestHit},
		{Entry: "ClosestHitGlass", Stage: StageClosestHit},
		{Entry: "AnyHitAlpha", Stage: StageAnyHit},
	}
}

func TestBuildShaderGroupsDefaultsToClosestHit(t *testing.T) {
	sg, err := BuildShaderGroups(rtShaders(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"RayGen"}, sg.RayGen)
	assert.Equal(t, []string{"Miss"}, sg.Miss)
	require.Len(t, sg.HitGroups, 2)
	assert.Equal(t, "HitGroup_ClosestHitOpaque", sg.HitGroups[0].Name)
	assert.Equal(t, "HitGroup_ClosestHitGlass", sg.HitGroups[1].Name)
}

func TestBuildShaderGroupsExplicit(t *testing.T) {
	sg, err := BuildShaderGroups(rtShaders(), []HitGroupDesc{
		{ClosestHit: "ClosestHitGlass", AnyHit: "AnyHitAlpha", LocalRootParameters: 2},
		{ClosestHit: "ClosestHitGlass", AnyHit: "AnyHitAlpha"},
	}, map[string]uint32{"RayGen": 1})
	require.NoError(t, err)

	assert.Len(t, sg.HitGroups, 2)
	assert.Equal(t, "HitGroup_ClosestHitGlassAnyHitAlpha", sg.HitGroups[0].Name)
	assert.Equal(t, sg.HitGroups[0].Name, sg.HitGroups[1].Name)
	assert.Len(t, sg.UniqueHitGroups(), 1)
	assert.Equal(t, uint32(2), sg.HitGroupLocalParams)
	assert.Equal(t, uint32(1), sg.RayGenLocalParams)
}

func TestBuildShaderGroupsErrors(t *testing.T) {
	_, err := BuildShaderGroups([]ShaderBlob{{Entry: "Miss", Stage: StageMiss}}, nil, nil)
	assert.ErrorIs(t, err, core.ErrEntryPointNotFound)

	_, err = BuildShaderGroups(rtShaders(), []HitGroupDesc{{ClosestHit: "Nope"}}, nil)
	assert.ErrorIs(t, err, core.ErrEntryPointNotFound)

	_, err = BuildShaderGroups(append(rtShaders(), ShaderBlob{Entry: "main", Stage: StageVertex}), nil, nil)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestShaderTableLayout(t *testing.T) {
	assert.Equal(t, uint32(32), RecordStride(32, 0, 32))
	assert.Equal(t, uint32(64), RecordStride(32, 1, 32))
	assert.Equal(t, uint32(64), RecordStride(32, 4, 32))
	assert.Equal(t, uint32(96), RecordStride(32, 5, 32))

	sg, err := BuildShaderGroups(rtShaders(), nil, nil)
	require.NoError(t, err)
	l := NewShaderTableLayout(sg, 32, 32, 64)

	assert.Equal(t, uint64(0), l.RayGen.Offset)
	assert.Equal(t, uint64(32), l.RayGen.Size)
	assert.Equal(t, uint64(64), l.Miss.Offset)
	assert.Equal(t, uint64(128), l.HitGroup.Offset)
	assert.Equal(t, uint32(2), l.HitGroup.Count)
	assert.Equal(t, uint64(160), l.HitGroup.Record(1))
	assert.Equal(t, uint64(192), l.Size)

	table, err := FillShaderTable(l, sg, func(name string) ([]byte, error) {
		id := make([]byte, 32)
		copy(id, name)
		return id, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "RayGen", string(table[0:6]))
	assert.Equal(t, "Miss", string(table[64:68]))
	assert.Equal(t, "HitGroup_ClosestHitGlass", string(table[160:160+len("HitGroup_ClosestHitGlass")]))
}

type fakeAS struct{ addr uint64 }

func (f fakeAS) Handle() core.Handle { return core.InvalidHandle }
func (f fakeAS) Name() string        { return "blas" }
func (f fakeAS) IsTopLevel() bool    { return false }
func (f fakeAS) GPUAddress() uint64  { return f.addr }
func (f fakeAS) Destroy()            {}

func TestEncodeInstances(t *testing.T) {
	data := EncodeInstances([]Instance{{
		Transform:      IdentityTransform,
		ID:             7,
		Mask:           0xFF,
		HitGroupOffset: 1,
		Flags:          InstanceForceOpaque,
		Blas:           fakeAS{addr: 0xDEADBEEF000},
	}})
	require.Len(t, data, InstanceSize)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(data[0:])))
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(data[20:])))
	assert.Equal(t, uint32(7|0xFF<<24), binary.LittleEndian.Uint32(data[48:]))
	assert.Equal(t, uint32(1|uint32(InstanceForceOpaque)<<24), binary.LittleEndian.Uint32(data[52:]))
	assert.Equal(t, uint64(0xDEADBEEF000), binary.LittleEndian.Uint64(data[56:]))
}
