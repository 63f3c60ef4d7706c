package rhi

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// HitGroupName builds the export symbol of a hit group by concatenating its
// shaders. Two groups with the same shaders get the same name.
func HitGroupName(g HitGroupDesc) string {
	return "HitGroup_" + g.ClosestHit + g.AnyHit + g.Intersection
}

type HitGroup struct {
	Name string
	HitGroupDesc
}

// ShaderGroups partitions the entries of a ray tracing pipeline.
type ShaderGroups struct {
	RayGen    []string
	Miss      []string
	Callable  []string
	HitGroups []HitGroup

	RayGenLocalParams   uint32
	MissLocalParams     uint32
	HitGroupLocalParams uint32
}

// BuildShaderGroups sorts shaders into raygen, miss and hit groups. When no
// hit groups are given, every closest-hit shader gets its own group.
func BuildShaderGroups(shaders []ShaderBlob, groups []HitGroupDesc, local map[string]uint32) (ShaderGroups, error) {
	var sg ShaderGroups
	entries := make(map[string]ShaderStage, len(shaders))
	for _, s := range shaders {
		entries[s.Entry] = s.Stage
		switch s.Stage {
		case StageRayGen:
			sg.RayGen = append(sg.RayGen, s.Entry)
			sg.RayGenLocalParams = max(sg.RayGenLocalParams, local[s.Entry])
		case StageMiss:
			sg.Miss = append(sg.Miss, s.Entry)
			sg.MissLocalParams = max(sg.MissLocalParams, local[s.Entry])
		case StageClosestHit:
			if len(groups) == 0 {
				sg.HitGroups = append(sg.HitGroups, newHitGroup(HitGroupDesc{ClosestHit: s.Entry, LocalRootParameters: local[s.Entry]}))
			}
		case StageAnyHit, StageIntersection:
		default:
			return sg, fmt.Errorf("%w: %s stage %s in a ray tracing pipeline", core.ErrUnsupported, s.Entry, s.Stage)
		}
	}
	if len(sg.RayGen) == 0 {
		return sg, fmt.Errorf("%w: no raygen shader", core.ErrEntryPointNotFound)
	}

	for _, g := range groups {
		for _, want := range []struct {
			entry string
			stage ShaderStage
		}{{g.ClosestHit, StageClosestHit}, {g.AnyHit, StageAnyHit}, {g.Intersection, StageIntersection}} {
			if want.entry == "" {
				continue
			}
			if got, ok := entries[want.entry]; !ok || got != want.stage {
				return sg, fmt.Errorf("%w: hit group needs %s shader %q", core.ErrEntryPointNotFound, want.stage, want.entry)
			}
		}
		sg.HitGroups = append(sg.HitGroups, newHitGroup(g))
	}
	for _, g := range sg.HitGroups {
		sg.HitGroupLocalParams = max(sg.HitGroupLocalParams, g.LocalRootParameters)
	}
	return sg, nil
}

func newHitGroup(d HitGroupDesc) HitGroup {
	return HitGroup{Name: HitGroupName(d), HitGroupDesc: d}
}

// UniqueHitGroups returns one group per export name, first declaration wins.
func (sg ShaderGroups) UniqueHitGroups() []HitGroup {
	seen := make(map[string]bool, len(sg.HitGroups))
	out := make([]HitGroup, 0, len(sg.HitGroups))
	for _, g := range sg.HitGroups {
		if seen[g.Name] {
			core.LogDebug("hit group %s declared more than once, reusing its identifier", g.Name)
			continue
		}
		seen[g.Name] = true
		out = append(out, g)
	}
	return out
}

func (sg ShaderGroups) HitGroupNames() []string {
	names := make([]string, len(sg.HitGroups))
	for i, g := range sg.HitGroups {
		names[i] = g.Name
	}
	return names
}

// RecordStride is the size of one shader record: the identifier plus 8
// bytes per local root argument, rounded to the record alignment.
func RecordStride(identifierSize, localParams, recordAlignment uint32) uint32 {
	return core.AlignUp(identifierSize+8*localParams, recordAlignment)
}

type ShaderTableRegion struct {
	Offset uint64
	Stride uint64
	Size   uint64
	Count  uint32
}

// ShaderTableLayout places the raygen, miss and hit group records in one buffer.
type ShaderTableLayout struct {
	IdentifierSize uint32
	RayGen         ShaderTableRegion
	Miss           ShaderTableRegion
	HitGroup       ShaderTableRegion
	Size           uint64
}

func NewShaderTableLayout(sg ShaderGroups, identifierSize, recordAlignment, tableAlignment uint32) ShaderTableLayout {
	l := ShaderTableLayout{IdentifierSize: identifierSize}
	var offset uint64
	region := func(count int, localParams uint32) ShaderTableRegion {
		stride := uint64(RecordStride(identifierSize, localParams, recordAlignment))
		r := ShaderTableRegion{
			Offset: offset,
			Stride: stride,
			Size:   stride * uint64(count),
			Count:  uint32(count),
		}
		offset = core.AlignUp(offset+r.Size, uint64(tableAlignment))
		return r
	}
	l.RayGen = region(len(sg.RayGen), sg.RayGenLocalParams)
	l.Miss = region(len(sg.Miss), sg.MissLocalParams)
	l.HitGroup = region(len(sg.HitGroups), sg.HitGroupLocalParams)
	l.Size = offset
	return l
}

// Record returns the byte offset of record i of region r.
func (r ShaderTableRegion) Record(i uint32) uint64 {
	return r.Offset + uint64(i)*r.Stride
}

// FillShaderTable writes the identifier of every record of sg into a host
// buffer laid out by l. identifier returns the identifier of an export.
func FillShaderTable(l ShaderTableLayout, sg ShaderGroups, identifier func(export string) ([]byte, error)) ([]byte, error) {
	table := make([]byte, l.Size)
	write := func(r ShaderTableRegion, names []string) error {
		for i, name := range names {
			id, err := identifier(name)
			if err != nil {
				return err
			}
			if uint32(len(id)) != l.IdentifierSize {
				return fmt.Errorf("%w: identifier of %s is %d bytes, want %d", core.ErrNativeCall, name, len(id), l.IdentifierSize)
			}
			copy(table[r.Record(uint32(i)):], id)
		}
		return nil
	}
	if err := write(l.RayGen, sg.RayGen); err != nil {
		return nil, err
	}
	if err := write(l.Miss, sg.Miss); err != nil {
		return nil, err
	}
	if err := write(l.HitGroup, sg.HitGroupNames()); err != nil {
		return nil, err
	}
	return table, nil
}

type InstanceFlags uint8

const (
	InstanceTriangleCullDisable InstanceFlags = 1 << iota
	InstanceTriangleFrontCounterClockwise
	InstanceForceOpaque
	InstanceForceNonOpaque
)

// Instance places a BLAS in a TLAS.
type Instance struct {
	// Transform is a row-major 3x4 matrix.
	Transform      [12]float32
	ID             uint32
	Mask           uint8
	HitGroupOffset uint32
	Flags          InstanceFlags
	Blas           AccelerationStructure
}

var IdentityTransform = [12]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
}

// InstanceSize is the size of one encoded instance. D3D12 and Vulkan share
// the layout.
const InstanceSize = 64

// EncodeInstances packs instances into the native instance descriptor layout.
func EncodeInstances(instances []Instance) []byte {
	out := make([]byte, InstanceSize*len(instances))
	for i, inst := range instances {
		b := out[i*InstanceSize:]
		for j, v := range inst.Transform {
			binary.LittleEndian.PutUint32(b[j*4:], math.Float32bits(v))
		}
		binary.LittleEndian.PutUint32(b[48:], inst.ID&0xFFFFFF|uint32(inst.Mask)<<24)
		binary.LittleEndian.PutUint32(b[52:], inst.HitGroupOffset&0xFFFFFF|uint32(inst.Flags)<<24)
		var addr uint64
		if inst.Blas != nil {
			addr = inst.Blas.GPUAddress()
		}
		binary.LittleEndian.PutUint64(b[56:], addr)
	}
	return out
}
