package spirv

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Options struct {
	// UnboundedArraySize is the descriptor count given to runtime arrays.
	UnboundedArraySize uint32
}

var stageModels = map[rhi.ShaderStage]ExecutionModel{
	rhi.StageVertex:       ModelVertex,
	rhi.StageFragment:     ModelFragment,
	rhi.StageCompute:      ModelGLCompute,
	rhi.StageRayGen:       ModelRayGen,
	rhi.StageClosestHit:   ModelClosestHit,
	rhi.StageAnyHit:       ModelAnyHit,
	rhi.StageMiss:         ModelMiss,
	rhi.StageIntersection: ModelIntersection,
}

// Reflect decodes blob and reflects its entry point.
func Reflect(blob rhi.ShaderBlob, opts Options) (rhi.StageReflection, error) {
	m, err := Parse(blob.Code)
	if err != nil {
		return rhi.StageReflection{}, fmt.Errorf("%s: %w", blob.Path, err)
	}
	st, err := m.Reflect(blob.Stage, blob.Entry, opts)
	if err != nil {
		return rhi.StageReflection{}, fmt.Errorf("%s: %w", blob.Path, err)
	}
	return st, nil
}

// Reflect recovers the bindings, interface variables and push constants
// used by the entry point of the given stage.
func (m *Module) Reflect(stage rhi.ShaderStage, entry string, opts Options) (rhi.StageReflection, error) {
	model, ok := stageModels[stage]
	if !ok {
		return rhi.StageReflection{}, fmt.Errorf("%w: stage %s", core.ErrUnsupported, stage)
	}
	ep, ok := m.FindEntryPoint(entry, model)
	if !ok {
		return rhi.StageReflection{}, fmt.Errorf("%w: %q (%s) among %d entry points",
			core.ErrEntryPointNotFound, entry, stage, len(m.EntryPoints))
	}
	if opts.UnboundedArraySize == 0 {
		opts.UnboundedArraySize = 64
	}

	st := rhi.StageReflection{
		Stage:   stage,
		Entry:   ep.Name,
		Library: len(m.EntryPoints) > 1,
	}

	iface := make(map[uint32]bool, len(ep.Interface))
	for _, id := range ep.Interface {
		iface[id] = true
	}
	// Before 1.4 the interface only lists inputs and outputs.
	usedByEntry := func(id uint32) bool {
		return m.Version < Version14 || iface[id]
	}

	for _, v := range m.Variables {
		switch v.Storage {
		case StorageUniformConstant, StorageUniform, StorageStorageBuffer:
			if !usedByEntry(v.ID) {
				continue
			}
			b, err := m.binding(v, opts)
			if err != nil {
				return st, err
			}
			st.Bindings = append(st.Bindings, b)
		case StoragePushConstant:
			if !usedByEntry(v.ID) {
				continue
			}
			st.PushConstants = rhi.PushConstantRange{
				Stages: core.NewFlags(stage),
				Size:   m.sizeOf(m.pointee(v.Type), nil),
			}
		case StorageInput:
			if stage != rhi.StageVertex || !iface[v.ID] || m.isBuiltin(v) {
				continue
			}
			attr, err := m.attribute(v, "in.var.")
			if err != nil {
				return st, err
			}
			st.VertexInputs = append(st.VertexInputs, attr)
		case StorageOutput:
			if stage != rhi.StageFragment || !iface[v.ID] || m.isBuiltin(v) {
				continue
			}
			attr, err := m.attribute(v, "out.var.")
			if err != nil {
				return st, err
			}
			st.ColorOutputs = append(st.ColorOutputs, rhi.ColorAttachment{
				Location: attr.Location,
				Format:   attr.Format,
				Name:     attr.Name,
			})
		}
	}

	sort.Slice(st.VertexInputs, func(i, j int) bool { return st.VertexInputs[i].Location < st.VertexInputs[j].Location })
	var offset uint32
	for i := range st.VertexInputs {
		st.VertexInputs[i].Offset = offset
		offset += st.VertexInputs[i].Format.Size()
	}
	sort.Slice(st.ColorOutputs, func(i, j int) bool { return st.ColorOutputs[i].Location < st.ColorOutputs[j].Location })
	return st, nil
}

func (m *Module) pointee(id uint32) uint32 {
	if t, ok := m.types[id]; ok && t.op == opTypePointer {
		return t.elem
	}
	return id
}

func (m *Module) isBuiltin(v Variable) bool {
	if d, ok := m.decos[v.ID]; ok && d.builtin {
		return true
	}
	// gl_PerVertex style blocks carry BuiltIn on their members.
	for _, d := range m.memberDeco[m.pointee(v.Type)] {
		if d.builtin {
			return true
		}
	}
	return false
}

func (m *Module) varName(v Variable) string {
	if n := m.names[v.ID]; n != "" {
		return n
	}
	if n := m.names[m.pointee(v.Type)]; n != "" {
		return n
	}
	return fmt.Sprintf("_%d", v.ID)
}

func (m *Module) attribute(v Variable, prefix string) (rhi.VertexAttribute, error) {
	name := strings.TrimPrefix(m.varName(v), prefix)
	d := m.decos[v.ID]
	if d == nil || !d.hasLocation {
		return rhi.VertexAttribute{}, fmt.Errorf("%w: interface variable %q has no location", core.ErrReflection, name)
	}

	t := m.types[m.pointee(v.Type)]
	components := uint32(1)
	if t != nil && t.op == opTypeVector {
		components = t.count
		t = m.types[t.elem]
	}
	ct := rhi.ComponentUnknown
	if t != nil {
		switch {
		case t.op == opTypeFloat && t.width == 32:
			ct = rhi.ComponentFloat32
		case t.op == opTypeInt && t.width == 32 && !t.signed:
			ct = rhi.ComponentUint32
		case t.op == opTypeInt && t.width == 32:
			ct = rhi.ComponentSint32
		case t.op == opTypeFloat && t.width == 16:
			ct = rhi.ComponentFloat16
		}
	}
	format, err := rhi.AttributeFormat(ct, components)
	if err != nil {
		return rhi.VertexAttribute{}, fmt.Errorf("interface variable %q: %w", name, err)
	}
	return rhi.VertexAttribute{Name: name, Location: d.location, Format: format}, nil
}

func (m *Module) binding(v Variable, opts Options) (rhi.ShaderBinding, error) {
	b := rhi.ShaderBinding{Name: m.varName(v), Count: 1}
	if d := m.decos[v.ID]; d != nil {
		b.Key.Space = d.set
		b.Key.Binding = d.binding
	}

	id := m.pointee(v.Type)
	// Strip descriptor arrays.
	for {
		t, ok := m.types[id]
		if !ok {
			return b, fmt.Errorf("%w: %q has undeclared type %%%d", core.ErrReflection, b.Name, id)
		}
		if t.op == opTypeArray {
			b.Count *= uint32(m.constants[t.lengthID])
			id = t.elem
			continue
		}
		if t.op == opTypeRuntimeArray {
			b.Count *= opts.UnboundedArraySize
			id = t.elem
			continue
		}
		break
	}

	t := m.types[id]
	switch t.op {
	case opTypeImage:
		const dimBuffer, dimSubpassData = 5, 6
		if t.dim == dimBuffer || t.dim == dimSubpassData {
			return b, fmt.Errorf("%w: %q image dimension %d", core.ErrUnsupportedResource, b.Name, t.dim)
		}
		if t.sampled == 2 {
			b.Key.Kind = rhi.ResourceStorageImage
		} else {
			b.Key.Kind = rhi.ResourceTexture
		}
	case opTypeSampler:
		b.Key.Kind = rhi.ResourceSampler
	case opTypeSampledImage:
		b.Key.Kind = rhi.ResourceCombinedImageSampler
	case opTypeAccelerationStructureKHR:
		b.Key.Kind = rhi.ResourceAccelerationStructure
	case opTypeStruct:
		b.Key.Kind, b.Stride = m.bufferKind(v.Storage, v.ID, id)
	default:
		return b, fmt.Errorf("%w: %q has type opcode %d", core.ErrUnsupportedResource, b.Name, t.op)
	}
	return b, nil
}

// bufferKind classifies a block. Read-only blocks holding only a uint
// runtime array of stride 4 are byte address buffers.
func (m *Module) bufferKind(storage StorageClass, varID, structID uint32) (rhi.ResourceKind, uint32) {
	sd := m.decos[structID]
	if storage == StorageUniform && (sd == nil || !sd.bufferBlock) {
		return rhi.ResourceConstantBuffer, 0
	}

	st := m.types[structID]
	readOnly := len(st.members) > 0
	if d := m.decos[varID]; d != nil && d.nonWritable {
		readOnly = true
	} else {
		for i := range st.members {
			md := m.memberDeco[structID][uint32(i)]
			if md == nil || !md.nonWritable {
				readOnly = false
				break
			}
		}
	}

	var stride uint32
	rawWords := false
	if n := len(st.members); n > 0 {
		last := st.members[n-1]
		if rt, ok := m.types[last]; ok && rt.op == opTypeRuntimeArray {
			if d := m.decos[last]; d != nil {
				stride = d.arrayStride
			}
			if et, ok := m.types[rt.elem]; ok && n == 1 {
				rawWords = et.op == opTypeInt && et.width == 32 && !et.signed && stride == 4
			}
		}
	}

	switch {
	case !readOnly:
		return rhi.ResourceStorageBuffer, stride
	case rawWords:
		return rhi.ResourceByteAddressBuffer, 4
	}
	return rhi.ResourceStructuredBuffer, stride
}

// sizeOf returns the byte size of a type using its layout decorations.
func (m *Module) sizeOf(id uint32, member *decorations) uint32 {
	t, ok := m.types[id]
	if !ok {
		return 0
	}
	switch t.op {
	case opTypeInt, opTypeFloat:
		return t.width / 8
	case opTypeBool:
		return 4
	case opTypeVector:
		return t.count * m.sizeOf(t.elem, nil)
	case opTypeMatrix:
		if member != nil && member.matrixStride != 0 {
			return t.count * member.matrixStride
		}
		return t.count * m.sizeOf(t.elem, nil)
	case opTypeArray:
		n := uint32(m.constants[t.lengthID])
		if d := m.decos[id]; d != nil && d.arrayStride != 0 {
			return n * d.arrayStride
		}
		return n * m.sizeOf(t.elem, member)
	case opTypeStruct:
		var size uint32
		for i, mid := range t.members {
			md := m.memberDeco[id][uint32(i)]
			var off uint32
			if md != nil {
				off = md.offset
			}
			if end := off + m.sizeOf(mid, md); end > size {
				size = end
			}
		}
		return size
	}
	return 0
}
