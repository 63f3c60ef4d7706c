// Package spirv decodes the parts of a SPIR-V module needed to build
// pipeline layouts: entry points, resource variables and their decorations,
// stage inputs and outputs, and push constant blocks.
package spirv

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

const (
	Magic = 0x07230203
	// Version14 is the first version whose entry point interface lists
	// every global variable the entry uses.
	Version14 = 0x00010400

	headerWords = 5
)

const (
	opName                         = 5
	opMemberName                   = 6
	opEntryPoint                   = 15
	opExecutionMode                = 16
	opTypeVoid                     = 19
	opTypeBool                     = 20
	opTypeInt                      = 21
	opTypeFloat                    = 22
	opTypeVector                   = 23
	opTypeMatrix                   = 24
	opTypeImage                    = 25
	opTypeSampler                  = 26
	opTypeSampledImage             = 27
	opTypeArray                    = 28
	opTypeRuntimeArray             = 29
	opTypeStruct                   = 30
	opTypePointer                  = 32
	opConstant                     = 43
	opSpecConstant                 = 50
	opVariable                     = 59
	opDecorate                     = 71
	opMemberDecorate               = 72
	opTypeAccelerationStructureKHR = 5341
)

const (
	decorationBlock         = 2
	decorationBufferBlock   = 3
	decorationArrayStride   = 6
	decorationMatrixStride  = 7
	decorationBuiltIn       = 11
	decorationNonWritable   = 24
	decorationLocation      = 30
	decorationBinding       = 33
	decorationDescriptorSet = 34
	decorationOffset        = 35
)

type StorageClass uint32

const (
	StorageUniformConstant StorageClass = 0
	StorageInput           StorageClass = 1
	StorageUniform         StorageClass = 2
	StorageOutput          StorageClass = 3
	StoragePushConstant    StorageClass = 9
	StorageStorageBuffer   StorageClass = 12
)

type ExecutionModel uint32

const (
	ModelVertex       ExecutionModel = 0
	ModelFragment     ExecutionModel = 4
	ModelGLCompute    ExecutionModel = 5
	ModelRayGen       ExecutionModel = 5313
	ModelIntersection ExecutionModel = 5314
	ModelAnyHit       ExecutionModel = 5315
	ModelClosestHit   ExecutionModel = 5316
	ModelMiss         ExecutionModel = 5317
	ModelCallable     ExecutionModel = 5318
)

type EntryPoint struct {
	Model     ExecutionModel
	ID        uint32
	Name      string
	Interface []uint32
}

type decorations struct {
	set, binding, location    uint32
	hasSet, hasBinding        bool
	hasLocation               bool
	builtin                   bool
	block, bufferBlock        bool
	nonWritable               bool
	arrayStride, matrixStride uint32
	offset                    uint32
}

type typeInfo struct {
	op uint32
	// scalars
	width  uint32
	signed bool
	// vectors, matrices, arrays, pointers
	elem  uint32
	count uint32
	// arrays
	lengthID uint32
	// structs
	members []uint32
	// pointers
	storage StorageClass
	// images
	dim     uint32
	sampled uint32
}

type Variable struct {
	ID      uint32
	Type    uint32
	Storage StorageClass
}

// Module is a decoded SPIR-V module. Only what reflection needs is kept.
type Module struct {
	Version     uint32
	EntryPoints []EntryPoint
	Variables   []Variable

	names      map[uint32]string
	decos      map[uint32]*decorations
	memberDeco map[uint32]map[uint32]*decorations
	types      map[uint32]*typeInfo
	constants  map[uint32]uint64
}

// Parse decodes a little-endian SPIR-V binary.
func Parse(code []byte) (*Module, error) {
	if len(code)%4 != 0 || len(code) < headerWords*4 {
		return nil, fmt.Errorf("%w: spir-v module of %d bytes", core.ErrReflection, len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != Magic {
		return nil, fmt.Errorf("%w: bad spir-v magic %#08x", core.ErrReflection, words[0])
	}

	m := &Module{
		Version:    words[1],
		names:      make(map[uint32]string),
		decos:      make(map[uint32]*decorations),
		memberDeco: make(map[uint32]map[uint32]*decorations),
		types:      make(map[uint32]*typeInfo),
		constants:  make(map[uint32]uint64),
	}

	for i := headerWords; i < len(words); {
		count := int(words[i] >> 16)
		op := words[i] & 0xFFFF
		if count == 0 || i+count > len(words) {
			return nil, fmt.Errorf("%w: truncated instruction at word %d", core.ErrReflection, i)
		}
		m.decode(op, words[i+1:i+count])
		i += count
	}
	return m, nil
}

func (m *Module) decode(op uint32, args []uint32) {
	arg := func(i int) uint32 {
		if i < len(args) {
			return args[i]
		}
		return 0
	}
	tail := func(i int) []uint32 {
		if i < len(args) {
			return args[i:]
		}
		return nil
	}

	switch op {
	case opName:
		m.names[arg(0)] = literalString(tail(1))
	case opEntryPoint:
		name := literalString(tail(2))
		m.EntryPoints = append(m.EntryPoints, EntryPoint{
			Model:     ExecutionModel(arg(0)),
			ID:        arg(1),
			Name:      name,
			Interface: append([]uint32(nil), tail(2+len(name)/4+1)...),
		})
	case opTypeVoid, opTypeBool, opTypeSampler, opTypeAccelerationStructureKHR:
		m.types[arg(0)] = &typeInfo{op: op}
	case opTypeInt:
		m.types[arg(0)] = &typeInfo{op: op, width: arg(1), signed: arg(2) == 1}
	case opTypeFloat:
		m.types[arg(0)] = &typeInfo{op: op, width: arg(1)}
	case opTypeVector, opTypeMatrix:
		m.types[arg(0)] = &typeInfo{op: op, elem: arg(1), count: arg(2)}
	case opTypeImage:
		m.types[arg(0)] = &typeInfo{op: op, elem: arg(1), dim: arg(2), sampled: arg(6)}
	case opTypeSampledImage, opTypeRuntimeArray:
		m.types[arg(0)] = &typeInfo{op: op, elem: arg(1)}
	case opTypeArray:
		m.types[arg(0)] = &typeInfo{op: op, elem: arg(1), lengthID: arg(2)}
	case opTypeStruct:
		m.types[arg(0)] = &typeInfo{op: op, members: append([]uint32(nil), tail(1)...)}
	case opTypePointer:
		m.types[arg(0)] = &typeInfo{op: op, storage: StorageClass(arg(1)), elem: arg(2)}
	case opConstant, opSpecConstant:
		v := uint64(arg(2))
		if len(args) > 3 {
			v |= uint64(args[3]) << 32
		}
		m.constants[arg(1)] = v
	case opVariable:
		m.Variables = append(m.Variables, Variable{Type: arg(0), ID: arg(1), Storage: StorageClass(arg(2))})
	case opDecorate:
		applyDecoration(m.deco(arg(0)), arg(1), arg(2))
	case opMemberDecorate:
		members, ok := m.memberDeco[arg(0)]
		if !ok {
			members = make(map[uint32]*decorations)
			m.memberDeco[arg(0)] = members
		}
		d, ok := members[arg(1)]
		if !ok {
			d = &decorations{}
			members[arg(1)] = d
		}
		applyDecoration(d, arg(2), arg(3))
	}
}

func (m *Module) deco(id uint32) *decorations {
	d, ok := m.decos[id]
	if !ok {
		d = &decorations{}
		m.decos[id] = d
	}
	return d
}

func applyDecoration(d *decorations, kind, value uint32) {
	switch kind {
	case decorationBlock:
		d.block = true
	case decorationBufferBlock:
		d.bufferBlock = true
	case decorationArrayStride:
		d.arrayStride = value
	case decorationMatrixStride:
		d.matrixStride = value
	case decorationBuiltIn:
		d.builtin = true
	case decorationNonWritable:
		d.nonWritable = true
	case decorationLocation:
		d.location, d.hasLocation = value, true
	case decorationBinding:
		d.binding, d.hasBinding = value, true
	case decorationDescriptorSet:
		d.set, d.hasSet = value, true
	case decorationOffset:
		d.offset = value
	}
}

// literalString decodes a nul-terminated UTF-8 string packed in words.
func literalString(words []uint32) string {
	var sb strings.Builder
	for _, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return sb.String()
			}
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func (m *Module) Name(id uint32) string {
	return m.names[id]
}

// FindEntryPoint returns the entry named name with the given model. An empty
// name matches the first entry of that model.
func (m *Module) FindEntryPoint(name string, model ExecutionModel) (EntryPoint, bool) {
	for _, ep := range m.EntryPoints {
		if ep.Model == model && (name == "" || ep.Name == name) {
			return ep, true
		}
	}
	return EntryPoint{}, false
}
