package d3d12

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

const (
	stateObjectRaytracingPipeline = 3

	subobjectGlobalRootSignature      = 1
	subobjectLocalRootSignature       = 2
	subobjectDXILLibrary              = 5
	subobjectToExportsAssociation     = 7
	subobjectRaytracingShaderConfig   = 9
	subobjectRaytracingPipelineConfig = 10
	subobjectHitGroup                 = 11

	asTypeTopLevel    = 0
	asTypeBottomLevel = 1
	asPreferFastTrace = 0x4
	geometryOpaque    = 1
	elementsArray     = 0
	indexFormatR32    = 42
)

type stateSubobject struct {
	Type uint32
	Desc uintptr
}

type nativeStateObjectDesc struct {
	Type          uint32
	NumSubobjects uint32
	Subobjects    uintptr
}

type exportDesc struct {
	Name           *uint16
	ExportToRename *uint16
	Flags          uint32
}

type dxilLibraryDesc struct {
	Library    shaderBytecode
	NumExports uint32
	Exports    uintptr
}

type hitGroupDesc struct {
	Export       *uint16
	Type         HitGroupType
	AnyHit       *uint16
	ClosestHit   *uint16
	Intersection *uint16
}

type exportsAssociation struct {
	Subobject  uintptr
	NumExports uint32
	Exports    uintptr
}

type shaderConfig struct {
	MaxPayloadSize   uint32
	MaxAttributeSize uint32
}

type geometryDesc struct {
	Type         uint32
	Flags        uint32
	Transform    uint64
	IndexFormat  DXGIFormat
	VertexFormat DXGIFormat
	IndexCount   uint32
	VertexCount  uint32
	IndexBuffer  uint64
	VertexBuffer uint64
	VertexStride uint64
}

type buildInputs struct {
	Type        uint32
	Flags       uint32
	NumDescs    uint32
	DescsLayout uint32
	Descs       uint64
}

type prebuildInfo struct {
	ResultSize        uint64
	ScratchSize       uint64
	UpdateScratchSize uint64
}

type buildDesc struct {
	Dest    uint64
	Inputs  buildInputs
	Source  uint64
	Scratch uint64
}

type dispatchRaysDesc struct {
	RayGenAddress   uint64
	RayGenSize      uint64
	MissAddress     uint64
	MissSize        uint64
	MissStride      uint64
	HitGroupAddress uint64
	HitGroupSize    uint64
	HitGroupStride  uint64
	CallableAddress uint64
	CallableSize    uint64
	CallableStride  uint64
	Width           uint32
	Height          uint32
	Depth           uint32
}

// nativeRayTracing drives ID3D12Device5 and command lists created as
// ID3D12GraphicsCommandList4.
type nativeRayTracing struct {
	d *NativeDevice
}

func (rt nativeRayTracing) Properties() RayTracingProperties {
	return RayTracingProperties{
		IdentifierSize:  ShaderIdentifierSize,
		RecordAlignment: ShaderRecordAlignment,
		TableAlignment:  ShaderTableAlignment,
		MaxRecursion:    MaxRecursionDepth,
	}
}

// CreateStateObject lays the subobjects out in one array: associations
// point at their root signature subobject by address.
func (rt nativeRayTracing) CreateStateObject(desc *StateObjectDesc) (StateObject, error) {
	var keep []any
	str := func(s string) *uint16 {
		if s == "" {
			return nil
		}
		p := utf16(s)
		keep = append(keep, p)
		return p
	}
	strs := func(names []string) uintptr {
		ptrs := make([]*uint16, len(names))
		for i, n := range names {
			ptrs[i] = str(n)
		}
		keep = append(keep, ptrs)
		if len(ptrs) == 0 {
			return 0
		}
		return uintptr(unsafe.Pointer(&ptrs[0]))
	}

	n := len(desc.Libraries) + len(desc.HitGroups) + 2*len(desc.LocalRoots) + 3
	subobjects := make([]stateSubobject, 0, n)
	add := func(typ uint32, ptr unsafe.Pointer, v any) *stateSubobject {
		keep = append(keep, v)
		subobjects = append(subobjects, stateSubobject{Type: typ, Desc: uintptr(ptr)})
		return &subobjects[len(subobjects)-1]
	}

	for _, lib := range desc.Libraries {
		exports := make([]exportDesc, len(lib.Exports))
		for i, e := range lib.Exports {
			exports[i] = exportDesc{Name: str(e)}
		}
		keep = append(keep, exports, lib.Code)
		l := &dxilLibraryDesc{Library: bytecode(lib.Code), NumExports: uint32(len(exports))}
		if len(exports) > 0 {
			l.Exports = uintptr(unsafe.Pointer(&exports[0]))
		}
		add(subobjectDXILLibrary, unsafe.Pointer(l), l)
	}
	for _, g := range desc.HitGroups {
		h := &hitGroupDesc{
			Export:       str(g.Name),
			Type:         g.Type,
			AnyHit:       str(g.AnyHit),
			ClosestHit:   str(g.ClosestHit),
			Intersection: str(g.Intersection),
		}
		add(subobjectHitGroup, unsafe.Pointer(h), h)
	}
	cfg := &shaderConfig{MaxPayloadSize: desc.MaxPayloadSize, MaxAttributeSize: desc.MaxAttributeSize}
	add(subobjectRaytracingShaderConfig, unsafe.Pointer(cfg), cfg)
	global := &desc.GlobalRoot
	add(subobjectGlobalRootSignature, unsafe.Pointer(global), global)
	for i := range desc.LocalRoots {
		local := &desc.LocalRoots[i]
		so := add(subobjectLocalRootSignature, unsafe.Pointer(&local.RootSignature), local)
		assoc := &exportsAssociation{
			Subobject:  uintptr(unsafe.Pointer(so)),
			NumExports: uint32(len(local.Exports)),
			Exports:    strs(local.Exports),
		}
		add(subobjectToExportsAssociation, unsafe.Pointer(assoc), assoc)
	}
	depth := &desc.MaxRecursionDepth
	add(subobjectRaytracingPipelineConfig, unsafe.Pointer(depth), depth)

	native := nativeStateObjectDesc{
		Type:          stateObjectRaytracingPipeline,
		NumSubobjects: uint32(len(subobjects)),
		Subobjects:    uintptr(unsafe.Pointer(&subobjects[0])),
	}
	var so uintptr
	r := comCall(rt.d.device5, deviceCreateStateObject, uintptr(unsafe.Pointer(&native)), uintptr(unsafe.Pointer(&iidStateObject)), uintptr(unsafe.Pointer(&so)))
	runtime.KeepAlive(keep)
	runtime.KeepAlive(subobjects)
	if err := hresult("CreateStateObject", r); err != nil {
		return 0, err
	}
	return StateObject(so), nil
}

func (rt nativeRayTracing) ShaderIdentifier(so StateObject, export string) ([]byte, error) {
	props, err := queryInterface(uintptr(so), &iidStateObjectProperties)
	if err != nil {
		return nil, err
	}
	defer comRelease(props)
	name := utf16(export)
	ptr := comCall(props, propertiesGetShaderIdentifier, uintptr(unsafe.Pointer(name)))
	runtime.KeepAlive(name)
	if ptr == 0 {
		return nil, fmt.Errorf("%w: no shader identifier for %s", core.ErrEntryPointNotFound, export)
	}
	id := make([]byte, ShaderIdentifierSize)
	copy(id, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), ShaderIdentifierSize))
	return id, nil
}

// nativeInputs converts in. geom backs the geometry of a bottom level and
// must outlive the call the result is passed to.
func nativeInputs(in *BuildInputs, geom *geometryDesc) buildInputs {
	if in.TopLevel {
		return buildInputs{
			Type:        asTypeTopLevel,
			Flags:       asPreferFastTrace,
			NumDescs:    in.InstanceCount,
			DescsLayout: elementsArray,
			Descs:       in.InstanceAddress,
		}
	}
	*geom = geometryDesc{
		VertexFormat: in.VertexFormat,
		VertexCount:  in.VertexCount,
		VertexBuffer: in.VertexAddress,
		VertexStride: uint64(in.VertexStride),
	}
	if in.Opaque {
		geom.Flags = geometryOpaque
	}
	if in.IndexCount > 0 {
		geom.IndexFormat = indexFormatR32
		geom.IndexCount = in.IndexCount
		geom.IndexBuffer = in.IndexAddress
	}
	return buildInputs{
		Type:        asTypeBottomLevel,
		Flags:       asPreferFastTrace,
		NumDescs:    1,
		DescsLayout: elementsArray,
		Descs:       uint64(uintptr(unsafe.Pointer(geom))),
	}
}

func (rt nativeRayTracing) Prebuild(in *BuildInputs) (PrebuildInfo, error) {
	var (
		geom geometryDesc
		info prebuildInfo
	)
	inputs := nativeInputs(in, &geom)
	comCall(rt.d.device5, deviceGetAccelerationStructurePrebuildInfo, uintptr(unsafe.Pointer(&inputs)), uintptr(unsafe.Pointer(&info)))
	runtime.KeepAlive(&geom)
	if info.ResultSize == 0 {
		return PrebuildInfo{}, fmt.Errorf("%w: acceleration structure prebuild returned no size", core.ErrNativeCall)
	}
	return PrebuildInfo{ResultSize: info.ResultSize, ScratchSize: info.ScratchSize}, nil
}

func (rt nativeRayTracing) BuildAccelerationStructure(cl GraphicsCommandList, in *BuildInputs, dest, scratch uint64) {
	var geom geometryDesc
	desc := buildDesc{Dest: dest, Inputs: nativeInputs(in, &geom), Scratch: scratch}
	comCall(uintptr(cl), listBuildAccelerationStructure, uintptr(unsafe.Pointer(&desc)), 0, 0)
	runtime.KeepAlive(&geom)
}

func (rt nativeRayTracing) SetPipelineState1(cl GraphicsCommandList, so StateObject) {
	comCall(uintptr(cl), listSetPipelineState1, uintptr(so))
}

func (rt nativeRayTracing) DispatchRays(cl GraphicsCommandList, desc *DispatchRaysDesc) {
	native := dispatchRaysDesc{
		RayGenAddress:   desc.RayGen.Address,
		RayGenSize:      desc.RayGen.Size,
		MissAddress:     desc.Miss.Address,
		MissSize:        desc.Miss.Size,
		MissStride:      desc.Miss.Stride,
		HitGroupAddress: desc.HitGroup.Address,
		HitGroupSize:    desc.HitGroup.Size,
		HitGroupStride:  desc.HitGroup.Stride,
		Width:           desc.Width,
		Height:          desc.Height,
		Depth:           max(desc.Depth, 1),
	}
	comCall(uintptr(cl), listDispatchRays, uintptr(unsafe.Pointer(&native)))
}

var _ RayTracingDevice = nativeRayTracing{}
