package dxil

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// Resource classes as recorded by RDAT.
const (
	ClassSRV     = 0
	ClassUAV     = 1
	ClassCBuffer = 2
	ClassSampler = 3
	classInvalid = 0xFF
)

// Resource kinds shared by RDAT and PSV0.
const (
	ResKindTexture2D        = 2
	ResKindTypedBuffer      = 10
	ResKindRawBuffer        = 11
	ResKindStructuredBuffer = 12
	ResKindCBuffer          = 13
	ResKindSampler          = 14
	ResKindRTAccelStruct    = 16
)

const (
	rdatVersion = 0x10

	rdatStringBuffer  = 1
	rdatIndexArrays   = 2
	rdatResourceTable = 3
	rdatFunctionTable = 4

	noIndex = 0xFFFFFFFF

	// Record prefixes read by ParseRDAT: resources up to the name, functions
	// up to the attribute size.
	resourceRecordSize = 7 * 4
	functionRecordSize = 7 * 4
)

type Function struct {
	Name          string
	UnmangledName string
	Kind          ShaderKind
	PayloadSize   uint32
	AttributeSize uint32
	// Resources indexes into RDAT.Resources.
	Resources []uint32
}

// RDAT holds the runtime data tables of a library.
type RDAT struct {
	Resources []ResourceBinding
	Functions []Function
}

type table struct {
	count, stride uint32
	records       *reader
	base          uint32
}

func newTable(name string, body *reader, minStride uint32) (table, error) {
	t := table{count: body.u32(0), stride: body.u32(4), records: body, base: 8}
	if body.err != nil {
		return table{}, fmt.Errorf("rdat %s: %w", name, body.err)
	}
	if t.count > 0 && t.stride < minStride {
		return table{}, fmt.Errorf("%w: rdat %s records of %d bytes", core.ErrReflection, name, t.stride)
	}
	if !fits(uint64(t.base), t.count, t.stride, len(body.data)) {
		return table{}, fmt.Errorf("%w: rdat %s claims %d records of %d bytes in %d", core.ErrReflection, name, t.count, t.stride, len(body.data))
	}
	return t, nil
}

func (t table) u32(i, field uint32) uint32 {
	return t.records.u32(t.base + i*t.stride + field*4)
}

func (t table) ok() bool {
	return t.records == nil || t.records.err == nil
}

// ParseRDAT decodes the string buffer, index arrays, resource table and
// function table of an RDAT part. Unknown parts are skipped.
func ParseRDAT(part []byte) (*RDAT, error) {
	r := &reader{data: part}
	if v := r.u32(0); r.err == nil && v != rdatVersion {
		return nil, fmt.Errorf("%w: rdat version %#x", core.ErrReflection, v)
	}
	count := r.u32(4)
	if r.err == nil && !fits(8, count, 4, len(part)) {
		return nil, fmt.Errorf("%w: rdat claims %d parts in %d bytes", core.ErrReflection, count, len(part))
	}

	var (
		strs      = &reader{}
		indices   = &reader{}
		resources table
		functions table
	)
	for i := uint32(0); i < count && r.err == nil; i++ {
		off := r.u32(8 + i*4)
		kind := r.u32(off)
		size := r.u32(off + 4)
		if r.err != nil {
			break
		}
		start := uint64(off) + 8
		if start+uint64(size) > uint64(len(part)) {
			return nil, fmt.Errorf("%w: rdat part %d out of bounds", core.ErrReflection, kind)
		}
		body := &reader{data: part[start : start+uint64(size)]}
		var err error
		switch kind {
		case rdatStringBuffer:
			strs = body
		case rdatIndexArrays:
			indices = body
		case rdatResourceTable:
			resources, err = newTable("resources", body, resourceRecordSize)
		case rdatFunctionTable:
			functions, err = newTable("functions", body, functionRecordSize)
		}
		if err != nil {
			return nil, err
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("rdat: %w", r.err)
	}

	out := &RDAT{}
	for i := uint32(0); i < resources.count && resources.ok(); i++ {
		out.Resources = append(out.Resources, ResourceBinding{
			Class: resources.u32(i, 0),
			Kind:  resources.u32(i, 1),
			Space: resources.u32(i, 3),
			Lower: resources.u32(i, 4),
			Upper: resources.u32(i, 5),
			Name:  strs.cstring(resources.u32(i, 6)),
		})
	}
	if !resources.ok() {
		return nil, fmt.Errorf("rdat resources: %w", resources.records.err)
	}

	for i := uint32(0); i < functions.count && functions.ok(); i++ {
		fn := Function{
			Name:          strs.cstring(functions.u32(i, 0)),
			UnmangledName: strs.cstring(functions.u32(i, 1)),
			Kind:          ShaderKind(functions.u32(i, 4)),
			PayloadSize:   functions.u32(i, 5),
			AttributeSize: functions.u32(i, 6),
		}
		if ref := functions.u32(i, 2); ref != noIndex {
			start := (uint64(ref) + 1) * 4
			if start > uint64(len(indices.data)) {
				return nil, fmt.Errorf("%w: rdat function %q index %d out of bounds", core.ErrReflection, fn.UnmangledName, ref)
			}
			n := indices.u32(ref * 4)
			if !fits(start, n, 4, len(indices.data)) {
				return nil, fmt.Errorf("%w: rdat function %q claims %d resources", core.ErrReflection, fn.UnmangledName, n)
			}
			for j := uint32(0); j < n; j++ {
				fn.Resources = append(fn.Resources, indices.u32((ref+1+j)*4))
			}
			if indices.err != nil {
				return nil, fmt.Errorf("rdat function %q resources: %w", fn.UnmangledName, indices.err)
			}
		}
		out.Functions = append(out.Functions, fn)
	}
	if !functions.ok() {
		return nil, fmt.Errorf("rdat functions: %w", functions.records.err)
	}
	return out, nil
}

// HasFunctions reports whether the part describes a library.
func (d *RDAT) HasFunctions() bool {
	return len(d.Functions) > 0
}
