package dxil

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Options struct {
	// UnboundedArraySize is the descriptor count given to runtime arrays.
	UnboundedArraySize uint32
}

var stageKinds = map[rhi.ShaderStage]ShaderKind{
	rhi.StageVertex:       KindVertex,
	rhi.StageFragment:     KindPixel,
	rhi.StageCompute:      KindCompute,
	rhi.StageRayGen:       KindRayGen,
	rhi.StageClosestHit:   KindClosestHit,
	rhi.StageAnyHit:       KindAnyHit,
	rhi.StageMiss:         KindMiss,
	rhi.StageIntersection: KindIntersection,
}

// Reflect decodes a DXIL container and reflects the requested entry point.
// Libraries (an RDAT function table and no PSV0) are searched for a
// function exporting blob.Entry.
func Reflect(blob rhi.ShaderBlob, opts Options) (rhi.StageReflection, error) {
	st, err := reflectBlob(blob, opts)
	if err != nil {
		return st, fmt.Errorf("%s (%s): %w", blob.Path, blob.Entry, err)
	}
	return st, nil
}

func reflectBlob(blob rhi.ShaderBlob, opts Options) (rhi.StageReflection, error) {
	st := rhi.StageReflection{Stage: blob.Stage, Entry: blob.Entry}
	if opts.UnboundedArraySize == 0 {
		opts.UnboundedArraySize = 64
	}
	want, ok := stageKinds[blob.Stage]
	if !ok {
		return st, fmt.Errorf("%w: stage %s", core.ErrUnsupported, blob.Stage)
	}

	c, err := ParseContainer(blob.Code)
	if err != nil {
		return st, err
	}
	if _, err := c.MustPart(PartDXIL); err != nil {
		return st, err
	}

	var rdat *RDAT
	if part, ok := c.Part(PartRDAT); ok {
		if rdat, err = ParseRDAT(part); err != nil {
			return st, err
		}
	}

	var resources []ResourceBinding
	psvPart, hasPSV := c.Part(PartPSV0)
	switch {
	case !hasPSV && rdat != nil && rdat.HasFunctions():
		st.Library = true
		fn, err := findFunction(rdat, blob.Entry, want)
		if err != nil {
			return st, err
		}
		for _, idx := range fn.Resources {
			if int(idx) >= len(rdat.Resources) {
				return st, fmt.Errorf("%w: function %q references resource %d of %d",
					core.ErrReflection, fn.UnmangledName, idx, len(rdat.Resources))
			}
			resources = append(resources, rdat.Resources[idx])
		}
	case hasPSV:
		psv, err := ParsePSV(psvPart)
		if err != nil {
			return st, err
		}
		if psv.Stage != KindUnknown && psv.Stage != want {
			return st, fmt.Errorf("%w: container holds a shader of kind %d, not %s",
				core.ErrEntryPointNotFound, psv.Stage, blob.Stage)
		}
		resources = psv.Resources
		nameResources(resources, rdat)
	default:
		return st, fmt.Errorf("%w: %s", core.ErrMissingPart, PartPSV0)
	}

	for _, res := range resources {
		b, err := shaderBinding(res, opts)
		if err != nil {
			return st, err
		}
		st.Bindings = append(st.Bindings, b)
	}

	switch blob.Stage {
	case rhi.StageVertex:
		if st.VertexInputs, err = vertexInputs(c); err != nil {
			return st, err
		}
	case rhi.StageFragment:
		if st.ColorOutputs, err = colorOutputs(c); err != nil {
			return st, err
		}
	}
	return st, nil
}

func findFunction(rdat *RDAT, entry string, kind ShaderKind) (Function, error) {
	for _, fn := range rdat.Functions {
		if fn.Kind != kind {
			continue
		}
		if fn.UnmangledName == entry || fn.Name == entry {
			return fn, nil
		}
	}
	return Function{}, fmt.Errorf("%w: no %d-kind export %q among %d functions",
		core.ErrEntryPointNotFound, kind, entry, len(rdat.Functions))
}

// nameResources copies names from the RDAT resource table, when the
// container has one, onto PSV0 bindings.
func nameResources(resources []ResourceBinding, rdat *RDAT) {
	if rdat == nil {
		return
	}
	for i := range resources {
		for _, named := range rdat.Resources {
			if named.Class == resources[i].Class && named.Space == resources[i].Space && named.Lower == resources[i].Lower {
				resources[i].Name = named.Name
				break
			}
		}
	}
}

var classLetters = map[uint32]string{ClassSRV: "t", ClassUAV: "u", ClassCBuffer: "b", ClassSampler: "s"}

func shaderBinding(res ResourceBinding, opts Options) (rhi.ShaderBinding, error) {
	var kind rhi.ResourceKind
	switch res.Class {
	case ClassCBuffer:
		kind = rhi.ResourceConstantBuffer
	case ClassSampler:
		kind = rhi.ResourceSampler
	case ClassSRV:
		switch res.Kind {
		case ResKindRawBuffer:
			kind = rhi.ResourceByteAddressBuffer
		case ResKindStructuredBuffer:
			kind = rhi.ResourceStructuredBuffer
		case ResKindRTAccelStruct:
			kind = rhi.ResourceAccelerationStructure
		default:
			kind = rhi.ResourceTexture
		}
	case ClassUAV:
		switch res.Kind {
		case ResKindRawBuffer, ResKindStructuredBuffer:
			kind = rhi.ResourceStorageBuffer
		default:
			kind = rhi.ResourceStorageImage
		}
	default:
		return rhi.ShaderBinding{}, fmt.Errorf("%w: resource class %d", core.ErrUnsupportedResource, res.Class)
	}

	name := res.Name
	if name == "" {
		name = fmt.Sprintf("%s%d_space%d", classLetters[res.Class], res.Lower, res.Space)
	}
	return rhi.ShaderBinding{
		Name:  name,
		Key:   rhi.BindingKey{Kind: kind, Space: res.Space, Binding: res.Lower},
		Count: res.Count(opts.UnboundedArraySize),
	}, nil
}

func vertexInputs(c *Container) ([]rhi.VertexAttribute, error) {
	part, err := c.MustPart(PartISG1)
	if err != nil {
		return nil, err
	}
	elems, err := ParseSignature(part)
	if err != nil {
		return nil, err
	}

	var (
		attrs  []rhi.VertexAttribute
		offset uint32
	)
	for _, e := range elems {
		if e.SystemValue != SystemValueUndefined {
			continue
		}
		format, err := rhi.AttributeFormat(e.ComponentType(), e.Components())
		if err != nil {
			return nil, fmt.Errorf("input %s%d: %w", e.SemanticName, e.SemanticIndex, err)
		}
		attrs = append(attrs, rhi.VertexAttribute{
			Name:          e.SemanticName,
			SemanticIndex: e.SemanticIndex,
			Location:      e.Register,
			Format:        format,
			Offset:        offset,
		})
		offset += format.Size()
	}
	return attrs, nil
}

func colorOutputs(c *Container) ([]rhi.ColorAttachment, error) {
	part, err := c.MustPart(PartOSG1)
	if err != nil {
		return nil, err
	}
	elems, err := ParseSignature(part)
	if err != nil {
		return nil, err
	}

	var out []rhi.ColorAttachment
	for _, e := range elems {
		if e.SystemValue != SystemValueTarget {
			continue
		}
		format, err := rhi.AttributeFormat(e.ComponentType(), e.Components())
		if err != nil {
			return nil, fmt.Errorf("output %s%d: %w", e.SemanticName, e.SemanticIndex, err)
		}
		out = append(out, rhi.ColorAttachment{
			Location: e.SemanticIndex,
			Format:   format,
			Name:     fmt.Sprintf("%s%d", e.SemanticName, e.SemanticIndex),
		})
	}
	return out, nil
}
