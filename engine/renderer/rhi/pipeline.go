package rhi

import (
	"github.com/google/uuid"
)

// PipelineID is stable across hot reloads of the same pipeline.
type PipelineID = uuid.UUID

// NilPipelineID asks the backend to generate an ID.
var NilPipelineID = uuid.Nil

func NewPipelineID() PipelineID {
	return uuid.New()
}

type PipelineKind uint8

const (
	PipelineRaster PipelineKind = iota
	PipelineCompute
	PipelineRayTracing
)

func (k PipelineKind) String() string {
	switch k {
	case PipelineRaster:
		return "raster"
	case PipelineCompute:
		return "compute"
	case PipelineRayTracing:
		return "raytracing"
	}
	return "unknown"
}

type Pipeline interface {
	ID() PipelineID
	Name() string
	Kind() PipelineKind
	Reflection() *ReflectionResult
	// DescriptorInfo is owned by the pipeline and valid until Destroy.
	DescriptorInfo() DescriptorInfoMap
	Destroy()
}

// FramebufferDesc is the render target layout a raster pipeline draws into.
type FramebufferDesc struct {
	ColorFormats []Format
	DepthFormat  Format
	Width        uint32
	Height       uint32
}

type RasterPipelineDesc struct {
	Name        string
	ID          PipelineID
	Shaders     []ShaderSrc
	Framebuffer FramebufferDesc
	DepthTest   bool
	DepthWrite  bool
	Wireframe   bool
}

type ComputePipelineDesc struct {
	Name   string
	ID     PipelineID
	Shader ShaderSrc
}

// HitGroupDesc groups the hit shaders invoked for one geometry type.
// Entries are exported symbol names; empty entries are omitted.
type HitGroupDesc struct {
	ClosestHit          string
	AnyHit              string
	Intersection        string
	LocalRootParameters uint32
}

type RayTracingPipelineDesc struct {
	Name    string
	ID      PipelineID
	Shaders []ShaderSrc
	// HitGroups defaults to one group per closest-hit shader.
	HitGroups []HitGroupDesc
	// LocalRootParameters holds local root argument counts of raygen and
	// miss shaders by entry name.
	LocalRootParameters map[string]uint32
	MaxRecursionDepth   uint32
	MaxPayloadSize      uint32
	MaxAttributeSize    uint32
}

type RayTracingPipeline interface {
	Pipeline
	// NumHitGroups counts every declared group, colliding names included.
	NumHitGroups() int
	HitGroupNames() []string
	ShaderTable() Buffer
	ShaderTableLayout() ShaderTableLayout
}
