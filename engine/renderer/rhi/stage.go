package rhi

import (
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// ShaderStage is a single pipeline stage. Values are bits so sets of stages
// can be carried in StageFlags.
type ShaderStage uint16

const (
	StageVertex ShaderStage = 1 << iota
	StageFragment
	StageCompute
	StageRayGen
	StageClosestHit
	StageAnyHit
	StageMiss
	StageIntersection
)

// StageFlags is a set of shader stages, used for binding visibility.
type StageFlags = core.Flags[ShaderStage]

const (
	GraphicsStages   = StageVertex | StageFragment
	RayTracingStages = StageRayGen | StageClosestHit | StageAnyHit | StageMiss | StageIntersection
	AllStages        = GraphicsStages | StageCompute | RayTracingStages
)

var stageNames = map[ShaderStage]string{
	StageVertex:       "vertex",
	StageFragment:     "fragment",
	StageCompute:      "compute",
	StageRayGen:       "raygen",
	StageClosestHit:   "closesthit",
	StageAnyHit:       "anyhit",
	StageMiss:         "miss",
	StageIntersection: "intersection",
}

func (s ShaderStage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	var parts []string
	core.NewFlags(s).Each(func(b ShaderStage) {
		parts = append(parts, stageNames[b])
	})
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

func (s ShaderStage) IsRayTracing() bool {
	return s != 0 && s&^RayTracingStages == 0
}

// IsHitStage reports whether s is one of the stages that form a hit group.
func (s ShaderStage) IsHitStage() bool {
	return s == StageClosestHit || s == StageAnyHit || s == StageIntersection
}
