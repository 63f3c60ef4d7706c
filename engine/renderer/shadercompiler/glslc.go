package shadercompiler

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

var glslStages = map[rhi.ShaderStage]string{
	rhi.StageVertex:       "vert",
	rhi.StageFragment:     "frag",
	rhi.StageCompute:      "comp",
	rhi.StageRayGen:       "rgen",
	rhi.StageClosestHit:   "rchit",
	rhi.StageAnyHit:       "rahit",
	rhi.StageMiss:         "rmiss",
	rhi.StageIntersection: "rint",
}

// Glslc compiles GLSL to SPIR-V with the glslc executable.
type Glslc struct {
	Path string
}

func (g *Glslc) args(src rhi.ShaderSrc, in, out string) ([]string, error) {
	stage, ok := glslStages[src.Stage]
	if !ok {
		return nil, fmt.Errorf("%w: glslc stage %s", core.ErrUnsupported, src.Stage)
	}
	args := []string{"-fshader-stage=" + stage, "--target-env=vulkan1.2"}
	for _, def := range sortedDefines(src.Defines) {
		args = append(args, "-D"+def)
	}
	return append(args, "-o", out, in), nil
}

func (g *Glslc) Compile(ctx context.Context, src rhi.ShaderSrc, format rhi.BytecodeFormat) (rhi.ShaderBlob, error) {
	if format != rhi.BytecodeSPIRV {
		return rhi.ShaderBlob{}, fmt.Errorf("%w: glslc only emits spir-v", core.ErrUnsupported)
	}
	if _, err := g.args(src, "", ""); err != nil {
		return rhi.ShaderBlob{}, err
	}
	code, err := compileToFile(ctx, g.Path, src, ".glsl", func(in, out string) []string {
		args, _ := g.args(src, in, out)
		return args
	})
	if err != nil {
		return rhi.ShaderBlob{}, err
	}
	// GLSL entry points are always main.
	return rhi.ShaderBlob{Code: code, Format: format, Stage: src.Stage, Entry: "main", Path: src.Path}, nil
}
