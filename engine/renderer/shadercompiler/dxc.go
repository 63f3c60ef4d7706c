package shadercompiler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// DXC compiles HLSL with the dxc executable, to DXIL or to SPIR-V.
type DXC struct {
	Path        string
	ShaderModel string
	// Shift moves HLSL registers into distinct Vulkan binding ranges.
	Shift config.RegisterShift
}

func NewDXC(cfg config.ShaderConfig) *DXC {
	return &DXC{Path: cfg.DXC, ShaderModel: cfg.ShaderModel, Shift: cfg.VulkanShift}
}

// Profile is the dxc target profile for a stage. Ray tracing stages are
// compiled as libraries, which need at least shader model 6.3.
func Profile(stage rhi.ShaderStage, shaderModel string) (string, error) {
	switch {
	case stage == rhi.StageVertex:
		return "vs_" + shaderModel, nil
	case stage == rhi.StageFragment:
		return "ps_" + shaderModel, nil
	case stage == rhi.StageCompute:
		return "cs_" + shaderModel, nil
	case stage.IsRayTracing():
		if shaderModel < "6_3" {
			shaderModel = "6_3"
		}
		return "lib_" + shaderModel, nil
	}
	return "", fmt.Errorf("%w: no profile for stage %s", core.ErrUnsupported, stage)
}

func (d *DXC) args(src rhi.ShaderSrc, format rhi.BytecodeFormat, in, out string) ([]string, error) {
	profile, err := Profile(src.Stage, d.ShaderModel)
	if err != nil {
		return nil, err
	}
	args := []string{"-T", profile}
	if !src.Stage.IsRayTracing() {
		args = append(args, "-E", src.Entry)
	}
	for _, def := range sortedDefines(src.Defines) {
		args = append(args, "-D", def)
	}
	if format == rhi.BytecodeSPIRV {
		args = append(args, "-spirv", "-fspv-target-env=vulkan1.2")
		for _, s := range []struct {
			class string
			shift uint32
		}{{"b", d.Shift.B}, {"t", d.Shift.T}, {"s", d.Shift.S}, {"u", d.Shift.U}} {
			args = append(args, "-fvk-"+s.class+"-shift", strconv.FormatUint(uint64(s.shift), 10), "all")
		}
	} else {
		args = append(args, "-Qembed_debug", "-Zi")
	}
	return append(args, "-Fo", out, in), nil
}

func (d *DXC) Compile(ctx context.Context, src rhi.ShaderSrc, format rhi.BytecodeFormat) (rhi.ShaderBlob, error) {
	if _, err := Profile(src.Stage, d.ShaderModel); err != nil {
		return rhi.ShaderBlob{}, err
	}
	code, err := compileToFile(ctx, d.Path, src, ".hlsl", func(in, out string) []string {
		args, _ := d.args(src, format, in, out)
		return args
	})
	if err != nil {
		return rhi.ShaderBlob{}, err
	}
	return rhi.ShaderBlob{Code: code, Format: format, Stage: src.Stage, Entry: src.Entry, Path: src.Path}, nil
}
