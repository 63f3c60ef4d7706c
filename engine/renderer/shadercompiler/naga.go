package shadercompiler

import (
	"context"
	"fmt"
	"os"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/wgsl"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

var shaderModels = map[string]hlsl.ShaderModel{
	"6_0": hlsl.ShaderModel6_0,
	"6_1": hlsl.ShaderModel6_1,
	"6_2": hlsl.ShaderModel6_2,
	"6_3": hlsl.ShaderModel6_3,
	"6_4": hlsl.ShaderModel6_4,
	"6_5": hlsl.ShaderModel6_5,
	"6_6": hlsl.ShaderModel6_6,
	"6_7": hlsl.ShaderModel6_7,
}

var irStages = map[rhi.ShaderStage]ir.ShaderStage{
	rhi.StageVertex:   ir.StageVertex,
	rhi.StageFragment: ir.StageFragment,
	rhi.StageCompute:  ir.StageCompute,
}

// Naga compiles WGSL in-process. SPIR-V is emitted directly; for DXIL the
// module is translated to HLSL and handed to DXC.
type Naga struct {
	DXC *DXC
}

func (n *Naga) Compile(ctx context.Context, src rhi.ShaderSrc, format rhi.BytecodeFormat) (rhi.ShaderBlob, error) {
	text := src.Source
	if len(text) == 0 {
		var err error
		if text, err = os.ReadFile(src.Path); err != nil {
			return rhi.ShaderBlob{}, err
		}
	}

	module, err := parseWGSL(string(text))
	if err != nil {
		return rhi.ShaderBlob{}, fmt.Errorf("%w: %s: %w", core.ErrCompile, src.Path, err)
	}
	if err := checkEntryPoint(module, src); err != nil {
		return rhi.ShaderBlob{}, err
	}

	switch format {
	case rhi.BytecodeSPIRV:
		code, err := naga.Compile(string(text))
		if err != nil {
			return rhi.ShaderBlob{}, fmt.Errorf("%w: %s: %w", core.ErrCompile, src.Path, err)
		}
		return rhi.ShaderBlob{Code: code, Format: format, Stage: src.Stage, Entry: src.Entry, Path: src.Path}, nil
	case rhi.BytecodeDXIL:
		if n.DXC == nil {
			return rhi.ShaderBlob{}, fmt.Errorf("%w: wgsl to dxil needs dxc", core.ErrUnsupported)
		}
		opts := hlsl.DefaultOptions()
		opts.EntryPoint = src.Entry
		if sm, ok := shaderModels[n.DXC.ShaderModel]; ok {
			opts.ShaderModel = sm
		}
		code, info, err := hlsl.Compile(module, opts)
		if err != nil {
			return rhi.ShaderBlob{}, fmt.Errorf("%w: %s: %w", core.ErrCompile, src.Path, err)
		}
		entry := src.Entry
		if info != nil {
			if renamed, ok := info.EntryPointNames[src.Entry]; ok {
				entry = renamed
			}
		}
		blob, err := n.DXC.Compile(ctx, rhi.ShaderSrc{
			Path:     src.Path,
			Entry:    entry,
			Stage:    src.Stage,
			Defines:  src.Defines,
			Language: rhi.LanguageHLSL,
			Source:   []byte(code),
		}, format)
		if err != nil {
			return blob, err
		}
		blob.Entry = entry
		return blob, nil
	}
	return rhi.ShaderBlob{}, fmt.Errorf("%w: bytecode %s", core.ErrUnsupported, format)
}

func parseWGSL(source string) (*ir.Module, error) {
	tokens, err := wgsl.NewLexer(source).Tokenize()
	if err != nil {
		return nil, err
	}
	ast, err := wgsl.NewParser(tokens).Parse()
	if err != nil {
		return nil, err
	}
	return wgsl.LowerWithSource(ast, source)
}

func checkEntryPoint(module *ir.Module, src rhi.ShaderSrc) error {
	want, ok := irStages[src.Stage]
	if !ok {
		return fmt.Errorf("%w: wgsl has no %s stage", core.ErrUnsupported, src.Stage)
	}
	for _, ep := range module.EntryPoints {
		if ep.Name == src.Entry && ep.Stage == want {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no %s entry point %q", core.ErrEntryPointNotFound, src.Path, src.Stage, src.Entry)
}
