// Package shadercompiler turns shader sources into DXIL or SPIR-V. HLSL
// goes through dxc, GLSL through glslc, and WGSL through naga.
package shadercompiler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// Compiler dispatches every source to the compiler for its language.
type Compiler struct {
	dxc   *DXC
	glslc *Glslc
	naga  *Naga
}

func New(cfg config.ShaderConfig) *Compiler {
	dxc := NewDXC(cfg)
	return &Compiler{
		dxc:   dxc,
		glslc: &Glslc{Path: cfg.Glslc},
		naga:  &Naga{DXC: dxc},
	}
}

func (c *Compiler) Compile(ctx context.Context, src rhi.ShaderSrc, format rhi.BytecodeFormat) (rhi.ShaderBlob, error) {
	var (
		blob rhi.ShaderBlob
		err  error
	)
	switch lang := src.DetectLanguage(); lang {
	case rhi.LanguageHLSL:
		blob, err = c.dxc.Compile(ctx, src, format)
	case rhi.LanguageGLSL:
		blob, err = c.glslc.Compile(ctx, src, format)
	case rhi.LanguageWGSL:
		blob, err = c.naga.Compile(ctx, src, format)
	default:
		return blob, fmt.Errorf("%w: no compiler for %q", core.ErrUnsupported, src.Path)
	}
	if err != nil {
		core.LogError("failed to compile %s (%s): %s", src.Path, src.Stage, err)
		return blob, err
	}
	core.LogDebug("compiled %s:%s to %d bytes of %s", src.Path, src.Entry, len(blob.Code), format)
	return blob, nil
}

// CompileAll compiles srcs concurrently. Blobs come back in source order.
func CompileAll(ctx context.Context, c rhi.ShaderCompiler, srcs []rhi.ShaderSrc, format rhi.BytecodeFormat) ([]rhi.ShaderBlob, error) {
	blobs := make([]rhi.ShaderBlob, len(srcs))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		g.Go(func() error {
			blob, err := c.Compile(ctx, src, format)
			if err != nil {
				return err
			}
			blobs[i] = blob
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blobs, nil
}
