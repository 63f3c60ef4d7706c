//go:build mage

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/shadercompiler"
	"github.com/spaghettifunk/anima-rhi/testbed"
)

const configPath = "configs/rhi.toml"

type Build mg.Namespace

// Compiles the testbed shaders to DXIL and SPIR-V into the configured output directory.
func (Build) Shaders() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Shaders.OutputDir, 0o755); err != nil {
		return err
	}

	ctx := context.Background()
	compiler := shadercompiler.New(cfg.Shaders)
	srcs := testbed.Shaders(cfg.Shaders.SourceDir)
	for _, format := range []rhi.BytecodeFormat{rhi.BytecodeDXIL, rhi.BytecodeSPIRV} {
		blobs, err := shadercompiler.CompileAll(ctx, compiler, srcs, format)
		if err != nil {
			return fmt.Errorf("compiling %s: %w", format, err)
		}
		for _, blob := range blobs {
			out := filepath.Join(cfg.Shaders.OutputDir, blobName(blob))
			if err := os.WriteFile(out, blob.Code, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes)\n", out, len(blob.Code))
		}
	}
	return nil
}

// Runs go mod download and then builds the testbed binary.
func (Build) Testbed() error {
	if _, err := executeCmd("go", withArgs("mod", "download"), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", "bin/testbed", "."), withStream())
	return err
}

func blobName(blob rhi.ShaderBlob) string {
	base := strings.TrimSuffix(filepath.Base(blob.Path), filepath.Ext(blob.Path))
	ext := ".dxil"
	if blob.Format == rhi.BytecodeSPIRV {
		ext = ".spv"
	}
	return fmt.Sprintf("%s.%s%s", base, blob.Entry, ext)
}
