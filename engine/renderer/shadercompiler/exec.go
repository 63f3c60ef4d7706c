package shadercompiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type cmdOptions struct {
	args []string
	dir  string
}

type cmdOption func(*cmdOptions)

func withArgs(args ...string) cmdOption {
	return func(o *cmdOptions) {
		o.args = append(o.args, args...)
	}
}

func withDir(dir string) cmdOption {
	return func(o *cmdOptions) {
		o.dir = dir
	}
}

// executeCmd runs an external compiler and returns its combined output.
func executeCmd(ctx context.Context, command string, options ...cmdOption) (string, error) {
	opts := &cmdOptions{}
	for _, o := range options {
		o(opts)
	}

	core.LogDebug("executing: %s %s", command, strings.Join(opts.args, " "))
	cmd := exec.CommandContext(ctx, command, opts.args...)
	if opts.dir != "" {
		cmd.Dir = opts.dir
	}

	var b bytes.Buffer
	cmd.Stdout = &b
	cmd.Stderr = &b
	if err := cmd.Run(); err != nil {
		return b.String(), fmt.Errorf("%w: %s: %w\n%s", core.ErrCompile, command, err, b.String())
	}
	return b.String(), nil
}

// compileToFile runs a compiler inside a scratch directory. Inline sources
// are written there first; args receives the input and output paths and the
// bytes left in the output file are returned.
func compileToFile(ctx context.Context, command string, src rhi.ShaderSrc, ext string, args func(in, out string) []string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "anima-shader-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := src.Path
	if len(src.Source) > 0 {
		in = filepath.Join(dir, "source"+ext)
		if err := os.WriteFile(in, src.Source, 0o600); err != nil {
			return nil, err
		}
	} else if in, err = filepath.Abs(in); err != nil {
		return nil, err
	}

	out := filepath.Join(dir, "out.bin")
	if _, err := executeCmd(ctx, command, withArgs(args(in, out)...), withDir(dir)); err != nil {
		return nil, fmt.Errorf("%s: %w", src.Path, err)
	}
	return os.ReadFile(out)
}

func sortedDefines(defines map[string]string) []string {
	out := make([]string, 0, len(defines))
	for k, v := range defines {
		if v == "" {
			out = append(out, k)
		} else {
			out = append(out, k+"="+v)
		}
	}
	sort.Strings(out)
	return out
}
