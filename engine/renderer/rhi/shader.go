package rhi

import (
	"context"
	"path/filepath"
	"strings"
)

type ShaderLanguage uint8

const (
	LanguageUnknown ShaderLanguage = iota
	LanguageHLSL
	LanguageGLSL
	LanguageWGSL
)

func (l ShaderLanguage) String() string {
	switch l {
	case LanguageHLSL:
		return "hlsl"
	case LanguageGLSL:
		return "glsl"
	case LanguageWGSL:
		return "wgsl"
	}
	return "unknown"
}

// ShaderSrc describes one shader unit handed to a compiler.
type ShaderSrc struct {
	Path     string
	Entry    string
	Stage    ShaderStage
	Defines  map[string]string
	Language ShaderLanguage
	// Source, when set, is compiled instead of reading Path.
	Source []byte
}

// DetectLanguage returns the explicit language or guesses it from the extension.
func (s ShaderSrc) DetectLanguage() ShaderLanguage {
	if s.Language != LanguageUnknown {
		return s.Language
	}
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".hlsl", ".hlsli":
		return LanguageHLSL
	case ".wgsl":
		return LanguageWGSL
	case ".glsl", ".vert", ".frag", ".comp", ".rgen", ".rchit", ".rahit", ".rmiss", ".rint":
		return LanguageGLSL
	}
	return LanguageUnknown
}

type BytecodeFormat uint8

const (
	BytecodeDXIL BytecodeFormat = iota + 1
	BytecodeSPIRV
)

func (f BytecodeFormat) String() string {
	switch f {
	case BytecodeDXIL:
		return "dxil"
	case BytecodeSPIRV:
		return "spirv"
	}
	return "unknown"
}

// ShaderBlob is compiled bytecode plus the origin needed for reflection and
// diagnostics.
type ShaderBlob struct {
	Code   []byte
	Format BytecodeFormat
	Stage  ShaderStage
	Entry  string
	Path   string
}

// ShaderCompiler turns sources into backend bytecode.
type ShaderCompiler interface {
	Compile(ctx context.Context, src ShaderSrc, format BytecodeFormat) (ShaderBlob, error)
}
