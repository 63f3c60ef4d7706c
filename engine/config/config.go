package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type Backend string

const (
	BackendVulkan Backend = "vulkan"
	BackendD3D12  Backend = "d3d12"
)

type Config struct {
	Backend     Backend           `toml:"backend"`
	Application ApplicationConfig `toml:"application"`
	Log         LogConfig         `toml:"log"`
	Debug       DebugConfig       `toml:"debug"`
	Frames      FramesConfig      `toml:"frames"`
	Descriptors DescriptorConfig  `toml:"descriptors"`
	Shaders     ShaderConfig      `toml:"shaders"`
	RayTracing  RayTracingConfig  `toml:"raytracing"`
}

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting width, if applicable.
	Width uint32 `toml:"width"`
	// Window starting height, if applicable.
	Height uint32 `toml:"height"`
}

type LogConfig struct {
	Level core.LogLevel `toml:"level"`
}

type DebugConfig struct {
	// Validation enables the native validation layer / debug layer.
	Validation bool `toml:"validation"`
	// ObjectNames attaches debug labels to native objects.
	ObjectNames bool `toml:"object_names"`
}

type FramesConfig struct {
	InFlight int `toml:"in_flight"`
}

type DescriptorConfig struct {
	// HeapCapacity is the descriptor count of each shader-visible CBV/SRV/UAV heap.
	HeapCapacity uint32 `toml:"heap_capacity"`
	// SamplerHeapCapacity is the descriptor count of each shader-visible sampler heap.
	SamplerHeapCapacity uint32 `toml:"sampler_heap_capacity"`
	// PoolQuota is the per-type descriptor count of each Vulkan descriptor pool.
	PoolQuota uint32 `toml:"pool_quota"`
	// PoolMaxSets is the maximum number of native sets one Vulkan pool hands out.
	PoolMaxSets uint32 `toml:"pool_max_sets"`
	// UnboundedArraySize replaces the count of runtime-sized descriptor arrays.
	UnboundedArraySize uint32 `toml:"unbounded_array_size"`
}

type RegisterShift struct {
	B uint32 `toml:"b"`
	T uint32 `toml:"t"`
	S uint32 `toml:"s"`
	U uint32 `toml:"u"`
}

type ShaderConfig struct {
	SourceDir   string        `toml:"source_dir"`
	OutputDir   string        `toml:"output_dir"`
	Watch       bool          `toml:"watch"`
	DXC         string        `toml:"dxc"`
	Glslc       string        `toml:"glslc"`
	ShaderModel string        `toml:"shader_model"`
	VulkanShift RegisterShift `toml:"vulkan_shift"`
}

type RayTracingConfig struct {
	MaxRecursionDepth uint32 `toml:"max_recursion_depth"`
	MaxPayloadSize    uint32 `toml:"max_payload_size"`
	MaxAttributeSize  uint32 `toml:"max_attribute_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: BackendVulkan,
		Application: ApplicationConfig{
			Name:   "Anima RHI",
			Width:  1280,
			Height: 720,
		},
		Log:   LogConfig{Level: core.DebugLevel},
		Debug: DebugConfig{Validation: true, ObjectNames: true},
		Frames: FramesConfig{
			InFlight: 2,
		},
		Descriptors: DescriptorConfig{
			HeapCapacity:        500,
			SamplerHeapCapacity: 500,
			PoolQuota:           100,
			PoolMaxSets:         100,
			UnboundedArraySize:  64,
		},
		Shaders: ShaderConfig{
			SourceDir:   "assets/shaders",
			OutputDir:   "assets/shaders/bin",
			DXC:         "dxc",
			Glslc:       "glslc",
			ShaderModel: "6_5",
			VulkanShift: RegisterShift{B: 0, T: 1000, S: 2000, U: 3000},
		},
		RayTracing: RayTracingConfig{
			MaxRecursionDepth: 1,
			MaxPayloadSize:    32,
			MaxAttributeSize:  8,
		},
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendVulkan, BackendD3D12:
	default:
		return fmt.Errorf("%w: unknown backend %q", core.ErrInvalidConfig, c.Backend)
	}
	if !c.Log.Level.Valid() {
		return fmt.Errorf("%w: unknown log level %q", core.ErrInvalidConfig, c.Log.Level)
	}
	if c.Frames.InFlight < 1 {
		return fmt.Errorf("%w: frames.in_flight must be at least 1", core.ErrInvalidConfig)
	}
	d := c.Descriptors
	if d.HeapCapacity == 0 || d.SamplerHeapCapacity == 0 || d.PoolQuota == 0 || d.PoolMaxSets == 0 {
		return fmt.Errorf("%w: descriptor capacities must be non-zero", core.ErrInvalidConfig)
	}
	if d.UnboundedArraySize == 0 {
		return fmt.Errorf("%w: descriptors.unbounded_array_size must be non-zero", core.ErrInvalidConfig)
	}
	return nil
}
