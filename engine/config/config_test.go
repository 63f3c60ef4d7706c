package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(500), cfg.Descriptors.HeapCapacity)
	assert.Equal(t, uint32(100), cfg.Descriptors.PoolQuota)
	assert.Equal(t, 2, cfg.Frames.InFlight)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
backend = "d3d12"

[log]
level = "warn"

[descriptors]
heap_capacity = 1024

[shaders.vulkan_shift]
t = 16
`))
	require.NoError(t, err)
	assert.Equal(t, BackendD3D12, cfg.Backend)
	assert.Equal(t, core.WarnLevel, cfg.Log.Level)
	assert.Equal(t, uint32(1024), cfg.Descriptors.HeapCapacity)
	// untouched keys keep their defaults
	assert.Equal(t, uint32(500), cfg.Descriptors.SamplerHeapCapacity)
	assert.Equal(t, uint32(16), cfg.Shaders.VulkanShift.T)
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"unknown backend": `backend = "metal"`,
		"unknown key":     `colour = "blue"`,
		"bad level":       "[log]\nlevel = \"loud\"",
		"zero frames":     "[frames]\nin_flight = 0",
		"zero quota":      "[descriptors]\npool_quota = 0",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "rhi.toml"))
	require.NoError(t, err)
	assert.Equal(t, BackendVulkan, cfg.Backend)
	assert.True(t, cfg.Shaders.Watch)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
