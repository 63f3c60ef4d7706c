package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newWatcher(t *testing.T, dir string) *ShaderWatcher {
	t.Helper()
	w, err := NewShaderWatcher(dir)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestIndexesExistingSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mesh.hlsl"), "")
	writeFile(t, filepath.Join(dir, "rt", "pathtrace.rgen"), "")
	writeFile(t, filepath.Join(dir, "common.hlsli"), "")
	writeFile(t, filepath.Join(dir, "readme.txt"), "")

	w := newWatcher(t, dir)
	sources := w.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, filepath.Join(dir, "mesh.hlsl"), sources[0].Path)
	assert.Equal(t, rhi.LanguageHLSL, sources[0].Language)
	assert.Equal(t, filepath.Join(dir, "rt", "pathtrace.rgen"), sources[1].Path)
	assert.Equal(t, rhi.LanguageGLSL, sources[1].Language)
	assert.Empty(t, w.Drain())
}

func TestEditedSourceIsDrained(t *testing.T) {
	dir := t.TempDir()
	mesh := filepath.Join(dir, "mesh.hlsl")
	writeFile(t, mesh, "")
	writeFile(t, filepath.Join(dir, "post.wgsl"), "")

	w := newWatcher(t, dir)
	writeFile(t, mesh, "float4 main() : SV_Target { return 1; }")

	var drained []string
	require.Eventually(t, func() bool {
		drained = append(drained, w.Drain()...)
		return len(drained) > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, mesh, drained[0])
	assert.Empty(t, w.Drain())
}

func TestEditedIncludeDirtiesEverySource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.hlsl"), "")
	writeFile(t, filepath.Join(dir, "b.hlsl"), "")
	include := filepath.Join(dir, "common.hlsli")
	writeFile(t, include, "")

	w := newWatcher(t, dir)
	writeFile(t, include, "#define PI 3.14159")

	require.Eventually(t, func() bool {
		return len(w.Drain()) == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewDirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t, dir)

	sub := filepath.Join(dir, "compute")
	require.NoError(t, os.Mkdir(sub, 0o755))
	cull := filepath.Join(sub, "cull.hlsl")

	// The directory watch is added asynchronously; keep touching the file
	// until an event for it arrives.
	require.Eventually(t, func() bool {
		writeFile(t, cull, "[numthreads(64,1,1)] void main() {}")
		for _, p := range w.Drain() {
			if p == cull {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRemovedSourceIsForgotten(t *testing.T) {
	dir := t.TempDir()
	mesh := filepath.Join(dir, "mesh.hlsl")
	writeFile(t, mesh, "")

	w := newWatcher(t, dir)
	require.Len(t, w.Sources(), 1)
	require.NoError(t, os.Remove(mesh))

	require.Eventually(t, func() bool {
		return len(w.Sources()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCloseTwice(t *testing.T) {
	w, err := NewShaderWatcher(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrWatcherClosed)
}
