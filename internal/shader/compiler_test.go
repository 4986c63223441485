package shader

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/naga/spirv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// A minimal compute kernel that exercises the whole WGSL pipeline.
const testKernel = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(8, 1, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    data[gid.x] = gid.x;
}
`

func wgslConfig(t *testing.T, recompile bool) config.KernelConfig {
	t.Helper()
	dir := t.TempDir()

	srcPath := filepath.Join(dir, "noop.comp.wgsl")
	require.NoError(t, os.WriteFile(srcPath, []byte(testKernel), 0o644))

	return config.KernelConfig{
		Name:           "noop",
		Recompile:      recompile,
		Type:           types.VulkanComputeShader,
		Format:         types.WGSL,
		TypeVersion:    types.Version{Variant: 0, Major: 1, Minor: 3, Patch: 0},
		ParamSizeBytes: 0,
		SourcePath:     srcPath,
		BinaryPath:     filepath.Join(dir, "bin", "noop.spv"),
	}
}

func TestCompileWGSL(t *testing.T) {
	cfg := wgslConfig(t, true)
	c := NewCompiler(nil)

	words, err := c.Compile(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, words)
	assert.Equal(t, uint32(spirvMagic), words[0])

	// The compiled module is cached for later non-recompile loads.
	cached, err := os.ReadFile(cfg.BinaryPath)
	require.NoError(t, err)
	assert.Equal(t, len(words)*4, len(cached))

	cfg.Recompile = false
	reloaded, err := c.Compile(cfg)
	require.NoError(t, err)
	assert.Equal(t, words, reloaded)
}

func TestCompileWGSLBadSource(t *testing.T) {
	cfg := wgslConfig(t, true)
	require.NoError(t, os.WriteFile(cfg.SourcePath, []byte("fn broken("), 0o644))

	_, err := NewCompiler(nil).Compile(cfg)
	assert.True(t, errors.Is(err, types.ErrCouldNotCompileShader))
}

func TestCompileMissingSource(t *testing.T) {
	cfg := wgslConfig(t, true)
	require.NoError(t, os.Remove(cfg.SourcePath))

	_, err := NewCompiler(nil).Compile(cfg)
	assert.True(t, errors.Is(err, types.ErrCouldNotCompileShader))
}

func TestCompileGLSLUnsupported(t *testing.T) {
	cfg := wgslConfig(t, true)
	cfg.Format = types.GLSL

	_, err := NewCompiler(nil).Compile(cfg)
	assert.True(t, errors.Is(err, types.ErrShaderVersionNotSupported))
}

func TestCompileUnsupportedTypeVersion(t *testing.T) {
	cfg := wgslConfig(t, true)
	cfg.TypeVersion = types.Version{Variant: 0, Major: 2, Minor: 0, Patch: 0}

	_, err := NewCompiler(nil).Compile(cfg)
	assert.True(t, errors.Is(err, types.ErrShaderVersionNotSupported))
}

func TestLoadBinaryRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "bad.spv")

	// Not a whole number of words.
	require.NoError(t, os.WriteFile(binPath, []byte{1, 2, 3}, 0o644))
	_, err := NewCompiler(nil).loadBinary(binPath)
	assert.True(t, errors.Is(err, types.ErrCouldNotCompileShader))

	// Wrong magic.
	blob := make([]byte, 8)
	binary.LittleEndian.PutUint32(blob, 0xdeadbeef)
	require.NoError(t, os.WriteFile(binPath, blob, 0o644))
	_, err = NewCompiler(nil).loadBinary(binPath)
	assert.True(t, errors.Is(err, types.ErrCouldNotCompileShader))

	// Missing file.
	_, err = NewCompiler(nil).loadBinary(filepath.Join(dir, "absent.spv"))
	assert.True(t, errors.Is(err, types.ErrCouldNotCompileShader))
}

func TestSPIRVVersionMapping(t *testing.T) {
	v, err := spirvVersionFor(types.Version{Variant: 0, Major: 1, Minor: 3, Patch: 0})
	require.NoError(t, err)
	assert.Equal(t, spirv.Version{Major: 1, Minor: 3}, v)

	_, err = spirvVersionFor(types.Version{Variant: 1, Major: 1, Minor: 3, Patch: 0})
	assert.True(t, errors.Is(err, types.ErrShaderVersionNotSupported))

	_, err = spirvVersionFor(types.Version{Variant: 0, Major: 1, Minor: 9, Patch: 0})
	assert.True(t, errors.Is(err, types.ErrShaderVersionNotSupported))
}
