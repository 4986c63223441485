package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arsalan-anwari/tether-io/internal/types"
)

func writeResourceTree(t *testing.T, settings, index string) (settingsPath, resourceDir string) {
	t.Helper()

	resourceDir = t.TempDir()
	kernelDir := filepath.Join(resourceDir, "kernels", "vk")
	require.NoError(t, os.MkdirAll(kernelDir, 0o755))

	settingsPath = filepath.Join(resourceDir, "settings.json")
	require.NoError(t, os.WriteFile(settingsPath, []byte(settings), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(kernelDir, "index.json"), []byte(index), 0o644))
	return settingsPath, resourceDir
}

const validSettings = `{
  "kernel_type": "vulkan_compute_shader",
  "kernel_format_out": "spirv"
}`

const validIndex = `{
  "compute": [
    {
      "name": "binmatmul",
      "recompile": true,
      "format": "wgsl",
      "version": [0, 1, 1, 0],
      "param_size_bytes": 16,
      "file": "binmatmul.comp.wgsl"
    },
    {
      "name": "fill",
      "recompile": false,
      "format": "spirv",
      "version": [0, 1, 1, 0],
      "param_size_bytes": 8,
      "file": "fill.comp.wgsl"
    }
  ]
}`

func TestLoad(t *testing.T) {
	settingsPath, resourceDir := writeResourceTree(t, validSettings, validIndex)

	cfg, err := Load(settingsPath, resourceDir)
	require.NoError(t, err)

	assert.Equal(t, resourceDir, cfg.ResourceDir)
	assert.Equal(t, filepath.Join(resourceDir, "kernels", "vk"), cfg.KernelDir)
	assert.Equal(t, types.SPIRV, cfg.KernelBinFormat)
	assert.Len(t, cfg.Kernels, 2)

	krnl, err := cfg.Kernel("binmatmul")
	require.NoError(t, err)
	assert.True(t, krnl.Recompile)
	assert.Equal(t, types.WGSL, krnl.Format)
	assert.Equal(t, types.VulkanComputeShader, krnl.Type)
	assert.Equal(t, types.Version{Variant: 0, Major: 1, Minor: 1, Patch: 0}, krnl.TypeVersion)
	assert.Equal(t, uintptr(16), krnl.ParamSizeBytes)
	assert.Equal(t, filepath.Join(cfg.KernelDir, "binmatmul.comp.wgsl"), krnl.SourcePath)
	assert.Equal(t, filepath.Join(cfg.KernelDir, "bin", "binmatmul.spv"), krnl.BinaryPath)

	fill, err := cfg.Kernel("fill")
	require.NoError(t, err)
	assert.False(t, fill.Recompile)
	assert.Equal(t, uintptr(8), fill.ParamSizeBytes)
}

func TestLoadUnknownKernel(t *testing.T) {
	settingsPath, resourceDir := writeResourceTree(t, validSettings, validIndex)

	cfg, err := Load(settingsPath, resourceDir)
	require.NoError(t, err)

	_, err = cfg.Kernel("transpose")
	assert.True(t, errors.Is(err, types.ErrNotAvailable))
}

func TestLoadMalformedSettings(t *testing.T) {
	settingsPath, resourceDir := writeResourceTree(t, `{ not json`, validIndex)

	_, err := Load(settingsPath, resourceDir)
	assert.True(t, errors.Is(err, types.ErrInvalidFormat))
}

func TestLoadMissingSettingsKey(t *testing.T) {
	settingsPath, resourceDir := writeResourceTree(t, `{"kernel_type": "vulkan_compute_shader"}`, validIndex)

	_, err := Load(settingsPath, resourceDir)
	assert.True(t, errors.Is(err, types.ErrKeyNotFound))
}

func TestLoadUnknownKernelType(t *testing.T) {
	settingsPath, resourceDir := writeResourceTree(t,
		`{"kernel_type": "metal_compute_shader", "kernel_format_out": "spirv"}`, validIndex)

	_, err := Load(settingsPath, resourceDir)
	assert.True(t, errors.Is(err, types.ErrInvalidValueType))
}

func TestLoadUnknownKernelFormat(t *testing.T) {
	index := `{"compute": [{
      "name": "binmatmul", "recompile": true, "format": "msl",
      "version": [0,1,1,0], "param_size_bytes": 16, "file": "binmatmul.comp.wgsl"}]}`
	settingsPath, resourceDir := writeResourceTree(t, validSettings, index)

	_, err := Load(settingsPath, resourceDir)
	assert.True(t, errors.Is(err, types.ErrInvalidValueType))
}

func TestLoadMissingIndexKey(t *testing.T) {
	settingsPath, resourceDir := writeResourceTree(t, validSettings, `{"graphics": []}`)

	_, err := Load(settingsPath, resourceDir)
	assert.True(t, errors.Is(err, types.ErrKeyNotFound))
}

func TestLoadIncompleteKernelEntry(t *testing.T) {
	index := `{"compute": [{"name": "binmatmul", "recompile": true}]}`
	settingsPath, resourceDir := writeResourceTree(t, validSettings, index)

	_, err := Load(settingsPath, resourceDir)
	assert.True(t, errors.Is(err, types.ErrKeyNotFound))
}

func TestLoadMissingSettingsFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "settings.json"), t.TempDir())
	assert.True(t, errors.Is(err, types.ErrFileNotFound))
}

func TestLoadScenarios(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scenarios:
  - domain: pm_one
    m: 8
    n: 8
    kBits: 64
    seedA: 123
    seedB: 321
  - domain: trinary
    m: 16
    n: 16
    kBits: 32
`), 0o644))

	file, err := LoadScenarios(path)
	require.NoError(t, err)
	require.Len(t, file.Scenarios, 2)

	domain, err := file.Scenarios[0].DataDomain()
	require.NoError(t, err)
	assert.Equal(t, types.PMOne, domain)
	assert.Equal(t, uint32(64), file.Scenarios[0].KBits)

	domain, err = file.Scenarios[1].DataDomain()
	require.NoError(t, err)
	assert.Equal(t, types.Trinary, domain)
}

func TestLoadScenariosMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenarios: {not: [a, list"), 0o644))

	_, err := LoadScenarios(path)
	assert.True(t, errors.Is(err, types.ErrInvalidFormat))
}
