package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/arsalan-anwari/tether-io/internal/device/cpunative"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// fixtureResourceDir lays out the minimal resource tree the sandbox loads.
// The CPU-native driver resolves kernels by name, so no shader sources are
// needed.
func fixtureResourceDir(t *testing.T) string {
	t.Helper()

	resourceDir := t.TempDir()
	kernelDir := filepath.Join(resourceDir, "kernels", "vk")
	require.NoError(t, os.MkdirAll(kernelDir, 0o755))

	settings := `{"kernel_type": "vulkan_compute_shader", "kernel_format_out": "spirv"}`
	require.NoError(t, os.WriteFile(filepath.Join(resourceDir, "settings.json"), []byte(settings), 0o644))

	index := `{
  "compute": [
    {"name": "binmatmul", "recompile": true, "format": "wgsl",
     "version": [0,1,1,0], "param_size_bytes": 16, "file": "binmatmul.comp.wgsl"},
    {"name": "fill", "recompile": true, "format": "wgsl",
     "version": [0,1,1,0], "param_size_bytes": 8, "file": "fill.comp.wgsl"},
    {"name": "multiply", "recompile": true, "format": "wgsl",
     "version": [0,1,1,0], "param_size_bytes": 8, "file": "multiply.comp.wgsl"}
  ]
}`
	require.NoError(t, os.WriteFile(filepath.Join(kernelDir, "index.json"), []byte(index), 0o644))
	return resourceDir
}

func TestRunSmall(t *testing.T) {
	// E1: M=N=8, K=64, seeds 123/321, pm_one.
	s := New(types.CPUNative, fixtureResourceDir(t), nil)

	res, err := s.Run(Case{Domain: types.PMOne, M: 8, N: 8, KBits: 64, SeedA: 123, SeedB: 321})
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, uint64(64), res.Total)
	assert.Zero(t, res.Mismatches)
	assert.Zero(t, res.MaxAbsErr)
}

func TestRunLarge(t *testing.T) {
	// E2: M=N=256, K=64, seeds 123/321, pm_one.
	s := New(types.CPUNative, fixtureResourceDir(t), nil)

	res, err := s.Run(Case{Domain: types.PMOne, M: 256, N: 256, KBits: 64, SeedA: 123, SeedB: 321})
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, uint64(65536), res.Total)
}

func TestRunTailMaskBoundaries(t *testing.T) {
	s := New(types.CPUNative, fixtureResourceDir(t), nil)

	for _, kBits := range []uint32{1, 31, 32, 33, 63, 64} {
		res, err := s.Run(Case{Domain: types.PMOne, M: 16, N: 16, KBits: kBits, SeedA: 123, SeedB: 321})
		require.NoError(t, err, "kBits=%d", kBits)
		assert.True(t, res.Ok(), "kBits=%d: %+v", kBits, res)
	}
}

func TestRunAllDomains(t *testing.T) {
	s := New(types.CPUNative, fixtureResourceDir(t), nil)

	for _, domain := range []types.DataDomain{types.PMOne, types.ZeroOne, types.FullRange, types.Trinary} {
		res, err := s.Run(Case{Domain: domain, M: 16, N: 16, KBits: 48})
		require.NoError(t, err, "domain=%v", domain)
		assert.True(t, res.Ok(), "domain=%v: %+v", domain, res)
	}
}

func TestRunNonSquareAndOddTiles(t *testing.T) {
	s := New(types.CPUNative, fixtureResourceDir(t), nil)

	// Dimensions not divisible by the preferred tile.
	res, err := s.Run(Case{Domain: types.PMOne, M: 20, N: 12, KBits: 33, SeedA: 9, SeedB: 10})
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, uint64(240), res.Total)
}

func TestRunZeroDimension(t *testing.T) {
	s := New(types.CPUNative, fixtureResourceDir(t), nil)

	_, err := s.Run(Case{Domain: types.PMOne, M: 0, N: 8, KBits: 8})
	assert.Error(t, err)
}

func TestRunSweep(t *testing.T) {
	s := New(types.CPUNative, fixtureResourceDir(t), nil)

	cases := []Case{
		{Domain: types.PMOne, M: 8, N: 8, KBits: 16, SeedA: 123, SeedB: 321},
		{Domain: types.PMOne, M: 24, N: 24, KBits: 48, SeedA: 123, SeedB: 321},
		{Domain: types.Trinary, M: 8, N: 8, KBits: 32},
	}
	failed, err := s.RunSweep(cases)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestGridCases(t *testing.T) {
	cases := GridCases(types.PMOne, 123, 321)
	// 32 square sizes x 4 kBits values.
	assert.Len(t, cases, 128)
	assert.Equal(t, uint32(8), cases[0].M)
	assert.Equal(t, uint32(16), cases[0].KBits)
	last := cases[len(cases)-1]
	assert.Equal(t, uint32(256), last.M)
	assert.Equal(t, uint32(64), last.KBits)
}

func TestCaseLabel(t *testing.T) {
	c := Case{Domain: types.PMOne, M: 8, N: 16, KBits: 32}
	assert.Equal(t, "pm_one_8x16_32bit", c.Label())
}
