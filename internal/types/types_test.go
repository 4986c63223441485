package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCompare(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     Version
		expected int
	}{
		{"equal", Version{0, 1, 1, 0}, Version{0, 1, 1, 0}, 0},
		{"patch greater", Version{0, 1, 1, 1}, Version{0, 1, 1, 0}, 1},
		{"minor smaller", Version{0, 1, 0, 9}, Version{0, 1, 1, 0}, -1},
		{"variant dominates", Version{1, 0, 0, 0}, Version{0, 9, 9, 9}, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.a.Compare(tc.b))
			assert.Equal(t, -tc.expected, tc.b.Compare(tc.a))
		})
	}
}

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, Version{0, 1, 3, 0}.AtLeast(Version{0, 1, 1, 0}))
	assert.True(t, Version{0, 1, 1, 0}.AtLeast(Version{0, 1, 1, 0}))
	assert.False(t, Version{0, 1, 0, 0}.AtLeast(Version{0, 1, 1, 0}))
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "0.1.1.0", Version{0, 1, 1, 0}.String())
}

func TestParseKernelType(t *testing.T) {
	kt, err := ParseKernelType("vulkan_compute_shader")
	require.NoError(t, err)
	assert.Equal(t, VulkanComputeShader, kt)

	_, err = ParseKernelType("metal_compute_shader")
	assert.True(t, errors.Is(err, ErrInvalidValueType))
}

func TestParseKernelFormat(t *testing.T) {
	for name, expected := range map[string]KernelFormat{
		"glsl":  GLSL,
		"spirv": SPIRV,
		"hlsl":  HLSL,
		"wgsl":  WGSL,
	} {
		f, err := ParseKernelFormat(name)
		require.NoError(t, err)
		assert.Equal(t, expected, f)
		assert.Equal(t, name, f.String())
	}

	_, err := ParseKernelFormat("msl")
	assert.True(t, errors.Is(err, ErrInvalidValueType))
}

func TestKernelFormatFileExt(t *testing.T) {
	assert.Equal(t, ".spv", SPIRV.FileExt())
	assert.Equal(t, ".glsl", GLSL.FileExt())
	assert.Equal(t, ".hlsl", HLSL.FileExt())
	assert.Equal(t, ".wgsl", WGSL.FileExt())
}

func TestParseDataDomain(t *testing.T) {
	for _, d := range []DataDomain{PMOne, ZeroOne, FullRange, Trinary} {
		parsed, err := ParseDataDomain(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}

	_, err := ParseDataDomain("binary")
	assert.True(t, errors.Is(err, ErrInvalidValueType))
}

func TestParseDeviceDriver(t *testing.T) {
	d, err := ParseDeviceDriver("cpu_native")
	require.NoError(t, err)
	assert.Equal(t, CPUNative, d)

	d, err = ParseDeviceDriver("vulkan_native")
	require.NoError(t, err)
	assert.Equal(t, VulkanNative, d)

	_, err = ParseDeviceDriver("cuda_native")
	assert.Error(t, err)
}
