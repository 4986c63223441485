// Package config loads the application settings document and the kernel
// index document into an ApplicationConfig mapping kernel names to their
// source, binary and dispatch parameters.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arsalan-anwari/tether-io/internal/types"
)

// KernelConfig describes one registered compute kernel.
type KernelConfig struct {
	Name           string
	Recompile      bool
	Type           types.KernelType
	Format         types.KernelFormat
	TypeVersion    types.Version
	ParamSizeBytes uintptr
	SourcePath     string
	BinaryPath     string
}

// ApplicationConfig is the loaded view of settings.json plus the kernel index.
type ApplicationConfig struct {
	ResourceDir     string
	KernelDir       string
	KernelBinFormat types.KernelFormat
	Kernels         map[string]KernelConfig
}

// Kernel resolves a kernel configuration by name.
func (c *ApplicationConfig) Kernel(name string) (KernelConfig, error) {
	k, ok := c.Kernels[name]
	if !ok {
		return KernelConfig{}, fmt.Errorf("kernel %q: %w", name, types.ErrNotAvailable)
	}
	return k, nil
}

type settingsDoc struct {
	KernelType      *string `json:"kernel_type"`
	KernelFormatOut *string `json:"kernel_format_out"`
}

type kernelEntry struct {
	Name           *string    `json:"name"`
	Recompile      *bool      `json:"recompile"`
	Version        *[4]uint32 `json:"version"`
	ParamSizeBytes *uintptr   `json:"param_size_bytes"`
	Format         *string    `json:"format"`
	File           *string    `json:"file"`
}

type indexDoc struct {
	Compute *[]kernelEntry `json:"compute"`
}

// subdirForKernelType maps a kernel type to its directory under kernels/.
func subdirForKernelType(t types.KernelType) string {
	switch t {
	case types.VulkanComputeShader:
		return "vk"
	default:
		return ""
	}
}

// binFormatForKernelType maps a kernel type to its compiled binary format.
func binFormatForKernelType(t types.KernelType) types.KernelFormat {
	switch t {
	case types.VulkanComputeShader:
		return types.SPIRV
	default:
		return types.SPIRV
	}
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, types.ErrFileNotFound)
		}
		return fmt.Errorf("%s: %w", path, types.ErrCouldNotParseFile)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w", path, types.ErrInvalidFormat)
	}
	return nil
}

// Load reads the settings document at settingsPath and the kernel index under
// resourceDir, producing the application configuration. Malformed JSON maps
// to ErrInvalidFormat, absent required keys to ErrKeyNotFound and unknown
// enum names to ErrInvalidValueType.
func Load(settingsPath, resourceDir string) (*ApplicationConfig, error) {
	var settings settingsDoc
	if err := readJSONFile(settingsPath, &settings); err != nil {
		return nil, err
	}
	if settings.KernelType == nil || settings.KernelFormatOut == nil {
		return nil, fmt.Errorf("settings: %w", types.ErrKeyNotFound)
	}

	kernelType, err := types.ParseKernelType(*settings.KernelType)
	if err != nil {
		return nil, err
	}
	// kernel_format_out must name a known format even though the binary
	// format ultimately follows the kernel type.
	if _, err := types.ParseKernelFormat(*settings.KernelFormatOut); err != nil {
		return nil, err
	}

	cfg := &ApplicationConfig{
		ResourceDir:     resourceDir,
		KernelDir:       filepath.Join(resourceDir, "kernels", subdirForKernelType(kernelType)),
		KernelBinFormat: binFormatForKernelType(kernelType),
		Kernels:         make(map[string]KernelConfig),
	}

	var index indexDoc
	if err := readJSONFile(filepath.Join(cfg.KernelDir, "index.json"), &index); err != nil {
		return nil, err
	}
	if index.Compute == nil {
		return nil, fmt.Errorf("kernel index: %w", types.ErrKeyNotFound)
	}

	for _, entry := range *index.Compute {
		if entry.Name == nil || entry.Recompile == nil || entry.Version == nil ||
			entry.ParamSizeBytes == nil || entry.Format == nil || entry.File == nil {
			return nil, fmt.Errorf("kernel index entry: %w", types.ErrKeyNotFound)
		}

		format, err := types.ParseKernelFormat(*entry.Format)
		if err != nil {
			return nil, err
		}

		v := *entry.Version
		krnl := KernelConfig{
			Name:           *entry.Name,
			Recompile:      *entry.Recompile,
			Type:           kernelType,
			Format:         format,
			TypeVersion:    types.Version{Variant: v[0], Major: v[1], Minor: v[2], Patch: v[3]},
			ParamSizeBytes: *entry.ParamSizeBytes,
			SourcePath:     filepath.Join(cfg.KernelDir, *entry.File),
			BinaryPath:     filepath.Join(cfg.KernelDir, "bin", *entry.Name+cfg.KernelBinFormat.FileExt()),
		}
		cfg.Kernels[krnl.Name] = krnl
	}

	return cfg, nil
}
