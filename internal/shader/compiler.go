// Package shader turns kernel configurations into SPIR-V modules: runtime
// WGSL compilation through naga for recompile kernels, and binary loading
// for precompiled ones.
package shader

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"
	"go.uber.org/zap"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/metrics"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// spirvMagic is the first word of every valid SPIR-V module.
const spirvMagic = 0x07230203

// Compiler resolves kernel configurations to SPIR-V words.
type Compiler struct {
	log *zap.Logger
}

// NewCompiler creates a compiler. log may be nil.
func NewCompiler(log *zap.Logger) *Compiler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{log: log.Named("shader")}
}

// Compile produces the SPIR-V module for cfg. Recompile kernels in WGSL are
// compiled from SourcePath targeting the SPIR-V version derived from
// TypeVersion, and the result is cached to BinaryPath. Non-recompile kernels
// and recompile SPIR-V kernels load BinaryPath directly; recompile requests
// for any other format return ErrShaderVersionNotSupported.
func (c *Compiler) Compile(cfg config.KernelConfig) ([]uint32, error) {
	if !cfg.Recompile {
		return c.loadBinary(cfg.BinaryPath)
	}

	switch cfg.Format {
	case types.WGSL:
		return c.compileWGSL(cfg)
	case types.SPIRV:
		return c.loadBinary(cfg.BinaryPath)
	case types.GLSL, types.HLSL:
		// No runtime frontend for these; they must ship precompiled.
		return nil, fmt.Errorf("runtime %v compilation: %w", cfg.Format, types.ErrShaderVersionNotSupported)
	default:
		return nil, fmt.Errorf("kernel format %v: %w", cfg.Format, types.ErrShaderVersionNotSupported)
	}
}

func (c *Compiler) compileWGSL(cfg config.KernelConfig) ([]uint32, error) {
	version, err := spirvVersionFor(cfg.TypeVersion)
	if err != nil {
		return nil, err
	}

	source, err := os.ReadFile(cfg.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", cfg.SourcePath, types.ErrCouldNotCompileShader)
	}

	start := time.Now()
	blob, err := naga.CompileWithOptions(string(source), naga.CompileOptions{
		SPIRVVersion: version,
		Validate:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("compile %s: %v: %w", cfg.SourcePath, err, types.ErrCouldNotCompileShader)
	}
	metrics.ShaderCompileDuration.Observe(float64(time.Since(start).Microseconds()) / 1000.0)

	words, err := wordsFromBytes(blob)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", cfg.SourcePath, err)
	}

	// Cache the compiled module next to the other binaries. Best effort:
	// a read-only resource tree must not fail the launch.
	if cacheErr := c.writeBinary(cfg.BinaryPath, blob); cacheErr != nil {
		c.log.Warn("could not cache compiled shader",
			zap.String("path", cfg.BinaryPath), zap.Error(cacheErr))
	}

	c.log.Debug("compiled kernel",
		zap.String("kernel", cfg.Name),
		zap.Stringer("target", cfg.TypeVersion),
		zap.Int("words", len(words)))
	return words, nil
}

func (c *Compiler) loadBinary(path string) ([]uint32, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, types.ErrCouldNotCompileShader)
	}
	words, err := wordsFromBytes(blob)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return words, nil
}

func (c *Compiler) writeBinary(path string, blob []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o644)
}

// spirvVersionFor maps a kernel type version {0,1,minor,0} to the SPIR-V
// version naga targets.
func spirvVersionFor(v types.Version) (spirv.Version, error) {
	if v.Variant != 0 || v.Major != 1 || v.Minor > 6 {
		return spirv.Version{}, fmt.Errorf("kernel type version %v: %w", v, types.ErrShaderVersionNotSupported)
	}
	return spirv.Version{Major: 1, Minor: uint8(v.Minor)}, nil
}

// wordsFromBytes reinterprets a little-endian SPIR-V blob as words and
// validates the module magic.
func wordsFromBytes(blob []byte) ([]uint32, error) {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil, fmt.Errorf("%d bytes is not a word sequence: %w", len(blob), types.ErrCouldNotCompileShader)
	}
	words := make([]uint32, len(blob)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(blob[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("bad module magic %#x: %w", words[0], types.ErrCouldNotCompileShader)
	}
	return words, nil
}
