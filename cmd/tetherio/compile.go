package main

import (
	"path/filepath"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/shader"
)

// compileCommand precompiles every recompile-enabled kernel so deployments
// can run with recompile: false and a populated bin/ directory.
func compileCommand(log **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "compile",
		Usage: "Precompile all recompile-enabled kernels into the bin directory",
		Action: func(c *cli.Context) error {
			resourceDir := c.String("resource-dir")
			cfg, err := config.Load(filepath.Join(resourceDir, "settings.json"), resourceDir)
			if err != nil {
				return err
			}

			compiler := shader.NewCompiler(*log)
			for name, krnl := range cfg.Kernels {
				if !krnl.Recompile {
					(*log).Info("skipping precompiled kernel", zap.String("kernel", name))
					continue
				}
				words, err := compiler.Compile(krnl)
				if err != nil {
					return err
				}
				(*log).Info("compiled kernel",
					zap.String("kernel", name),
					zap.String("binary", krnl.BinaryPath),
					zap.Int("words", len(words)))
			}
			return nil
		},
	}
}
