package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/arsalan-anwari/tether-io/internal/sandbox"
	"github.com/arsalan-anwari/tether-io/internal/types"

	// Linked drivers selectable through --driver.
	_ "github.com/arsalan-anwari/tether-io/internal/device/cpunative"
	_ "github.com/arsalan-anwari/tether-io/internal/device/vulkan"
)

func sandboxCommand(log **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "sandbox",
		Usage: "Run one CPU-vs-device correctness case",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "driver", Value: "vulkan_native", Usage: "Device driver (vulkan_native, cpu_native)"},
			&cli.StringFlag{Name: "domain", Value: "pm_one", Usage: "Data domain (pm_one, zero_one, full_range, trinary)"},
			&cli.UintFlag{Name: "m", Value: 256, Usage: "Rows of A and C"},
			&cli.UintFlag{Name: "n", Value: 256, Usage: "Columns of B and C"},
			&cli.UintFlag{Name: "kbits", Value: 64, Usage: "Contracted dimension in bits"},
			&cli.UintFlag{Name: "seed-a", Value: sandbox.DefaultSeedA, Usage: "Seed of matrix A"},
			&cli.UintFlag{Name: "seed-b", Value: sandbox.DefaultSeedB, Usage: "Seed of matrix B"},
		},
		Action: func(c *cli.Context) error {
			driver, err := types.ParseDeviceDriver(c.String("driver"))
			if err != nil {
				return err
			}
			domain, err := types.ParseDataDomain(c.String("domain"))
			if err != nil {
				return err
			}

			s := sandbox.New(driver, c.String("resource-dir"), *log)
			runCase := sandbox.Case{
				Domain: domain,
				M:      uint32(c.Uint("m")),
				N:      uint32(c.Uint("n")),
				KBits:  uint32(c.Uint("kbits")),
				SeedA:  uint32(c.Uint("seed-a")),
				SeedB:  uint32(c.Uint("seed-b")),
			}

			res, err := s.Run(runCase)
			if err != nil {
				return err
			}

			fmt.Printf("[binmatmul] %s mismatches=%d max_abs_err=%d total=%d\n",
				runCase.Label(), res.Mismatches, res.MaxAbsErr, res.Total)
			if !res.Ok() {
				return fmt.Errorf("mismatch detected: %d of %d elements", res.Mismatches, res.Total)
			}
			fmt.Println("SUCCESS: device matches CPU (1-bit GEMM)")
			return nil
		},
	}
}
