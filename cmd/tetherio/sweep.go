package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/sandbox"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// sweepParams carries the CLI selections into the fx graph.
type sweepParams struct {
	driver      types.DeviceDriver
	resourceDir string
	scenarios   string
	metricsAddr string
}

func sweepCommand(log **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run the sandbox scenario sweep, or the regression grid when no scenario file is given",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "driver", Value: "vulkan_native", Usage: "Device driver (vulkan_native, cpu_native)"},
			&cli.StringFlag{Name: "scenarios", Value: "", Usage: "Scenario file (sandbox.yaml); empty runs the pm_one grid"},
			&cli.StringFlag{Name: "metrics-listen", Value: "", Usage: "Expose prometheus metrics on this address while sweeping"},
		},
		Action: func(c *cli.Context) error {
			driver, err := types.ParseDeviceDriver(c.String("driver"))
			if err != nil {
				return err
			}
			params := sweepParams{
				driver:      driver,
				resourceDir: c.String("resource-dir"),
				scenarios:   c.String("scenarios"),
				metricsAddr: c.String("metrics-listen"),
			}

			app := fx.New(
				fx.NopLogger,
				fx.Supply(params),
				fx.Provide(
					func() *zap.Logger { return *log },
					newSweepCases,
					func(p sweepParams, l *zap.Logger) *sandbox.Sandbox {
						return sandbox.New(p.driver, p.resourceDir, l)
					},
				),
				fx.Invoke(runSweep),
			)
			return app.Err()
		},
	}
}

// newSweepCases resolves the case list: the scenario file when given, the
// standard pm_one regression grid otherwise.
func newSweepCases(p sweepParams) ([]sandbox.Case, error) {
	if p.scenarios == "" {
		return sandbox.GridCases(types.PMOne, 123, 321), nil
	}

	file, err := config.LoadScenarios(p.scenarios)
	if err != nil {
		return nil, err
	}

	cases := make([]sandbox.Case, 0, len(file.Scenarios))
	for _, sc := range file.Scenarios {
		domain, err := sc.DataDomain()
		if err != nil {
			return nil, err
		}
		cases = append(cases, sandbox.Case{
			Domain: domain,
			M:      sc.M,
			N:      sc.N,
			KBits:  sc.KBits,
			SeedA:  sc.SeedA,
			SeedB:  sc.SeedB,
		})
	}
	return cases, nil
}

func runSweep(p sweepParams, s *sandbox.Sandbox, cases []sandbox.Case, log *zap.Logger) error {
	if p.metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(p.metricsAddr, mux); err != nil {
				log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", p.metricsAddr))
	}

	failed, err := s.RunSweep(cases)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("sweep regression: %d of %d cases failed", failed, len(cases))
	}

	log.Info("sweep completed without error", zap.Int("cases", len(cases)))
	return nil
}
