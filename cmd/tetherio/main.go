package main

import (
	"fmt"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/arsalan-anwari/tether-io/internal/logger"
)

func main() {
	var rootLogger *zap.Logger

	app := &cli.App{
		Name:  "tetherio",
		Usage: "1-bit GEMM compute acceleration on Vulkan",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "resource-dir",
				Value: "resources",
				Usage: "Path to the resource tree (settings.json, kernels/)",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "no-banner",
				Usage: "Suppress the startup banner",
			},
		},
		Before: func(c *cli.Context) error {
			if !c.Bool("no-banner") {
				figure.NewFigure("tether-io", "", true).Print()
				fmt.Println("")
			}
			var err error
			rootLogger, err = logger.NewConsole(c.String("verbosity"))
			if err != nil {
				return err
			}
			return nil
		},
		Commands: []*cli.Command{
			sandboxCommand(&rootLogger),
			sweepCommand(&rootLogger),
			compileCommand(&rootLogger),
		},
	}

	if err := app.Run(os.Args); err != nil {
		if rootLogger != nil {
			rootLogger.Fatal("failed to run app", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}
