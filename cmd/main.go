package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"detect-features/config"
	"detect-features/internal/container"
	"detect-features/internal/domain/entity"
	"detect-features/internal/logging"
)

const (
	flagParam    = "param"
	flagEnvFile  = "env-file"
	flagLogLevel = "log-level"
)

func main() {
	app := &cli.App{
		Name:  "detect-features",
		Usage: "находит особые точки на кадрах из топика и публикует кадры с разметкой",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    flagParam,
				Aliases: []string{"p"},
				Usage:   "переопределить параметр: -p detector_type:=SIFT",
			},
			&cli.StringSliceFlag{
				Name:  flagEnvFile,
				Usage: "файл с переменными окружения",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "уровень логирования (debug, info, warn, error)",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "detectors",
				Usage: "список поддерживаемых детекторов",
				Action: func(c *cli.Context) error {
					for _, t := range entity.DetectorTypes() {
						fmt.Fprintln(c.App.Writer, t)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("detect-features: %v", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.StringSlice(flagEnvFile)...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyParams(c.StringSlice(flagParam)); err != nil {
		return err
	}
	if level := c.String(flagLogLevel); level != "" {
		cfg.LogLevel = level
	}

	logger, err := logging.New("detect_features", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(cfg, logger)
	if err != nil {
		return err
	}

	logger.Infow("node is running",
		"detector", cfg.DetectorType,
		"input", cfg.InputTopic,
		"output", cfg.OutputTopic,
		"transport", cfg.Transport,
	)

	err = appContainer.Run(ctx)
	logger.Info("shutting down")
	return multierr.Append(err, appContainer.Close())
}
