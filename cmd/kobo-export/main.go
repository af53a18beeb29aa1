// Command kobo-export downloads the asset metadata of a KoboToolbox project
// view and writes it as one flat table to an xlsx workbook.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/kobo-export/pkg/config"
	"github.com/Sternrassler/kobo-export/pkg/export"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

// Exit codes
const (
	exitOK          = 0
	exitUsage       = 1
	exitConfig      = 2
	exitEmptyResult = 3
	exitExport      = 4
)

var (
	// ErrNoRecords is returned when pagination produced no records at all.
	ErrNoRecords = errors.New("no records retrieved")

	// ErrExport wraps failures to write the workbook.
	ErrExport = errors.New("export failed")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCommand().Run(ctx, os.Args)
	stop()

	if err != nil {
		log.Error().Err(err).Msg("Export failed")
		os.Exit(exitCode(err))
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "kobo-export",
		Usage: "Export KoboToolbox project view assets to a spreadsheet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath,
				Usage:   "Path to the JSON or TOML config file",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output xlsx file (overrides OUTPUT_FILE)",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "API token (overrides KOBO_API_TOKEN from the config file)",
				Sources: cli.EnvVars("KOBO_API_TOKEN"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error (overrides LOG_LEVEL)",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Write logs as JSON lines instead of console output",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write Prometheus metrics to this file when done",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runExport(ctx, options{
				configPath:  c.String("config"),
				output:      c.String("output"),
				token:       c.String("token"),
				logLevel:    c.String("log-level"),
				logJSON:     c.Bool("log-json"),
				metricsFile: c.String("metrics-file"),
			})
		},
	}
}

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrConfigNotFound),
		errors.Is(err, config.ErrConfigInvalid),
		errors.Is(err, config.ErrMissingValue):
		return exitConfig
	case errors.Is(err, ErrNoRecords), errors.Is(err, export.ErrNoRecords):
		return exitEmptyResult
	case errors.Is(err, ErrExport):
		return exitExport
	default:
		return exitUsage
	}
}
