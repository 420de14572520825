package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"fraudscore/internal/cfg"
	"fraudscore/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"

	out          io.Writer = os.Stdout
	outputFormat           = formatJSON

	settings cfg.Settings
	store    *storage.Store

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs",
	}

	dataPathFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "Directory holding the artifact database",
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("fatal error")
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "fraudctl",
		Version: version,
		Usage:   "Fit, inspect and query fraud scoring models",
		Flags: []cli.Flag{
			debugFlag,
			dataPathFlag,
			formatFlag,
		},
		Commands: []*cli.Command{
			generateCmd,
			fitCmd,
			scoreCmd,
			modelsCmd,
			auditCmd,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			s, err := cfg.Load()
			if err != nil {
				return ctx, err
			}
			settings = s

			zerolog.SetGlobalLevel(settings.Level())
			if cmd.Bool(debugFlag.Name) {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			outputFormat = formatJSON
			if f := cmd.String(formatFlag.Name); f == formatYAML || f == "yml" {
				outputFormat = formatYAML
			}
			if p := cmd.String(dataPathFlag.Name); p != "" {
				settings.DataPath = p
			}
			return ctx, nil
		},
		After: func(ctx context.Context, cmd *cli.Command) error {
			if store != nil {
				err := store.Close()
				store = nil
				return err
			}
			return nil
		},
	}
}

// openStore opens the artifact database once per invocation.
func openStore() (*storage.Store, error) {
	if store != nil {
		return store, nil
	}
	if err := os.MkdirAll(settings.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating data path: %w", err)
	}
	s, err := storage.New(settings.DataPath)
	if err != nil {
		return nil, fmt.Errorf("opening artifact database: %w", err)
	}
	store = s
	return store, nil
}

func encode(v any) error {
	if outputFormat == formatYAML {
		return yaml.NewEncoder(out).Encode(v)
	}
	e := json.NewEncoder(out)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
