// Command bundlectl inspects, scores and serves DiaCheck model bundles.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/diacheck/diacheck/engine/features"
	"github.com/diacheck/diacheck/engine/model"
	"github.com/diacheck/diacheck/pkg/logging"
)

var version = "dev"

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

const (
	flagFormat    = "format"
	flagDebug     = "debug"
	flagVariant   = "variant"
	flagOverrides = "overrides"
	flagORT       = "ort-lib"
	flagNATSURL   = "nats-url"
	flagSubject   = "subject"
)

// Flags are built per command tree; urfave/cli keeps parse state on them.

func variantFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagVariant,
		Usage:   "feature variant (default: the bundle's, else " + features.DefaultVariant + ")",
		Sources: cli.EnvVars("MODEL_VARIANT"),
	}
}

func overridesFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagOverrides,
		Usage:   "YAML file overriding default and assumed feature values",
		Sources: cli.EnvVars("FEATURE_OVERRIDES"),
	}
}

func ortFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagORT,
		Usage:   "ONNX Runtime shared library for onnx bundles",
		Sources: cli.EnvVars("ORT_LIB_PATH"),
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bundlectl:", err)
		os.Exit(1)
	}
}

func newApp(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "bundlectl",
		Usage:   "inspect, score and serve DiaCheck model bundles",
		Version: version,
		Writer:  w,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagFormat,
				Usage: "output format [yaml, json]",
				Value: formatYAML,
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "verbose logs on stderr",
			},
		},
		Commands: []*cli.Command{
			inspectCmd(),
			schemaCmd(),
			scoreCmd(),
			serveCmd(),
			reloadCmd(),
			watchCmd(),
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := "warn"
			if cmd.Bool(flagDebug) {
				level = "debug"
			}
			slog.SetDefault(logging.New(logging.Config{Level: level, Format: "text"}, os.Stderr))
			return ctx, nil
		},
	}
}

// render writes v in the format selected on the root command.
func render(cmd *cli.Command, v any) error {
	w := cmd.Root().Writer
	switch cmd.Root().String(flagFormat) {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML, "yml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", cmd.Root().String(flagFormat))
	}
}

func loadOptions(cmd *cli.Command) []model.Option {
	if lib := cmd.String(flagORT); lib != "" {
		return []model.Option{model.WithONNXRuntime(lib)}
	}
	return nil
}

func bundleArg(cmd *cli.Command) (string, error) {
	path := cmd.Args().First()
	if path == "" {
		return "", fmt.Errorf("%s: bundle path is required", cmd.Name)
	}
	return path, nil
}
