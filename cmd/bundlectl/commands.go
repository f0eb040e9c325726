package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"

	"github.com/diacheck/diacheck/engine/features"
	"github.com/diacheck/diacheck/engine/model"
	"github.com/diacheck/diacheck/engine/predict"
	"github.com/diacheck/diacheck/engine/survey"
	"github.com/diacheck/diacheck/pkg/natsutil"
)

// bundleInfo is the inspect output.
type bundleInfo struct {
	Source       string    `yaml:"source" json:"source"`
	Kind         string    `yaml:"kind" json:"kind"`
	Variant      string    `yaml:"variant" json:"variant"`
	Recorded     string    `yaml:"recorded_variant,omitempty" json:"recorded_variant,omitempty"`
	Features     int       `yaml:"features" json:"features"`
	FeatureNames []string  `yaml:"feature_names,omitempty" json:"feature_names,omitempty"`
	Classes      []string  `yaml:"classes" json:"classes"`
	Imputer      bool      `yaml:"imputer" json:"imputer"`
	Scaler       bool      `yaml:"scaler" json:"scaler"`
	LoadedAt     time.Time `yaml:"loaded_at" json:"loaded_at"`
	Check        string    `yaml:"check" json:"check"`
}

var errCheckFailed = errors.New("bundle does not match its variant")

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print bundle metadata and check it against its feature variant",
		ArgsUsage: "<bundle>",
		Flags:     []cli.Flag{variantFlag(), ortFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := bundleArg(cmd)
			if err != nil {
				return err
			}
			b, err := model.Load(path, loadOptions(cmd)...)
			if err != nil {
				return err
			}
			defer b.Close()

			v, err := predict.ResolveVariant(cmd.String(flagVariant), b, nil)
			if err != nil {
				return err
			}
			info := bundleInfo{
				Source:       b.Source,
				Kind:         b.Kind,
				Variant:      v.ID,
				Recorded:     b.Variant,
				Features:     b.NumFeatures(),
				FeatureNames: b.FeatureNames,
				Classes:      b.Classes,
				Imputer:      b.Imputer != nil,
				Scaler:       b.Scaler != nil,
				LoadedAt:     b.LoadedAt,
				Check:        "ok",
			}
			checkErr := predict.Validate(b, v)
			if checkErr != nil {
				info.Check = checkErr.Error()
			}
			if err := render(cmd, info); err != nil {
				return err
			}
			if checkErr != nil {
				return errCheckFailed
			}
			return nil
		},
	}
}

// variantTable is the schema output.
type variantTable struct {
	Variant     string              `yaml:"variant" json:"variant"`
	Classes     []string            `yaml:"classes" json:"classes"`
	Output      string              `yaml:"output" json:"output"`
	Threshold   float64             `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	BMIFallback float64             `yaml:"bmi_fallback" json:"bmi_fallback"`
	Aliases     map[string][]string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Features    []features.Feature  `yaml:"features" json:"features"`
}

func tableFor(v features.Variant) variantTable {
	out := "risk_sum"
	if v.Output == features.OutputBinary {
		out = "binary"
	}
	t := variantTable{
		Variant:     v.ID,
		Classes:     v.Classes,
		Output:      out,
		BMIFallback: v.BMIFallback,
		Features:    v.Features,
	}
	if v.Output == features.OutputBinary {
		t.Threshold = v.Threshold
	}
	for src, idx := range v.Aliases() {
		if t.Aliases == nil {
			t.Aliases = make(map[string][]string)
		}
		for _, i := range idx {
			t.Aliases[src] = append(t.Aliases[src], v.Features[i].Name)
		}
	}
	return t
}

func schemaCmd() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "print the feature table of a variant, in vector order",
		Flags: []cli.Flag{variantFlag(), overridesFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ov, err := features.LoadOverrides(cmd.String(flagOverrides))
			if err != nil {
				return err
			}
			v, err := predict.ResolveVariant(cmd.String(flagVariant), nil, ov)
			if err != nil {
				return err
			}
			return render(cmd, tableFor(v))
		},
	}
}

func scoreCmd() *cli.Command {
	return &cli.Command{
		Name:      "score",
		Usage:     "score one JSON survey offline with a bundle",
		ArgsUsage: "<bundle>",
		Flags: []cli.Flag{
			variantFlag(),
			overridesFlag(),
			ortFlag(),
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "survey JSON file, - for stdin",
				Value:   "-",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := bundleArg(cmd)
			if err != nil {
				return err
			}
			ov, err := features.LoadOverrides(cmd.String(flagOverrides))
			if err != nil {
				return err
			}
			body, err := readInput(cmd.String("input"), cmd.Root().Reader)
			if err != nil {
				return err
			}
			rec, err := survey.Parse(body)
			if err != nil {
				return fmt.Errorf("input: %w", err)
			}

			b, err := model.Load(path, loadOptions(cmd)...)
			if err != nil {
				return err
			}
			v, err := predict.ResolveVariant(cmd.String(flagVariant), b, ov)
			if err != nil {
				b.Close()
				return err
			}
			if err := predict.Validate(b, v); err != nil {
				b.Close()
				return err
			}

			h := model.NewHandle(nil, nil)
			h.SetCloseGrace(0)
			h.Set(b)
			defer h.Close()

			res, err := predict.New(h, v, nil, nil).PredictRecord(ctx, rec)
			if err != nil {
				return err
			}
			return render(cmd, res)
		},
	}
}

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" || name == "" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "serve a bundle to remote bundles over gRPC",
		ArgsUsage: "<bundle>",
		Flags: []cli.Flag{
			ortFlag(),
			&cli.StringFlag{
				Name:  "listen",
				Usage: "gRPC listen address",
				Value: ":50051",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := bundleArg(cmd)
			if err != nil {
				return err
			}
			b, err := model.Load(path, loadOptions(cmd)...)
			if err != nil {
				return err
			}
			defer b.Close()

			lis, err := net.Listen("tcp", cmd.String("listen"))
			if err != nil {
				return err
			}
			return serveBundle(ctx, lis, b)
		},
	}
}

// serveBundle serves b on lis until ctx ends.
func serveBundle(ctx context.Context, lis net.Listener, b *model.Bundle) error {
	srv := grpc.NewServer()
	srv.RegisterService(&model.ClassifierServiceDesc, &model.BundleServer{Bundle: b})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	}
}

func reloadCmd() *cli.Command {
	return &cli.Command{
		Name:  "reload",
		Usage: "ask running API servers to reload their bundle over NATS",
		Flags: []cli.Flag{
			natsURLFlag(),
			subjectFlag(),
			&cli.StringFlag{
				Name:  "reason",
				Usage: "free text recorded in the server log",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "how long to wait for a reply",
				Value: 10 * time.Second,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			nc, err := connectNATS(cmd)
			if err != nil {
				return err
			}
			defer nc.Close()

			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			reply, err := natsutil.Request[predict.ReloadCommand, natsutil.Reply[predict.ReloadEvent]](
				ctx, nc, cmd.String(flagSubject), predict.ReloadCommand{Reason: cmd.String("reason")})
			if err != nil {
				return err
			}
			if !reply.OK {
				return fmt.Errorf("reload failed: %s", reply.Error)
			}
			return render(cmd, reply.Data)
		},
	}
}

func natsURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagNATSURL,
		Usage:   "NATS server URL",
		Value:   nats.DefaultURL,
		Sources: cli.EnvVars("NATS_URL"),
	}
}

func subjectFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagSubject,
		Usage:   "reload command subject",
		Value:   "diacheck.model.reload",
		Sources: cli.EnvVars("NATS_RELOAD_SUBJECT"),
	}
}

func connectNATS(cmd *cli.Command) (*nats.Conn, error) {
	nc, err := nats.Connect(cmd.String(flagNATSURL), nats.Name("bundlectl"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "print reload events announced by API servers",
		Flags: []cli.Flag{
			natsURLFlag(),
			subjectFlag(),
			&cli.IntFlag{
				Name:  "count",
				Usage: "exit after this many events; 0 waits until interrupted",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			nc, err := connectNATS(cmd)
			if err != nil {
				return err
			}
			defer nc.Close()

			subject := cmd.String(flagSubject) + predict.DoneSuffix
			events := make(chan predict.ReloadEvent, 16)
			stopped := make(chan struct{})
			defer close(stopped)
			sub, err := natsutil.Subscribe(nc, subject, slog.Default(), func(_ context.Context, ev predict.ReloadEvent) {
				select {
				case events <- ev:
				case <-stopped:
				}
			})
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			defer sub.Unsubscribe()
			if err := nc.Flush(); err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			slog.Debug("watching reload events", "subject", subject)

			limit := cmd.Int("count")
			for n := 0; limit <= 0 || n < limit; n++ {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-events:
					if n > 0 && cmd.Root().String(flagFormat) != formatJSON {
						fmt.Fprintln(cmd.Root().Writer, "---")
					}
					if err := render(cmd, ev); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
