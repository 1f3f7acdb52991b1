package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/meikuraledutech/procgraph"
	"github.com/meikuraledutech/procgraph/diagram"
	"github.com/meikuraledutech/procgraph/events"
	"github.com/meikuraledutech/procgraph/importer"
	"github.com/meikuraledutech/procgraph/logging"
	"github.com/meikuraledutech/procgraph/metrics"
	"github.com/meikuraledutech/procgraph/server"
	"github.com/meikuraledutech/procgraph/telemetry"
)

const (
	defaultPort    = 8080
	defaultLockTTL = 5 * time.Second
	serviceName    = "procgraph"
)

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  "procgraph",
		Usage:                 "Edit versioned process graphs with operation batches",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Store URL (postgres://, redis://, sqlite://<path>, memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Revision event bus (none, gochannel, kafka)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.DurationFlag{
				Name:    "lock-ttl",
				Usage:   "Expiry of the per-version write lock (redis only, 0 disables)",
				Value:   defaultLockTTL,
				Sources: cli.EnvVars("LOCK_TTL"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			importCommand(),
			applyCommand(),
			showCommand(),
			watchCommand(),
		},
	}
}

// runtime holds everything a command needs to drive the engine.
type runtime struct {
	logger  *slog.Logger
	engine  *procgraph.Engine
	closers []func(context.Context) error
}

func setup(ctx context.Context, command *cli.Command, extra ...procgraph.Option) (*runtime, error) {
	logging.Setup(command.String("log-level"))
	logger := logging.WithModule("cli")

	rt := &runtime{logger: logger}

	if command.Bool("otel") {
		tp, err := telemetry.NewTracerProvider(ctx, serviceName)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, tp.Shutdown)
	}

	b, err := openBackend(ctx, logger, command.String("database-url"))
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return b.close() })

	eb, err := openBus(ctx, logger, command.String("event-bus"), command.StringSlice("kafka-brokers"))
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return eb.close() })

	opts := append(b.engineOptions(command.Duration("lock-ttl")), eb.engineOptions()...)
	opts = append(opts, procgraph.WithLogger(logger))
	opts = append(opts, extra...)
	rt.engine = procgraph.New(b.store, opts...)

	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.ErrorContext(ctx, "failed to release resource", "error", err)
		}
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := setup(ctx, command, procgraph.WithObserver(metrics.New(prometheus.DefaultRegisterer)))
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			rt.logger.InfoContext(ctx, "starting api", "port", command.Int("port"))

			api := server.NewAPI(rt.engine, rt.logger, server.WithMetricsHandler(promhttp.Handler()))
			return api.Start(ctx, command.Int("port"))
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Create a process version from a YAML definition",
		ArgsUsage: "<file.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "actor",
				Usage: "Actor recorded on the revision",
				Value: "importer",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("import: definition file is required")
			}

			def, err := importer.LoadFile(path)
			if err != nil {
				return err
			}

			rt, err := setup(ctx, command)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			result, err := importer.Import(ctx, rt.engine, def, command.String("actor"))
			if err != nil {
				return err
			}

			return writeJSON(command.Root().Writer, result)
		},
	}
}

func versionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "process",
			Usage:    "Process id",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "version",
			Usage: "Version number",
			Value: 1,
		},
	}
}

func applyCommand() *cli.Command {
	flags := append(versionFlags(),
		&cli.IntFlag{
			Name:     "expected-revision",
			Usage:    "Revision the operations were made against",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "ops",
			Usage: "File holding a JSON array of operations, - for stdin",
			Value: "-",
		},
		&cli.StringFlag{
			Name:  "actor",
			Usage: "Actor recorded on the revision",
		},
	)

	return &cli.Command{
		Name:  "apply",
		Usage: "Apply an operation batch to a process version",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			ops, err := readOps(command.String("ops"), command.Root().Reader)
			if err != nil {
				return err
			}

			rt, err := setup(ctx, command)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			result, err := rt.engine.ApplyOps(ctx, procgraph.ApplyRequest{
				ProcessID:        command.String("process"),
				Version:          command.Int("version"),
				Ops:              ops,
				ExpectedRevision: int64(command.Int("expected-revision")),
				ActorID:          command.String("actor"),
			})
			if err != nil {
				return err
			}

			return writeJSON(command.Root().Writer, result)
		},
	}
}

func showCommand() *cli.Command {
	flags := append(versionFlags(),
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format (json, mermaid)",
			Value: "json",
		},
	)

	return &cli.Command{
		Name:  "show",
		Usage: "Print a stored process version",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := setup(ctx, command)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			v, err := rt.engine.Get(ctx, procgraph.VersionKey{
				ProcessID: command.String("process"),
				Version:   command.Int("version"),
			})
			if err != nil {
				return err
			}

			w := command.Root().Writer
			switch command.String("format") {
			case "json":
				return writeJSON(w, v)
			case "mermaid":
				_, err := io.WriteString(w, diagram.Mermaid(v.Model, v.Layout))
				return err
			default:
				return fmt.Errorf("unknown format %q", command.String("format"))
			}
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Log committed revisions from Kafka until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "group",
				Usage: "Consumer group name",
				Value: "procgraph-watch",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logging.Setup(command.String("log-level"))
			logger := logging.WithModule("watch")

			sub, err := events.NewKafkaSubscriber(command.StringSlice("kafka-brokers"), command.String("group"), logger)
			if err != nil {
				return err
			}
			defer sub.Close()

			err = events.Listen(ctx, sub, logger, func(ctx context.Context, ev procgraph.RevisionEvent) error {
				return writeJSON(command.Root().Writer, ev)
			})
			if err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
}

func readOps(path string, stdin io.Reader) ([]procgraph.Operation, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open ops: %w", err)
		}
		defer f.Close()
		r = f
	}

	var ops []procgraph.Operation
	if err := json.NewDecoder(r).Decode(&ops); err != nil {
		return nil, fmt.Errorf("decode ops: %w", err)
	}
	return ops, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
