package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/notion-clipper/internal/app"
	"github.com/florianilch/notion-clipper/internal/observability"
	"github.com/florianilch/notion-clipper/internal/service"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, version, commit string) error {
	return newRootCommand(version, commit, os.Environ).Run(ctx, nativeHostArgs(args))
}

func newRootCommand(version, commit string, environ func() []string) *cli.Command {
	return &cli.Command{
		Name:    "clipper",
		Usage:   "Save web pages to Notion databases",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (default: " + app.DefaultConfigPath() + ")",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: "text",
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "OpenTelemetry log exporter (none|otlp-http|otlp-grpc|stdout)",
				Value: "none",
			},
		},
		Commands: []*cli.Command{
			authCommand(environ),
			databasesCommand(environ),
			saveCommand(environ),
			statusCommand(environ),
			serveCommand(environ),
			nativeCommand(environ),
		},
	}
}

// nativeHostArgs routes a browser's native messaging launch to the native
// command. Chrome passes the caller origin and Firefox the manifest path.
func nativeHostArgs(args []string) []string {
	if len(args) < 2 {
		return args
	}
	first := args[1]
	if strings.HasPrefix(first, "chrome-extension://") || strings.HasSuffix(first, ".json") {
		return []string{args[0], "native"}
	}
	return args
}

// flagOverrides maps explicitly set flags to config keys.
var flagOverrides = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-exporter": "log.exporter",
	"addr":         "server.addr",
}

// loadConfig reads configuration, with explicitly set flags taking
// precedence over the file and environment.
func loadConfig(path string, cmd *cli.Command, environ func() []string) (*app.Config, error) {
	overrides := make(map[string]any)
	for flag, key := range flagOverrides {
		if cmd.IsSet(flag) {
			overrides[key] = cmd.String(flag)
		}
	}
	return app.LoadConfig(path, overrides, environ)
}

// instrument sets up logging for cfg and returns the flush function.
func instrument(ctx context.Context, cfg *app.Config, w io.Writer) (func(context.Context) error, error) {
	level, err := observability.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	shutdown, err := observability.Instrument(ctx, level, cfg.Log.Format,
		observability.WithOutput(w),
		observability.WithExporter(cfg.Log.Exporter),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}
	return shutdown, nil
}

type runOptions struct {
	appOpts        []app.Option
	stdoutReserved bool
}

type runOption func(*runOptions)

func withAppOptions(opts ...app.Option) runOption {
	return func(o *runOptions) { o.appOpts = append(o.appOpts, opts...) }
}

// withStdoutReserved marks stdout as carrying a protocol, so nothing else
// may write to it.
func withStdoutReserved() runOption {
	return func(o *runOptions) { o.stdoutReserved = true }
}

// runApp loads configuration, sets up logging to logOut, wires the
// application and runs fn with it.
func runApp(ctx context.Context, cmd *cli.Command, environ func() []string, logOut io.Writer,
	fn func(context.Context, *app.Config, *app.App) error, opts ...runOption,
) error {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := loadConfig(cmd.String("config"), cmd, environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.stdoutReserved && strings.EqualFold(cfg.Log.Exporter, "stdout") {
		return errors.New("the stdout log exporter cannot be used while stdout carries messages")
	}

	shutdown, err := instrument(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
		}
	}()

	application, err := app.New(ctx, cfg, o.appOpts...)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close app", "error", err)
		}
	}()

	return fn(ctx, cfg, application)
}

// handle sends one message through the service and prints the result as
// JSON. A failed result becomes the command's error.
func handle(ctx context.Context, cmd *cli.Command, a *app.App, typ service.Type, data any) (service.Result, error) {
	msg := service.Message{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return service.Result{}, fmt.Errorf("encoding %s request: %w", typ, err)
		}
		msg.Data = raw
	}

	res := a.Service().Handle(ctx, msg)
	if err := outputJSON(cmd.Root().Writer, res); err != nil {
		return res, err
	}
	if !res.Success {
		return res, fmt.Errorf("%s failed: %s (%s)", typ, res.Error, res.Code)
	}
	return res, nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show sign-in state, selected database and last save options",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runApp(ctx, cmd, environ, cmd.Root().ErrWriter, func(ctx context.Context, _ *app.Config, a *app.App) error {
				_, err := handle(ctx, cmd, a, service.TypeGetStatus, nil)
				return err
			})
		},
	}
}
