package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/notion-clipper/internal/app"
	"github.com/florianilch/notion-clipper/internal/nativemsg"
)

func serveCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the message API over HTTP on the loopback interface",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (host:port)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runApp(ctx, cmd, environ, cmd.Root().Writer, func(ctx context.Context, _ *app.Config, a *app.App) error {
				slog.InfoContext(ctx, "starting")

				if err := a.Serve(ctx); err != nil {
					return fmt.Errorf("bridge failed: %w", err)
				}

				slog.InfoContext(ctx, "stopped gracefully")
				return nil
			})
		},
	}
}

// nativeCommand speaks the browser native messaging protocol on stdin and
// stdout. Logs go to stderr, which browsers forward to their own log.
func nativeCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:   "native",
		Usage:  "Run as a browser native messaging host",
		Hidden: true,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runApp(ctx, cmd, environ, os.Stderr, func(ctx context.Context, _ *app.Config, a *app.App) error {
				slog.DebugContext(ctx, "native messaging host started")

				err := nativemsg.Serve(ctx, os.Stdin, os.Stdout, a.Service())
				if err != nil && ctx.Err() == nil {
					return fmt.Errorf("native messaging: %w", err)
				}

				slog.DebugContext(ctx, "native messaging host stopped")
				return nil
			}, withStdoutReserved())
		},
	}
}
