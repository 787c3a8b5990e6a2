package commands

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/notion-clipper/internal/app"
	"github.com/florianilch/notion-clipper/internal/service"
)

func databasesCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:    "databases",
		Aliases: []string{"db"},
		Usage:   "List and select the destination database",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List databases shared with the integration, most recently edited first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "filter by title"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runApp(ctx, cmd, environ, cmd.Root().ErrWriter, func(ctx context.Context, _ *app.Config, a *app.App) error {
						_, err := handle(ctx, cmd, a, service.TypeLoadDatabases, service.LoadDatabasesRequest{
							Query: cmd.String("query"),
						})
						return err
					})
				},
			},
			{
				Name:      "select",
				Usage:     "Remember the database new clippings are saved to",
				ArgsUsage: "<database-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "display name to remember with the id"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return errors.New("database id is required")
					}
					return runApp(ctx, cmd, environ, cmd.Root().ErrWriter, func(ctx context.Context, _ *app.Config, a *app.App) error {
						_, err := handle(ctx, cmd, a, service.TypeSelectDatabase, service.SelectDatabaseRequest{
							DatabaseID:   id,
							DatabaseName: cmd.String("name"),
						})
						return err
					})
				},
			},
		},
	}
}
