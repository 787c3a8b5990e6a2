package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/notion-clipper/internal/app"
	"github.com/florianilch/notion-clipper/internal/service"
)

// maxStdinBytes bounds page text or HTML piped on stdin.
const maxStdinBytes = 8 << 20

func saveCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Save a page to the selected Notion database",
		ArgsUsage: "[url]",
		Description: "Content comes from --selection, --text, --html-file or stdin (--stdin). " +
			"With none of them the URL is fetched and its main content extracted.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "page title (defaults to the document title)"},
			&cli.StringFlag{Name: "selection", Aliases: []string{"s"}, Usage: "selected text to save"},
			&cli.StringFlag{Name: "text", Usage: "page text to save"},
			&cli.StringFlag{Name: "html-file", Usage: "read the page from an HTML file"},
			&cli.BoolFlag{Name: "stdin", Usage: "read page text from stdin"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "what to capture (selection|page)"},
			&cli.StringFlag{Name: "tags", Usage: "comma-separated tags"},
			&cli.StringFlag{Name: "database", Aliases: []string{"d"}, Usage: "database id (defaults to the selected database)"},
			&cli.BoolFlag{Name: "summary", Usage: "add a summary of the captured text"},
			&cli.BoolFlag{Name: "quick", Usage: "save the selection without remembering these options"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			req, err := saveRequest(cmd)
			if err != nil {
				return err
			}
			return runApp(ctx, cmd, environ, cmd.Root().ErrWriter, func(ctx context.Context, _ *app.Config, a *app.App) error {
				_, err := handle(ctx, cmd, a, service.TypeSaveNote, req)
				return err
			})
		},
	}
}

// saveRequest builds the SAVE_NOTE data from flags, reading files and stdin.
func saveRequest(cmd *cli.Command) (service.SaveNoteRequest, error) {
	page := &service.PagePayload{
		Title:     cmd.String("title"),
		URL:       cmd.Args().First(),
		Selection: cmd.String("selection"),
		Text:      cmd.String("text"),
	}

	if path := cmd.String("html-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return service.SaveNoteRequest{}, fmt.Errorf("reading %s: %w", path, err)
		}
		page.HTML = string(data)
	}

	if cmd.Bool("stdin") {
		data, err := io.ReadAll(io.LimitReader(cmd.Root().Reader, maxStdinBytes+1))
		if err != nil {
			return service.SaveNoteRequest{}, fmt.Errorf("reading stdin: %w", err)
		}
		if len(data) > maxStdinBytes {
			return service.SaveNoteRequest{}, fmt.Errorf("stdin exceeds %d bytes", maxStdinBytes)
		}
		page.Text = string(data)
	}

	return service.SaveNoteRequest{
		Mode:            cmd.String("mode"),
		Tags:            cmd.String("tags"),
		GenerateSummary: cmd.Bool("summary"),
		DatabaseID:      cmd.String("database"),
		Quick:           cmd.Bool("quick"),
		Page:            page,
	}, nil
}
