package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/notion-clipper/internal/app"
	"github.com/florianilch/notion-clipper/internal/authflow"
	"github.com/florianilch/notion-clipper/internal/service"
)

// authCommand returns the 'auth' subcommand for managing the Notion connection.
func authCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the Notion connection",
		Commands: []*cli.Command{
			authLoginCommand(environ),
			authLogoutCommand(environ),
			authRefreshCommand(environ),
		},
	}
}

// authLoginCommand returns the 'auth login' subcommand.
func authLoginCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Connect a Notion workspace and save credentials",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "manual",
				Usage: "print the authorization URL and paste the redirect URL instead of using a local callback",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return authLoginAction(ctx, cmd, environ)
		},
	}
}

// authLogoutCommand returns the 'auth logout' subcommand.
func authLogoutCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Disconnect Notion and clear credentials and the selected database",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runApp(ctx, cmd, environ, cmd.Root().ErrWriter, func(ctx context.Context, cfg *app.Config, a *app.App) error {
				if cfg.Auth.Storage == app.TokenStorageTypeEnv {
					return errors.New("cannot logout with env storage (read-only). Configure file or keyring storage")
				}
				_, err := handle(ctx, cmd, a, service.TypeOAuthLogout, nil)
				return err
			})
		},
	}
}

// authRefreshCommand returns the 'auth refresh' subcommand.
func authRefreshCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Refresh the access token if it is about to expire",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runApp(ctx, cmd, environ, cmd.Root().ErrWriter, func(ctx context.Context, _ *app.Config, a *app.App) error {
				_, err := handle(ctx, cmd, a, service.TypeRefresh, nil)
				return err
			})
		},
	}
}

// authLoginAction runs the authorization code flow.
func authLoginAction(ctx context.Context, cmd *cli.Command, environ func() []string) error {
	var opts []runOption
	if cmd.Bool("manual") {
		opts = append(opts, withAppOptions(app.WithConsent(authflow.ConsentFunc(manualConsent))))
	}

	return runApp(ctx, cmd, environ, cmd.Root().ErrWriter, func(ctx context.Context, cfg *app.Config, a *app.App) error {
		if cfg.Auth.Storage == app.TokenStorageTypeEnv {
			return errors.New("cannot login with env storage (read-only). Configure file or keyring storage")
		}

		if !cmd.Bool("manual") {
			fmt.Fprintln(cmd.Root().ErrWriter, "Opening Notion in your browser to authorize the clipper...")
		}

		res, err := handle(ctx, cmd, a, service.TypeOAuthBegin, nil)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.Root().ErrWriter)
		fmt.Fprintln(cmd.Root().ErrWriter, "=== Login Successful ===")
		fmt.Fprintf(cmd.Root().ErrWriter, "Connected to workspace %q\n", res.Workspace)
		return nil
	}, opts...)
}

// manualConsent prints the authorization URL and reads back the URL the
// browser was redirected to.
func manualConsent(ctx context.Context, authURL string) (string, error) {
	fmt.Println("=== Notion Authorization ===")
	fmt.Println()
	fmt.Printf("1. Visit this URL in your browser:\n   %s\n\n", authURL)
	fmt.Println("2. Allow access to the pages and databases to clip into")
	fmt.Println("3. Paste the full URL of the page you were redirected to")

	redirect, err := readSecureInput(ctx, "\nEnter redirect URL: ")
	if err != nil {
		return "", err
	}

	redirect = strings.TrimSpace(redirect)
	if redirect == "" {
		return "", authflow.ErrConsentCancelled
	}
	return redirect, nil
}

// readSecureInput reads user input with hidden display and context cancellation support.
// Goroutine+select pattern required because term.ReadPassword has no native context support.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
