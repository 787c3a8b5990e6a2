package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/notion-clipper/internal/authflow"
	"github.com/florianilch/notion-clipper/internal/clipping"
	"github.com/florianilch/notion-clipper/internal/extract"
	"github.com/florianilch/notion-clipper/internal/notion"
	"github.com/florianilch/notion-clipper/internal/prefs"
	"github.com/florianilch/notion-clipper/internal/server"
	"github.com/florianilch/notion-clipper/internal/service"
	"github.com/florianilch/notion-clipper/internal/tokenstore"
)

const (
	shutdownTimeout = 5 * time.Second
	fetchTimeout    = 30 * time.Second
)

// Option configures an App.
type Option func(*options)

type options struct {
	consent    authflow.Consent
	httpClient *http.Client
}

// WithConsent replaces the loopback browser consent used for sign-in.
func WithConsent(c authflow.Consent) Option {
	return func(o *options) { o.consent = c }
}

// WithHTTPClient sets the client used for token, API and page requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// App wires the clipper core to its configuration and runs the bridges.
type App struct {
	cfg     *Config
	tokens  *tokenstore.TokenStore
	prefs   *prefs.Store
	flow    *authflow.Flow
	builder *clipping.Builder
	service *service.Service
	health  *Health
}

// New opens local state and wires the core. Close releases it.
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.consent == nil {
		o.consent = authflow.NewLoopbackConsent(cfg.Notion.RedirectURL)
	}

	tokens, err := cfg.Auth.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	store, err := prefs.Open(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences: %w", err)
	}

	flowOpts := []authflow.Option{authflow.WithTargetClearer(store)}
	if o.httpClient != nil {
		flowOpts = append(flowOpts, authflow.WithHTTPClient(o.httpClient))
	}
	flow, err := authflow.New(ctx, authflow.Config{
		ClientID:     cfg.Notion.ClientID,
		ClientSecret: cfg.Notion.ClientSecret,
		RedirectURL:  cfg.Notion.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.Notion.AuthURL,
			TokenURL:  cfg.Notion.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, tokens, flowOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create auth flow: %w", err)
	}

	clientOpts := []notion.Option{
		notion.WithBaseURL(cfg.Notion.APIBaseURL),
		notion.WithVersion(cfg.Notion.Version),
		notion.WithRateLimit(cfg.Notion.RequestsPerSecond, max(1, int(cfg.Notion.RequestsPerSecond))),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, notion.WithHTTPClient(o.httpClient))
	}
	builder := clipping.NewBuilder(notion.New(tokens, clientOpts...))

	fetchClient := o.httpClient
	if fetchClient == nil {
		fetchClient = &http.Client{Timeout: fetchTimeout}
	}

	svc := service.New(service.Deps{
		Auth:        flow,
		Credentials: tokens,
		Prefs:       store,
		Clipper:     builder,
	},
		service.WithConsent(o.consent),
		service.WithFetcher(func(ctx context.Context, pageURL string) (extract.Source, error) {
			return extract.FetchHTML(ctx, fetchClient, pageURL)
		}),
	)

	return &App{
		cfg:     cfg,
		tokens:  tokens,
		prefs:   store,
		flow:    flow,
		builder: builder,
		service: svc,
		health:  NewHealth(),
	}, nil
}

// Service returns the message service.
func (a *App) Service() *service.Service {
	return a.service
}

// Flow returns the authorization state machine.
func (a *App) Flow() *authflow.Flow {
	return a.flow
}

// Tokens returns the credential store.
func (a *App) Tokens() *tokenstore.TokenStore {
	return a.tokens
}

// Close releases local state.
func (a *App) Close() error {
	return a.prefs.Close()
}

// Serve runs the HTTP bridge and blocks until ctx is done or it fails.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Serve(ctx context.Context) error {
	opts := []server.Option{server.WithLogger(slog.Default())}
	if len(a.cfg.Server.AllowedOrigins) > 0 {
		opts = append(opts, server.WithAllowedOrigins(a.cfg.Server.AllowedOrigins))
	}
	bridge, err := server.New(a.service, a.health, opts...)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting bridge", "addr", a.cfg.Server.Addr)
	bridgeErrCh, err := bridge.Start(gCtx, a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("bridge startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, bridge.Shutdown)

	if _, err := a.tokens.Credential(gCtx); err != nil {
		slog.WarnContext(gCtx, "token store unavailable, not ready", "error", err)
	} else {
		a.health.SetReady(true)
	}

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-bridgeErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "bridge runtime error", "error", err)
				return fmt.Errorf("bridge: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()
	a.health.SetReady(false)

	slog.InfoContext(ctx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("bridge stopped")
	return nil
}
