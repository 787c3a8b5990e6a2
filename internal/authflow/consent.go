package authflow

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cli/browser"
)

// ErrConsentCancelled is returned by a Consent when the user aborts.
var ErrConsentCancelled = errors.New("consent cancelled")

// Consent obtains the user's approval for authURL and returns the full
// redirect URL the authorization server sent the user agent to.
type Consent interface {
	Authorize(ctx context.Context, authURL string) (redirectURL string, err error)
}

// ConsentFunc adapts a function to the Consent interface.
type ConsentFunc func(ctx context.Context, authURL string) (string, error)

// Authorize calls fn.
func (fn ConsentFunc) Authorize(ctx context.Context, authURL string) (string, error) {
	return fn(ctx, authURL)
}

// LoopbackConsent serves the redirect URI on the local machine and opens the
// authorization URL in the system browser.
type LoopbackConsent struct {
	redirectURL string
	openBrowser func(string) error
	timeout     time.Duration
}

// Compile-time check that LoopbackConsent implements Consent
var _ Consent = (*LoopbackConsent)(nil)

// LoopbackOption configures a LoopbackConsent.
type LoopbackOption func(*LoopbackConsent)

// WithBrowserOpener replaces the function that opens the authorization URL.
func WithBrowserOpener(open func(string) error) LoopbackOption {
	return func(c *LoopbackConsent) { c.openBrowser = open }
}

// WithConsentTimeout bounds how long to wait for the redirect.
func WithConsentTimeout(d time.Duration) LoopbackOption {
	return func(c *LoopbackConsent) { c.timeout = d }
}

// NewLoopbackConsent creates a consent listening on redirectURL, which must be
// an http URL on a loopback host with an explicit port.
func NewLoopbackConsent(redirectURL string, opts ...LoopbackOption) *LoopbackConsent {
	c := &LoopbackConsent{
		redirectURL: redirectURL,
		openBrowser: browser.OpenURL,
		timeout:     5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize starts the callback server, opens the browser and waits for the
// redirect, the timeout, or ctx cancellation.
func (c *LoopbackConsent) Authorize(ctx context.Context, authURL string) (string, error) {
	redirect, err := url.Parse(c.redirectURL)
	if err != nil {
		return "", fmt.Errorf("parsing redirect url: %w", err)
	}
	if redirect.Scheme != "http" || redirect.Port() == "" {
		return "", fmt.Errorf("redirect url %q must be http with an explicit port", c.redirectURL)
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server: %w", err)
	}

	var wantState string
	if u, err := url.Parse(authURL); err == nil {
		wantState = u.Query().Get("state")
	}

	resultCh := make(chan string, 1)
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		// Redirects for some other authorization keep the wait going.
		if wantState != "" && r.URL.Query().Get("state") != wantState {
			slog.WarnContext(r.Context(), "ignoring callback with unexpected state")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			renderCallbackPage(w, url.Values{"error": {"This authorization response was not expected."}})
			return
		}

		received := *redirect
		received.RawQuery = r.URL.RawQuery

		renderCallbackPage(w, r.URL.Query())

		select {
		case resultCh <- received.String():
		default:
		}
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("callback server: %w", err)
		}
	}()

	defer func() { //nolint:contextcheck // the request context may already be cancelled
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := c.openBrowser(authURL); err != nil {
		// The URL is still printed for manual navigation.
		slog.WarnContext(ctx, "failed to open browser", "error", err)
	}
	slog.InfoContext(ctx, "waiting for authorization", "url", authURL)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case got := <-resultCh:
		return got, nil
	case err := <-errCh:
		return "", err
	case <-timer.C:
		return "", fmt.Errorf("timed out waiting for authorization: %w", ErrConsentCancelled)
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrConsentCancelled, ctx.Err())
	}
}

func renderCallbackPage(w http.ResponseWriter, q url.Values) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	title, message := "Authorization successful", "You can close this window and return to the terminal."
	switch {
	case q.Get("error") != "":
		title = "Authorization failed"
		message = q.Get("error")
		if desc := q.Get("error_description"); desc != "" {
			message = desc
		}
	case q.Get("code") == "":
		title, message = "Authorization failed", "Missing authorization code"
	}

	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>%[1]s</title></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; max-width: 600px; margin: 40px auto;">
<h1>%[1]s</h1>
<p>%[2]s</p>
</body>
</html>`, html.EscapeString(title), html.EscapeString(message))
}
