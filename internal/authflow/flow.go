package authflow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/florianilch/notion-clipper/internal/errors"
	"github.com/florianilch/notion-clipper/internal/pkce"
	"github.com/florianilch/notion-clipper/internal/tokenstore"
)

// RefreshMargin is how long before expiry a credential is refreshed, so a
// token never expires in the middle of a request.
const RefreshMargin = 60 * time.Second

// Endpoint is Notion's OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://api.notion.com/v1/oauth/authorize",
	TokenURL:  "https://api.notion.com/v1/oauth/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// Config identifies the OAuth client registered with Notion.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
}

// TargetClearer forgets the sticky destination database. Logout calls it
// because the destination belongs to the workspace being disconnected.
type TargetClearer interface {
	ClearTarget(ctx context.Context) error
}

// Option configures a Flow.
type Option func(*Flow)

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Flow) { f.client = c }
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// WithTargetClearer registers the preference store cleared on logout.
func WithTargetClearer(tc TargetClearer) Option {
	return func(f *Flow) { f.targets = tc }
}

// Flow is the authorization state machine. It is the only writer of the
// credential held by the token store.
type Flow struct {
	oauth   *oauth2.Config
	client  *http.Client
	store   *tokenstore.TokenStore
	targets TargetClearer
	now     func() time.Time

	mu    sync.Mutex
	state State

	// refreshMu orders refreshes so concurrent callers do not spend the
	// same refresh token twice.
	refreshMu sync.Mutex
}

// New creates a Flow whose initial state reflects the stored credential.
// A flow without a client id serves static integration tokens and cannot
// begin an authorization.
func New(ctx context.Context, cfg Config, store *tokenstore.TokenStore, opts ...Option) (*Flow, error) {
	if store == nil {
		return nil, errors.New("token store cannot be nil")
	}

	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = Endpoint
	}

	f := &Flow{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
		},
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := f.settle(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// AuthCodeURL builds the authorization URL for the given state and PKCE
// verifier.
func (f *Flow) AuthCodeURL(state, verifier string) string {
	return f.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("owner", "user"),
		oauth2.SetAuthURLParam("code_challenge", pkce.ChallengeFor(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
	)
}

// BeginAuthorization runs the interactive authorization: it records a PKCE
// verifier, asks consent to obtain the redirect, and exchanges the code.
func (f *Flow) BeginAuthorization(ctx context.Context, consent Consent) (*tokenstore.Credential, error) {
	if consent == nil {
		return nil, errors.New("consent cannot be nil")
	}
	if f.oauth.ClientID == "" {
		return nil, apperrors.NewInvalidRequest("no OAuth client is configured")
	}

	f.transition(ctx, AuthorizationRequested)

	verifier := pkce.GenerateVerifier()
	if err := f.store.PutPending(ctx, verifier); err != nil {
		return nil, f.fail(ctx, fmt.Errorf("recording pending authorization: %w", err))
	}

	state := rand.Text()
	authURL := f.AuthCodeURL(state, verifier)

	f.transition(ctx, AwaitingRedirect)

	redirect, err := consent.Authorize(ctx, authURL)
	if err != nil {
		if errors.Is(err, ErrConsentCancelled) || errors.Is(err, context.Canceled) {
			return nil, f.fail(ctx, apperrors.NewAuthCancelled(""))
		}
		return nil, f.fail(ctx, fmt.Errorf("requesting consent: %w", err))
	}

	code, err := codeFromRedirect(redirect, state)
	if err != nil {
		return nil, f.fail(ctx, err)
	}

	pending, err := f.store.TakePending(ctx)
	if err != nil {
		return nil, f.fail(ctx, fmt.Errorf("retrieving pending authorization: %w", err))
	}
	if pending == nil {
		return nil, f.fail(ctx, errors.New("no pending authorization"))
	}

	return f.ExchangeCode(ctx, code, pending.CodeVerifier)
}

// ExchangeCode trades an authorization code and its PKCE verifier for a
// credential and stores it.
func (f *Flow) ExchangeCode(ctx context.Context, code, verifier string) (*tokenstore.Credential, error) {
	if code == "" {
		return nil, f.fail(ctx, apperrors.NewNoAuthorizationCode())
	}
	if verifier == "" {
		return nil, f.fail(ctx, errors.New("verifier cannot be empty"))
	}

	f.transition(ctx, ExchangingCode)

	now := f.now()
	token, err := f.requestToken(ctx, tokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  f.oauth.RedirectURL,
		CodeVerifier: verifier,
	})
	if err != nil {
		status, body := endpointDetails(err)
		return nil, f.fail(ctx, apperrors.NewTokenExchangeFailed(status, body, err))
	}

	cred := &tokenstore.Credential{
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		ExpiresAt:     now.Add(token.lifetime()),
		WorkspaceID:   token.WorkspaceID,
		WorkspaceName: token.WorkspaceName,
		BotID:         token.BotID,
	}
	if err := f.store.SaveCredential(ctx, cred); err != nil {
		return nil, f.fail(ctx, fmt.Errorf("storing credential: %w", err))
	}

	f.transition(ctx, SignedIn)
	slog.InfoContext(ctx, "signed in", "workspace", cred.WorkspaceName)

	return cred, nil
}

// RefreshIfNeeded refreshes the credential when it expires within
// RefreshMargin. It does nothing when signed out or when the credential has
// no refresh token. A failed refresh logs out and returns TokenRefreshFailed.
func (f *Flow) RefreshIfNeeded(ctx context.Context) error {
	f.refreshMu.Lock()
	defer f.refreshMu.Unlock()

	cred, err := f.store.Credential(ctx)
	if err != nil {
		return err
	}
	if cred == nil || cred.RefreshToken == "" {
		return nil
	}

	now := f.now()
	if !cred.ExpiresWithin(now, RefreshMargin) {
		return nil
	}

	f.transition(ctx, RefreshingToken)

	token, err := f.requestToken(ctx, tokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: cred.RefreshToken,
	})
	if err != nil {
		status, body := endpointDetails(err)
		return f.refreshFailed(ctx, apperrors.NewTokenRefreshFailed(status, body, err))
	}

	updated := *cred
	updated.AccessToken = token.AccessToken
	updated.ExpiresAt = now.Add(token.lifetime())
	if token.RefreshToken != "" {
		updated.RefreshToken = token.RefreshToken
	}
	if token.WorkspaceID != "" {
		updated.WorkspaceID = token.WorkspaceID
		updated.WorkspaceName = token.WorkspaceName
	}
	if token.BotID != "" {
		updated.BotID = token.BotID
	}

	if err := f.store.SaveCredential(ctx, &updated); err != nil {
		return f.refreshFailed(ctx, apperrors.NewTokenRefreshFailed(0, "", err))
	}

	f.transition(ctx, SignedIn)
	slog.DebugContext(ctx, "credential refreshed", "expires_at", updated.ExpiresAt)

	return nil
}

// Logout clears the credential, any pending authorization and the sticky
// target database. When the credential cannot be cleared, as with read-only
// storage, nothing else is touched and the state keeps following the store.
func (f *Flow) Logout(ctx context.Context) error {
	if err := f.store.Clear(ctx); err != nil {
		if settleErr := f.settle(ctx); settleErr != nil {
			slog.WarnContext(ctx, "failed to read token store", "error", settleErr)
		}
		return fmt.Errorf("clearing credentials: %w", err)
	}

	f.transition(ctx, SignedOut)

	if f.targets != nil {
		if err := f.targets.ClearTarget(ctx); err != nil {
			return fmt.Errorf("clearing target database: %w", err)
		}
	}
	return nil
}

func (f *Flow) refreshFailed(ctx context.Context, refreshErr error) error {
	slog.WarnContext(ctx, "token refresh failed, logging out", "error", refreshErr)

	if err := f.Logout(ctx); err != nil {
		return errors.Join(refreshErr, fmt.Errorf("logout after failed refresh: %w", err))
	}
	return refreshErr
}

// fail drops any pending authorization and settles the state before
// returning err.
func (f *Flow) fail(ctx context.Context, err error) error {
	if dropErr := f.store.DropPending(ctx); dropErr != nil {
		slog.WarnContext(ctx, "failed to drop pending authorization", "error", dropErr)
	}
	if settleErr := f.settle(ctx); settleErr != nil {
		slog.WarnContext(ctx, "failed to read token store", "error", settleErr)
		f.transition(ctx, SignedOut)
	}
	return err
}

// settle sets the state to the stable state the token store implies.
func (f *Flow) settle(ctx context.Context) error {
	cred, err := f.store.Credential(ctx)
	if err != nil {
		return err
	}
	if cred != nil {
		f.transition(ctx, SignedIn)
	} else {
		f.transition(ctx, SignedOut)
	}
	return nil
}

func (f *Flow) transition(ctx context.Context, to State) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()

	if from != to {
		slog.DebugContext(ctx, "auth state changed", "from", from.String(), "to", to.String())
	}
}

// codeFromRedirect extracts the authorization code from the redirect URL.
// A non-empty state must match the redirect's state parameter.
func codeFromRedirect(redirect, state string) (string, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return "", fmt.Errorf("parsing redirect url: %w", err)
	}

	q := u.Query()
	if state != "" && q.Get("state") != state {
		return "", apperrors.NewAuthCancelled("authorization response does not match this request")
	}
	if e := q.Get("error"); e != "" {
		reason := e
		if desc := q.Get("error_description"); desc != "" {
			reason = fmt.Sprintf("%s (%s)", e, desc)
		}
		return "", apperrors.NewAuthCancelled(reason)
	}

	code := q.Get("code")
	if code == "" {
		return "", apperrors.NewNoAuthorizationCode()
	}
	return code, nil
}
