// Package service exposes the clipper core as message-style operations. Every
// operation returns a Result; failures are reported in the result, never as
// panics or transport errors, so any bridge can forward results verbatim.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/florianilch/notion-clipper/internal/authflow"
	"github.com/florianilch/notion-clipper/internal/clipping"
	apperrors "github.com/florianilch/notion-clipper/internal/errors"
	"github.com/florianilch/notion-clipper/internal/extract"
	"github.com/florianilch/notion-clipper/internal/prefs"
	"github.com/florianilch/notion-clipper/internal/tokenstore"
)

// Type names an operation.
type Type string

const (
	TypeOAuthBegin     Type = "OAUTH_BEGIN"
	TypeOAuthLogout    Type = "OAUTH_LOGOUT"
	TypeRefresh        Type = "REFRESH"
	TypeLoadDatabases  Type = "LOAD_DATABASES"
	TypeSaveNote       Type = "SAVE_NOTE"
	TypeGetStatus      Type = "GET_STATUS"
	TypeSelectDatabase Type = "SELECT_DATABASE"
)

// Message is one inbound request.
type Message struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Result is the reply to a Message. Only the fields relevant to the
// operation are set.
type Result struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Code    apperrors.Code `json:"code,omitempty"`

	PageID    string                 `json:"pageId,omitempty"`
	Databases []clipping.DatabaseRef `json:"databases,omitzero"`
	Workspace string                 `json:"workspace,omitempty"`

	IsAuthenticated      *bool   `json:"isAuthenticated,omitempty"`
	SelectedDatabase     *string `json:"selectedDatabase,omitempty"`
	SelectedDatabaseName *string `json:"selectedDatabaseName,omitempty"`

	LastSave *prefs.LastSave `json:"lastSave,omitempty"`
}

// Authenticator drives authorization and token refresh.
type Authenticator interface {
	BeginAuthorization(ctx context.Context, consent authflow.Consent) (*tokenstore.Credential, error)
	RefreshIfNeeded(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Credentials reads the stored credential.
type Credentials interface {
	Credential(ctx context.Context) (*tokenstore.Credential, error)
}

// Preferences persists the sticky target and last-used save options.
type Preferences interface {
	Target(ctx context.Context) (*prefs.Target, error)
	SetTarget(ctx context.Context, t prefs.Target) error
	LastSave(ctx context.Context) (prefs.LastSave, error)
	SetLastSave(ctx context.Context, ls prefs.LastSave) error
}

// Clipper lists destination databases and submits clippings.
type Clipper interface {
	ListDatabases(ctx context.Context, query string) ([]clipping.DatabaseRef, error)
	Submit(ctx context.Context, c clipping.Clipping, databaseID string) (string, error)
}

// Fetcher loads a page by URL when a save carries no captured text.
type Fetcher func(ctx context.Context, pageURL string) (extract.Source, error)

// Deps are the collaborators a Service dispatches to.
type Deps struct {
	Auth        Authenticator
	Credentials Credentials
	Prefs       Preferences
	Clipper     Clipper
}

// Option configures a Service.
type Option func(*Service)

// WithConsent sets the consent capability used by OAUTH_BEGIN.
func WithConsent(c authflow.Consent) Option {
	return func(s *Service) { s.consent = c }
}

// WithFetcher sets how pages referenced only by URL are loaded.
func WithFetcher(f Fetcher) Option {
	return func(s *Service) { s.fetch = f }
}

// WithClock overrides the time source used to stamp clippings.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSummarizer overrides how summaries are generated.
func WithSummarizer(fn func(string) string) Option {
	return func(s *Service) { s.summarize = fn }
}

// Service dispatches messages to the clipper core.
type Service struct {
	Deps

	consent   authflow.Consent
	fetch     Fetcher
	now       func() time.Time
	summarize func(string) string
}

// New creates a Service.
func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		Deps:      deps,
		now:       time.Now,
		summarize: LeadSummary,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle runs msg and returns its result. It never panics.
func (s *Service) Handle(ctx context.Context, msg Message) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic while handling message",
				"type", msg.Type,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = failure(apperrors.NewInternal(fmt.Errorf("panic: %v", r)))
		}
	}()

	start := time.Now()
	res, err := s.dispatch(ctx, msg)
	if err != nil {
		res = failure(err)
	}

	level := slog.LevelDebug
	if !res.Success {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "message handled",
		"type", msg.Type,
		"success", res.Success,
		"code", res.Code,
		"duration", time.Since(start),
	)
	return res
}

func (s *Service) dispatch(ctx context.Context, msg Message) (Result, error) {
	switch msg.Type {
	case TypeOAuthBegin:
		return s.beginOAuth(ctx)
	case TypeOAuthLogout:
		return s.logout(ctx)
	case TypeRefresh:
		return s.refresh(ctx)
	case TypeLoadDatabases:
		var req LoadDatabasesRequest
		if err := decode(msg.Data, &req); err != nil {
			return Result{}, err
		}
		return s.loadDatabases(ctx, req)
	case TypeSaveNote:
		var req SaveNoteRequest
		if err := decode(msg.Data, &req); err != nil {
			return Result{}, err
		}
		return s.saveNote(ctx, req)
	case TypeGetStatus:
		return s.status(ctx)
	case TypeSelectDatabase:
		var req SelectDatabaseRequest
		if err := decode(msg.Data, &req); err != nil {
			return Result{}, err
		}
		return s.selectDatabase(ctx, req)
	default:
		return Result{}, apperrors.NewInvalidRequest(fmt.Sprintf("unknown message type: %q", msg.Type))
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.NewInvalidRequest(fmt.Sprintf("malformed message data: %v", err))
	}
	return nil
}

func failure(err error) Result {
	msg := err.Error()
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	return Result{Success: false, Error: msg, Code: apperrors.CodeOf(err)}
}

func (s *Service) beginOAuth(ctx context.Context) (Result, error) {
	if s.consent == nil {
		return Result{}, apperrors.NewInvalidRequest("interactive sign-in is not available here")
	}

	cred, err := s.Auth.BeginAuthorization(ctx, s.consent)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, Workspace: cred.WorkspaceName}, nil
}

func (s *Service) logout(ctx context.Context) (Result, error) {
	if err := s.Auth.Logout(ctx); err != nil {
		return Result{}, fmt.Errorf("signing out: %w", err)
	}
	return Result{Success: true}, nil
}

func (s *Service) refresh(ctx context.Context) (Result, error) {
	if err := s.Auth.RefreshIfNeeded(ctx); err != nil {
		return Result{}, err
	}
	return Result{Success: true}, nil
}

// requireCredential refreshes if needed and fails NotAuthenticated when no
// credential remains.
func (s *Service) requireCredential(ctx context.Context) (*tokenstore.Credential, error) {
	if err := s.Auth.RefreshIfNeeded(ctx); err != nil {
		return nil, err
	}

	cred, err := s.Credentials.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if cred == nil || cred.AccessToken == "" {
		return nil, apperrors.NewNotAuthenticated()
	}
	return cred, nil
}

// LoadDatabasesRequest is the data of LOAD_DATABASES.
type LoadDatabasesRequest struct {
	Query string `json:"query"`
}

func (s *Service) loadDatabases(ctx context.Context, req LoadDatabasesRequest) (Result, error) {
	if _, err := s.requireCredential(ctx); err != nil {
		return Result{}, err
	}

	dbs, err := s.Clipper.ListDatabases(ctx, req.Query)
	if err != nil {
		return Result{}, err
	}
	if dbs == nil {
		dbs = []clipping.DatabaseRef{}
	}
	return Result{Success: true, Databases: dbs}, nil
}

// SelectDatabaseRequest is the data of SELECT_DATABASE.
type SelectDatabaseRequest struct {
	DatabaseID   string `json:"databaseId"`
	DatabaseName string `json:"databaseName"`
}

func (s *Service) selectDatabase(ctx context.Context, req SelectDatabaseRequest) (Result, error) {
	if req.DatabaseID == "" {
		return Result{}, apperrors.NewInvalidRequest("databaseId is required")
	}

	err := s.Prefs.SetTarget(ctx, prefs.Target{DatabaseID: req.DatabaseID, DatabaseName: req.DatabaseName})
	if err != nil {
		return Result{}, fmt.Errorf("storing target database: %w", err)
	}
	return Result{Success: true}, nil
}

func (s *Service) status(ctx context.Context) (Result, error) {
	cred, err := s.Credentials.Credential(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading credential: %w", err)
	}
	target, err := s.Prefs.Target(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading target database: %w", err)
	}
	last, err := s.Prefs.LastSave(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading last save options: %w", err)
	}

	authenticated := cred != nil && cred.AccessToken != ""
	res := Result{Success: true, IsAuthenticated: &authenticated, LastSave: &last}
	if authenticated {
		res.Workspace = cred.WorkspaceName
	}
	if target != nil {
		res.SelectedDatabase = &target.DatabaseID
		res.SelectedDatabaseName = &target.DatabaseName
	}
	return res, nil
}
