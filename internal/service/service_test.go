package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/notion-clipper/internal/authflow"
	"github.com/florianilch/notion-clipper/internal/clipping"
	apperrors "github.com/florianilch/notion-clipper/internal/errors"
	"github.com/florianilch/notion-clipper/internal/extract"
	"github.com/florianilch/notion-clipper/internal/notion"
	"github.com/florianilch/notion-clipper/internal/prefs"
	"github.com/florianilch/notion-clipper/internal/tokenstore"
)

var savedAt = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

// fakeNotion records the API calls a service run makes.
type fakeNotion struct {
	mu       sync.Mutex
	pages    []map[string]any
	appends  []notion.AppendBlockChildrenRequest
	searches int
}

func (f *fakeNotion) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/v1/oauth/token":
		_, _ = io.WriteString(w, `{"access_token":"tok","refresh_token":"ref","expires_in":3600,"workspace_name":"Acme","workspace_id":"ws-1","bot_id":"bot-1"}`)
	case r.URL.Path == "/v1/search":
		f.searches++
		_, _ = io.WriteString(w, `{"object":"list","results":[{"object":"database","id":"db-1","title":[{"plain_text":"Inbox"}],"icon":{"type":"emoji","emoji":"📥"}}],"has_more":false}`)
	case r.URL.Path == "/v1/pages":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.pages = append(f.pages, body)
		_, _ = io.WriteString(w, `{"object":"page","id":"page-1"}`)
	case strings.HasPrefix(r.URL.Path, "/v1/blocks/"):
		var body notion.AppendBlockChildrenRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.appends = append(f.appends, body)
		_, _ = io.WriteString(w, `{"object":"list","results":[]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testEnv struct {
	svc    *Service
	api    *fakeNotion
	prefs  *prefs.Store
	tokens *tokenstore.TokenStore
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	api := &fakeNotion{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	store, err := prefs.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := tokenstore.New(&tokenstore.MemoryBackend{})
	flow, err := authflow.New(ctx, authflow.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://127.0.0.1:8338/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  server.URL + "/v1/oauth/authorize",
			TokenURL: server.URL + "/v1/oauth/token",
		},
	}, tokens, authflow.WithTargetClearer(store), authflow.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	client := notion.New(tokens,
		notion.WithBaseURL(server.URL+"/v1"),
		notion.WithHTTPClient(server.Client()),
		notion.WithRateLimit(0, 0),
	)

	consent := authflow.ConsentFunc(func(_ context.Context, authURL string) (string, error) {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		assert.NotEmpty(t, u.Query().Get("code_challenge"))
		return "http://127.0.0.1:8338/callback?code=auth-code&state=" + url.QueryEscape(u.Query().Get("state")), nil
	})

	base := []Option{WithConsent(consent), WithClock(func() time.Time { return savedAt })}
	svc := New(Deps{
		Auth:        flow,
		Credentials: tokens,
		Prefs:       store,
		Clipper:     clipping.NewBuilder(client),
	}, append(base, opts...)...)

	return &testEnv{svc: svc, api: api, prefs: store, tokens: tokens}
}

func (e *testEnv) handle(t *testing.T, typ Type, data any) Result {
	t.Helper()

	msg := Message{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		msg.Data = raw
	}
	return e.svc.Handle(context.Background(), msg)
}

func (e *testEnv) signIn(t *testing.T) {
	t.Helper()
	res := e.handle(t, TypeOAuthBegin, nil)
	require.True(t, res.Success, res.Error)
}

func TestStatus_SignedOut(t *testing.T) {
	env := newTestEnv(t)

	res := env.handle(t, TypeGetStatus, nil)
	require.True(t, res.Success)
	require.NotNil(t, res.IsAuthenticated)
	assert.False(t, *res.IsAuthenticated)
	assert.Nil(t, res.SelectedDatabase)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"isAuthenticated":false,"lastSave":{"tags":"","mode":"","generate_summary":false}}`, string(data))
}

func TestOAuthBegin(t *testing.T) {
	env := newTestEnv(t)

	res := env.handle(t, TypeOAuthBegin, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Acme", res.Workspace)

	status := env.handle(t, TypeGetStatus, nil)
	require.NotNil(t, status.IsAuthenticated)
	assert.True(t, *status.IsAuthenticated)
	assert.Equal(t, "Acme", status.Workspace)
}

func TestOAuthBegin_WithoutConsent(t *testing.T) {
	env := newTestEnv(t, WithConsent(nil))

	res := env.handle(t, TypeOAuthBegin, nil)
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeInvalidRequest, res.Code)
}

func TestLoadDatabases(t *testing.T) {
	env := newTestEnv(t)

	res := env.handle(t, TypeLoadDatabases, nil)
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeNotAuthenticated, res.Code)
	assert.Equal(t, 0, env.api.searches)

	env.signIn(t)
	res = env.handle(t, TypeLoadDatabases, LoadDatabasesRequest{Query: "in"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []clipping.DatabaseRef{{ID: "db-1", Title: "Inbox", Icon: "📥"}}, res.Databases)
}

func TestLogoutThenLoadDatabasesFails(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	require.True(t, env.handle(t, TypeSelectDatabase, SelectDatabaseRequest{DatabaseID: "db-1", DatabaseName: "Inbox"}).Success)

	res := env.handle(t, TypeOAuthLogout, nil)
	require.True(t, res.Success, res.Error)

	cred, err := env.tokens.Credential(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)

	target, err := env.prefs.Target(context.Background())
	require.NoError(t, err)
	assert.Nil(t, target)

	res = env.handle(t, TypeLoadDatabases, nil)
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeNotAuthenticated, res.Code)
	assert.NotEmpty(t, res.Error)
}

func TestSelectDatabase(t *testing.T) {
	env := newTestEnv(t)

	res := env.handle(t, TypeSelectDatabase, SelectDatabaseRequest{})
	assert.Equal(t, apperrors.CodeInvalidRequest, res.Code)

	res = env.handle(t, TypeSelectDatabase, SelectDatabaseRequest{DatabaseID: "db-1", DatabaseName: "Inbox"})
	require.True(t, res.Success)

	status := env.handle(t, TypeGetStatus, nil)
	require.NotNil(t, status.SelectedDatabase)
	assert.Equal(t, "db-1", *status.SelectedDatabase)
	assert.Equal(t, "Inbox", *status.SelectedDatabaseName)
}

func TestSaveNote_PageMode(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	require.True(t, env.handle(t, TypeSelectDatabase, SelectDatabaseRequest{DatabaseID: "db-1"}).Success)

	res := env.handle(t, TypeSaveNote, SaveNoteRequest{
		Mode:            "page",
		Tags:            " go, notes ,go,, ",
		GenerateSummary: true,
		Page: &PagePayload{
			Title: "A Post",
			URL:   "https://example.com/post",
			Text:  "First sentence. Second one.\n\nNext paragraph.",
		},
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "page-1", res.PageID)

	require.Len(t, env.api.pages, 1)
	page := env.api.pages[0]
	assert.Equal(t, map[string]any{"database_id": "db-1"}, page["parent"])

	props := page["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"url": "https://example.com/post"}, props[clipping.PropURL])
	assert.Equal(t, map[string]any{"multi_select": []any{
		map[string]any{"name": "go"},
		map[string]any{"name": "notes"},
	}}, props[clipping.PropTags])
	assert.Equal(t, map[string]any{"date": map[string]any{"start": "2025-02-03T04:05:06Z"}}, props[clipping.PropSavedAt])
	assert.Contains(t, props, clipping.PropSummary)

	require.Len(t, env.api.appends, 1)
	assert.Len(t, env.api.appends[0].Children, 2)

	last, err := env.prefs.LastSave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, prefs.LastSave{Tags: " go, notes ,go,, ", Mode: "page", GenerateSummary: true}, last)
}

func TestSaveNote_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	res := env.handle(t, TypeSaveNote, SaveNoteRequest{
		Mode:       "selection",
		DatabaseID: "db-7",
		Page:       &PagePayload{Title: "Greeting", URL: "https://example.com", Selection: "Hello world"},
	})
	require.True(t, res.Success, res.Error)

	require.Len(t, env.api.pages, 1)
	require.Len(t, env.api.appends, 1)
	children := env.api.appends[0].Children
	require.Len(t, children, 1)
	assert.Equal(t, "Hello world", children[0].Paragraph.RichText[0].Text.Content)
}

func TestSaveNote_Failures(t *testing.T) {
	tests := []struct {
		name     string
		signIn   bool
		target   bool
		req      SaveNoteRequest
		wantCode apperrors.Code
	}{
		{
			name:     "not authenticated",
			req:      SaveNoteRequest{Page: &PagePayload{Text: "x"}},
			wantCode: apperrors.CodeNotAuthenticated,
		},
		{
			name:     "no target",
			signIn:   true,
			req:      SaveNoteRequest{Page: &PagePayload{Text: "x"}},
			wantCode: apperrors.CodeNoTargetSelected,
		},
		{
			name:     "empty selection",
			signIn:   true,
			target:   true,
			req:      SaveNoteRequest{Mode: "selection", Page: &PagePayload{Title: "T", Text: "page text"}},
			wantCode: apperrors.CodeNoContentSelected,
		},
		{
			name:     "unknown mode",
			signIn:   true,
			target:   true,
			req:      SaveNoteRequest{Mode: "video", Page: &PagePayload{Text: "x"}},
			wantCode: apperrors.CodeInvalidRequest,
		},
		{
			name:     "missing page",
			signIn:   true,
			target:   true,
			req:      SaveNoteRequest{Mode: "page"},
			wantCode: apperrors.CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.signIn {
				env.signIn(t)
			}
			if tt.target {
				require.True(t, env.handle(t, TypeSelectDatabase, SelectDatabaseRequest{DatabaseID: "db-1"}).Success)
			}

			res := env.handle(t, TypeSaveNote, tt.req)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.Code)
			assert.Empty(t, env.api.pages)
		})
	}
}

func TestSaveNote_QuickWithoutSelection(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	res := env.handle(t, TypeSaveNote, SaveNoteRequest{
		Mode:       "page",
		Quick:      true,
		DatabaseID: "db-1",
		Page:       &PagePayload{Text: "ignored for quick saves"},
	})
	require.True(t, res.Success, res.Error)

	require.Len(t, env.api.pages, 1)
	assert.Empty(t, env.api.appends)

	props := env.api.pages[0]["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"select": map[string]any{"name": clipping.DefaultContentLabel}}, props[clipping.PropContent])
	assert.Equal(t, map[string]any{"title": []any{map[string]any{"type": "text", "text": map[string]any{"content": "Untitled"}}}}, props[clipping.PropTitle])

	last, err := env.prefs.LastSave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, prefs.LastSave{}, last)
}

func TestSaveNote_FromHTMLAndFetcher(t *testing.T) {
	var fetched string
	env := newTestEnv(t, WithFetcher(func(_ context.Context, pageURL string) (extract.Source, error) {
		fetched = pageURL
		return extract.ParseHTML(strings.NewReader(`<title>Fetched</title><article>From the web</article>`), pageURL)
	}))
	env.signIn(t)

	res := env.handle(t, TypeSaveNote, SaveNoteRequest{
		DatabaseID: "db-1",
		Page:       &PagePayload{URL: "https://example.com/a", HTML: `<title>Inline</title><main>Inline body</main>`},
	})
	require.True(t, res.Success, res.Error)
	assert.Empty(t, fetched)
	assert.Equal(t, "Inline body", env.api.appends[0].Children[0].Paragraph.RichText[0].Text.Content)

	res = env.handle(t, TypeSaveNote, SaveNoteRequest{
		DatabaseID: "db-1",
		Page:       &PagePayload{URL: "https://example.com/b"},
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "https://example.com/b", fetched)
	assert.Equal(t, "From the web", env.api.appends[1].Children[0].Paragraph.RichText[0].Text.Content)

	title := env.api.pages[1]["properties"].(map[string]any)[clipping.PropTitle]
	assert.Contains(t, mustJSON(t, title), "Fetched")
}

func TestHandle_BadMessages(t *testing.T) {
	env := newTestEnv(t)

	res := env.svc.Handle(context.Background(), Message{Type: "NOPE"})
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeInvalidRequest, res.Code)

	res = env.svc.Handle(context.Background(), Message{Type: TypeSaveNote, Data: json.RawMessage(`[1,2]`)})
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeInvalidRequest, res.Code)
}

type panickingClipper struct{}

func (panickingClipper) ListDatabases(context.Context, string) ([]clipping.DatabaseRef, error) {
	panic("boom")
}

func (panickingClipper) Submit(context.Context, clipping.Clipping, string) (string, error) {
	panic("boom")
}

type noopAuth struct{}

func (noopAuth) BeginAuthorization(context.Context, authflow.Consent) (*tokenstore.Credential, error) {
	return nil, apperrors.NewAuthCancelled("")
}
func (noopAuth) RefreshIfNeeded(context.Context) error { return nil }
func (noopAuth) Logout(context.Context) error          { return nil }

func TestHandle_RecoversPanics(t *testing.T) {
	tokens := tokenstore.New(&tokenstore.MemoryBackend{})
	require.NoError(t, tokens.SaveCredential(context.Background(), &tokenstore.Credential{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	svc := New(Deps{Auth: noopAuth{}, Credentials: tokens, Clipper: panickingClipper{}})

	res := svc.Handle(context.Background(), Message{Type: TypeLoadDatabases})
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeInternal, res.Code)
}

func TestSplitTags(t *testing.T) {
	assert.Nil(t, SplitTags(""))
	assert.Nil(t, SplitTags(" , ,"))
	assert.Equal(t, []string{"a", "b c", "d"}, SplitTags("a, b c ,a,,d"))
}

func TestLeadSummary(t *testing.T) {
	assert.Equal(t, "", LeadSummary("  "))
	assert.Equal(t, "One. Two!", LeadSummary("One.\n Two!"))
	assert.Equal(t, "Version 1.2 is out.", LeadSummary("Version 1.2 is out."))

	long := strings.Repeat("word ", 40) + "end. " + strings.Repeat("more ", 60) + "stop."
	got := LeadSummary(long)
	assert.True(t, strings.HasSuffix(got, "end."))

	assert.Len(t, LeadSummary(strings.Repeat("x", 1000)), maxSummary)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
