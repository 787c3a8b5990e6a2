package extract

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"selection", ModeSelection, false},
		{" Page ", ModePage, false},
		{"", ModePage, false},
		{"screenshot", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedMode)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := &Static{Title: "T", URL: "https://example.com", Selection: "  picked  ", Text: strings.Repeat("a", MaxPageText+50)}

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, PageInfo{Title: "T", URL: "https://example.com"}, info)

	sel, err := s.ExtractText(ctx, ModeSelection)
	require.NoError(t, err)
	assert.Equal(t, "picked", sel)

	page, err := s.ExtractText(ctx, ModePage)
	require.NoError(t, err)
	assert.Len(t, page, MaxPageText)

	_, err = s.ExtractText(ctx, Mode("other"))
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestDocument_MainContentOrder(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "article wins",
			html: `<html><body><nav>Menu</nav><main><p>Main</p><article><h1>Head</h1><p>Body text</p></article></main></body></html>`,
			want: "Head\n\nBody text",
		},
		{
			name: "main without article",
			html: `<html><body><nav>Menu</nav><main><p>One</p><p>Two</p></main><footer>Foot</footer></body></html>`,
			want: "One\n\nTwo",
		},
		{
			name: "body fallback",
			html: `<html><body><div>Alpha   beta</div><div>Gamma<br>Delta</div></body></html>`,
			want: "Alpha beta\n\nGamma\nDelta",
		},
		{
			name: "hidden content dropped",
			html: `<body><script>var x;</script><style>p{}</style><p>Shown</p><p hidden>Secret</p><div aria-hidden="true">Decor</div></body>`,
			want: "Shown",
		},
		{
			name: "list items",
			html: `<body><ul><li>a</li><li>b</li></ul></body>`,
			want: "a\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseHTML(strings.NewReader(tt.html), "https://example.com")
			require.NoError(t, err)

			got, err := doc.ExtractText(context.Background(), ModePage)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			sel, err := doc.ExtractText(context.Background(), ModeSelection)
			require.NoError(t, err)
			assert.Empty(t, sel)
		})
	}
}

func TestDocument_CapsPageText(t *testing.T) {
	doc, err := ParseHTML(strings.NewReader("<p>"+strings.Repeat("x", MaxPageText*2)+"</p>"), "")
	require.NoError(t, err)

	got, err := doc.ExtractText(context.Background(), ModePage)
	require.NoError(t, err)
	assert.Len(t, got, MaxPageText)
}

func TestFetchHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/post" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><title> A
			Post </title></head><body><article>Words</article></body></html>`)
	}))
	defer server.Close()

	doc, err := FetchHTML(context.Background(), server.Client(), server.URL+"/post")
	require.NoError(t, err)

	info, err := doc.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A Post", info.Title)
	assert.Equal(t, server.URL+"/post", info.URL)

	text, err := doc.ExtractText(context.Background(), ModePage)
	require.NoError(t, err)
	assert.Equal(t, "Words", text)

	_, err = FetchHTML(context.Background(), server.Client(), server.URL+"/missing")
	assert.Error(t, err)
}
