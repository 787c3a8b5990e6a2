package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/florianilch/notion-clipper/internal/clipping"
)

const maxDocumentBytes = 5 << 20

// Document is a Source backed by a parsed HTML document. It has no notion
// of a selection, so selection captures are always empty.
type Document struct {
	url   string
	title string
	root  *html.Node
}

var _ Source = (*Document)(nil)

// ParseHTML parses an HTML document served from pageURL.
func ParseHTML(r io.Reader, pageURL string) (*Document, error) {
	root, err := html.Parse(io.LimitReader(r, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	doc := &Document{url: pageURL, root: root}
	if t := find(root, atom.Title); t != nil {
		doc.title = strings.Join(strings.Fields(textOf(t)), " ")
	}
	return doc, nil
}

// FetchHTML downloads pageURL and parses the response as HTML.
func FetchHTML(ctx context.Context, client *http.Client, pageURL string) (*Document, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", pageURL, resp.Status)
	}

	return ParseHTML(resp.Body, resp.Request.URL.String())
}

// Info implements Source.
func (d *Document) Info(context.Context) (PageInfo, error) {
	return PageInfo{Title: d.title, URL: d.url}, nil
}

// ExtractText implements Source. Page captures prefer the first article
// element, then main, then body.
func (d *Document) ExtractText(_ context.Context, mode Mode) (string, error) {
	switch mode {
	case ModeSelection:
		return "", nil
	case ModePage:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}

	content := d.mainContent()
	if content == nil {
		return "", nil
	}
	return clipping.Truncate(renderText(content), MaxPageText), nil
}

func (d *Document) mainContent() *html.Node {
	for _, a := range []atom.Atom{atom.Article, atom.Main, atom.Body} {
		if n := find(d.root, a); n != nil {
			return n
		}
	}
	return nil
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Head:     true,
}

// Paragraph elements are separated by a blank line, line elements by a
// single newline.
var (
	paragraph = map[atom.Atom]bool{
		atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
		atom.Header: true, atom.Footer: true, atom.Aside: true, atom.Nav: true,
		atom.Blockquote: true, atom.Pre: true, atom.Figure: true, atom.Table: true,
		atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Main: true,
		atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	}
	line = map[atom.Atom]bool{
		atom.Li: true, atom.Tr: true, atom.Dt: true, atom.Dd: true,
		atom.Figcaption: true, atom.Hr: true,
	}
)

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\r\n]+`)
	excessGaps = regexp.MustCompile(`\n{3,}`)
)

// renderText approximates the rendered text of n: whitespace inside text
// runs collapses, block elements break lines, and hidden elements are dropped.
func renderText(n *html.Node) string {
	r := &textRenderer{}
	r.walk(n, false)

	lines := strings.Split(r.sb.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(excessGaps.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

type textRenderer struct {
	sb       strings.Builder
	trailing int // newlines at the end of sb
}

func (r *textRenderer) walk(n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		r.text(n.Data, pre)
		return
	case html.ElementNode:
		if skipped[n.DataAtom] || hidden(n) {
			return
		}
		if n.DataAtom == atom.Br {
			r.sb.WriteByte('\n')
			r.trailing++
			return
		}
	}

	brk := 0
	switch {
	case paragraph[n.DataAtom]:
		brk = 2
	case line[n.DataAtom]:
		brk = 1
	}

	r.breakLines(brk)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c, pre || n.DataAtom == atom.Pre)
	}
	r.breakLines(brk)
}

func (r *textRenderer) text(s string, pre bool) {
	if !pre {
		s = spaceRun.ReplaceAllString(s, " ")
		if s == " " && (r.trailing > 0 || r.sb.Len() == 0) {
			return
		}
	}
	if s == "" {
		return
	}

	r.sb.WriteString(s)
	tail := len(s) - len(strings.TrimRight(s, "\n"))
	if tail == len(s) {
		r.trailing += tail
	} else {
		r.trailing = tail
	}
}

// breakLines ensures the output ends with at least n newlines.
func (r *textRenderer) breakLines(n int) {
	if r.sb.Len() == 0 {
		return
	}
	for r.trailing < n {
		r.sb.WriteByte('\n')
		r.trailing++
	}
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		}
	}
	return false
}
