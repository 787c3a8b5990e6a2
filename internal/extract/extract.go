// Package extract provides the text capture capability the clipper consumes:
// either the user's selection or a best-effort rendition of the page's main
// content.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/florianilch/notion-clipper/internal/clipping"
)

// Mode selects what text to capture.
type Mode string

const (
	ModeSelection Mode = "selection"
	ModePage      Mode = "page"
)

// MaxPageText caps full-page captures, in characters.
const MaxPageText = 10000

// ErrUnsupportedMode is returned for modes other than selection and page.
var ErrUnsupportedMode = errors.New("unsupported extraction mode")

// ParseMode validates a mode name. An empty name means page.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSelection, ModePage:
		return m, nil
	case "":
		return ModePage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

// PageInfo identifies the page being clipped.
type PageInfo struct {
	Title string
	URL   string
}

// Source is a page the clipper can capture text from.
type Source interface {
	Info(ctx context.Context) (PageInfo, error)
	ExtractText(ctx context.Context, mode Mode) (string, error)
}

// Static is a Source backed by text the caller already captured, such as a
// browser extension's selection and rendered page text.
type Static struct {
	Title     string
	URL       string
	Selection string
	Text      string
}

var _ Source = (*Static)(nil)

// Info implements Source.
func (s *Static) Info(context.Context) (PageInfo, error) {
	return PageInfo{Title: s.Title, URL: s.URL}, nil
}

// ExtractText implements Source.
func (s *Static) ExtractText(_ context.Context, mode Mode) (string, error) {
	switch mode {
	case ModeSelection:
		return strings.TrimSpace(s.Selection), nil
	case ModePage:
		return clipping.Truncate(strings.TrimSpace(s.Text), MaxPageText), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
}
