package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/florianilch/notion-clipper/internal/clipping"
	apperrors "github.com/florianilch/notion-clipper/internal/errors"
	"github.com/florianilch/notion-clipper/internal/extract"
	"github.com/florianilch/notion-clipper/internal/prefs"
)

const (
	// maxContentSource is how much captured text feeds the content label.
	maxContentSource = 2000

	untitled           = "Untitled"
	placeholderContent = "Page content"
)

// SaveNoteRequest is the data of SAVE_NOTE.
type SaveNoteRequest struct {
	Mode            string `json:"mode"`
	Tags            string `json:"tags"`
	GenerateSummary bool   `json:"generateSummary"`
	DatabaseID      string `json:"databaseId"`

	// Quick saves capture the selection regardless of Mode and do not
	// update the remembered save options.
	Quick bool `json:"quick"`

	Page *PagePayload `json:"page"`
}

// PagePayload carries what the caller captured from the page. When it holds
// no text, HTML is parsed, and failing that URL is fetched.
type PagePayload struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Selection string `json:"selection"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
}

func (s *Service) saveNote(ctx context.Context, req SaveNoteRequest) (Result, error) {
	if _, err := s.requireCredential(ctx); err != nil {
		return Result{}, err
	}

	mode, err := extract.ParseMode(req.Mode)
	if err != nil {
		return Result{}, apperrors.NewInvalidRequest(err.Error())
	}

	databaseID, err := s.targetDatabase(ctx, req.DatabaseID)
	if err != nil {
		return Result{}, err
	}

	src, err := s.source(ctx, req.Page)
	if err != nil {
		return Result{}, err
	}

	content, blocks, err := capture(ctx, src, mode, req.Quick)
	if err != nil {
		return Result{}, err
	}

	info, err := src.Info(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reading page info: %w", err)
	}
	title := strings.TrimSpace(info.Title)
	if title == "" {
		title = untitled
	}

	var summary string
	if req.GenerateSummary {
		summary = s.summarize(content)
	}

	pageID, err := s.Clipper.Submit(ctx, clipping.Clipping{
		Title:              title,
		URL:                info.URL,
		ContentSummaryText: clipping.Truncate(content, maxContentSource),
		Tags:               SplitTags(req.Tags),
		SavedAt:            s.now(),
		Summary:            summary,
		FullTextBlocks:     blocks,
	}, databaseID)
	if err != nil {
		return Result{}, err
	}

	if !req.Quick {
		last := prefs.LastSave{Tags: req.Tags, Mode: string(mode), GenerateSummary: req.GenerateSummary}
		if err := s.Prefs.SetLastSave(ctx, last); err != nil {
			slog.WarnContext(ctx, "failed to remember save options", "error", err)
		}
	}

	return Result{Success: true, PageID: pageID}, nil
}

func (s *Service) targetDatabase(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}

	target, err := s.Prefs.Target(ctx)
	if err != nil {
		return "", fmt.Errorf("loading target database: %w", err)
	}
	if target == nil || target.DatabaseID == "" {
		return "", apperrors.NewNoTargetSelected()
	}
	return target.DatabaseID, nil
}

func (s *Service) source(ctx context.Context, p *PagePayload) (extract.Source, error) {
	if p == nil {
		return nil, apperrors.NewInvalidRequest("page is required")
	}

	switch {
	case p.Selection != "" || p.Text != "":
		return &extract.Static{Title: p.Title, URL: p.URL, Selection: p.Selection, Text: p.Text}, nil
	case p.HTML != "":
		doc, err := extract.ParseHTML(strings.NewReader(p.HTML), p.URL)
		if err != nil {
			return nil, apperrors.NewInvalidRequest(err.Error())
		}
		return withTitle(doc, p.Title), nil
	case p.URL != "" && s.fetch != nil:
		src, err := s.fetch(ctx, p.URL)
		if err != nil {
			return nil, fmt.Errorf("loading page: %w", err)
		}
		return withTitle(src, p.Title), nil
	default:
		return &extract.Static{Title: p.Title, URL: p.URL}, nil
	}
}

// capture extracts the clipping text. Selection captures fail when nothing
// is selected unless the save is quick and in page mode.
func capture(ctx context.Context, src extract.Source, mode extract.Mode, quick bool) (string, []string, error) {
	if mode == extract.ModeSelection || quick {
		content, err := src.ExtractText(ctx, extract.ModeSelection)
		if err != nil {
			return "", nil, fmt.Errorf("extracting selection: %w", err)
		}
		if content == "" {
			if mode == extract.ModeSelection {
				return "", nil, apperrors.NewNoContentSelected()
			}
			return "", nil, nil
		}
		return content, []string{content}, nil
	}

	content, err := src.ExtractText(ctx, extract.ModePage)
	if err != nil {
		return "", nil, fmt.Errorf("extracting page text: %w", err)
	}
	if content == "" {
		content = placeholderContent
	}
	return content, []string{content}, nil
}

// SplitTags splits a comma-separated tag list, trimming whitespace and
// dropping empty and repeated tags.
func SplitTags(s string) []string {
	var tags []string
	seen := make(map[string]bool)
	for t := range strings.SplitSeq(s, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}

type titled struct {
	extract.Source
	title string
}

func (t titled) Info(ctx context.Context) (extract.PageInfo, error) {
	info, err := t.Source.Info(ctx)
	if err != nil {
		return info, err
	}
	info.Title = t.title
	return info, nil
}

// withTitle overrides the source's title when the caller supplied one.
func withTitle(src extract.Source, title string) extract.Source {
	if title == "" {
		return src
	}
	return titled{Source: src, title: title}
}
