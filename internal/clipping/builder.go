package clipping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/florianilch/notion-clipper/internal/errors"
	"github.com/florianilch/notion-clipper/internal/notion"
)

const (
	// DefaultIcon is shown for databases without an emoji icon.
	DefaultIcon = "📝"

	// UntitledTitle is shown for databases without a title.
	UntitledTitle = "Untitled"
)

// DatabaseRef is a read-only projection of a destination database.
type DatabaseRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon"`
}

// API is the subset of the Notion client the builder needs.
type API interface {
	Search(ctx context.Context, req notion.SearchRequest) (*notion.SearchResponse, error)
	CreatePage(ctx context.Context, req notion.CreatePageRequest) (*notion.Page, error)
	AppendBlockChildren(ctx context.Context, blockID string, children []notion.Block) error
}

// Builder lists destination databases and submits clippings.
type Builder struct {
	api      API
	validate *validator.Validate
}

// NewBuilder creates a Builder on top of api.
func NewBuilder(api API) *Builder {
	return &Builder{
		api:      api,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ListDatabases returns the databases shared with the integration whose
// title matches query, most recently edited first.
func (b *Builder) ListDatabases(ctx context.Context, query string) ([]DatabaseRef, error) {
	resp, err := b.api.Search(ctx, notion.SearchRequest{
		Query:  query,
		Filter: &notion.SearchFilter{Property: "object", Value: "database"},
		Sort:   &notion.SearchSort{Direction: "descending", Timestamp: "last_edited_time"},
	})
	if err != nil {
		return nil, fmt.Errorf("searching databases: %w", err)
	}

	refs := make([]DatabaseRef, 0, len(resp.Results))
	for _, db := range resp.Results {
		refs = append(refs, toDatabaseRef(db))
	}
	return refs, nil
}

func toDatabaseRef(db notion.Database) DatabaseRef {
	var title strings.Builder
	for _, rt := range db.Title {
		title.WriteString(rt.PlainText)
	}

	ref := DatabaseRef{ID: db.ID, Title: title.String(), Icon: DefaultIcon}
	if ref.Title == "" {
		ref.Title = UntitledTitle
	}
	if db.Icon != nil && db.Icon.Emoji != "" {
		ref.Icon = db.Icon.Emoji
	}
	return ref
}

// Submit creates a page for c in the database and appends its full text as
// paragraph blocks. It returns the new page's id.
//
// At most MaxBlocks paragraphs are appended; the rest are dropped.
func (b *Builder) Submit(ctx context.Context, c Clipping, databaseID string) (string, error) {
	if databaseID == "" {
		return "", apperrors.NewNoTargetSelected()
	}
	if err := b.validateClipping(&c); err != nil {
		return "", err
	}

	page, err := b.api.CreatePage(ctx, notion.CreatePageRequest{
		Parent:     notion.Parent{DatabaseID: databaseID},
		Properties: c.Properties(),
	})
	if err != nil {
		return "", fmt.Errorf("creating page: %w", err)
	}

	if len(c.FullTextBlocks) == 0 {
		return page.ID, nil
	}

	paragraphs := Paragraphs(c.FullTextBlocks)
	if len(paragraphs) == 0 {
		return page.ID, nil
	}

	blocks := make([]notion.Block, 0, len(paragraphs))
	for _, p := range paragraphs {
		blocks = append(blocks, notion.NewParagraph(p))
	}

	if err := b.api.AppendBlockChildren(ctx, page.ID, blocks); err != nil {
		return "", fmt.Errorf("appending content to page %s: %w", page.ID, err)
	}

	slog.DebugContext(ctx, "clipping submitted", "page_id", page.ID, "blocks", len(blocks))
	return page.ID, nil
}

func (b *Builder) validateClipping(c *Clipping) error {
	err := b.validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.NewInvalidRequest(fmt.Sprintf("invalid clipping: %s failed %q", fe.Namespace(), fe.Tag()))
	}
	return apperrors.NewInvalidRequest(fmt.Sprintf("invalid clipping: %v", err))
}
