package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Search runs POST /search.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	raw, err := c.Request(ctx, http.MethodPost, "/search", req)
	if err != nil {
		return nil, err
	}

	var resp SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &resp, nil
}

// CreatePage runs POST /pages.
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (*Page, error) {
	raw, err := c.Request(ctx, http.MethodPost, "/pages", req)
	if err != nil {
		return nil, err
	}

	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decoding page: %w", err)
	}
	if page.ID == "" {
		return nil, errors.New("created page has no id")
	}
	return &page, nil
}

// AppendBlockChildren runs PATCH /blocks/{blockID}/children.
func (c *Client) AppendBlockChildren(ctx context.Context, blockID string, children []Block) error {
	if blockID == "" {
		return errors.New("block id cannot be empty")
	}

	path := "/blocks/" + url.PathEscape(blockID) + "/children"
	_, err := c.Request(ctx, http.MethodPatch, path, AppendBlockChildrenRequest{Children: children})
	return err
}
