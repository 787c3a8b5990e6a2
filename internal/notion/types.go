package notion

import (
	"encoding/json"
	"fmt"
	"time"
)

// Text is the text payload of a rich text object.
type Text struct {
	Content string `json:"content"`
}

// RichText is a Notion rich text object. Requests set Text; responses
// additionally carry PlainText.
type RichText struct {
	Type      string `json:"type,omitempty"`
	Text      *Text  `json:"text,omitempty"`
	PlainText string `json:"plain_text,omitempty"`
}

// NewText returns a plain text rich text object.
func NewText(content string) RichText {
	return RichText{Type: "text", Text: &Text{Content: content}}
}

// Icon is a page or database icon. Only emoji icons carry Emoji.
type Icon struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji,omitempty"`
}

// Database is the subset of a database object the clipper reads.
type Database struct {
	Object         string     `json:"object"`
	ID             string     `json:"id"`
	Title          []RichText `json:"title"`
	Icon           *Icon      `json:"icon"`
	LastEditedTime time.Time  `json:"last_edited_time"`
}

// SearchFilter restricts search results by object type.
type SearchFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// SearchSort orders search results by a timestamp.
type SearchSort struct {
	Direction string `json:"direction"`
	Timestamp string `json:"timestamp"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query       string        `json:"query"`
	Filter      *SearchFilter `json:"filter,omitempty"`
	Sort        *SearchSort   `json:"sort,omitempty"`
	StartCursor string        `json:"start_cursor,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
}

// SearchResponse is a page of search results filtered to databases.
type SearchResponse struct {
	Results    []Database `json:"results"`
	NextCursor *string    `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
}

// Parent locates a new page.
type Parent struct {
	DatabaseID string `json:"database_id"`
}

// SelectOption names a select or multi-select option.
type SelectOption struct {
	Name string `json:"name"`
}

// DateValue is the value of a date property.
type DateValue struct {
	Start string `json:"start"`
}

// PropertyValue is one typed page property value. It marshals to the
// {"<type>": <value>} shape the pages endpoint expects.
type PropertyValue struct {
	Type        string
	Title       []RichText
	RichText    []RichText
	Select      *SelectOption
	MultiSelect []SelectOption
	URL         string
	Date        *DateValue
}

// TitleProperty returns a title property value.
func TitleProperty(text string) PropertyValue {
	return PropertyValue{Type: "title", Title: []RichText{NewText(text)}}
}

// RichTextProperty returns a rich_text property value.
func RichTextProperty(text string) PropertyValue {
	return PropertyValue{Type: "rich_text", RichText: []RichText{NewText(text)}}
}

// SelectProperty returns a select property value.
func SelectProperty(name string) PropertyValue {
	return PropertyValue{Type: "select", Select: &SelectOption{Name: name}}
}

// MultiSelectProperty returns a multi_select property value. An empty names
// list marshals to an empty array.
func MultiSelectProperty(names ...string) PropertyValue {
	opts := make([]SelectOption, 0, len(names))
	for _, n := range names {
		opts = append(opts, SelectOption{Name: n})
	}
	return PropertyValue{Type: "multi_select", MultiSelect: opts}
}

// URLProperty returns a url property value.
func URLProperty(u string) PropertyValue {
	return PropertyValue{Type: "url", URL: u}
}

// DateProperty returns a date property value starting at t.
func DateProperty(t time.Time) PropertyValue {
	return PropertyValue{Type: "date", Date: &DateValue{Start: t.Format(time.RFC3339Nano)}}
}

// MarshalJSON implements json.Marshaler.
func (p PropertyValue) MarshalJSON() ([]byte, error) {
	var v any
	switch p.Type {
	case "title":
		v = nonNil(p.Title)
	case "rich_text":
		v = nonNil(p.RichText)
	case "select":
		v = p.Select
	case "multi_select":
		v = nonNil(p.MultiSelect)
	case "url":
		if p.URL == "" {
			v = nil
		} else {
			v = p.URL
		}
	case "date":
		v = p.Date
	default:
		return nil, fmt.Errorf("unsupported property type %q", p.Type)
	}
	return json.Marshal(map[string]any{p.Type: v})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// CreatePageRequest is the body of POST /pages.
type CreatePageRequest struct {
	Parent     Parent                   `json:"parent"`
	Properties map[string]PropertyValue `json:"properties"`
}

// Page is the subset of a page object returned on creation.
type Page struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	URL    string `json:"url"`
}

// ParagraphBlock is the payload of a paragraph block.
type ParagraphBlock struct {
	RichText []RichText `json:"rich_text"`
}

// Block is a content block appended to a page.
type Block struct {
	Object    string          `json:"object"`
	Type      string          `json:"type"`
	Paragraph *ParagraphBlock `json:"paragraph,omitempty"`
}

// NewParagraph returns a paragraph block holding text.
func NewParagraph(text string) Block {
	return Block{
		Object:    "block",
		Type:      "paragraph",
		Paragraph: &ParagraphBlock{RichText: []RichText{NewText(text)}},
	}
}

// AppendBlockChildrenRequest is the body of PATCH /blocks/{id}/children.
type AppendBlockChildrenRequest struct {
	Children []Block `json:"children"`
}

// errorBody is Notion's error response shape.
type errorBody struct {
	Object  string `json:"object"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
