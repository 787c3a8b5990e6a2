// Package clipping maps captured page content onto the destination database
// schema and submits it through the Notion API.
package clipping

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/florianilch/notion-clipper/internal/notion"
)

// Property names expected in the destination database.
const (
	PropTitle   = "Title"
	PropContent = "Content"
	PropURL     = "URL"
	PropTags    = "Tags"
	PropSavedAt = "Saved At"
	PropSummary = "Summary"
)

const (
	// MaxContentLabel bounds the single-line content label.
	MaxContentLabel = 100

	// MaxRichText is Notion's limit for one rich text content string.
	MaxRichText = 2000

	// MaxBlocks is the most children Notion accepts in one append call.
	MaxBlocks = 100

	// DefaultContentLabel is used when the captured text is empty.
	DefaultContentLabel = "Web Content"
)

// Clipping is one captured unit of page content destined for one page.
type Clipping struct {
	Title              string    `validate:"required"`
	URL                string    `validate:"omitempty,url"`
	ContentSummaryText string    `validate:"-"`
	Tags               []string  `validate:"dive,required,excludesall=0x2C"`
	SavedAt            time.Time `validate:"required"`
	Summary            string    `validate:"-"`
	FullTextBlocks     []string  `validate:"-"`
}

// Properties returns the typed page properties for c. Text values are
// truncated to the limits Notion enforces.
func (c *Clipping) Properties() map[string]notion.PropertyValue {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	props := map[string]notion.PropertyValue{
		PropTitle:   notion.TitleProperty(Truncate(c.Title, MaxRichText)),
		PropContent: notion.SelectProperty(ContentLabel(c.ContentSummaryText)),
		PropURL:     notion.URLProperty(c.URL),
		PropTags:    notion.MultiSelectProperty(tags...),
		PropSavedAt: notion.DateProperty(c.SavedAt),
	}
	if c.Summary != "" {
		props[PropSummary] = notion.RichTextProperty(Truncate(c.Summary, MaxRichText))
	}
	return props
}

// ContentLabel condenses text into a single-line select option name of at
// most MaxContentLabel characters. Commas are not allowed in select options.
func ContentLabel(text string) string {
	label := strings.Join(strings.Fields(strings.ReplaceAll(text, ",", " ")), " ")
	label = Truncate(label, MaxContentLabel)
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultContentLabel
	}
	return label
}

var blankLine = regexp.MustCompile(`\n\s*\n`)

// Paragraphs splits each block on blank lines, trims and truncates every
// paragraph to MaxRichText characters, drops empty ones, and keeps at most
// the first MaxBlocks in order.
func Paragraphs(blocks []string) []string {
	var out []string
	for _, block := range blocks {
		block = strings.ReplaceAll(block, "\r\n", "\n")
		for _, p := range blankLine.Split(block, -1) {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			out = append(out, Truncate(p, MaxRichText))
			if len(out) == MaxBlocks {
				return out
			}
		}
	}
	return out
}

// Truncate cuts s to at most n characters without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
