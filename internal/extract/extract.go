// Package extract converts selected element fragments to markdown for
// consumption by tools and hosts that want text rather than DOM handles.
package extract

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Extractor sanitizes HTML fragments and renders them as markdown.
// Safe for concurrent use.
type Extractor struct {
	policy    *bluemonday.Policy
	converter *htmltomarkdown.Converter
}

// New creates an Extractor with the UGC sanitization policy and the
// commonmark + table conversion plugins.
func New() *Extractor {
	return &Extractor{
		policy: bluemonday.UGCPolicy(),
		converter: htmltomarkdown.NewConverter(
			htmltomarkdown.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown sanitizes fragment and converts it to markdown. pageURL resolves
// relative links; it may be empty. An empty or script-only fragment yields
// an empty string, not an error.
func (e *Extractor) Markdown(fragment, pageURL string) (string, error) {
	clean := e.policy.Sanitize(fragment)
	if strings.TrimSpace(clean) == "" {
		return "", nil
	}
	md, err := e.converter.ConvertString(clean, htmltomarkdown.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("extract: convert: %w", err)
	}
	return strings.TrimSpace(md), nil
}
