// Package markdown renders page bodies from markdown to sanitized HTML.
package markdown

import (
	"bytes"
	"fmt"

	"go-treewiki/internal/config"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts markdown to HTML. It is safe for concurrent use.
type Renderer struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// New creates a Renderer. Strikethrough is always enabled; the remaining
// extensions follow cfg.
func New(cfg config.MarkdownConfig) *Renderer {
	extensions := []goldmark.Extender{extension.Strikethrough}
	if cfg.Tables {
		extensions = append(extensions, extension.Table)
	}
	if cfg.Linkify {
		extensions = append(extensions, extension.Linkify)
	}

	opts := []goldmark.Option{
		goldmark.WithExtensions(extensions...),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	}
	if cfg.HardWraps {
		opts = append(opts, goldmark.WithRendererOptions(html.WithHardWraps()))
	}

	md := goldmark.New(opts...)

	// UGCPolicy allows basic formatting like links, lists and tables while
	// stripping scripts and event handlers from user-written pages.
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6")

	return &Renderer{md: md, sanitizer: sanitizer}
}

// Render converts src to sanitized HTML.
func (r *Renderer) Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return r.sanitizer.Sanitize(buf.String()), nil
}
