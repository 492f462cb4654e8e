package handlers

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)
}

// renderContent renders a message payload as HTML. Text goes through markdown with raw HTML disabled; attachments
// render as a link to the stored file.
func (m Main) renderContent(content models.Content) (template.HTML, error) {
	switch content.Type {
	case models.ContentTypeText:
		return m.renderMarkdown(content.Text)
	case models.ContentTypeImage, models.ContentTypeAudio:
		var buf bytes.Buffer
		if err := m.templates.ExecuteTemplate(&buf, "attachment", content); err != nil {
			return "", fmt.Errorf("failed to execute attachment template: %w", err)
		}
		return template.HTML(buf.String()), nil
	default:
		return "", fmt.Errorf("unknown content type %q", content.Type)
	}
}

func (m Main) renderMarkdown(text string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := m.markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	// goldmark escapes raw HTML unless html.WithUnsafe is set.
	return template.HTML(buf.String()), nil
}
