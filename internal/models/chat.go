package models

import (
	"fmt"
	"time"
)

// Session identifies a browser session owning exactly one conversation.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// Message represents one turn of a conversation. It contains the participant's role, a single content payload
// and the time the message was appended. The timestamp is assigned once and never mutated.
type Message struct {
	ID        string
	Role      Role
	Content   Content
	Timestamp time.Time
}

// Content is a message payload with its type. Text and attachments are kept distinct so the presentation layer
// can render them differently.
type Content struct {
	Type ContentType

	// Text would be filled if Type is ContentTypeText.
	Text string

	// Attachment would be filled if Type is ContentTypeImage or ContentTypeAudio.
	Attachment Attachment
}

// Attachment is an opaque reference to a binary payload kept outside the transcript.
type Attachment struct {
	Ref      string
	MIMEType string
	Name     string
}

// Role represents the role of a message participant.
type Role string

// ContentType represents the type of content in messages.
type ContentType string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents a message folded from a streamed completion.
	RoleAssistant Role = "assistant"
	// RoleSystem is only produced by providers that prepend a configured system prompt.
	RoleSystem Role = "system"

	// ContentTypeText represents text content.
	ContentTypeText ContentType = "text"
	// ContentTypeImage represents an image attachment.
	ContentTypeImage ContentType = "image"
	// ContentTypeAudio represents an audio attachment.
	ContentTypeAudio ContentType = "audio"
)

// TextContent is a shorthand for a text payload.
func TextContent(text string) Content {
	return Content{
		Type: ContentTypeText,
		Text: text,
	}
}

// IsEmpty reports whether the content carries nothing that could be sent to a model.
func (c Content) IsEmpty() bool {
	switch c.Type {
	case ContentTypeText:
		return c.Text == ""
	case ContentTypeImage, ContentTypeAudio:
		return c.Attachment.Ref == ""
	default:
		return true
	}
}

// String renders the content as plain text. Attachments render as a short descriptor instead of their payload.
func (c Content) String() string {
	switch c.Type {
	case ContentTypeText:
		return c.Text
	case ContentTypeImage, ContentTypeAudio:
		name := c.Attachment.Name
		if name == "" {
			name = c.Attachment.Ref
		}
		return fmt.Sprintf("[%s: %s]", c.Type, name)
	default:
		return ""
	}
}
