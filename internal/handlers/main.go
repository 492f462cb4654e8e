package handlers

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"time"

	chatwebui "github.com/MegaGrindStone/chat-web-ui"
	"github.com/MegaGrindStone/chat-web-ui/internal/conversation"
	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// Transcriber turns recorded voice input into text.
type Transcriber interface {
	Transcribe(ctx context.Context, name string, audio io.Reader) (string, error)
}

// Store defines the interface for session persistence. It keeps every session's transcript in append order and
// the attachments referenced from it. Resolve loads an attachment's bytes for a completion request.
type Store interface {
	AddSession(ctx context.Context, session models.Session) error

	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AddMessage(ctx context.Context, sessionID string, message models.Message) error
	ClearMessages(ctx context.Context, sessionID string) error

	AddAttachment(ctx context.Context, attachment models.Attachment, data []byte) (models.Attachment, error)
	Attachment(ctx context.Context, ref string) (models.Attachment, []byte, error)
	Resolve(ctx context.Context, attachment models.Attachment) ([]byte, error)
}

// RateLimit bounds how many sends a session may issue over a period. A zero Requests disables the limit.
type RateLimit struct {
	Requests int
	Per      time.Duration
}

// Options carries the configuration shared by every session.
type Options struct {
	Catalog         models.Catalog
	DefaultModel    string
	PromptTemplates map[string]string
	RateLimit       RateLimit
}

// Main handles the core functionality of the chat application, managing server-sent events, HTML templates,
// the per-session conversations and the interactions between the completion provider and the Store.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	completer   conversation.Completer
	transcriber Transcriber
	store       Store

	options  Options
	sessions *sessionRegistry
	streams  *streamRegistry

	logger *slog.Logger
}

const errLoggerKey = "err"

// NewMain creates a new Main instance with the provided provider and Store implementations. transcriber may be
// nil, in which case voice uploads are rejected. It initializes the SSE server and parses the required HTML
// templates from the embedded filesystem.
func NewMain(
	completer conversation.Completer,
	transcriber Transcriber,
	store Store,
	options Options,
	logger *slog.Logger,
) (Main, error) {
	if len(options.Catalog.Models) == 0 {
		return Main{}, fmt.Errorf("model catalog is empty")
	}
	if options.DefaultModel == "" {
		options.DefaultModel = options.Catalog.IDs()[0]
	}
	if _, ok := options.Catalog.Lookup(options.DefaultModel); !ok {
		return Main{}, fmt.Errorf("default model %q is not in the catalog", options.DefaultModel)
	}

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		chatwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				// We create a message-specific topic if the client requests updates for a particular stream
				streamID := s.Req.URL.Query().Get("message_id")
				if streamID != "" {
					topics = append(topics, messageIDTopic(streamID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:   tmpl,
		markdown:    newMarkdown(),
		completer:   completer,
		transcriber: transcriber,
		store:       store,
		options:     options,
		sessions:    newSessionRegistry(store, options.RateLimit),
		streams:     newStreamRegistry(),
		logger:      logger.With(slog.String("module", "handlers")),
	}, nil
}

func messageIDTopic(streamID string) string {
	return fmt.Sprintf("message-%s", streamID)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all connected
// clients and waits up to 5 seconds for connections to terminate. After the timeout, any remaining connections
// are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
