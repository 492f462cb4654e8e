package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MegaGrindStone/chat-web-ui/internal/conversation"
	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for real-time updates.
const (
	messagesSSEType = "messages"
	doneSSEType     = "done"
	errorSSEType    = "error"
)

// HandleChats appends the user's message to the caller's conversation and starts streaming the assistant's
// answer. It accepts a "message" form field, or an "attachment" field holding the reference of a previously
// uploaded image, plus optional "model" and "max_tokens" fields.
//
// The model and budget are validated before anything is appended, so a rejected request leaves the conversation
// untouched. The handler responds with the user message and a loading assistant message; the assistant text is
// then published on the stream's SSE topic as it arrives.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, conv, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to load session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	content, err := m.formContent(r)
	if err != nil {
		m.logger.Error("Invalid message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	modelID, maxTokens, err := m.formBudget(r)
	if err != nil {
		m.logger.Error("Invalid budget", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	release, err := conv.Begin()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	if !m.sessions.allow(sessionID) {
		release()
		m.logger.Warn("Rate limit exceeded", slog.String("sessionID", sessionID))
		http.Error(w, "Too many requests, please wait a moment", http.StatusTooManyRequests)
		return
	}

	req, userMsg, err := m.appendAndBuild(r.Context(), sessionID, conv, content, modelID, maxTokens)
	if err != nil {
		release()
		m.logger.Error("Failed to prepare request",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	streamID := uuid.New().String()
	m.streams.update(streamID, streamState{})

	go m.chat(sessionID, streamID, conv, req, release)

	userContent, err := m.renderContent(userMsg.Content)
	if err != nil {
		m.logger.Error("Failed to render contents",
			slog.String("messageID", userMsg.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	err = m.templates.ExecuteTemplate(w, "user_message", message{
		ID:             userMsg.ID,
		Role:           string(userMsg.Role),
		Content:        userContent,
		Timestamp:      userMsg.Timestamp,
		StreamingState: "ended",
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = m.templates.ExecuteTemplate(w, "ai_message", message{
		ID:             streamID,
		Role:           string(models.RoleAssistant),
		Timestamp:      time.Now(),
		StreamingState: "loading",
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) formContent(r *http.Request) (models.Content, error) {
	if ref := r.FormValue("attachment"); ref != "" {
		attachment, _, err := m.store.Attachment(r.Context(), ref)
		if err != nil {
			return models.Content{}, fmt.Errorf("%w: unknown attachment %s", conversation.ErrInvalidInput, ref)
		}
		return models.Content{
			Type:       models.ContentTypeImage,
			Attachment: attachment,
		}, nil
	}

	content := models.TextContent(r.FormValue("message"))
	if content.IsEmpty() {
		return models.Content{}, conversation.ErrInvalidInput
	}
	return content, nil
}

func (m Main) formBudget(r *http.Request) (string, int, error) {
	modelID := r.FormValue("model")
	if modelID == "" {
		modelID = m.options.DefaultModel
	}

	var maxTokens int
	if v := r.FormValue("max_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", 0, &conversation.ConfigError{Field: "max_tokens", Reason: fmt.Sprintf("%q is not a number", v)}
		}
		maxTokens = n
	} else if info, ok := m.options.Catalog.Lookup(modelID); ok {
		maxTokens = m.options.Catalog.DefaultBudget(info)
	}

	if _, err := conversation.ValidateBudget(m.options.Catalog, modelID, maxTokens); err != nil {
		return "", 0, err
	}
	return modelID, maxTokens, nil
}

func (m Main) appendAndBuild(
	ctx context.Context,
	sessionID string,
	conv *conversation.Conversation,
	content models.Content,
	modelID string,
	maxTokens int,
) (models.CompletionRequest, models.Message, error) {
	userMsg, err := conv.AppendUser(content)
	if err != nil {
		return models.CompletionRequest{}, models.Message{}, err
	}
	if err := m.store.AddMessage(ctx, sessionID, userMsg); err != nil {
		conv.Discard(userMsg.ID)
		return models.CompletionRequest{}, models.Message{}, fmt.Errorf("failed to add user message: %w", err)
	}

	req, err := conversation.BuildRequest(ctx, conv.Messages(), m.options.Catalog, modelID, maxTokens, m.store)
	if err != nil {
		return models.CompletionRequest{}, models.Message{}, err
	}
	return req, userMsg, nil
}

// chat streams the completion for req into conv, publishing the rendered text on the stream's topic after every
// fragment. Only a fully folded answer is appended and stored.
func (m Main) chat(
	sessionID, streamID string,
	conv *conversation.Conversation,
	req models.CompletionRequest,
	release func(),
) {
	defer release()

	topic := messageIDTopic(streamID)
	logger := m.logger.With(slog.String("sessionID", sessionID), slog.String("streamID", streamID))

	msg, err := conv.Send(context.Background(), m.completer, req, func(acc *conversation.Accumulator) {
		rc, err := m.renderMarkdown(acc.Text())
		if err != nil {
			logger.Error("Failed to render contents", slog.String(errLoggerKey, err.Error()))
			return
		}
		m.streams.update(streamID, streamState{HTML: string(rc)})
		m.publish(logger, messagesSSEType, string(rc), topic)
	})
	if err != nil {
		logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
		m.fail(logger, streamID, err)
		return
	}

	if err := m.store.AddMessage(context.Background(), sessionID, msg); err != nil {
		logger.Error("Failed to add AI message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
	}

	rc, err := m.renderContent(msg.Content)
	if err != nil {
		logger.Error("Failed to render contents", slog.String(errLoggerKey, err.Error()))
		m.fail(logger, streamID, err)
		return
	}
	m.streams.update(streamID, streamState{HTML: string(rc), Done: true})
	m.publish(logger, doneSSEType, string(rc), topic)
}

// fail ends a stream with an error state, which also schedules its removal from the registry.
func (m Main) fail(logger *slog.Logger, streamID string, err error) {
	m.streams.update(streamID, streamState{Error: err.Error()})
	m.publish(logger, errorSSEType, err.Error(), messageIDTopic(streamID))
}

func (m Main) publish(logger *slog.Logger, typ, data, topic string) {
	msg := sse.Message{Type: sse.Type(typ)}
	// SSE requires at least one data line, even for an empty answer.
	msg.AppendData(data)
	if err := m.sseSrv.Publish(&msg, topic); err != nil {
		logger.Error("Failed to publish message", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleStream reports the latest state of a stream, for subscribers that connected after it started.
func (m Main) HandleStream(w http.ResponseWriter, r *http.Request) {
	st, ok := m.streams.get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := writeJSON(w, st); err != nil {
		m.logger.Error("Failed to write stream state", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleSSE serves the server-sent events subscriptions.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func statusFor(err error) int {
	var cfgErr *conversation.ConfigError
	switch {
	case errors.Is(err, conversation.ErrInvalidInput), errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrStreamInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
