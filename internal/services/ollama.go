package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the Completer interface for interacting with Ollama's language models.
// It manages connections to an Ollama server instance and handles streaming chat completions.
type Ollama struct {
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL. The host parameter should be a valid URL
// pointing to an Ollama server.
func NewOllama(host, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

func ollamaMessages(messages []models.WireMessage) ([]api.Message, error) {
	msgs := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		m := api.Message{
			Role:    string(msg.Role),
			Content: msg.Text,
		}
		if msg.Payload != nil {
			if msg.Payload.Type != models.ContentTypeImage {
				return nil, fmt.Errorf("attachment of type %s is not supported", msg.Payload.Type)
			}
			m.Images = []api.ImageData{msg.Payload.Data}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Stream implements the Completer interface by streaming responses from the Ollama model. The callback based
// client is adapted into a pull sequence; breaking out of the sequence cancels the underlying request.
func (o Ollama) Stream(ctx context.Context, req models.CompletionRequest) iter.Seq2[models.Delta, error] {
	return func(yield func(models.Delta, error) bool) {
		msgs, err := ollamaMessages(req.Messages)
		if err != nil {
			yield(models.Delta{}, fmt.Errorf("error creating ollama messages: %w", err))
			return
		}
		if o.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, api.Message{
				Role:    string(models.RoleSystem),
				Content: o.systemPrompt,
			})
		}

		t := true
		chatReq := api.ChatRequest{
			Model:    req.Model,
			Messages: msgs,
			Stream:   &t,
			Options: map[string]any{
				"num_predict": req.MaxTokens,
			},
		}

		o.logger.Debug("Request",
			slog.String("model", req.Model),
			slog.Int("maxTokens", req.MaxTokens),
			slog.Int("messages", len(msgs)))

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &chatReq, func(res api.ChatResponse) error {
			if stopped {
				return nil
			}
			if !yield(models.Delta{Text: res.Message.Content}, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped && errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Delta{}, fmt.Errorf("error sending request: %w", err))
		}
	}
}
