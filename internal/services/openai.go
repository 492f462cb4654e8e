package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the Completer interface for any OpenAI-compatible chat completion API.
// Groq is the default endpoint.
type OpenAI struct {
	systemPrompt       string
	transcriptionModel string

	client *goopenai.Client

	logger *slog.Logger
}

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// NewOpenAI creates a new OpenAI instance with the specified API key, base URL and system prompt. An empty base URL
// selects Groq. transcriptionModel is used for voice input and may be empty to disable it.
func NewOpenAI(apiKey, baseURL, systemPrompt, transcriptionModel string, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = GroqBaseURL
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return OpenAI{
		systemPrompt:       systemPrompt,
		transcriptionModel: transcriptionModel,
		client:             goopenai.NewClientWithConfig(cfg),
		logger:             logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(messages []models.WireMessage) ([]goopenai.ChatCompletionMessage, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Payload == nil {
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Text,
			})
			continue
		}

		if msg.Payload.Type != models.ContentTypeImage {
			return nil, fmt.Errorf("attachment of type %s is not supported", msg.Payload.Type)
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role: string(msg.Role),
			MultiContent: []goopenai.ChatMessagePart{
				{
					Type: goopenai.ChatMessagePartTypeImageURL,
					ImageURL: &goopenai.ChatMessageImageURL{
						URL:    dataURL(msg.Payload),
						Detail: goopenai.ImageURLDetailAuto,
					},
				},
			},
		})
	}
	return msgs, nil
}

func dataURL(p *models.Payload) string {
	return fmt.Sprintf("data:%s;base64,%s", p.MIMEType, base64.StdEncoding.EncodeToString(p.Data))
}

// Stream is a wrapper around the OpenAI streaming chat completion API.
func (o OpenAI) Stream(ctx context.Context, req models.CompletionRequest) iter.Seq2[models.Delta, error] {
	return func(yield func(models.Delta, error) bool) {
		msgs, err := openAIMessages(req.Messages)
		if err != nil {
			yield(models.Delta{}, fmt.Errorf("error creating openai messages: %w", err))
			return
		}

		if o.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: o.systemPrompt,
			})
		}

		o.logger.Debug("Request",
			slog.String("model", req.Model),
			slog.Int("maxTokens", req.MaxTokens),
			slog.Int("messages", len(msgs)))

		stream, err := o.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
			Model:     req.Model,
			Messages:  msgs,
			MaxTokens: req.MaxTokens,
			Stream:    true,
		})
		if err != nil {
			yield(models.Delta{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield(models.Delta{}, fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if !yield(models.Delta{Text: response.Choices[0].Delta.Content}, nil) {
				return
			}
		}
	}
}

// Transcribe turns a recorded voice prompt into text using the configured transcription model.
func (o OpenAI) Transcribe(ctx context.Context, name string, audio io.Reader) (string, error) {
	if o.transcriptionModel == "" {
		return "", errors.New("transcription model is not configured")
	}

	resp, err := o.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    o.transcriptionModel,
		FilePath: name,
		Reader:   audio,
	})
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return resp.Text, nil
}
