package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the Completer interface and handles streaming chat completions using Claude models.
type Anthropic struct {
	apiKey       string
	systemPrompt string
	endpoint     string

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified API key and system prompt. An empty endpoint
// selects the public Anthropic API.
func NewAnthropic(apiKey, endpoint, systemPrompt string, logger *slog.Logger) Anthropic {
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	return Anthropic{
		apiKey:       apiKey,
		systemPrompt: systemPrompt,
		endpoint:     endpoint,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "anthropic")),
	}
}

func anthropicMessages(messages []models.WireMessage) ([]anthropicMessage, string, error) {
	var system string
	msgs := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = msg.Text
			continue
		}
		// The API rejects empty text blocks, and an empty assistant answer carries nothing for the model.
		if msg.Text == "" && msg.Payload == nil {
			continue
		}

		content := anthropicContent{
			Type: "text",
			Text: msg.Text,
		}
		if msg.Payload != nil {
			if msg.Payload.Type != models.ContentTypeImage {
				return nil, "", fmt.Errorf("attachment of type %s is not supported", msg.Payload.Type)
			}
			content = anthropicContent{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: msg.Payload.MIMEType,
					Data:      base64.StdEncoding.EncodeToString(msg.Payload.Data),
				},
			}
		}

		// Consecutive turns of the same role are merged since the API requires alternating roles.
		if n := len(msgs); n > 0 && msgs[n-1].Role == string(msg.Role) {
			msgs[n-1].Content = append(msgs[n-1].Content, content)
			continue
		}
		msgs = append(msgs, anthropicMessage{
			Role:    string(msg.Role),
			Content: []anthropicContent{content},
		})
	}
	return msgs, system, nil
}

// Stream streams responses from the Anthropic API for the given request. System messages are sent separately
// and the configured system prompt is used when the request has none.
func (a Anthropic) Stream(ctx context.Context, req models.CompletionRequest) iter.Seq2[models.Delta, error] {
	return func(yield func(models.Delta, error) bool) {
		msgs, system, err := anthropicMessages(req.Messages)
		if err != nil {
			yield(models.Delta{}, fmt.Errorf("error creating anthropic messages: %w", err))
			return
		}
		if system == "" {
			system = a.systemPrompt
		}

		reqBody := anthropicChatRequest{
			Model:     req.Model,
			Messages:  msgs,
			Stream:    true,
			System:    system,
			MaxTokens: req.MaxTokens,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield(models.Delta{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		a.logger.Debug("Request", slog.String("model", req.Model), slog.Int("messages", len(msgs)))

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield(models.Delta{}, fmt.Errorf("error creating request: %w", err))
			return
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			yield(models.Delta{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield(models.Delta{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield(models.Delta{}, fmt.Errorf("error reading response: %w", err))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield(models.Delta{}, fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield(models.Delta{}, fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield(models.Delta{}, fmt.Errorf("error unmarshaling response: %w", err))
					return
				}
				if !yield(models.Delta{Text: res.Delta.Text}, nil) {
					return
				}
			default:
				continue
			}
		}
	}
}
