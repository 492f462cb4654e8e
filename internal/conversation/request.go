package conversation

import (
	"context"
	"fmt"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
)

// Resolver loads the bytes behind an attachment reference.
type Resolver interface {
	Resolve(ctx context.Context, attachment models.Attachment) ([]byte, error)
}

// ValidateBudget checks that modelID is in catalog and that maxTokens is within (0, ceiling].
func ValidateBudget(catalog models.Catalog, modelID string, maxTokens int) (models.ModelInfo, error) {
	info, ok := catalog.Lookup(modelID)
	if !ok {
		return models.ModelInfo{}, &ConfigError{
			Field:  "model",
			Reason: fmt.Sprintf("unknown model %q", modelID),
		}
	}
	if maxTokens <= 0 {
		return models.ModelInfo{}, &ConfigError{
			Field:  "max_tokens",
			Reason: fmt.Sprintf("%d is not a positive budget", maxTokens),
		}
	}
	if maxTokens > info.Tokens {
		return models.ModelInfo{}, &ConfigError{
			Field:  "max_tokens",
			Reason: fmt.Sprintf("%d exceeds the %d tokens ceiling of %s", maxTokens, info.Tokens, modelID),
		}
	}
	return info, nil
}

// BuildRequest maps every message of snapshot, in order, to the wire pair expected by the completion endpoint.
// Attachment payloads are resolved through resolver; resolver may be nil when the snapshot holds text only.
func BuildRequest(
	ctx context.Context,
	snapshot []models.Message,
	catalog models.Catalog,
	modelID string,
	maxTokens int,
	resolver Resolver,
) (models.CompletionRequest, error) {
	if _, err := ValidateBudget(catalog, modelID, maxTokens); err != nil {
		return models.CompletionRequest{}, err
	}

	msgs := make([]models.WireMessage, 0, len(snapshot))
	for _, msg := range snapshot {
		wm := models.WireMessage{Role: msg.Role}

		switch msg.Content.Type {
		case models.ContentTypeText:
			wm.Text = msg.Content.Text
		case models.ContentTypeImage, models.ContentTypeAudio:
			if resolver == nil {
				return models.CompletionRequest{}, fmt.Errorf("no resolver for attachment %s", msg.Content.Attachment.Ref)
			}
			data, err := resolver.Resolve(ctx, msg.Content.Attachment)
			if err != nil {
				return models.CompletionRequest{}, fmt.Errorf("failed to resolve attachment %s: %w",
					msg.Content.Attachment.Ref, err)
			}
			wm.Payload = &models.Payload{
				Type:     msg.Content.Type,
				MIMEType: msg.Content.Attachment.MIMEType,
				Name:     msg.Content.Attachment.Name,
				Data:     data,
			}
		default:
			return models.CompletionRequest{}, fmt.Errorf("unknown content type %q in message %s",
				msg.Content.Type, msg.ID)
		}

		msgs = append(msgs, wm)
	}

	return models.CompletionRequest{
		Model:     modelID,
		MaxTokens: maxTokens,
		Messages:  msgs,
	}, nil
}
