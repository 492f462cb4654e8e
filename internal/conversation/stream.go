package conversation

import (
	"context"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/google/uuid"
)

// Completer is a completion provider. Stream returns a finite, non-restartable sequence of deltas; a non-nil
// error ends the sequence.
type Completer interface {
	Stream(ctx context.Context, req models.CompletionRequest) iter.Seq2[models.Delta, error]
}

// StreamResponse issues req to completer and yields every non-empty delta in arrival order. Errors are yielded
// once, wrapped in a TransportError, and end the sequence. Nothing is retried.
func StreamResponse(ctx context.Context, completer Completer, req models.CompletionRequest) iter.Seq2[models.Delta, error] {
	return func(yield func(models.Delta, error) bool) {
		for delta, err := range completer.Stream(ctx, req) {
			if err != nil {
				yield(models.Delta{}, &TransportError{Err: err})
				return
			}
			if delta.IsEmpty() {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// Accumulator is the in-flight state of one streamed response.
type Accumulator struct {
	text  strings.Builder
	audio [][]byte
	last  models.Delta

	now func() time.Time
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{now: time.Now}
}

// Write folds one delta into the accumulator.
func (a *Accumulator) Write(d models.Delta) {
	a.text.WriteString(d.Text)
	if len(d.Audio) > 0 {
		a.audio = append(a.audio, slices.Clone(d.Audio))
	}
	a.last = d
}

// Text returns the text concatenated so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Last returns the most recently written delta.
func (a *Accumulator) Last() models.Delta {
	return a.last
}

// Audio returns the audio chunks received so far, concatenated in arrival order.
func (a *Accumulator) Audio() []byte {
	return slices.Concat(a.audio...)
}

// Message builds the assistant message holding the accumulated text.
func (a *Accumulator) Message() models.Message {
	return models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   models.TextContent(a.Text()),
		Timestamp: a.now(),
	}
}

// Fold drains seq into a single assistant message. observe, when not nil, is called after every delta with the
// accumulator so the caller can render the growing text. An empty sequence folds into a message with empty
// content. If seq yields an error the partial text is discarded and the error is returned.
//
// Fold must be called at most once per sequence.
func Fold(seq iter.Seq2[models.Delta, error], observe func(*Accumulator)) (models.Message, error) {
	acc := NewAccumulator()
	for delta, err := range seq {
		if err != nil {
			return models.Message{}, err
		}
		acc.Write(delta)
		if observe != nil {
			observe(acc)
		}
	}
	return acc.Message(), nil
}
