// Package conversation holds the transcript of one session and mediates the request, stream and fold cycle
// against a completion provider.
package conversation

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/google/uuid"
)

// Conversation is the ordered transcript owned by a single session. Messages are appended monotonically and
// only a fully folded assistant message is ever added; the transcript can be truncated with Clear.
type Conversation struct {
	mu        sync.Mutex
	messages  []models.Message
	streaming bool

	now func() time.Time
}

// New creates an empty conversation.
func New() *Conversation {
	return &Conversation{now: time.Now}
}

// Restore creates a conversation from previously stored messages, keeping their order.
func Restore(messages []models.Message) *Conversation {
	c := New()
	c.messages = slices.Clone(messages)
	return c
}

// AppendUser creates a user message from content and appends it to the transcript. Empty content is rejected
// with ErrInvalidInput.
func (c *Conversation) AppendUser(content models.Content) (models.Message, error) {
	if content.IsEmpty() {
		return models.Message{}, ErrInvalidInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, msg)
	return msg, nil
}

// Discard removes the message with the given id when it is still the last one of the transcript. It undoes an
// append whose persistence failed.
func (c *Conversation) Discard(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.messages)
	if n == 0 || c.messages[n-1].ID != id {
		return false
	}
	c.messages = c.messages[:n-1]
	return true
}

// Messages returns a snapshot of the transcript in turn order.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.messages)
}

// Len returns the number of messages in the transcript.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.messages)
}

// Clear discards every message. It takes effect immediately for subsequent appends.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = nil
}

// Streaming reports whether a response is currently being folded into the conversation.
func (c *Conversation) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.streaming
}

// Begin claims the conversation's single streaming slot. The returned release function must be called once the
// stream has ended, whatever its outcome.
func (c *Conversation) Begin() (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streaming {
		return nil, ErrStreamInProgress
	}
	c.streaming = true

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.streaming = false
			c.mu.Unlock()
		})
	}, nil
}

// Send streams a completion for req and appends the folded assistant message. The caller must hold the slot
// returned by Begin. On a TransportError the partial response is discarded and the transcript is left as it was.
func (c *Conversation) Send(
	ctx context.Context,
	completer Completer,
	req models.CompletionRequest,
	observe func(*Accumulator),
) (models.Message, error) {
	msg, err := Fold(StreamResponse(ctx, completer, req), observe)
	if err != nil {
		return models.Message{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msg)
	return msg, nil
}
