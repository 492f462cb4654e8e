package conversation_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/MegaGrindStone/chat-web-ui/internal/conversation"
	"github.com/MegaGrindStone/chat-web-ui/internal/models"
)

type mockCompleter struct {
	deltas []models.Delta
	// failAfter yields err after that many deltas when err is set.
	failAfter int
	err       error
}

type mockResolver map[string][]byte

var testCatalog = models.Catalog{
	Models: map[string]models.ModelInfo{
		"llama-3.3-70b-versatile": {
			Name:      "LLaMA 3.3 70B",
			Developer: "Meta",
			Tokens:    32768,
		},
		"gemma2-9b-it": {
			Name:      "Gemma 2 9B",
			Developer: "Google",
			Tokens:    8192,
		},
	},
	DefaultMaxTokens: 1024,
}

func TestAppendUser(t *testing.T) {
	c := conversation.New()

	texts := []string{"first", "second", "third"}
	for i, text := range texts {
		msg, err := c.AppendUser(models.TextContent(text))
		if err != nil {
			t.Fatalf("AppendUser(%q) error = %v", text, err)
		}
		if msg.Role != models.RoleUser {
			t.Errorf("AppendUser() role = %v, want %v", msg.Role, models.RoleUser)
		}
		if msg.Timestamp.IsZero() {
			t.Error("AppendUser() timestamp should be set")
		}
		if c.Len() != i+1 {
			t.Errorf("Len() = %d, want %d", c.Len(), i+1)
		}
	}

	for i, msg := range c.Messages() {
		if msg.Content.Text != texts[i] {
			t.Errorf("Messages()[%d] = %q, want %q", i, msg.Content.Text, texts[i])
		}
	}
}

func TestAppendUserInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		content models.Content
	}{
		{
			name:    "Empty text",
			content: models.TextContent(""),
		},
		{
			name:    "Zero content",
			content: models.Content{},
		},
		{
			name: "Attachment without ref",
			content: models.Content{
				Type:       models.ContentTypeImage,
				Attachment: models.Attachment{Name: "cat.png"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := conversation.New()
			_, err := c.AppendUser(tt.content)
			if !errors.Is(err, conversation.ErrInvalidInput) {
				t.Errorf("AppendUser() error = %v, want %v", err, conversation.ErrInvalidInput)
			}
			if c.Len() != 0 {
				t.Errorf("Len() = %d, want 0", c.Len())
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	c := conversation.New()
	first, _ := c.AppendUser(models.TextContent("first"))
	second, _ := c.AppendUser(models.TextContent("second"))

	if c.Discard(first.ID) {
		t.Error("Discard() of a message that is not the last should fail")
	}
	if !c.Discard(second.ID) {
		t.Fatal("Discard() of the last message should succeed")
	}
	if c.Len() != 1 || c.Messages()[0].ID != first.ID {
		t.Errorf("Messages() = %v, want only the first message", c.Messages())
	}
	if c.Discard(second.ID) {
		t.Error("Discard() twice should fail")
	}
}

func TestClear(t *testing.T) {
	c := conversation.New()
	for _, text := range []string{"a", "b"} {
		if _, err := c.AppendUser(models.TextContent(text)); err != nil {
			t.Fatal(err)
		}
	}

	c.Clear()

	if got := c.Messages(); len(got) != 0 {
		t.Errorf("Messages() after Clear() = %v, want empty", got)
	}

	if _, err := c.AppendUser(models.TextContent("c")); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestMessagesIsSnapshot(t *testing.T) {
	c := conversation.New()
	if _, err := c.AppendUser(models.TextContent("hello")); err != nil {
		t.Fatal(err)
	}

	snapshot := c.Messages()
	snapshot[0].Content.Text = "changed"

	if got := c.Messages()[0].Content.Text; got != "hello" {
		t.Errorf("Messages()[0] = %q, want %q", got, "hello")
	}
}

func TestBuildRequest(t *testing.T) {
	c := conversation.New()
	if _, err := c.AppendUser(models.TextContent("describe this")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AppendUser(models.Content{
		Type: models.ContentTypeImage,
		Attachment: models.Attachment{
			Ref:      "img-1",
			MIMEType: "image/png",
			Name:     "cat.png",
		},
	}); err != nil {
		t.Fatal(err)
	}

	resolver := mockResolver{"img-1": []byte("png-bytes")}
	req, err := conversation.BuildRequest(context.Background(), c.Messages(), testCatalog,
		"llama-3.3-70b-versatile", 2048, resolver)
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	if req.Model != "llama-3.3-70b-versatile" || req.MaxTokens != 2048 {
		t.Errorf("BuildRequest() = %+v, want model and budget carried over", req)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("BuildRequest() messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Text != "describe this" || req.Messages[0].Role != models.RoleUser {
		t.Errorf("BuildRequest() first message = %+v", req.Messages[0])
	}
	payload := req.Messages[1].Payload
	if payload == nil {
		t.Fatal("BuildRequest() second message should carry a payload")
	}
	if string(payload.Data) != "png-bytes" || payload.MIMEType != "image/png" {
		t.Errorf("BuildRequest() payload = %+v", payload)
	}
}

func TestBuildRequestConfigError(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		maxTokens int
	}{
		{
			name:      "Unknown model",
			model:     "gpt-unknown",
			maxTokens: 512,
		},
		{
			name:      "Budget above ceiling",
			model:     "gemma2-9b-it",
			maxTokens: 8193,
		},
		{
			name:      "Zero budget",
			model:     "gemma2-9b-it",
			maxTokens: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := conversation.New()
			if _, err := c.AppendUser(models.TextContent("hi")); err != nil {
				t.Fatal(err)
			}

			_, err := conversation.BuildRequest(context.Background(), c.Messages(), testCatalog,
				tt.model, tt.maxTokens, nil)

			var cfgErr *conversation.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("BuildRequest() error = %v, want ConfigError", err)
			}
			if c.Len() != 1 {
				t.Errorf("Len() = %d, want 1", c.Len())
			}
		})
	}
}

func TestBuildRequestResolveError(t *testing.T) {
	snapshot := []models.Message{
		{
			ID:   "1",
			Role: models.RoleUser,
			Content: models.Content{
				Type:       models.ContentTypeImage,
				Attachment: models.Attachment{Ref: "missing"},
			},
		},
	}

	_, err := conversation.BuildRequest(context.Background(), snapshot, testCatalog,
		"gemma2-9b-it", 1024, mockResolver{})
	if err == nil {
		t.Fatal("BuildRequest() should fail when the attachment cannot be resolved")
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		name   string
		deltas []models.Delta
		want   string
	}{
		{
			name:   "Two fragments",
			deltas: []models.Delta{{Text: "Hel"}, {Text: "lo"}},
			want:   "Hello",
		},
		{
			name:   "Empty stream",
			deltas: nil,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observed := 0
			msg, err := conversation.Fold(seqOf(tt.deltas, 0, nil), func(*conversation.Accumulator) {
				observed++
			})
			if err != nil {
				t.Fatalf("Fold() error = %v", err)
			}
			if msg.Role != models.RoleAssistant {
				t.Errorf("Fold() role = %v, want %v", msg.Role, models.RoleAssistant)
			}
			if msg.Content.Type != models.ContentTypeText || msg.Content.Text != tt.want {
				t.Errorf("Fold() content = %+v, want text %q", msg.Content, tt.want)
			}
			if observed != len(tt.deltas) {
				t.Errorf("Fold() observed %d deltas, want %d", observed, len(tt.deltas))
			}
		})
	}
}

func TestAccumulatorAudio(t *testing.T) {
	acc := conversation.NewAccumulator()
	acc.Write(models.Delta{Text: "a", Audio: []byte{1, 2}})
	acc.Write(models.Delta{Audio: []byte{3}})
	acc.Write(models.Delta{Text: "b"})

	if acc.Text() != "ab" {
		t.Errorf("Text() = %q, want %q", acc.Text(), "ab")
	}
	if !bytes.Equal(acc.Audio(), []byte{1, 2, 3}) {
		t.Errorf("Audio() = %v, want [1 2 3]", acc.Audio())
	}
	if acc.Last().Text != "b" {
		t.Errorf("Last() = %+v, want text b", acc.Last())
	}
}

func TestStreamResponseSkipsEmptyDeltas(t *testing.T) {
	completer := mockCompleter{
		deltas: []models.Delta{{Text: "a"}, {}, {Text: ""}, {Text: "b"}},
	}

	var got []string
	for d, err := range conversation.StreamResponse(context.Background(), completer, models.CompletionRequest{}) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, d.Text)
	}

	if strings.Join(got, ",") != "a,b" {
		t.Errorf("StreamResponse() = %v, want [a b]", got)
	}
}

func TestSend(t *testing.T) {
	c := conversation.New()
	if _, err := c.AppendUser(models.TextContent("hi")); err != nil {
		t.Fatal(err)
	}

	release, err := c.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if _, err := c.Begin(); !errors.Is(err, conversation.ErrStreamInProgress) {
		t.Errorf("Begin() while streaming error = %v, want %v", err, conversation.ErrStreamInProgress)
	}

	completer := mockCompleter{deltas: []models.Delta{{Text: "Hel"}, {Text: "lo"}}}
	var partials []string
	msg, err := c.Send(context.Background(), completer, models.CompletionRequest{}, func(acc *conversation.Accumulator) {
		partials = append(partials, acc.Text())
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if msg.Content.Text != "Hello" {
		t.Errorf("Send() content = %q, want %q", msg.Content.Text, "Hello")
	}
	if strings.Join(partials, "|") != "Hel|Hello" {
		t.Errorf("Send() partials = %v", partials)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	release()
	if c.Streaming() {
		t.Error("Streaming() should be false after release")
	}
}

func TestSendTransportError(t *testing.T) {
	c := conversation.New()
	if _, err := c.AppendUser(models.TextContent("hi")); err != nil {
		t.Fatal(err)
	}
	before := c.Len()

	completer := mockCompleter{
		deltas:    []models.Delta{{Text: "partial "}, {Text: "never"}},
		failAfter: 1,
		err:       errors.New("connection reset"),
	}
	_, err := c.Send(context.Background(), completer, models.CompletionRequest{}, nil)

	var tErr *conversation.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("Send() error = %v, want TransportError", err)
	}
	if c.Len() != before {
		t.Errorf("Len() = %d, want %d", c.Len(), before)
	}
}

func TestExport(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: models.TextContent("Hello")},
		{Role: models.RoleAssistant, Content: models.TextContent("Hi!\nHow can I help?")},
		{Role: models.RoleUser, Content: models.Content{
			Type:       models.ContentTypeImage,
			Attachment: models.Attachment{Ref: "1", Name: "cat.png"},
		}},
		{Role: models.RoleAssistant, Content: models.TextContent("")},
	}

	var buf bytes.Buffer
	if err := conversation.Export(&buf, messages); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var lines []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != len(messages) {
		t.Fatalf("Export() lines = %d, want %d: %q", len(lines), len(messages), lines)
	}

	want := []string{
		"User: Hello",
		`Assistant: Hi!\nHow can I help?`,
		"User: [image: cat.png]",
		"Assistant: ",
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Export() line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func seqOf(deltas []models.Delta, failAfter int, failErr error) iter.Seq2[models.Delta, error] {
	return func(yield func(models.Delta, error) bool) {
		for i, d := range deltas {
			if failErr != nil && i == failAfter {
				yield(models.Delta{}, failErr)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

func (m mockCompleter) Stream(_ context.Context, _ models.CompletionRequest) iter.Seq2[models.Delta, error] {
	return seqOf(m.deltas, m.failAfter, m.err)
}

func (m mockResolver) Resolve(_ context.Context, a models.Attachment) ([]byte, error) {
	data, ok := m[a.Ref]
	if !ok {
		return nil, fmt.Errorf("attachment %s not found", a.Ref)
	}
	return data, nil
}
