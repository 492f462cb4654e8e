package models

// CompletionRequest is the value sent to a completion provider. It is built fresh for every send from a snapshot
// of the conversation and must be treated as read-only by providers.
type CompletionRequest struct {
	Model     string
	MaxTokens int
	Messages  []WireMessage
}

// WireMessage is a role/content pair in the order expected by the completion endpoint.
type WireMessage struct {
	Role Role
	Text string

	// Payload would be filled if the originating message carried an attachment. Each provider applies its own
	// encoding to it.
	Payload *Payload
}

// Payload is a resolved attachment.
type Payload struct {
	Type     ContentType
	MIMEType string
	Name     string
	Data     []byte
}

// Delta is one increment of a streamed completion.
type Delta struct {
	Text  string
	Audio []byte
}

// IsEmpty reports whether the delta carries neither text nor audio.
func (d Delta) IsEmpty() bool {
	return d.Text == "" && len(d.Audio) == 0
}
