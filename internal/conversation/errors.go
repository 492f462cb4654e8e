package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a user message carries no content.
	ErrInvalidInput = errors.New("invalid input: message content is empty")
	// ErrStreamInProgress is returned when a send is attempted while a response is still streaming into the
	// same conversation.
	ErrStreamInProgress = errors.New("a response is already streaming for this conversation")
)

// ConfigError reports a request that the model catalog does not allow.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// TransportError wraps any failure of the completion service while a response is requested or streamed.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
