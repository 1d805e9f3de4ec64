// Package llm provides an abstraction for the chat model endpoint.
package llm

import "context"

// ChatMessage is one message sent to or received from the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ToolSpec describes one tool advertised to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatClient defines the interface for chat model operations.
type ChatClient interface {
	// Chat sends a chat completion request (non-streaming) and returns the
	// assistant's full reply text.
	Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (ChatMessage, error)
}

// Ensure Client implements ChatClient interface.
var _ ChatClient = (*Client)(nil)
