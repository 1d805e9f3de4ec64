package domain

import (
	"encoding/json"
	"time"
)

// Message is one entry in a conversation history. Histories are append-only;
// the conversation loop is the sole owner.
type Message struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolDirective is a parsed tool-call instruction emitted by the model inside
// a fenced atlas_tool block. Transient: produced by parsing one model
// response, consumed immediately.
type ToolDirective struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}
