package llm

import (
	"log"
	"os"
	"time"
)

const (
	// EnvAtlasMode is the environment variable name for mode selection.
	EnvAtlasMode = "ATLAS_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewChatClient creates a chat client based on the ATLAS_MODE environment
// variable. If ATLAS_MODE=MOCK, returns a MockClient; otherwise a real Client.
func NewChatClient(baseURL, model string, timeout time.Duration) ChatClient {
	if os.Getenv(EnvAtlasMode) == ModeMock {
		log.Println("ATLAS_MODE=MOCK detected, using mock chat client")
		return NewMockClient()
	}
	return NewClient(baseURL, model, timeout)
}
