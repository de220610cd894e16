package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeAppMessage = "app.message"
	TypeAppExited  = "app.exited"
	TypeError      = "error"
)

// Client → Server message types.
const (
	TypeAppStart = "app.start"
	TypeAppInput = "app.input"
	TypeAppKill  = "app.kill"
)

// TypeAppStatus is sent by clients to ask for the status and by the server
// whenever it changes.
const TypeAppStatus = "app.status"

// Error codes.
const (
	ErrAlreadyRunning = "ALREADY_RUNNING"
	ErrNotRunning     = "NOT_RUNNING"
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrSpawnFailed    = "SPAWN_FAILED"
	ErrInputFailed    = "INPUT_FAILED"
)

// Server → Client payloads.

type AppStatusPayload struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Running     bool   `json:"running"`
	SessionID   string `json:"sessionId,omitempty"`
}

type AppMessagePayload struct {
	SessionID string `json:"sessionId"`
	Stream    string `json:"stream"` // "stdout" | "stderr"
	Text      string `json:"text"`
	Complete  bool   `json:"complete"`
}

type AppExitedPayload struct {
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
	TimedOut  bool   `json:"timedOut"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type AppStartPayload struct {
	Args string `json:"args"`
}

type AppInputPayload struct {
	Text string `json:"text"`
}
