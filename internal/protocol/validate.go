package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeAppStart:  true,
	TypeAppInput:  true,
	TypeAppKill:   true,
	TypeAppStatus: true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	// Kill and status carry no data; an absent payload is fine.
	if msg.Payload == nil {
		if msg.Type == TypeAppKill || msg.Type == TypeAppStatus {
			msg.Payload = json.RawMessage(`{}`)
			return &msg, nil
		}
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypeAppStart:
		var p AppStartPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}

	case TypeAppInput:
		// Input is a line of text; an empty line is valid input.
		var p struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Text == nil {
			return nil, fmt.Errorf("missing required field 'text' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
