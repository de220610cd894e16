package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func encode(t *testing.T, msgType string, payload interface{}) []byte {
	t.Helper()
	msg := map[string]interface{}{
		"type":      msgType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		msg["payload"] = payload
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNewMessage(t *testing.T) {
	payload := AppMessagePayload{
		SessionID: "test-id",
		Stream:    "stdout",
		Text:      "Enter name: ",
	}

	msg, err := NewMessage(TypeAppMessage, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypeAppMessage {
		t.Errorf("expected type %s, got %s", TypeAppMessage, msg.Type)
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p AppMessagePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Text != "Enter name: " || p.Complete {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestValidateClientMessage_ValidStart(t *testing.T) {
	data := encode(t, TypeAppStart, map[string]interface{}{"args": "-v --name 'a b'"})

	result, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if result.Type != TypeAppStart {
		t.Errorf("expected type %s, got %s", TypeAppStart, result.Type)
	}
}

func TestValidateClientMessage_StartWithoutArgs(t *testing.T) {
	data := encode(t, TypeAppStart, map[string]interface{}{})

	if _, err := ValidateClientMessage(data); err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestValidateClientMessage_ValidInput(t *testing.T) {
	data := encode(t, TypeAppInput, map[string]interface{}{"text": "hello"})

	if _, err := ValidateClientMessage(data); err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestValidateClientMessage_EmptyInputLine(t *testing.T) {
	data := encode(t, TypeAppInput, map[string]interface{}{"text": ""})

	if _, err := ValidateClientMessage(data); err != nil {
		t.Fatalf("empty line should be valid input, got error: %v", err)
	}
}

func TestValidateClientMessage_MissingText(t *testing.T) {
	data := encode(t, TypeAppInput, map[string]interface{}{})

	if _, err := ValidateClientMessage(data); err == nil {
		t.Fatal("expected error for missing text")
	}
}

func TestValidateClientMessage_KillWithoutPayload(t *testing.T) {
	data := encode(t, TypeAppKill, nil)

	msg, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if string(msg.Payload) != "{}" {
		t.Errorf("expected empty payload, got %s", msg.Payload)
	}
}

func TestValidateClientMessage_InvalidJSON(t *testing.T) {
	_, err := ValidateClientMessage([]byte("not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateClientMessage_MissingType(t *testing.T) {
	data := encode(t, "", map[string]interface{}{})

	if _, err := ValidateClientMessage(data); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestValidateClientMessage_UnknownType(t *testing.T) {
	data := encode(t, "unknown.action", map[string]interface{}{})

	if _, err := ValidateClientMessage(data); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestValidateClientMessage_MissingPayload(t *testing.T) {
	data := []byte(`{"type":"app.input","timestamp":"2024-01-01T00:00:00.000Z"}`)

	if _, err := ValidateClientMessage(data); err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestValidateClientMessage_WrongPayloadShape(t *testing.T) {
	data := encode(t, TypeAppStart, map[string]interface{}{"args": 42})

	if _, err := ValidateClientMessage(data); err == nil {
		t.Fatal("expected error for non-string args")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrNotRunning, "there is no running application")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}
	if msg.Type != TypeError {
		t.Errorf("expected type %s, got %s", TypeError, msg.Type)
	}

	var p ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != ErrNotRunning {
		t.Errorf("expected code %s, got %s", ErrNotRunning, p.Code)
	}
}
