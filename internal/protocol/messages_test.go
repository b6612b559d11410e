package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/campusmarket/chat-app/internal/model"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinChat(t *testing.T) {
	input := []byte(`{"type":"join_chat","chat_id":7}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinChat {
		t.Fatalf("expected type %q, got %q", TypeJoinChat, msgType)
	}

	jm, ok := msg.(JoinChatMsg)
	if !ok {
		t.Fatalf("expected JoinChatMsg, got %T", msg)
	}
	if jm.ChatID != 7 {
		t.Errorf("expected chat_id 7, got %d", jm.ChatID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid typing message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","chat_id":7,"is_typing":true}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, msgType)
	}

	tm, ok := msg.(TypingMsg)
	if !ok {
		t.Fatalf("expected TypingMsg, got %T", msg)
	}
	if tm.ChatID != 7 {
		t.Errorf("expected chat_id 7, got %d", tm.ChatID)
	}
	if !tm.IsTyping {
		t.Error("expected is_typing true")
	}
}

func TestParseClientMessage_MarkRead(t *testing.T) {
	input := []byte(`{"type":"mark_read","chat_id":42}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMarkRead {
		t.Fatalf("expected type %q, got %q", TypeMarkRead, msgType)
	}
	mr := msg.(MarkReadMsg)
	if mr.ChatID != 42 {
		t.Errorf("expected chat_id 42, got %d", mr.ChatID)
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only and unknown types are rejected
// ---------------------------------------------------------------------------

func TestParseClientMessage_RejectsServerTypes(t *testing.T) {
	for _, typ := range []string{TypeNewMessage, TypeMessagesRead, "bogus"} {
		input := []byte(`{"type":"` + typ + `"}`)
		if _, _, err := ParseClientMessage(input); err == nil {
			t.Errorf("type %q: expected error, got nil", typ)
		}
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"chat_id":1}`)); err == nil {
		t.Fatal("expected error for missing type field")
	}
	if _, _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a new_message server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_NewMessage(t *testing.T) {
	payload := NewMessageMsg{
		Message: model.Message{
			ID:          501,
			ChatID:      7,
			SenderID:    9,
			Content:     "hi",
			MessageType: model.MessageTypeText,
			CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	data, err := NewServerMessage(TypeNewMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeNewMessage {
		t.Errorf("expected type %q, got %v", TypeNewMessage, decoded["type"])
	}
	if decoded["id"] != float64(501) {
		t.Errorf("expected id 501, got %v", decoded["id"])
	}
	if decoded["chat_id"] != float64(7) {
		t.Errorf("expected chat_id 7, got %v", decoded["chat_id"])
	}
}

// ---------------------------------------------------------------------------
// Test: Round trip through the envelope
// ---------------------------------------------------------------------------

func TestEnvelope_PreservesRaw(t *testing.T) {
	input := []byte(`{"type":"user_typing","chat_id":7,"user_id":9,"is_typing":false}`)

	var env Envelope
	if err := json.Unmarshal(input, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypeUserTyping {
		t.Fatalf("expected type %q, got %q", TypeUserTyping, env.Type)
	}

	var ut UserTypingMsg
	if err := json.Unmarshal(env.Raw, &ut); err != nil {
		t.Fatalf("raw payload did not decode: %v", err)
	}
	if ut.ChatID != 7 || ut.UserID != 9 || ut.IsTyping {
		t.Errorf("unexpected decoded payload: %+v", ut)
	}
}
