package hub

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/campusmarket/chat-app/internal/model"
	"github.com/campusmarket/chat-app/internal/protocol"
)

func TestPreview(t *testing.T) {
	cases := []struct {
		name string
		msg  model.Message
		want string
	}{
		{"text", model.Message{MessageType: model.MessageTypeText, Content: "hey, is this still available?"}, "hey, is this still available?"},
		{"image", model.Message{MessageType: model.MessageTypeImage, MediaURL: "https://cdn/x.jpg"}, "\U0001F4F7 Sent a photo"},
		{"video", model.Message{MessageType: model.MessageTypeVideo}, "\U0001F3AC Sent a video"},
		{"order", model.Message{MessageType: model.MessageTypeOrder, OrderID: 9}, "\U0001F4E6 Order update"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := preview(&tc.msg); got != tc.want {
				t.Fatalf("preview = %q, want %q", got, tc.want)
			}
		})
	}

	long := strings.Repeat("a", 200)
	got := preview(&model.Message{MessageType: model.MessageTypeText, Content: long})
	if utf8.RuneCountInString(got) != 80 || !strings.HasSuffix(got, "...") {
		t.Fatalf("long preview = %q (len %d), want 80 chars ending in ...", got, len(got))
	}

	// Truncation must land on a rune boundary, not a byte offset.
	multibyte := strings.Repeat("é", 100)
	got = preview(&model.Message{MessageType: model.MessageTypeText, Content: multibyte})
	if !utf8.ValidString(got) {
		t.Fatalf("multibyte preview is not valid UTF-8: %q", got)
	}
	if utf8.RuneCountInString(got) != 80 || !strings.HasSuffix(got, "...") {
		t.Fatalf("multibyte preview = %q (%d runes), want 80 runes ending in ...",
			got, utf8.RuneCountInString(got))
	}
}

func TestIsOwnTyping(t *testing.T) {
	frame, err := protocol.NewServerMessage(protocol.TypeUserTyping, protocol.UserTypingMsg{
		ChatID: 3, UserID: 7, IsTyping: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !isOwnTyping(frame, 7) {
		t.Fatal("typing frame from user 7 should be filtered for user 7")
	}
	if isOwnTyping(frame, 8) {
		t.Fatal("typing frame from user 7 should pass through for user 8")
	}

	msgFrame, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		Message: model.Message{ID: 1, SenderID: 7},
	})
	if err != nil {
		t.Fatal(err)
	}
	if isOwnTyping(msgFrame, 7) {
		t.Fatal("new_message frames must never be filtered")
	}
}

func TestContainsRoom(t *testing.T) {
	rooms := []int64{1, 5, 9}
	if !containsRoom(rooms, 5) {
		t.Fatal("expected room 5 present")
	}
	if containsRoom(rooms, 2) {
		t.Fatal("room 2 should be absent")
	}
	if containsRoom(nil, 1) {
		t.Fatal("nil room list contains nothing")
	}
}
