package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusmarket/chat-app/internal/model"
)

// fakeWire records emitted realtime signals instead of writing frames.
type fakeWire struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeWire) record(format string, args ...interface{}) error {
	f.mu.Lock()
	f.events = append(f.events, fmt.Sprintf(format, args...))
	f.mu.Unlock()
	return nil
}

func (f *fakeWire) JoinChat(chatID int64) error  { return f.record("join:%d", chatID) }
func (f *fakeWire) LeaveChat(chatID int64) error { return f.record("leave:%d", chatID) }
func (f *fakeWire) MarkRead(chatID int64) error  { return f.record("mark_read:%d", chatID) }
func (f *fakeWire) Typing(chatID int64, isTyping bool) error {
	return f.record("typing:%d:%t", chatID, isTyping)
}

func (f *fakeWire) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

// backend is a scriptable stand-in for the chat REST API.
type backend struct {
	mu            sync.Mutex
	conversations []model.Conversation
	history       map[int64][]model.Message
	nextID        int64
	failList      bool
	blockMessages chan struct{}
}

func newBackend() *backend {
	return &backend{history: make(map[int64][]model.Message), nextID: 500}
}

func (b *backend) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(srv.Close)
	return srv
}

func (b *backend) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/chat/")
	switch {
	case path == "conversations":
		b.mu.Lock()
		fail := b.failList
		convs := append([]model.Conversation(nil), b.conversations...)
		b.mu.Unlock()
		if fail {
			http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"conversations": convs})

	case strings.HasSuffix(path, "/messages"):
		b.mu.Lock()
		block := b.blockMessages
		b.mu.Unlock()
		if block != nil {
			<-block
		}
		chatID, _ := strconv.ParseInt(strings.TrimSuffix(path, "/messages"), 10, 64)
		b.mu.Lock()
		msgs := append([]model.Message(nil), b.history[chatID]...)
		var conv *model.Conversation
		for i := range b.conversations {
			if b.conversations[i].ID == chatID {
				cp := b.conversations[i]
				conv = &cp
			}
		}
		b.mu.Unlock()
		if conv == nil {
			http.Error(w, `{"message":"conversation not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]interface{}{
			"chat":     conv,
			"messages": msgs,
			"pagination": Page{
				Page: 1, PerPage: 50, Total: len(msgs), Pages: 1,
			},
		})

	case strings.HasSuffix(path, "/send"):
		chatID, _ := strconv.ParseInt(strings.TrimSuffix(path, "/send"), 10, 64)
		var req struct {
			Content     string `json:"content"`
			MessageType string `json:"type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.nextID++
		msg := model.Message{
			ID:          b.nextID,
			ChatID:      chatID,
			SenderID:    1,
			Content:     req.Content,
			MessageType: req.MessageType,
			CreatedAt:   time.Now(),
		}
		b.history[chatID] = append(b.history[chatID], msg)
		b.mu.Unlock()
		writeJSON(w, map[string]interface{}{"message": msg})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// newTestClient builds a client for user 1 against the scripted
// backend, with a recording wire instead of a live socket.
func newTestClient(t *testing.T, b *backend) (*Client, *fakeWire) {
	t.Helper()
	srv := b.serve(t)
	api := NewAPI(srv.URL, func() string { return "test-token" })
	wire := &fakeWire{}
	return newClient(api, wire, 1, zerolog.Nop()), wire
}

func conv(id int64, unread int) model.Conversation {
	return model.Conversation{
		ID:          id,
		OtherUser:   &model.UserSummary{ID: 100 + id, FirstName: "Peer"},
		UnreadCount: unread,
	}
}

func TestSendThenEchoAppendsOnce(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 0)}
	c, _ := newTestClient(t, b)

	if err := c.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	msg, err := c.Send(context.Background(), "hi", model.MessageTypeText, "")
	if err != nil {
		t.Fatal(err)
	}

	// The realtime echo for the same id arrives after the HTTP
	// response resolved.
	c.handleNewMessage(*msg)

	got := c.Messages()
	count := 0
	for _, m := range got {
		if m.ID == msg.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("message %d appears %d times, want exactly 1", msg.ID, count)
	}
}

func TestSendCarriesMessageType(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 0)}
	c, _ := newTestClient(t, b)

	if err := c.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	msg, err := c.Send(context.Background(), "", model.MessageTypeImage, "https://cdn/x.jpg")
	if err != nil {
		t.Fatal(err)
	}
	// The server reads the type off the request body; a send posted
	// under the wrong key would come back as the text default.
	if msg.MessageType != model.MessageTypeImage {
		t.Fatalf("message_type = %q after send, want %q", msg.MessageType, model.MessageTypeImage)
	}
}

func TestOwnEchoNeverAppends(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 0)}
	c, _ := newTestClient(t, b)

	if err := c.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	// Echo arrives before the HTTP response would have: still no
	// append, own messages only ever enter via Send.
	c.handleNewMessage(model.Message{ID: 901, ChatID: 7, SenderID: 1, Content: "hi"})
	if n := len(c.Messages()); n != 0 {
		t.Fatalf("own echo appended: %d messages, want 0", n)
	}
}

func TestPeerMessageDedup(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 0)}
	c, _ := newTestClient(t, b)

	if err := c.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	peer := model.Message{ID: 600, ChatID: 7, SenderID: 107, Content: "yo"}
	c.handleNewMessage(peer)
	c.handleNewMessage(peer)
	if n := len(c.Messages()); n != 1 {
		t.Fatalf("duplicate delivery appended twice: %d messages, want 1", n)
	}
}

func TestUnreadInvariant(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 2), conv(8, 1)}
	c, _ := newTestClient(t, b)

	checkInvariant := func(step string) {
		t.Helper()
		sum := 0
		for _, cv := range c.Conversations() {
			sum += cv.UnreadCount
		}
		if got := c.TotalUnread(); got != sum {
			t.Fatalf("%s: aggregate unread %d != sum of conversations %d", step, got, sum)
		}
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	checkInvariant("after refresh")
	if c.TotalUnread() != 3 {
		t.Fatalf("TotalUnread = %d, want 3", c.TotalUnread())
	}

	// Notification for known conversation 7: unread 2 -> 3, aggregate
	// +1 exactly.
	c.handleMessageNotification(7, model.Message{ID: 700, ChatID: 7, SenderID: 107, Content: "new"})
	checkInvariant("after notification patch")
	if c.TotalUnread() != 4 {
		t.Fatalf("TotalUnread = %d after notification, want 4", c.TotalUnread())
	}
	for _, cv := range c.Conversations() {
		if cv.ID == 7 {
			if cv.UnreadCount != 3 {
				t.Fatalf("conversation 7 unread = %d, want 3", cv.UnreadCount)
			}
			if cv.LastMessage == nil || cv.LastMessage.ID != 700 {
				t.Fatal("conversation 7 last message not patched")
			}
		}
	}

	// Opening clears the conversation's unread state.
	if err := c.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	checkInvariant("after open")
	if c.TotalUnread() != 1 {
		t.Fatalf("TotalUnread = %d after open, want 1", c.TotalUnread())
	}
}

func TestNotificationForUnknownConversationRefreshes(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 1)}
	c, _ := newTestClient(t, b)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A brand-new thread appears server-side, then its first message
	// notification arrives.
	b.mu.Lock()
	b.conversations = append(b.conversations, conv(9, 1))
	b.mu.Unlock()
	c.handleMessageNotification(9, model.Message{ID: 800, ChatID: 9, SenderID: 109})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.Conversations()) == 2 && c.TotalUnread() == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("directory not refreshed: %d conversations, unread %d",
		len(c.Conversations()), c.TotalUnread())
}

func TestRefreshFailureKeepsDirectory(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 2)}
	c, _ := newTestClient(t, b)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	b.mu.Lock()
	b.failList = true
	b.mu.Unlock()
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh failure")
	}
	if len(c.Conversations()) != 1 {
		t.Fatal("failed refresh blanked the directory")
	}
	if c.DirectoryError() == nil {
		t.Fatal("directory error not retained")
	}

	var apiErr *APIError
	if !errors.As(c.DirectoryError(), &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("directory error = %v, want APIError 500", c.DirectoryError())
	}
}

func TestOpenCloseSymmetry(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 0), conv(9, 0)}
	b.history[7] = []model.Message{{ID: 1, ChatID: 7, SenderID: 107, Content: "a"}}
	b.history[9] = []model.Message{{ID: 2, ChatID: 9, SenderID: 109, Content: "b"}}
	c, wire := newTestClient(t, b)

	if err := c.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background(), 9); err != nil {
		t.Fatal(err)
	}

	if n := wire.count("leave:7"); n != 1 {
		t.Fatalf("left chat 7 %d times, want 1", n)
	}
	if n := wire.count("join:9"); n != 1 {
		t.Fatalf("joined chat 9 %d times, want 1", n)
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].ChatID != 9 {
		t.Fatalf("message list = %+v, want only chat 9's messages", msgs)
	}
}

func TestStaleOpenResponseDiscarded(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 0)}
	b.history[7] = []model.Message{{ID: 1, ChatID: 7, SenderID: 107}}
	release := make(chan struct{})
	b.blockMessages = release
	c, _ := newTestClient(t, b)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Open(context.Background(), 7) }()

	// Wait until the fetch is in flight, then navigate away.
	time.Sleep(50 * time.Millisecond)
	c.Close()
	close(release)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Open returned %v, want ErrSuperseded", err)
	}
	if c.OpenID() != 0 {
		t.Fatal("session reopened by stale response")
	}
	if n := len(c.Messages()); n != 0 {
		t.Fatalf("stale response populated %d messages", n)
	}
}

func TestOpenFailureLeavesSessionClosed(t *testing.T) {
	b := newBackend()
	c, _ := newTestClient(t, b)

	err := c.Open(context.Background(), 42) // unknown conversation: 404
	if err == nil {
		t.Fatal("expected open failure")
	}
	if c.OpenID() != 0 {
		t.Fatal("failed open left a conversation open")
	}
	if c.SessionError() == nil {
		t.Fatal("session error not retained")
	}

	// Retry path: the conversation now exists.
	b.mu.Lock()
	b.conversations = []model.Conversation{conv(42, 0)}
	b.mu.Unlock()
	if err := c.Open(context.Background(), 42); err != nil {
		t.Fatal(err)
	}
	if c.SessionError() != nil {
		t.Fatal("session error not cleared by successful retry")
	}
}

func TestReadReceiptFlow(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 3)}
	b.history[7] = []model.Message{
		{ID: 1, ChatID: 7, SenderID: 107, Content: "hey"},
		{ID: 2, ChatID: 7, SenderID: 1, Content: "hi", IsRead: false},
		{ID: 3, ChatID: 7, SenderID: 107, Content: "still there?"},
	}
	c, wire := newTestClient(t, b)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if n := wire.count("mark_read:7"); n != 1 {
		t.Fatalf("open emitted %d read receipts, want 1", n)
	}

	// The server echoes the receipt back; the peer's messages flip to
	// read and the unread count is gone.
	c.handleMessagesRead(7, 1)
	for _, m := range c.Messages() {
		if m.SenderID != 1 && !m.IsRead {
			t.Fatalf("peer message %d still unread after receipt", m.ID)
		}
	}
	if c.TotalUnread() != 0 {
		t.Fatalf("TotalUnread = %d after receipt, want 0", c.TotalUnread())
	}

	// The peer reads our side: our sent message flips.
	c.handleMessagesRead(7, 107)
	for _, m := range c.Messages() {
		if m.SenderID == 1 && !m.IsRead {
			t.Fatalf("own message %d not marked read by peer receipt", m.ID)
		}
	}
}

func TestTypingSetAddRemove(t *testing.T) {
	b := newBackend()
	c, wire := newTestClient(t, b)

	c.handleTyping(7, 9, true)
	users := c.TypingUsers(7)
	if len(users) != 1 || users[0] != 9 {
		t.Fatalf("typing set = %v, want [9]", users)
	}

	c.handleTyping(7, 9, false)
	if users := c.TypingUsers(7); len(users) != 0 {
		t.Fatalf("typing set = %v after stop, want empty", users)
	}

	// Own typing signals are emitted, never tracked.
	c.SetTyping(7, true)
	c.handleTyping(7, 1, true)
	if users := c.TypingUsers(7); len(users) != 0 {
		t.Fatalf("own typing tracked: %v", users)
	}
	if n := wire.count("typing:7:true"); n != 1 {
		t.Fatalf("typing signal emitted %d times, want 1", n)
	}
}

func TestTypingEntryExpires(t *testing.T) {
	b := newBackend()
	c, _ := newTestClient(t, b)

	c.handleTyping(7, 9, true)
	c.mu.Lock()
	c.typing[7][9] = time.Now().Add(-typingExpiry - time.Second)
	c.mu.Unlock()

	if users := c.TypingUsers(7); len(users) != 0 {
		t.Fatalf("stale typing entry survived: %v", users)
	}
}

func TestOrderStatusReplacement(t *testing.T) {
	b := newBackend()
	c, _ := newTestClient(t, b)

	c.WatchOrder(12, []byte(`{"id":12,"status":"pending"}`))

	// Update for a different order is dropped.
	c.handleOrderStatus(model.OrderStatusUpdate{OrderID: 99, Status: "shipped", Order: json.RawMessage(`{"id":99}`)})
	if status, _ := c.Order(); status != "" {
		t.Fatalf("unwatched order update applied: status %q", status)
	}

	c.handleOrderStatus(model.OrderStatusUpdate{OrderID: 12, Status: "shipped", Order: json.RawMessage(`{"id":12,"status":"shipped"}`)})
	status, doc := c.Order()
	if status != "shipped" {
		t.Fatalf("status = %q, want shipped", status)
	}
	if string(doc) != `{"id":12,"status":"shipped"}` {
		t.Fatalf("order doc not replaced wholesale: %s", doc)
	}

	c.UnwatchOrder()
	if status, doc := c.Order(); status != "" || doc != nil {
		t.Fatal("unwatch did not clear order state")
	}
}

func TestSendWithoutOpenConversation(t *testing.T) {
	b := newBackend()
	c, _ := newTestClient(t, b)

	if _, err := c.Send(context.Background(), "hi", model.MessageTypeText, ""); !errors.Is(err, ErrNoOpenConversation) {
		t.Fatalf("Send with no open conversation returned %v", err)
	}
}

func TestInboundPeerMessageEmitsReceipt(t *testing.T) {
	b := newBackend()
	b.conversations = []model.Conversation{conv(7, 0)}
	c, wire := newTestClient(t, b)

	if err := c.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	c.handleNewMessage(model.Message{ID: 50, ChatID: 7, SenderID: 107, Content: "hello"})

	// One receipt from the open, one from actively viewing the new
	// message.
	if n := wire.count("mark_read:7"); n != 2 {
		t.Fatalf("mark_read emitted %d times, want 2", n)
	}
}
