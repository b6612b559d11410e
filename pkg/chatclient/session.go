package chatclient

import (
	"context"
	"errors"

	"github.com/campusmarket/chat-app/internal/model"
)

var (
	// ErrNoOpenConversation is returned by session operations that
	// require an open conversation.
	ErrNoOpenConversation = errors.New("chatclient: no conversation open")

	// ErrSuperseded is returned by Open when the session was closed or
	// reopened elsewhere while the history fetch was in flight. The
	// late response is discarded.
	ErrSuperseded = errors.New("chatclient: open superseded")
)

// Open makes chatID the single open conversation: fetches its first
// history page, joins its event scope and clears its unread state. Any
// previously open conversation is closed first, so callers never leak a
// room subscription by switching threads. On fetch failure no
// conversation is left open and the error is retained for
// SessionError; retrying is another Open call.
func (c *Client) Open(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	prev := c.openID
	c.gen++
	gen := c.gen
	c.openID = chatID
	c.messages = nil
	c.page = Page{}
	c.sessErr = nil
	c.mu.Unlock()

	if prev != 0 {
		if err := c.wire.LeaveChat(prev); err != nil {
			c.log.Debug().Err(err).Int64("chat_id", prev).Msg("leave failed")
		}
	}

	conv, msgs, page, err := c.api.Messages(ctx, chatID, 1)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		c.openID = 0
		c.messages = nil
		c.sessErr = err
		c.mu.Unlock()
		return err
	}
	c.messages = msgs
	c.page = page
	if conv != nil {
		if existing := c.findConversation(conv.ID); existing != nil {
			unread := existing.UnreadCount
			*existing = *conv
			existing.UnreadCount = unread
		}
	}
	c.clearUnreadLocked(chatID)
	c.mu.Unlock()

	if err := c.wire.JoinChat(chatID); err != nil {
		c.log.Warn().Err(err).Int64("chat_id", chatID).Msg("join failed")
	}
	if err := c.wire.MarkRead(chatID); err != nil {
		c.log.Debug().Err(err).Int64("chat_id", chatID).Msg("mark read failed")
	}
	return nil
}

// Close leaves the open conversation's event scope and clears the
// session. A no-op when nothing is open. Must be called on navigation
// away; a session left open keeps absorbing unread-clear side effects
// for a thread the user no longer sees.
func (c *Client) Close() {
	c.mu.Lock()
	openID := c.openID
	if openID != 0 {
		c.gen++
		c.openID = 0
		c.messages = nil
		c.page = Page{}
		c.sessErr = nil
	}
	c.mu.Unlock()

	if openID != 0 {
		if err := c.wire.LeaveChat(openID); err != nil {
			c.log.Debug().Err(err).Int64("chat_id", openID).Msg("leave failed")
		}
	}
}

// Send persists a message in the open conversation. The server assigns
// the id and timestamp; on success the returned message is appended
// locally unless the realtime echo won the race and it is already
// there. On failure nothing is appended and the caller keeps the input
// for resubmission.
func (c *Client) Send(ctx context.Context, content, messageType, mediaURL string) (*model.Message, error) {
	c.mu.Lock()
	chatID := c.openID
	gen := c.gen
	c.mu.Unlock()
	if chatID == 0 {
		return nil, ErrNoOpenConversation
	}

	msg, err := c.api.Send(ctx, chatID, content, messageType, mediaURL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen && !c.hasMessageLocked(msg.ID) {
		c.messages = append(c.messages, *msg)
		c.touchLastMessageLocked(chatID, msg)
	}
	c.mu.Unlock()
	return msg, nil
}

// Messages returns a copy of the open conversation's messages, oldest
// first.
func (c *Client) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// OpenID returns the open conversation's id, or 0.
func (c *Client) OpenID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openID
}

// SessionError returns the error from the last failed Open, cleared by
// the next Open or Close.
func (c *Client) SessionError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessErr
}

// LoadOlder prepends the next (older) history page to the open
// conversation. A no-op when the history is exhausted.
func (c *Client) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	chatID := c.openID
	gen := c.gen
	next := c.page.Page + 1
	hasNext := c.page.HasNext
	c.mu.Unlock()
	if chatID == 0 {
		return ErrNoOpenConversation
	}
	if !hasNext {
		return nil
	}

	_, older, page, err := c.api.Messages(ctx, chatID, next)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return ErrSuperseded
	}
	fresh := older[:0:0]
	for _, m := range older {
		if !c.hasMessageLocked(m.ID) {
			fresh = append(fresh, m)
		}
	}
	c.messages = append(fresh, c.messages...)
	c.page = page
	return nil
}

// handleNewMessage appends a live message to the open conversation.
// Messages from the current user are ignored: Send already added them,
// and double-adding via the echo is the classic duplicate-render bug.
// Every append path checks id presence first. Receiving a message while
// viewing immediately emits a read receipt.
func (c *Client) handleNewMessage(msg model.Message) {
	c.mu.Lock()
	if msg.ChatID != c.openID {
		c.mu.Unlock()
		return
	}
	if msg.SenderID == c.userID {
		c.mu.Unlock()
		return
	}
	if !c.hasMessageLocked(msg.ID) {
		c.messages = append(c.messages, msg)
		c.touchLastMessageLocked(msg.ChatID, &msg)
	}
	chatID := msg.ChatID
	c.mu.Unlock()

	if err := c.wire.MarkRead(chatID); err != nil {
		c.log.Debug().Err(err).Int64("chat_id", chatID).Msg("mark read failed")
	}
}

// handleMessagesRead applies a read receipt: every message in the open
// conversation not sent by the reader flips to read. A receipt carrying
// the current user's own id (this device's mark_read echoed back, or a
// read on another device) also zeroes the conversation's unread count
// in the directory.
func (c *Client) handleMessagesRead(chatID, readBy int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chatID == c.openID {
		for i := range c.messages {
			if c.messages[i].SenderID != readBy {
				c.messages[i].IsRead = true
			}
		}
	}
	if readBy == c.userID {
		c.clearUnreadLocked(chatID)
	}
}

// touchLastMessageLocked updates the directory preview for a
// conversation the user is actively viewing, without touching unread
// counts. Caller holds c.mu.
func (c *Client) touchLastMessageLocked(chatID int64, msg *model.Message) {
	if conv := c.findConversation(chatID); conv != nil {
		m := *msg
		conv.LastMessage = &m
		conv.LastMessageAt = msg.CreatedAt
	}
}

func (c *Client) hasMessageLocked(id int64) bool {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return true
		}
	}
	return false
}
