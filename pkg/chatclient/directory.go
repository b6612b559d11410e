package chatclient

import (
	"context"
	"time"

	"github.com/campusmarket/chat-app/internal/model"
)

// refreshTimeout bounds the background refresh triggered by a
// notification for an unknown conversation.
const refreshTimeout = 10 * time.Second

// Refresh replaces the conversation directory with the server's list
// and recomputes the aggregate unread counter. On failure the previous
// list is kept so a transient error does not blank the screen; the
// error is also retained for DirectoryError.
func (c *Client) Refresh(ctx context.Context) error {
	convs, err := c.api.Conversations(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.dirErr = err
		return err
	}
	c.dirErr = nil
	c.conversations = convs
	c.totalUnread = 0
	for _, conv := range convs {
		c.totalUnread += conv.UnreadCount
	}
	return nil
}

// Conversations returns a copy of the directory, most recent first.
func (c *Client) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// TotalUnread returns the aggregate unread counter: the sum of every
// conversation's unread count.
func (c *Client) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalUnread
}

// DirectoryError returns the error from the last failed Refresh, or nil
// after a successful one.
func (c *Client) DirectoryError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirErr
}

// handleMessageNotification patches the directory when a message
// arrives for a conversation the user is not viewing: last message
// replaced, unread count incremented. A notification for the open
// conversation is ignored (the session path already appended the
// message and the user has seen it). An unknown conversation means a
// brand-new thread; the directory cannot synthesize peer and product
// metadata from the message alone, so it refetches the list.
func (c *Client) handleMessageNotification(chatID int64, msg model.Message) {
	c.mu.Lock()
	if chatID == c.openID {
		c.mu.Unlock()
		return
	}
	conv := c.findConversation(chatID)
	if conv != nil {
		m := msg
		conv.LastMessage = &m
		conv.LastMessageAt = msg.CreatedAt
		conv.UnreadCount++
		c.totalUnread++
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// New conversation: full refresh, off the transport's read
	// goroutine.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil {
			c.log.Warn().Err(err).Int64("chat_id", chatID).Msg("directory refresh failed")
		}
	}()
}

// clearUnreadLocked zeroes a conversation's unread count, keeping the
// aggregate counter in step. Caller holds c.mu.
func (c *Client) clearUnreadLocked(chatID int64) {
	conv := c.findConversation(chatID)
	if conv == nil || conv.UnreadCount == 0 {
		return
	}
	c.totalUnread -= conv.UnreadCount
	conv.UnreadCount = 0
}

// findConversation returns a pointer into the directory slice, or nil.
// Caller holds c.mu.
func (c *Client) findConversation(chatID int64) *model.Conversation {
	for i := range c.conversations {
		if c.conversations[i].ID == chatID {
			return &c.conversations[i]
		}
	}
	return nil
}
