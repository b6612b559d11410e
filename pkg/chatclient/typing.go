package chatclient

import "time"

// typingExpiry bounds how long a peer counts as typing without a fresh
// signal. The backend relays start/stop but a peer that dies mid-
// keystroke never sends the stop, so entries expire at read time.
const typingExpiry = 10 * time.Second

// SetTyping signals the user's own typing state for a conversation.
// Only peers' states are tracked locally, so this mutates nothing.
func (c *Client) SetTyping(chatID int64, isTyping bool) {
	if err := c.wire.Typing(chatID, isTyping); err != nil {
		c.log.Debug().Err(err).Int64("chat_id", chatID).Msg("typing signal failed")
	}
}

// TypingUsers returns the peers currently typing in a conversation.
// Entries older than typingExpiry are dropped.
func (c *Client) TypingUsers(chatID int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.typing[chatID]
	if len(set) == 0 {
		return nil
	}
	cutoff := time.Now().Add(-typingExpiry)
	var users []int64
	for userID, at := range set {
		if at.Before(cutoff) {
			delete(set, userID)
			continue
		}
		users = append(users, userID)
	}
	if len(set) == 0 {
		delete(c.typing, chatID)
	}
	return users
}

// handleTyping tracks a peer's typing state. The user's own signals
// relayed back are ignored.
func (c *Client) handleTyping(chatID, userID int64, isTyping bool) {
	if userID == c.userID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.typing[chatID]
	if isTyping {
		if set == nil {
			set = make(map[int64]time.Time)
			c.typing[chatID] = set
		}
		set[userID] = time.Now()
		return
	}
	if set != nil {
		delete(set, userID)
		if len(set) == 0 {
			delete(c.typing, chatID)
		}
	}
}
