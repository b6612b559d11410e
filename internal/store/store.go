package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/campusmarket/chat-app/internal/model"
)

// Sentinel errors callers branch on.
var (
	ErrChatNotFound   = errors.New("store: chat not found")
	ErrNotParticipant = errors.New("store: user is not a chat participant")
	ErrSelfChat       = errors.New("store: cannot start a chat with yourself")
	ErrEmptyMessage   = errors.New("store: message content or media required")
)

// DefaultPageSize is the number of messages returned per page.
const DefaultPageSize = 50

// Store wraps the database handle with chat persistence operations.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// conversationSelect is the shared projection for conversation summaries:
// the peer (with store linkage), the optional product, the latest message,
// and the unread count as seen by $1.
const conversationSelect = `
SELECT c.id, c.last_message_at,
       u.id, u.first_name, u.last_name, COALESCE(u.avatar_url, ''),
       s.id, s.name,
       p.id, p.title, p.price::text, p.image_url,
       lm.id, lm.sender_id, lm.content, lm.message_type, lm.media_url, lm.order_id, lm.is_read, lm.created_at,
       (SELECT COUNT(*) FROM messages m
         WHERE m.chat_id = c.id AND m.sender_id <> $1 AND NOT m.is_read) AS unread_count
  FROM chats c
  JOIN users u ON u.id = CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END
  LEFT JOIN stores s ON s.owner_id = u.id
  LEFT JOIN products p ON p.id = c.product_id
  LEFT JOIN LATERAL (
        SELECT m.id, m.sender_id, m.content, m.message_type, m.media_url, m.order_id, m.is_read, m.created_at
          FROM messages m
         WHERE m.chat_id = c.id
         ORDER BY m.created_at DESC, m.id DESC
         LIMIT 1
  ) lm ON TRUE`

// ListConversations returns the user's conversations ordered by most recent
// activity.
func (s *Store) ListConversations(ctx context.Context, userID int64) ([]model.Conversation, error) {
	query := conversationSelect + `
 WHERE c.user1_id = $1 OR c.user2_id = $1
 ORDER BY c.last_message_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	return out, nil
}

// GetConversation returns a single conversation summary as seen by userID.
// The caller must already be a participant; ErrChatNotFound is returned
// otherwise so that non-participants cannot probe for chat existence.
func (s *Store) GetConversation(ctx context.Context, chatID, userID int64) (*model.Conversation, error) {
	query := conversationSelect + `
 WHERE c.id = $2 AND (c.user1_id = $1 OR c.user2_id = $1)`

	row := s.db.QueryRowContext(ctx, query, userID, chatID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	return conv, nil
}

// Participants returns both participant ids for a chat.
func (s *Store) Participants(ctx context.Context, chatID int64) (int64, int64, error) {
	var u1, u2 int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user1_id, user2_id FROM chats WHERE id = $1`, chatID).Scan(&u1, &u2)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrChatNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("store: participants: %w", err)
	}
	return u1, u2, nil
}

// Peer returns the other participant of a chat, or ErrNotParticipant when
// userID is not part of it.
func (s *Store) Peer(ctx context.Context, chatID, userID int64) (int64, error) {
	u1, u2, err := s.Participants(ctx, chatID)
	if err != nil {
		return 0, err
	}
	switch userID {
	case u1:
		return u2, nil
	case u2:
		return u1, nil
	}
	return 0, ErrNotParticipant
}

// Messages returns one page of a chat's messages in chronological order
// (oldest first). Page numbering starts at 1; the newest messages are on
// page 1, matching the frontend's reverse-paging behavior.
func (s *Store) Messages(ctx context.Context, chatID int64, page, limit int) ([]model.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = DefaultPageSize
	}
	offset := (page - 1) * limit

	rows, err := s.db.QueryContext(ctx, `
SELECT id, chat_id, sender_id, COALESCE(content, ''), message_type,
       COALESCE(media_url, ''), COALESCE(order_id, 0), is_read, created_at
  FROM messages
 WHERE chat_id = $1
 ORDER BY created_at DESC, id DESC
 LIMIT $2 OFFSET $3`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.MessageType,
			&m.MediaURL, &m.OrderID, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}

	// The query walks newest-first for paging; flip to oldest-first for display.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CountMessages reports the total number of messages in a chat, used to
// compute pagination metadata for the history endpoint.
func (s *Store) CountMessages(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = $1`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return n, nil
}

// InsertMessage persists a message and bumps the chat's last_message_at. The
// returned message carries the server-assigned id and timestamp.
func (s *Store) InsertMessage(ctx context.Context, chatID, senderID int64, content, messageType, mediaURL string, orderID int64) (*model.Message, error) {
	if content == "" && mediaURL == "" {
		return nil, ErrEmptyMessage
	}
	if !model.ValidMessageType(messageType) {
		return nil, fmt.Errorf("store: invalid message type %q", messageType)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	msg := model.Message{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		MediaURL:    mediaURL,
		OrderID:     orderID,
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO messages (chat_id, sender_id, content, message_type, media_url, order_id)
VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, 0))
RETURNING id, created_at`,
		chatID, senderID, content, messageType, mediaURL, orderID,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET last_message_at = $2 WHERE id = $1`, chatID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: bump last_message_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit message: %w", err)
	}
	return &msg, nil
}

// MarkRead flips is_read on every unread message in the chat that was not
// sent by readerID. Returns the number of messages updated.
func (s *Store) MarkRead(ctx context.Context, chatID, readerID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE messages SET is_read = TRUE
 WHERE chat_id = $1 AND sender_id <> $2 AND NOT is_read`, chatID, readerID)
	if err != nil {
		return 0, fmt.Errorf("store: mark read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartChat returns the existing conversation between the two users or
// creates a new one anchored to the optional product.
func (s *Store) StartChat(ctx context.Context, userID, sellerID, productID int64) (*model.Conversation, error) {
	if userID == sellerID {
		return nil, ErrSelfChat
	}

	var chatID int64
	err := s.db.QueryRowContext(ctx, `
SELECT id FROM chats
 WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)`,
		userID, sellerID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `
INSERT INTO chats (user1_id, user2_id, product_id)
VALUES ($1, $2, NULLIF($3, 0))
RETURNING id`, userID, sellerID, productID).Scan(&chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: start chat: %w", err)
	}

	return s.GetConversation(ctx, chatID, userID)
}

// InsertNotification persists a notification and returns it with the
// server-assigned id.
func (s *Store) InsertNotification(ctx context.Context, userID int64, title, message, notifType string, data json.RawMessage) (*model.Notification, error) {
	n := model.Notification{
		Title:   title,
		Message: message,
		Type:    notifType,
		Data:    data,
	}
	var dataArg interface{}
	if len(data) > 0 {
		dataArg = []byte(data)
	}
	err := s.db.QueryRowContext(ctx, `
INSERT INTO notifications (user_id, title, message, notification_type, data)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, userID, title, message, notifType, dataArg).Scan(&n.ID)
	if err != nil {
		return nil, fmt.Errorf("store: insert notification: %w", err)
	}
	return &n, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanConversation.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanConversation decodes one row of conversationSelect.
func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		conv      model.Conversation
		peer      model.UserSummary
		storeID   sql.NullInt64
		storeName sql.NullString
		prodID    sql.NullInt64
		prodTitle sql.NullString
		prodPrice sql.NullString
		prodImage sql.NullString

		lmID        sql.NullInt64
		lmSender    sql.NullInt64
		lmContent   sql.NullString
		lmType      sql.NullString
		lmMedia     sql.NullString
		lmOrderID   sql.NullInt64
		lmIsRead    sql.NullBool
		lmCreatedAt sql.NullTime
	)

	err := row.Scan(&conv.ID, &conv.LastMessageAt,
		&peer.ID, &peer.FirstName, &peer.LastName, &peer.AvatarURL,
		&storeID, &storeName,
		&prodID, &prodTitle, &prodPrice, &prodImage,
		&lmID, &lmSender, &lmContent, &lmType, &lmMedia, &lmOrderID, &lmIsRead, &lmCreatedAt,
		&conv.UnreadCount)
	if err != nil {
		return nil, err
	}

	if storeID.Valid {
		peer.StoreID = storeID.Int64
		peer.StoreName = storeName.String
	}
	conv.OtherUser = &peer

	if prodID.Valid {
		conv.Product = &model.ProductRef{
			ID:       prodID.Int64,
			Title:    prodTitle.String,
			Price:    prodPrice.String,
			ImageURL: prodImage.String,
		}
	}

	if lmID.Valid {
		conv.LastMessage = &model.Message{
			ID:          lmID.Int64,
			ChatID:      conv.ID,
			SenderID:    lmSender.Int64,
			Content:     lmContent.String,
			MessageType: lmType.String,
			MediaURL:    lmMedia.String,
			OrderID:     lmOrderID.Int64,
			IsRead:      lmIsRead.Bool,
			CreatedAt:   lmCreatedAt.Time,
		}
	}
	return &conv, nil
}
