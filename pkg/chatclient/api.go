// Package chatclient is the Go client for the marketplace chat service.
// It pairs a REST client for fetches and sends with a WebSocket
// transport for live events, and layers the conversation directory,
// open session, typing and order-status state on top. One Client per
// signed-in user; all methods are safe for concurrent use.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/campusmarket/chat-app/internal/model"
)

// TokenSource supplies the current bearer token. Returning "" means the
// user is signed out; requests then fail and Connect is a no-op.
type TokenSource func() string

// APIError is a non-2xx response from the chat service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatclient: api status %d: %s", e.Status, e.Message)
}

// Page is the pagination block returned with a message history page.
type Page struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// API is the REST half of the client. The zero value is not usable;
// construct with NewAPI.
type API struct {
	baseURL string
	token   TokenSource
	http    *http.Client
}

func NewAPI(baseURL string, token TokenSource) *API {
	return &API{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Conversations fetches the signed-in user's conversation list.
func (a *API) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v1/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// Messages fetches one page of a conversation's history, oldest first,
// along with the conversation metadata.
func (a *API) Messages(ctx context.Context, chatID int64, page int) (*model.Conversation, []model.Message, Page, error) {
	var out struct {
		Chat       *model.Conversation `json:"chat"`
		Messages   []model.Message     `json:"messages"`
		Pagination Page                `json:"pagination"`
	}
	path := fmt.Sprintf("/api/v1/chat/%d/messages?page=%d", chatID, page)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, nil, Page{}, err
	}
	return out.Chat, out.Messages, out.Pagination, nil
}

// Send persists a message. The server assigns the id and timestamp; the
// returned message is authoritative.
func (a *API) Send(ctx context.Context, chatID int64, content, messageType, mediaURL string) (*model.Message, error) {
	body := map[string]string{
		"content":   content,
		"type":      messageType,
		"media_url": mediaURL,
	}
	var out struct {
		Message *model.Message `json:"message"`
	}
	path := fmt.Sprintf("/api/v1/chat/%d/send", chatID)
	if err := a.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// StartChat finds or creates the conversation with a seller, optionally
// anchored to a product.
func (a *API) StartChat(ctx context.Context, sellerID, productID int64) (*model.Conversation, error) {
	body := map[string]int64{"seller_id": sellerID}
	if productID != 0 {
		body["product_id"] = productID
	}
	var out struct {
		Chat *model.Conversation `json:"chat"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/v1/chat/start", body, &out); err != nil {
		return nil, err
	}
	return out.Chat, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("chatclient: encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("chatclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := a.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("chatclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chatclient: decode response: %w", err)
	}
	return nil
}
