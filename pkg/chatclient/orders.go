package chatclient

import "github.com/campusmarket/chat-app/internal/model"

// WatchOrder starts tracking status updates for the order open in the
// detail view. initial is the order document the view fetched over
// REST; updates replace it wholesale.
func (c *Client) WatchOrder(orderID int64, initial []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchedOrder = orderID
	c.orderStatus = ""
	c.orderDoc = initial
}

// UnwatchOrder stops tracking order updates, typically on navigation
// away from the detail view.
func (c *Client) UnwatchOrder() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchedOrder = 0
	c.orderStatus = ""
	c.orderDoc = nil
}

// Order returns the watched order's latest status and document. The
// status is empty until the first update arrives.
func (c *Client) Order() (status string, doc []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderStatus, c.orderDoc
}

// handleOrderStatus applies an order lifecycle transition. Updates for
// orders other than the watched one are dropped; the payload's order
// object is authoritative and complete, so no merging.
func (c *Client) handleOrderStatus(u model.OrderStatusUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u.OrderID != c.watchedOrder {
		return
	}
	c.orderStatus = u.Status
	c.orderDoc = []byte(u.Order)
}
