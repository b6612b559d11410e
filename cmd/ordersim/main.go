// ordersim publishes a single order status transition on the order
// status subject, standing in for the order service during development.
// Connected clients of the buyer and seller should receive an
// order_status_update frame.
//
//	ordersim -order 42 -status shipped -buyer 7 -seller 9
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/campusmarket/chat-app/internal/messaging"
)

func main() {
	orderID := flag.Int64("order", 0, "order id")
	status := flag.String("status", "", "new order status (pending, paid, shipped, delivered, cancelled)")
	buyerID := flag.Int64("buyer", 0, "buyer user id")
	sellerID := flag.Int64("seller", 0, "seller user id")
	flag.Parse()

	if *orderID == 0 || *status == "" || *buyerID == 0 || *sellerID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := messaging.DefaultConfig()
	cfg.Name = "ordersim"
	if url := os.Getenv("ORDERSIM_NATS_URL"); url != "" {
		cfg.URL = url
	}
	nc, err := messaging.NewClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nats connect failed: %v\n", err)
		os.Exit(1)
	}
	defer nc.Close()

	doc, _ := json.Marshal(map[string]interface{}{
		"id":     *orderID,
		"status": *status,
	})
	event, err := json.Marshal(map[string]interface{}{
		"order_id":  *orderID,
		"status":    *status,
		"buyer_id":  *buyerID,
		"seller_id": *sellerID,
		"order":     json.RawMessage(doc),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal event: %v\n", err)
		os.Exit(1)
	}
	if err := nc.PublishOrderStatus(event); err != nil {
		fmt.Fprintf(os.Stderr, "publish failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("order %d -> %s (buyer %d, seller %d)\n", *orderID, *status, *buyerID, *sellerID)
}
