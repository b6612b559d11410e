package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/campusmarket/chat-app/loadtest/client"
	"github.com/campusmarket/chat-app/loadtest/stats"
)

// runChat pairs users off as buyer and seller and has each buyer send
// messages for the configured duration. Delivery latency is measured by
// embedding the send timestamp in the message text and reading it back
// on the seller's websocket.
func runChat(opts options) error {
	collector := stats.NewCollector()
	ctx, cancel := context.WithTimeout(context.Background(), opts.duration+30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	deadline := time.Now().Add(opts.duration)

	for i := 0; i < opts.pairs; i++ {
		buyerID := opts.firstUser + int64(i*2)
		sellerID := opts.firstUser + int64(i*2+1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runPair(ctx, opts, collector, buyerID, sellerID, deadline); err != nil {
				collector.AddError()
				fmt.Printf("pair %d/%d: %v\n", buyerID, sellerID, err)
			}
		}()
	}

	wg.Wait()
	collector.Report()
	if collector.ErrorCount() > 0 {
		return fmt.Errorf("%d pairs failed", collector.ErrorCount())
	}
	return nil
}

func runPair(ctx context.Context, opts options, collector *stats.Collector, buyerID, sellerID int64, deadline time.Time) error {
	buyerToken, err := mintToken(opts.secret, buyerID)
	if err != nil {
		return err
	}
	sellerToken, err := mintToken(opts.secret, sellerID)
	if err != nil {
		return err
	}

	buyer, err := client.Dial(ctx, opts.baseURL, opts.wsURL, buyerID, buyerToken)
	if err != nil {
		return fmt.Errorf("buyer dial: %w", err)
	}
	defer buyer.Close()
	collector.AddConnect(buyer.ConnectLatency)

	seller, err := client.Dial(ctx, opts.baseURL, opts.wsURL, sellerID, sellerToken)
	if err != nil {
		return fmt.Errorf("seller dial: %w", err)
	}
	defer seller.Close()
	collector.AddConnect(seller.ConnectLatency)

	chatID, err := buyer.StartChat(ctx, sellerID)
	if err != nil {
		return fmt.Errorf("start chat: %w", err)
	}

	// The seller ingests messages and reports end-to-end latency from
	// the timestamp the buyer embedded.
	seller.On(client.TypeNewMessage, func(raw json.RawMessage) {
		var msg client.Message
		if json.Unmarshal(raw, &msg) != nil || msg.SenderID != buyerID {
			return
		}
		if ns, ok := sentAt(msg.Content); ok {
			collector.AddDelivery(time.Since(time.Unix(0, ns)))
		}
	})
	if err := seller.Join(chatID); err != nil {
		return fmt.Errorf("seller join: %w", err)
	}
	if err := buyer.Join(chatID); err != nil {
		return fmt.Errorf("buyer join: %w", err)
	}

	for time.Now().Before(deadline) {
		text := "ping " + strconv.FormatInt(time.Now().UnixNano(), 10)
		start := time.Now()
		if _, err := buyer.Send(ctx, chatID, text); err != nil {
			collector.AddError()
		} else {
			collector.AddSend(time.Since(start))
		}
		// Jittered pacing so pairs don't send in lockstep.
		time.Sleep(500*time.Millisecond + time.Duration(rand.Intn(500))*time.Millisecond)
	}

	// Let the last deliveries drain.
	time.Sleep(time.Second)
	return nil
}

// sentAt extracts the nanosecond timestamp a chat scenario message
// carries after the "ping " prefix.
func sentAt(text string) (int64, bool) {
	rest, ok := strings.CutPrefix(text, "ping ")
	if !ok {
		return 0, false
	}
	ns, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return ns, true
}
