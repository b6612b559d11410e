package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campusmarket/chat-app/loadtest/client"
	"github.com/campusmarket/chat-app/loadtest/stats"
)

// runSaturate opens as many idle authenticated connections as asked and
// holds them with pings until the duration elapses. Measures handshake
// latency under connection pressure and verifies the server's
// connection cap behaves.
func runSaturate(opts options) error {
	collector := stats.NewCollector()
	ctx, cancel := context.WithTimeout(context.Background(), opts.duration+time.Minute)
	defer cancel()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		users []*client.User
	)

	for i := 0; i < opts.users; i++ {
		userID := opts.firstUser + int64(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := mintToken(opts.secret, userID)
			if err != nil {
				collector.AddError()
				return
			}
			u, err := client.Dial(ctx, opts.baseURL, opts.wsURL, userID, token)
			if err != nil {
				collector.AddError()
				return
			}
			collector.AddConnect(u.ConnectLatency)
			mu.Lock()
			users = append(users, u)
			mu.Unlock()
		}()
		// Ramp instead of thundering herd.
		if i%100 == 99 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	wg.Wait()

	fmt.Printf("established %d/%d connections, holding for %s\n",
		len(users), opts.users, opts.duration)

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	hold := time.After(opts.duration)
	for {
		select {
		case <-ticker.C:
			mu.Lock()
			for _, u := range users {
				_ = u.Emit(map[string]string{"type": "ping"})
			}
			mu.Unlock()
		case <-hold:
			mu.Lock()
			for _, u := range users {
				_ = u.Close()
			}
			mu.Unlock()
			collector.Report()
			return nil
		}
	}
}
