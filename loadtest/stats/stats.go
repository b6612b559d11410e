// Package stats aggregates measurements from concurrent load test
// users and prints a percentile summary.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector accumulates latencies and counters from many goroutines.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	sendLatencies    []time.Duration
	deliveries       []time.Duration
	errors           int
	connections      int
	messagesSent     int
	start            time.Time
}

func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// AddConnect records a completed handshake.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddSend records the REST send round trip.
func (c *Collector) AddSend(d time.Duration) {
	c.mu.Lock()
	c.sendLatencies = append(c.sendLatencies, d)
	c.messagesSent++
	c.mu.Unlock()
}

// AddDelivery records send-to-websocket-delivery latency as observed by
// the recipient.
func (c *Collector) AddDelivery(d time.Duration) {
	c.mu.Lock()
	c.deliveries = append(c.deliveries, d)
	c.mu.Unlock()
}

func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints the run summary to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.start)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:      %s\n", elapsed.Round(time.Second))
	fmt.Printf("Connections:   %d\n", c.connections)
	fmt.Printf("Messages sent: %d\n", c.messagesSent)
	fmt.Printf("Errors:        %d\n", c.errors)
	if c.messagesSent > 0 && elapsed > 0 {
		fmt.Printf("Throughput:    %.1f msg/s\n", float64(c.messagesSent)/elapsed.Seconds())
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- Connect Latency ---")
		printPercentiles(c.connectLatencies)
	}
	if len(c.sendLatencies) > 0 {
		fmt.Println("\n--- Send (REST) Latency ---")
		printPercentiles(c.sendLatencies)
	}
	if len(c.deliveries) > 0 {
		fmt.Println("\n--- End-to-End Delivery Latency ---")
		printPercentiles(c.deliveries)
	}
	fmt.Println()
}

func printPercentiles(durations []time.Duration) {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	p50 := durations[n/2]
	p95 := durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 := durations[int(math.Ceil(float64(n)*0.99))-1]

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
