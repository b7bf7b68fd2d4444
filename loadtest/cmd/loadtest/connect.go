package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/randomchips/chat-app/loadtest/client"
	"github.com/randomchips/chat-app/loadtest/stats"
)

// rampConnect opens n connections spread over ramp, with at most
// concurrency dials in flight, and returns the ones that completed the
// session_created handshake. It stops early when ctx is cancelled.
func rampConnect(ctx context.Context, url string, n int, ramp time.Duration, concurrency int, collector *stats.Collector) []*client.Client {
	interval := ramp / time.Duration(n)
	if interval <= 0 {
		interval = time.Millisecond
	}

	var (
		mu      sync.Mutex
		clients = make([]*client.Client, 0, n)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, concurrency)
	)

	progressStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		last, lastTime := 0, time.Now()
		for {
			select {
			case now := <-ticker.C:
				conns := collector.ConnectionCount()
				rate := float64(conns-last) / now.Sub(lastTime).Seconds()
				fmt.Printf("  [connect] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					conns, n, collector.ErrorCount(), rate)
				last, lastTime = conns, now
			case <-progressStop:
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

launch:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break launch
		case <-ticker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(connCtx, url, fmt.Sprintf("Load%d", i))
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitForSession(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			collector.AddConnect(c.GetMetrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}

	wg.Wait()
	close(progressStop)
	return clients
}

func closeAll(clients []*client.Client) {
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
}
