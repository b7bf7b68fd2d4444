package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/randomchips/chat-app/loadtest/client"
	"github.com/randomchips/chat-app/loadtest/stats"
)

// runSaturate ramps up idle connections and holds them. During the hold
// every client sends an application ping on each probe tick; a client
// counts as alive while its read loop is running and its last probe was
// answered with a pong. This finds the connection count at which the
// server starts refusing or dropping clients.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	probe := fs.Duration("probe", 5*time.Second, "Interval between liveness probes during hold")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, 2*time.Second)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Println("\n--- Ramp-up phase ---")
	start := time.Now()
	clients := rampConnect(ctx, *url, *connections, *rampUp, *concurrency, collector)
	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		len(clients), *connections, time.Since(start).Round(time.Millisecond), collector.ErrorCount())

	if ctx.Err() == nil && len(clients) > 0 {
		fmt.Println("\n--- Hold phase ---")
		fmt.Printf("Holding %d connections for %s...\n", len(clients), *hold)
		holdConnections(ctx, clients, *hold, *probe, collector)
	}

	fmt.Println("\n--- Cleanup ---")
	closeAll(clients)
	scraper.Stop()
	collector.Report()
}

// probed tracks one held client between probes.
type probed struct {
	c      *client.Client
	ponged atomic.Bool
	closed atomic.Bool
}

func holdConnections(ctx context.Context, clients []*client.Client, hold, probe time.Duration, collector *stats.Collector) {
	held := make([]*probed, len(clients))
	for i, c := range clients {
		p := &probed{c: c}
		p.ponged.Store(true)
		held[i] = p

		go func() {
			for ev := range c.Inbox() {
				collector.AddEvent(ev.Type)
				if ev.Type == client.TypePong {
					p.ponged.Store(true)
				}
			}
			p.closed.Store(true)
		}()
	}

	timer := time.NewTimer(hold)
	defer timer.Stop()
	ticker := time.NewTicker(probe)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during hold phase.")
			return
		case <-timer.C:
			fmt.Println("\nHold period complete.")
			return
		case <-ticker.C:
			alive := 0
			for _, p := range held {
				if !p.closed.Load() && p.ponged.Swap(false) {
					alive++
				}
				if !p.closed.Load() {
					if err := p.c.Send(map[string]string{"type": client.TypePing}); err != nil {
						collector.AddError()
					}
				}
			}
			fmt.Printf("  [hold] alive: %d/%d  dropped: %d  pongs: %d\n",
				alive, len(held), len(held)-alive, collector.EventCount(client.TypePong))
		}
	}
}
