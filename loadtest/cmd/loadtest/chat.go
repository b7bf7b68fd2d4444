package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/randomchips/chat-app/loadtest/client"
	"github.com/randomchips/chat-app/loadtest/stats"
)

// stampPrefix marks load test messages so the receiver can compute
// one-way latency from the embedded send time.
const stampPrefix = "lt:"

// runChat connects the clients, then has each of them search, chat with
// whoever it is paired with for a while, press next, and repeat until the
// test duration is over. A client whose partner leaves searches again.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	users := fs.Int("users", 200, "Number of simulated users")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	duration := fs.Duration("duration", 60*time.Second, "Chat phase duration")
	chatFor := fs.Duration("chat-for", 15*time.Second, "How long a user stays with a partner before next")
	msgInterval := fs.Duration("msg-interval", 2500*time.Millisecond, "Interval between messages per user")
	msgSize := fs.Int("msg-size", 64, "Size of each message payload in bytes")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Chat test: %d users to %s (ramp=%s, duration=%s, chat-for=%s, interval=%s, msg-size=%d)\n",
		*users, *url, *rampUp, *duration, *chatFor, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Println("\n--- Phase 1: Connect ---")
	clients := rampConnect(ctx, *url, *users, *rampUp, *concurrency, collector)
	fmt.Printf("\nPhase 1 complete: %d/%d connections (%d errors)\n",
		len(clients), *users, collector.ErrorCount())

	if ctx.Err() == nil && len(clients) >= 2 {
		fmt.Printf("\n--- Phase 2: Chat for %s ---\n", *duration)
		chatCtx, cancel := context.WithTimeout(ctx, *duration)

		var wg sync.WaitGroup
		for _, c := range clients {
			wg.Add(1)
			go func(c *client.Client) {
				defer wg.Done()
				simulateUser(chatCtx, c, collector, *chatFor, *msgInterval, *msgSize)
			}(c)
		}

		progress := time.NewTicker(5 * time.Second)
		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()
	wait:
		for {
			select {
			case <-finished:
				break wait
			case <-progress.C:
				fmt.Printf("  [chat] paired: %d  partner_left: %d  rate_limited: %d  errors: %d\n",
					collector.EventCount(client.TypeConnected),
					collector.EventCount(client.TypePartnerDisconnected),
					collector.EventCount(client.TypeRateLimited),
					collector.ErrorCount())
			}
		}
		progress.Stop()
		cancel()
	}

	fmt.Println("\n--- Cleanup ---")
	closeAll(clients)
	scraper.Stop()
	collector.Report()
}

// simulateUser drives one client until ctx is done.
func simulateUser(ctx context.Context, c *client.Client, collector *stats.Collector, chatFor, msgInterval time.Duration, msgSize int) {
	searchStart := time.Now()
	if err := c.Search(); err != nil {
		collector.AddError()
		return
	}

	var (
		paired   bool
		pairedAt time.Time
	)
	send := time.NewTicker(msgInterval)
	defer send.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-c.Inbox():
			if !ok {
				collector.AddError()
				return
			}
			collector.AddEvent(ev.Type)

			switch ev.Type {
			case client.TypeConnected:
				paired, pairedAt = true, ev.ReceivedAt
				collector.AddPairLatency(ev.ReceivedAt.Sub(searchStart))
			case client.TypeMessage:
				if d, ok := messageLatency(ev); ok {
					collector.AddMsgLatency(d)
				}
			case client.TypePartnerDisconnected:
				paired = false
				searchStart = time.Now()
				if err := c.Search(); err != nil {
					collector.AddError()
					return
				}
			case client.TypeBanned:
				return
			}

		case now := <-send.C:
			if !paired {
				continue
			}
			if now.Sub(pairedAt) >= chatFor {
				paired = false
				searchStart = now
				if err := c.Next(); err != nil {
					collector.AddError()
					return
				}
				continue
			}
			if err := c.Message(stampedText(now, msgSize)); err != nil {
				collector.AddError()
				return
			}
		}
	}
}

// stampedText returns a message of roughly size bytes carrying t.
func stampedText(t time.Time, size int) string {
	stamp := stampPrefix + strconv.FormatInt(t.UnixNano(), 10) + ":"
	if pad := size - len(stamp); pad > 0 {
		return stamp + strings.Repeat("x", pad)
	}
	return stamp
}

// messageLatency recovers the send time stamped into a relayed message.
func messageLatency(ev client.Event) (time.Duration, bool) {
	var m struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(ev.Raw, &m); err != nil || !strings.HasPrefix(m.Text, stampPrefix) {
		return 0, false
	}
	raw, _, _ := strings.Cut(strings.TrimPrefix(m.Text, stampPrefix), ":")
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ev.ReceivedAt.Sub(time.Unix(0, nanos)), true
}
