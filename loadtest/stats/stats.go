// Package stats provides a goroutine-safe metrics collector that aggregates
// latency and event data from many load test clients and prints a summary report
// with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates metrics from multiple load test clients. All methods
// are goroutine-safe and can be called concurrently from many client
// goroutines.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	msgLatencies     []time.Duration
	pairLatencies    []time.Duration
	events           map[string]int
	errors           int
	connections      int
	startTime        time.Time
	scraper          *Scraper
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When set,
// Report() will also print server-side metrics collected by the scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now(), events: make(map[string]int)}
}

// AddConnect records a successful connection with the given connect latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddMsgLatency records a message round-trip latency measurement.
func (c *Collector) AddMsgLatency(d time.Duration) {
	c.mu.Lock()
	c.msgLatencies = append(c.msgLatencies, d)
	c.mu.Unlock()
}

// AddPairLatency records the time from search to connected.
func (c *Collector) AddPairLatency(d time.Duration) {
	c.mu.Lock()
	c.pairLatencies = append(c.pairLatencies, d)
	c.mu.Unlock()
}

// AddEvent counts one server frame of the given type.
func (c *Collector) AddEvent(msgType string) {
	c.mu.Lock()
	c.events[msgType]++
	c.mu.Unlock()
}

// EventCount returns how many frames of msgType were recorded.
func (c *Collector) EventCount(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[msgType]
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the current number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the current number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a formatted summary of the collected metrics to stdout:
// totals, latency percentiles and per-type event counts.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Connections:  %d\n", c.connections)
	fmt.Printf("Errors:       %d\n", c.errors)

	if c.connections > 0 {
		errorRate := float64(c.errors) / float64(c.connections) * 100
		fmt.Printf("Error rate:   %.2f%%\n", errorRate)
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- Connect Latency ---")
		printPercentiles(c.connectLatencies)
	}

	if len(c.pairLatencies) > 0 {
		fmt.Println("\n--- Pairing Latency ---")
		printPercentiles(c.pairLatencies)
	}

	if len(c.msgLatencies) > 0 {
		fmt.Println("\n--- Message Latency ---")
		printPercentiles(c.msgLatencies)
	}

	if len(c.events) > 0 {
		fmt.Println("\n--- Server Events ---")
		types := make([]string, 0, len(c.events))
		for t := range c.events {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("  %-24s %d\n", t, c.events[t])
		}
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

// summary is the percentile breakdown of one latency series.
type summary struct {
	avg, p50, p95, p99, max time.Duration
	n                       int
}

// summarize sorts durations in place and computes its percentiles. It
// returns the zero summary for an empty series.
func summarize(durations []time.Duration) summary {
	n := len(durations)
	if n == 0 {
		return summary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	rank := func(q float64) time.Duration {
		return durations[int(math.Ceil(float64(n)*q))-1]
	}
	return summary{
		avg: sum / time.Duration(n),
		p50: durations[n/2],
		p95: rank(0.95),
		p99: rank(0.99),
		max: durations[n-1],
		n:   n,
	}
}

func printPercentiles(durations []time.Duration) {
	s := summarize(durations)
	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		s.avg.Round(time.Microsecond),
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
		s.max.Round(time.Microsecond),
		s.n,
	)
}
