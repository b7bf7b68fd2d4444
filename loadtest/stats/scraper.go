package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// metricSnapshot holds the tracked server metrics at a point in time.
type metricSnapshot struct {
	timestamp      time.Time
	connections    float64
	activeSessions float64
	queueSize      float64
	messagesTotal  float64
	reportsTotal   float64
	bansTotal      float64
	// histogram _sum and _count for computing averages
	latencySum   float64
	latencyCount float64
	matchSum     float64
	matchCount   float64
}

// Scraper periodically fetches the server's Prometheus endpoint during a
// load test and keeps the snapshots for the final report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []metricSnapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *http.Client
}

// NewScraper creates a Scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start takes a snapshot immediately and then one per interval until ctx
// is cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop stops the background scraper and waits for its final snapshot.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce() {
	resp, err := s.client.Get(s.metricsURL)
	if err != nil {
		// The server may not be up yet.
		return
	}
	defer resp.Body.Close()

	snap, err := parseSnapshot(resp.Body)
	if err != nil {
		return
	}
	snap.timestamp = time.Now()

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

// parseSnapshot reads a Prometheus text exposition. Labeled series of the
// same counter are summed.
func parseSnapshot(r io.Reader) (metricSnapshot, error) {
	var snap metricSnapshot
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		switch name {
		case "randomchips_connections_total":
			snap.connections = value
		case "randomchips_active_sessions":
			snap.activeSessions = value
		case "randomchips_queue_size":
			snap.queueSize = value
		case "randomchips_messages_total":
			snap.messagesTotal += value
		case "randomchips_reports_total":
			snap.reportsTotal += value
		case "randomchips_bans_total":
			snap.bansTotal += value
		case "randomchips_message_latency_seconds_sum":
			snap.latencySum = value
		case "randomchips_message_latency_seconds_count":
			snap.latencyCount = value
		case "randomchips_match_duration_seconds_sum":
			snap.matchSum = value
		case "randomchips_match_duration_seconds_count":
			snap.matchCount = value
		}
	}
	return snap, scanner.Err()
}

// parseMetricLine splits `name{labels} value` or `name value` into the
// bare metric name and its value.
func parseMetricLine(line string) (name string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", 0, false
		}
		name = raw[:idx]
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", 0, false
	}
	if name == "" {
		name = fields[0]
	}

	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report prints initial, final, delta and peak for each tracked metric.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := make([]metricSnapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}

	first := snaps[0]
	last := snaps[len(snaps)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	rows := []struct {
		label   string
		extract func(metricSnapshot) float64
	}{
		{"Connections", func(m metricSnapshot) float64 { return m.connections }},
		{"Active Sessions", func(m metricSnapshot) float64 { return m.activeSessions }},
		{"Queue Size", func(m metricSnapshot) float64 { return m.queueSize }},
		{"Messages", func(m metricSnapshot) float64 { return m.messagesTotal }},
		{"Reports", func(m metricSnapshot) float64 { return m.reportsTotal }},
		{"Bans", func(m metricSnapshot) float64 { return m.bansTotal }},
	}

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, row := range rows {
		initial, final := row.extract(first), row.extract(last)
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			row.label, initial, final, final-initial, peakValue(snaps, row.extract))
	}

	fmt.Println()
	printHistogramAvg("Msg Latency", last.latencySum-first.latencySum, last.latencyCount-first.latencyCount)
	printHistogramAvg("Match Duration", last.matchSum-first.matchSum, last.matchCount-first.matchCount)
}

func printHistogramAvg(label string, deltaSum, deltaCount float64) {
	if deltaCount > 0 {
		fmt.Printf("  %-16s avg: %.4fs  (%.0f observations)\n", label, deltaSum/deltaCount, deltaCount)
		return
	}
	fmt.Printf("  %-16s avg: N/A  (no observations)\n", label)
}

func peakValue(snaps []metricSnapshot, extract func(metricSnapshot) float64) float64 {
	peak := math.Inf(-1)
	for _, s := range snaps {
		if v := extract(s); v > peak {
			peak = v
		}
	}
	return peak
}
