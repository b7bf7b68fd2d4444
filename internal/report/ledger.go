// Package report records abuse reports and bans addresses that collect too
// many of them. Each report stores the reporter, the reported address, the
// session's message log at report time, and a best-effort location.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randomchips/chat-app/internal/chat"
	"github.com/randomchips/chat-app/internal/geo"
	"github.com/randomchips/chat-app/internal/messaging"
	"github.com/randomchips/chat-app/internal/metrics"
)

// Auto-ban policy.
const (
	BanThreshold = 3
	BanWindow    = 7 * 24 * time.Hour
	BanDuration  = 24 * time.Hour
	BanReason    = "multiple reports"
)

// ErrInvalidReason is returned for reasons outside the allowed set.
var ErrInvalidReason = errors.New("report: invalid reason")

var validReasons = map[string]bool{
	"threat":        true,
	"inappropriate": true,
	"spam":          true,
	"other":         true,
}

// NormalizeReason lower-cases reason and checks it against the allowed set.
func NormalizeReason(reason string) (string, error) {
	r := strings.ToLower(strings.TrimSpace(reason))
	if !validReasons[r] {
		return "", fmt.Errorf("%w %q", ErrInvalidReason, reason)
	}
	return r, nil
}

// Report is one stored report.
type Report struct {
	ID           string          `json:"id"`
	ReporterAddr string          `json:"reporter_ip"`
	ReportedAddr string          `json:"reported_ip"`
	SessionID    string          `json:"session_id"`
	Reason       string          `json:"reason"`
	ChatLog      json.RawMessage `json:"chat_logs"`
	Location     json.RawMessage `json:"location"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Input carries what a caller knows when filing a report.
type Input struct {
	ReporterAddr string
	ReportedAddr string
	SessionID    string
	Reason       string
	Messages     []chat.Message
}

// Repository persists reports.
type Repository interface {
	Insert(ctx context.Context, r Report) error
	// CountSince counts reports against address created at or after since.
	CountSince(ctx context.Context, address string, since time.Time) (int, error)
	ListByAddress(ctx context.Context, address string) ([]Report, error)
}

// Banner is the part of the ban gate the ledger writes to.
type Banner interface {
	Ban(ctx context.Context, address, reason string, duration time.Duration) (string, error)
}

// Locator resolves an address to a location descriptor.
type Locator interface {
	Locate(addr string) geo.Location
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// logEntry is the shape of one message in the stored chat log.
type logEntry struct {
	SenderAddr string    `json:"sender_ip"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ledger files reports and applies the auto-ban policy.
type Ledger struct {
	repo    Repository
	bans    Banner
	locator Locator
	events  Publisher
	now     func() time.Time
}

// NewLedger creates a Ledger. locator and events may be nil.
func NewLedger(repo Repository, bans Banner, locator Locator, events Publisher) *Ledger {
	return &Ledger{
		repo:    repo,
		bans:    bans,
		locator: locator,
		events:  events,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Create stores a report and bans the reported address once it has
// BanThreshold reports within BanWindow. It returns the new report's ID.
// An error means nothing was stored.
func (l *Ledger) Create(ctx context.Context, in Input) (string, error) {
	reason, err := NormalizeReason(in.Reason)
	if err != nil {
		return "", err
	}

	entries := make([]logEntry, 0, len(in.Messages))
	for _, m := range in.Messages {
		entries = append(entries, logEntry{SenderAddr: m.SenderAddr, Message: m.Text, CreatedAt: m.CreatedAt})
	}
	chatLog, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("report: marshal chat log: %w", err)
	}

	loc := geo.Fallback(in.ReportedAddr)
	if l.locator != nil {
		loc = l.locator.Locate(in.ReportedAddr)
	}
	location, err := json.Marshal(loc)
	if err != nil {
		return "", fmt.Errorf("report: marshal location: %w", err)
	}

	now := l.now()
	r := Report{
		ID:           uuid.New().String(),
		ReporterAddr: in.ReporterAddr,
		ReportedAddr: in.ReportedAddr,
		SessionID:    in.SessionID,
		Reason:       reason,
		ChatLog:      chatLog,
		Location:     location,
		CreatedAt:    now,
	}
	if err := l.repo.Insert(ctx, r); err != nil {
		return "", fmt.Errorf("report: insert: %w", err)
	}

	// The report is committed from here on. Later failures are logged and
	// the id is still returned, so a retry cannot file it twice; the next
	// report against the address re-evaluates the threshold.
	count, err := l.repo.CountSince(ctx, in.ReportedAddr, now.Add(-BanWindow))
	if err != nil {
		log.Printf("[report] %s: count recent against %s: %v", r.ID, in.ReportedAddr, err)
		return r.ID, nil
	}
	metrics.ReportsTotal.WithLabelValues(reason).Inc()
	log.Printf("[report] %s filed against %s reason=%s (%d in window)", r.ID, in.ReportedAddr, reason, count)

	l.publish(messaging.SubjectReportCreated, messaging.ReportCreated{
		ReportID:     r.ID,
		SessionID:    r.SessionID,
		ReportedAddr: r.ReportedAddr,
		Reason:       reason,
		Count:        count,
		CreatedAt:    now.Unix(),
	})

	if count >= BanThreshold {
		banID, err := l.bans.Ban(ctx, in.ReportedAddr, BanReason, BanDuration)
		if err != nil {
			log.Printf("[report] %s: auto-ban %s after %d reports: %v", r.ID, in.ReportedAddr, count, err)
			return r.ID, nil
		}
		metrics.BansTotal.WithLabelValues("auto").Inc()
		log.Printf("[report] auto-banned %s after %d reports", in.ReportedAddr, count)
		l.publish(messaging.SubjectBanApplied, messaging.BanApplied{
			BanID:       banID,
			Address:     in.ReportedAddr,
			Reason:      BanReason,
			BannedUntil: now.Add(BanDuration).Unix(),
		})
	}

	return r.ID, nil
}

// ListByAddress returns the reports filed against address, oldest first.
func (l *Ledger) ListByAddress(ctx context.Context, address string) ([]Report, error) {
	reports, err := l.repo.ListByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	return reports, nil
}

// publish is best effort; a bus outage never fails a report.
func (l *Ledger) publish(subject string, v any) {
	if l.events == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[report] marshal %s: %v", subject, err)
		return
	}
	if err := l.events.Publish(subject, data); err != nil {
		log.Printf("[report] publish %s: %v", subject, err)
	}
}
