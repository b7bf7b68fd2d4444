package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/randomchips/chat-app/internal/chat"
)

var (
	// ErrSessionNotFound is returned when the reported session does not exist.
	ErrSessionNotFound = errors.New("report: session not found")

	// ErrParticipantMismatch is returned when the submitter was not one of
	// the session's two participants.
	ErrParticipantMismatch = errors.New("report: submitter is not a session participant")
)

// Submitter turns a (session, reason) pair from a participant into a report
// against the other participant.
type Submitter struct {
	sessions chat.Store
	ledger   *Ledger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(sessions chat.Store, ledger *Ledger) *Submitter {
	return &Submitter{sessions: sessions, ledger: ledger}
}

// Submit files a report on behalf of submitterAddr and returns its ID.
func (s *Submitter) Submit(ctx context.Context, sessionID, reason, submitterAddr string) (string, error) {
	normalized, err := NormalizeReason(reason)
	if err != nil {
		return "", err
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("report: get session: %w", err)
	}
	if sess == nil {
		return "", ErrSessionNotFound
	}

	reported, ok := sess.OtherParticipant(submitterAddr)
	if !ok {
		return "", ErrParticipantMismatch
	}

	messages, err := s.sessions.ListMessages(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("report: list messages: %w", err)
	}

	return s.ledger.Create(ctx, Input{
		ReporterAddr: submitterAddr,
		ReportedAddr: reported,
		SessionID:    sessionID,
		Reason:       normalized,
		Messages:     messages,
	})
}
