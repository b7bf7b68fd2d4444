package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/randomchips/chat-app/internal/ratelimit"
	"github.com/randomchips/chat-app/internal/ws"
)

// Reporter files an abuse report on behalf of a session participant.
type Reporter interface {
	Submit(ctx context.Context, sessionID, reason, submitterAddr string) (string, error)
}

// Stats reports live counters for the health endpoint.
type Stats interface {
	Connections() int
	QueueSize() int
	ActiveSessions() int
}

// Limiter is the subset of ratelimit.Limiter the HTTP layer uses.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) time.Duration
}

// Handler serves the JSON endpoints.
type Handler struct {
	reports Reporter
	stats   Stats
	limiter Limiter
	now     func() time.Time
}

// NewHandler creates a Handler. A nil limiter disables rate limiting.
func NewHandler(reports Reporter, stats Stats, limiter Limiter) *Handler {
	return &Handler{reports: reports, stats: stats, limiter: limiter, now: time.Now}
}

type reportRequest struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type reportResponse struct {
	Success  bool   `json:"success"`
	ReportID string `json:"reportId"`
	Message  string `json:"message"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Connections int    `json:"connections"`
	Queue       int    `json:"queue"`
	Sessions    int    `json:"sessions"`
}

func (h *Handler) submitReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "Invalid request body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" || strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "Missing required fields")
		return
	}

	addr := ws.ClientAddr(r)
	reportID, err := h.reports.Submit(r.Context(), req.SessionID, req.Reason, addr)
	if err != nil {
		status, code, message := mapError(err)
		if status >= http.StatusInternalServerError {
			log.Printf("[http] report submission failed session=%s request_id=%s: %v",
				req.SessionID, requestIDFromContext(r.Context()), err)
		}
		writeError(w, status, code, message)
		return
	}

	writeJSON(w, http.StatusOK, reportResponse{
		Success:  true,
		ReportID: reportID,
		Message:  "Report submitted successfully",
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if h.stats != nil {
		resp.Connections = h.stats.Connections()
		resp.Queue = h.stats.QueueSize()
		resp.Sessions = h.stats.ActiveSessions()
	}
	writeJSON(w, http.StatusOK, resp)
}
