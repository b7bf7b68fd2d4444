package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/randomchips/chat-app/internal/report"
)

const (
	codeInvalidInput   = "invalid_input"
	codeNotFound       = "not_found"
	codeNotParticipant = "not_participant"
	codeRateLimited    = "rate_limited"
	codeInternal       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// mapError maps report submission errors to a status, code and the message
// shown to the client. Internal details never reach the response.
func mapError(err error) (int, string, string) {
	switch {
	case err == nil:
		return http.StatusOK, "", ""
	case errors.Is(err, report.ErrInvalidReason):
		return http.StatusBadRequest, codeInvalidInput, "Invalid report reason"
	case errors.Is(err, report.ErrSessionNotFound):
		return http.StatusNotFound, codeNotFound, "Session not found"
	case errors.Is(err, report.ErrParticipantMismatch):
		return http.StatusConflict, codeNotParticipant, "You were not part of this session"
	default:
		return http.StatusInternalServerError, codeInternal, "Failed to submit report"
	}
}
