package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/brojonat/solstream/service/stream"
)

const (
	// Solana addresses are 32-44 base58 characters.
	minAddressLength = 32
	maxAddressLength = 44
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// statusResponse is the JSON body of the status endpoint.
type statusResponse struct {
	Address   string       `json:"address,omitempty"`
	Phase     stream.Phase `json:"phase"`
	Attempt   int          `json:"attempt"`
	Timestamp time.Time    `json:"timestamp"`
}

// handleGetStatus returns a handler that reports the streaming session's
// connection phase and retry count.
// GET /api/v1/status
func handleGetStatus(session SessionStatus, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session == nil {
			writeError(w, "no session configured", http.StatusServiceUnavailable)
			return
		}

		resp := statusResponse{
			Address:   session.Address(),
			Phase:     session.Phase(),
			Attempt:   session.Attempt(),
			Timestamp: time.Now().UTC(),
		}

		logger.DebugContext(r.Context(), "status requested",
			"phase", resp.Phase,
			"attempt", resp.Attempt,
		)
		writeJSON(w, resp, http.StatusOK)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress does a cheap format check on a path parameter before it
// is interpolated into a NATS subject.
func validateAddress(address string) bool {
	if len(address) < minAddressLength || len(address) > maxAddressLength {
		return false
	}
	return validAddressRegex.MatchString(address)
}
