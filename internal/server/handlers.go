package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gcolon75/Project-Valine-sub002/internal/interaction"
)

// maxBodySize bounds inbound payloads. Interaction events are small; anything
// larger is hostile or broken.
const maxBodySize = 1 << 20

// verifySignature rejects requests whose ed25519 signature over
// timestamp||body does not verify against the configured public key. The
// body is re-buffered for the downstream handler. Runs before any command
// logic.
func (s *Server) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig := r.Header.Get(interaction.HeaderSignature)
		ts := r.Header.Get(interaction.HeaderTimestamp)
		if sig == "" || ts == "" {
			s.logger.Warn("interaction missing signature headers", map[string]any{
				"remote": r.RemoteAddr,
			})
			http.Error(w, "missing signature", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}

		if !s.verifier.Verify(ts, body, sig) {
			s.logger.Warn("interaction signature rejected", map[string]any{
				"remote":    r.RemoteAddr,
				"signature": sig,
			})
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var payload interaction.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	resp := s.dispatch.Handle(r.Context(), &payload)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
