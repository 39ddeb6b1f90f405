package serving

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const healthTimeout = 5 * time.Second

// handleHealthz pings the knowledge store.
// Returns 200 {"status": "healthy"} or 503 {"status": "unhealthy", "error": ...}.
// Stores that cannot be pinged are reported healthy.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var err error
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if pingErr := s.pinger.Ping(ctx); pingErr != nil {
			err = fmt.Errorf("knowledge store unreachable: %w", pingErr)
		}
	}

	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}
