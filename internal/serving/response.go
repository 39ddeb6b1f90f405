package serving

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// PredictResponse is the body of a successful predict request.
type PredictResponse struct {
	Val float64 `json:"val"`
}

// FailureResponse is the body of every failed request. It never carries a
// numeric value.
type FailureResponse struct {
	Error string `json:"error"`
	Stage Stage  `json:"stage"`
}

// HealthResponse represents the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, f *Failure) {
	s.writeJSON(w, f.Status, FailureResponse{Error: f.Reason, Stage: f.Stage})
}
