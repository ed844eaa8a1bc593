package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/internal/region"
	"github.com/xkilldash9x/browser-operator/internal/service"
)

const (
	transportHTTP = "http"

	msgMissingGoal   = "Missing required field: goal"
	msgInternalError = "Internal Server Error"
)

type agentRequest struct {
	Goal string `json:"goal"`
}

type agentResponse struct {
	Result string `json:"result"`
}

// handleAgent runs one goal on a fresh session and returns the loop's final text.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "error"
	defer func() { s.metrics.Invocation(transportHTTP, outcome, time.Since(start)) }()

	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("Failed to decode agent request.", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		outcome = "rejected"
		s.respondError(w, http.StatusBadRequest, msgMissingGoal)
		return
	}

	ctx, cancel := s.invocationContext(r.Context())
	defer cancel()

	res, err := s.op.Run(ctx, service.RunParams{
		Region:  region.Local(),
		Goal:    req.Goal,
		Release: true,
	})
	if err != nil {
		outcome = outcomeFor(err)
		s.logger.Error("Agent invocation failed.", zap.Error(err), zap.String("session_id", res.SessionID))
		s.respondError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	outcome = "ok"
	s.respondJSON(w, http.StatusOK, agentResponse{Result: res.Text})
}
