package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vigil-systems/vigil/internal/expfmt"
	"github.com/vigil-systems/vigil/internal/rules"
)

// handleMetrics serves a fresh registry snapshot in text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", expfmt.ContentType)
	if err := expfmt.Encode(w, s.registry.Snapshot()); err != nil {
		s.logger.Error("encoding metrics failed", "error", err, "requestID", RequestIDFromContext(r.Context()))
	}
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	}); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// handleRules returns the current state of every loaded rule.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	states := s.engine.States()
	if err := json.NewEncoder(w).Encode(states); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode response", err)
	}
}

// handleReload re-reads the configured rule files and atomically swaps the
// engine's rule set. An invalid set leaves the previous one in place.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	set, err := rules.LoadFiles(s.ruleFiles)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), err)
		return
	}
	if err := s.engine.Load(set); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, rules.ErrInvalidRuleSet) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error(), err)
		return
	}

	s.logger.Info("rules reloaded", "rules", len(set.Rules), "requestID", RequestIDFromContext(r.Context()))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "reloaded",
		"rules":  len(set.Rules),
	})
}

// writeError logs the internal error and returns a JSON error to the client.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		s.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
