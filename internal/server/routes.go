package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/latticemem/lattice/internal/ledger"
)

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string `json:"source_id"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.SourceID == "" {
		http.Error(w, `{"error":"source_id required"}`, http.StatusBadRequest)
		return
	}

	p := s.engine.EnrichInput(req.SourceID, req.Text)
	s.persist()

	writeJSON(w, http.StatusOK, map[string]any{
		"final_text":      p.FinalText,
		"context_summary": p.Summary,
		"tokens_added":    p.TokensAdded,
		"context_sources": p.Sources,
	})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string `json:"source_id"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.SourceID == "" {
		http.Error(w, `{"error":"source_id required"}`, http.StatusBadRequest)
		return
	}

	s.engine.RecordOutput(req.SourceID, req.Text)
	s.persist()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message  string `json:"message"`
		Platform string `json:"platform"`
		Force    bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	res := s.engine.DecideInjection(req.Message, req.Platform, req.Force)
	s.persist()

	writeJSON(w, http.StatusOK, map[string]any{
		"final_text": res.InjectedMessage,
		"injected":   res.WasInjected,
		"relevance":  res.Relevance,
		"summary":    res.Summary,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier string `json:"tier"`
		ledger.Update
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	tier := ledger.Tier(req.Tier)
	if tier != ledger.TierPremium {
		tier = ledger.TierFree
	}

	s.engine.UpdateSettings(req.Update, tier)
	s.persist()

	writeJSON(w, http.StatusOK, s.engine.Settings())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetStats())
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": s.engine.DecisionLog(queryInt(r, "n", 20)),
	})
}

func (s *Server) handleInjections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"injections": s.engine.RecentInjections(queryInt(r, "n", 10)),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearAll()
	s.persist()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
