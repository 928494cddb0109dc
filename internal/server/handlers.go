package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"perpscope/internal/ai"
	"perpscope/internal/model"
	"perpscope/internal/service"
	"perpscope/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	var (
		records []model.RateRecord
		err     error
	)
	if raw := r.URL.Query().Get("minOI"); raw != "" {
		floor, parseErr := decimal.NewFromString(raw)
		if parseErr != nil || floor.IsNegative() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "minOI must be a non-negative number"})
			return
		}
		records, err = s.market.FetchAllWithFloor(r.Context(), floor)
	} else {
		records, err = s.market.FetchAll(r.Context())
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("rates request failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": "no venue data available",
			"data":  []model.RateRecord{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":      records,
		"count":     len(records),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	resp, err := s.market.Sentiment(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("sentiment request failed")
		// The degraded shape keeps the same keys so dashboards do not have to
		// special-case the failure body.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "no venue data available",
			"data":    []model.SymbolAggregate{},
			"signals": []model.Signal{},
			"meta":    model.MarketMeta{Timestamp: time.Now().UTC()},
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArbitrage(w http.ResponseWriter, r *http.Request) {
	minAPY := decimal.Zero
	if raw := r.URL.Query().Get("minCombinedAPY"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "minCombinedAPY must be a non-negative number"})
			return
		}
		minAPY = parsed
	}

	opportunities, err := s.market.Arbitrage(r.Context(), minAPY)
	if err != nil {
		s.logger.Error().Err(err).Msg("arbitrage request failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": "no venue data available",
			"data":  []model.ArbitrageOpportunity{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":      opportunities,
		"count":     len(opportunities),
		"timestamp": time.Now().UTC(),
	})
}

type aiRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleAI(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil || !s.relay.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ai relay not configured"})
		return
	}

	var req aiRequest
	if r.Body != nil {
		// An empty body means the default mode.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	mode, err := ai.ParseMode(req.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp, err := s.market.Sentiment(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "no venue data available"})
		return
	}

	snap := service.BuildSnapshot(resp)
	commentary, err := s.relay.Generate(r.Context(), ai.BuildPrompt(mode, snap))
	if err != nil {
		s.logger.Error().Err(err).Msg("ai generation failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "commentary generation failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":       mode,
		"commentary": commentary,
		"snapshot":   snap,
	})
}

type telegramRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode"`
}

// handleTelegram forwards either a caller-supplied message or freshly
// generated commentary to the configured chat.
func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "telegram not configured"})
		return
	}

	var req telegramRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	text := req.Message
	if text == "" {
		if s.relay == nil || !s.relay.Enabled() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required when ai relay is not configured"})
			return
		}
		mode, err := ai.ParseMode(req.Mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		resp, err := s.market.Sentiment(r.Context())
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "no venue data available"})
			return
		}
		text, err = s.relay.Generate(r.Context(), ai.BuildPrompt(mode, service.BuildSnapshot(resp)))
		if err != nil {
			s.logger.Error().Err(err).Msg("ai generation failed")
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "commentary generation failed"})
			return
		}
	}

	if err := s.notifier.SendText(r.Context(), text); err != nil {
		s.logger.Error().Err(err).Msg("telegram delivery failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "telegram delivery failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": true, "length": len(text)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
