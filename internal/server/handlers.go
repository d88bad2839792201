package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ametov/tradewind/internal/domain"
)

type generateSignalRequest struct {
	AgentID string `json:"agent_id"`
	Symbol  string `json:"symbol"`
}

// handleGenerateSignal asks the signal source for a fresh signal and routes
// it through dispatch. Rejected signals still come back in the result body
// with the rejection reason.
func (s *Server) handleGenerateSignal(w http.ResponseWriter, r *http.Request) {
	var req generateSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	result, err := s.deps.Dispatcher.GenerateAndQueue(r.Context(), req.AgentID, req.Symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleQueueStats reports queue depths and signal counts by status.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Dispatcher.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleCreatePreview materializes an order preview for a manual request.
// Validation failures still produce a preview, already cancelled with the
// validator's findings as the reason.
func (s *Server) handleCreatePreview(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	preview, err := s.deps.Previews.CreatePreview(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, preview)
}

// handleGetPreview returns one preview. Reading settles an elapsed TTL, so
// the response never shows a pending preview past its expiry.
func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	previewID := chi.URLParam(r, "previewID")

	preview, err := s.deps.Previews.GetPreview(previewID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if preview == nil {
		writeError(w, http.StatusNotFound, "preview not found")
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// handleConfirmPreview confirms a pending preview and hands it to
// execution. Confirming a settled preview returns its stored outcome, so
// retries are safe.
func (s *Server) handleConfirmPreview(w http.ResponseWriter, r *http.Request) {
	previewID := chi.URLParam(r, "previewID")

	existing, err := s.deps.Previews.GetPreview(previewID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "preview not found")
		return
	}

	preview, err := s.deps.Previews.ConfirmOrder(r.Context(), previewID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// handleCancelPreview cancels a pending preview. A confirmed preview is
// already executing and cannot be recalled, so that comes back as a
// conflict instead.
func (s *Server) handleCancelPreview(w http.ResponseWriter, r *http.Request) {
	previewID := chi.URLParam(r, "previewID")

	existing, err := s.deps.Previews.GetPreview(previewID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "preview not found")
		return
	}

	preview, err := s.deps.Previews.CancelPreview(previewID)
	if err != nil {
		if preview != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// handleOrderHistory lists a user's orders, newest first.
func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	orders, err := s.deps.Orders.GetOrderHistory(userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// handleAgentPositions derives an agent's open positions from its filled
// orders, marked at current prices.
func (s *Server) handleAgentPositions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	positions, err := s.deps.Positions.GetAgentPositions(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":  agentID,
		"positions": positions,
		"count":     len(positions),
	})
}

// handleAgentPerformance returns an agent's aggregated trade metrics.
// Agents with no completed trades get a zeroed row, not an error.
func (s *Server) handleAgentPerformance(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	metrics, err := s.deps.Performance.GetAgentPerformance(agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}
