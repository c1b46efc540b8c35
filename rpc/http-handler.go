package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/spooky-finn/orderbook-sync/usecase"
	"go.uber.org/zap"
)

type HTTPHandler struct {
	marketData        MarketData
	validationService *ValidationService
	logger            *zap.Logger
}

// NewHTTPHandler mounts the health, metrics and read endpoints on a chi router.
func NewHTTPHandler(marketData MarketData, conf *ValidationServiceConfig, metrics http.Handler, logger *zap.Logger) http.Handler {
	h := &HTTPHandler{
		marketData:        marketData,
		validationService: NewValidationService(conf),
		logger:            logger,
	}

	r := chi.NewRouter()
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/symbols", h.Symbols)
		r.Get("/state/{symbol}", h.State)
		r.Get("/orderbook/{symbol}", h.OrderBook)
		r.Get("/candles/{symbol}", h.Candles)
	})
	return r
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Symbols(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{"symbols": h.marketData.Symbols()})
}

func (h *HTTPHandler) State(w http.ResponseWriter, r *http.Request) {
	symbol, err := h.validationService.Symbol(chi.URLParam(r, "symbol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state, err := h.marketData.State(symbol)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *HTTPHandler) OrderBook(w http.ResponseWriter, r *http.Request) {
	symbol, err := h.validationService.Symbol(chi.URLParam(r, "symbol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	snapshot, err := h.marketData.OrderBookSnapshot(r.Context(), symbol, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

func (h *HTTPHandler) Candles(w http.ResponseWriter, r *http.Request) {
	symbol, err := h.validationService.Symbol(chi.URLParam(r, "symbol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	from, to, err := h.validationService.DateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	candles, err := h.marketData.DailyCandles(r.Context(), symbol, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  symbol.String(),
		"from":    from.Format(dateLayout),
		"to":      to.Format(dateLayout),
		"candles": candles,
	})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrSymbolNotTracked):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Warn("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}
