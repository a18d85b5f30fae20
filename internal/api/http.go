package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"algotrader/internal/store"
	"algotrader/pkg/algotrader"
)

// maxRequestBody caps POST bodies.
const maxRequestBody = 1 << 20

// HTTPHandler serves the REST API under /api/v1.
type HTTPHandler struct {
	svc *Service
	log *slog.Logger
}

// NewHTTPHandler creates an HTTPHandler backed by svc.
func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: svc.log}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/runs", h.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.handleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/trades", h.handleTrades)
	mux.HandleFunc("GET /api/v1/runs/{id}/equity", h.handleEquity)
	mux.HandleFunc("GET /api/v1/strategies", h.handleStrategies)
	mux.HandleFunc("POST /api/v1/backtests", h.handleRunBacktest)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler returns an http.Handler with CORS middleware.
func (h *HTTPHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{Strategy: r.URL.Query().Get("strategy")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	runs, err := h.svc.ListRuns(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, algotrader.RunsResponse{Runs: runs})
}

func (h *HTTPHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *HTTPHandler) handleTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trades, err := h.svc.Trades(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, algotrader.TradesResponse{RunID: id, Trades: trades})
}

func (h *HTTPHandler) handleEquity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	points, err := h.svc.Equity(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, algotrader.EquityResponse{RunID: id, Equity: points})
}

func (h *HTTPHandler) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, algotrader.StrategiesResponse{Strategies: h.svc.Strategies()})
}

func (h *HTTPHandler) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req algotrader.BacktestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	run, err := h.svc.RunBacktest(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch classify(err) {
	case kindNotFound:
		status = http.StatusNotFound
	case kindInvalid:
		status = http.StatusBadRequest
	case kindCancelled:
		status = http.StatusServiceUnavailable
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, algotrader.ErrorResponse{Error: msg})
}
