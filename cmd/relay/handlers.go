package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/finverse/feedrelay/internal/instruments"
	"github.com/finverse/feedrelay/internal/provider"
	"github.com/finverse/feedrelay/internal/quotecache"
	"github.com/finverse/feedrelay/internal/registry"
	"github.com/finverse/feedrelay/internal/router"
	"github.com/finverse/feedrelay/internal/upstream"
)

// apiHandler serves the REST surface around the feed: health, the OAuth
// callback, instrument search and the provider passthrough endpoints.
type apiHandler struct {
	provider *provider.Client
	store    *instruments.Store // nil when disabled
	cache    *quotecache.Cache  // nil when disabled
	link     *upstream.Link
	reg      *registry.Registry
	rt       *router.Router
	logger   *slog.Logger

	mu    sync.Mutex
	token string // provider access token from the OAuth callback
}

func newAPIHandler(pc *provider.Client, store *instruments.Store, cache *quotecache.Cache, link *upstream.Link, reg *registry.Registry, rt *router.Router, logger *slog.Logger) *apiHandler {
	return &apiHandler{
		provider: pc,
		store:    store,
		cache:    cache,
		link:     link,
		reg:      reg,
		rt:       rt,
		logger:   logger.With("component", "api"),
	}
}

func (h *apiHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/auth/callback", h.authCallback)
	mux.HandleFunc("GET /api/auth/status", h.authStatus)
	mux.HandleFunc("GET /api/instruments/search", h.searchInstruments)
	mux.HandleFunc("GET /api/quote/{symbol}", h.quote)
	mux.HandleFunc("GET /api/history/{symbol}", h.history)
	mux.HandleFunc("GET /api/user/profile", h.profile)
}

func (h *apiHandler) currentToken() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

func (h *apiHandler) setToken(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	received, malformed := h.link.FrameStats()
	health.Components["upstream"] = map[string]any{
		"state":            h.link.State().String(),
		"clients":          h.rt.ClientCount(),
		"master_keys":      h.reg.MasterSize(),
		"frames_received":  received,
		"frames_malformed": malformed,
	}

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["cache"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["cache"] = "connected"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// authCallback completes the provider OAuth flow: the code is exchanged for
// an access token, which becomes both the relay's REST credential and the
// upstream feed credential.
func (h *apiHandler) authCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code parameter")
		return
	}

	token, err := h.provider.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Warn("code exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, "code exchange failed")
		return
	}

	h.setToken(token)
	h.link.SetCredential(token)

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

func (h *apiHandler) authStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"authorized": h.currentToken() != "",
	})
}

func (h *apiHandler) searchInstruments(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "instrument store not configured")
		return
	}

	q := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.store.Search(r.Context(), q, limit)
	if err != nil {
		h.logger.Warn("instrument search failed", "q", q, "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []instruments.Instrument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *apiHandler) quote(w http.ResponseWriter, r *http.Request) {
	token := h.currentToken()
	if token == "" {
		writeError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	key, ok := h.resolveKey(w, r)
	if !ok {
		return
	}

	q, err := h.provider.GetQuote(r.Context(), token, key)
	if err != nil {
		h.logger.Warn("quote fetch failed", "key", key, "error", err)
		writeError(w, http.StatusBadGateway, "quote fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *apiHandler) history(w http.ResponseWriter, r *http.Request) {
	token := h.currentToken()
	if token == "" {
		writeError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	key, ok := h.resolveKey(w, r)
	if !ok {
		return
	}

	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "day"
	}
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to parameters are required")
		return
	}

	candles, err := h.provider.GetCandles(r.Context(), token, key, interval, from, to)
	if err != nil {
		h.logger.Warn("history fetch failed", "key", key, "error", err)
		writeError(w, http.StatusBadGateway, "history fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candles": candles})
}

func (h *apiHandler) profile(w http.ResponseWriter, r *http.Request) {
	token := h.currentToken()
	if token == "" {
		writeError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	p, err := h.provider.GetProfile(r.Context(), token)
	if err != nil {
		h.logger.Warn("profile fetch failed", "error", err)
		writeError(w, http.StatusBadGateway, "profile fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// resolveKey turns the path's {symbol} into an instrument key. A value that
// already carries a namespace separator is used as-is; a bare symbol needs
// the instrument store.
func (h *apiHandler) resolveKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := r.PathValue("symbol")
	if strings.ContainsAny(symbol, "|:") {
		return registry.NormalizeKey(symbol), true
	}

	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "instrument store not configured; use a full instrument key")
		return "", false
	}

	in, err := h.store.Lookup(r.Context(), symbol)
	if errors.Is(err, instruments.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown symbol")
		return "", false
	}
	if err != nil {
		h.logger.Warn("symbol lookup failed", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "symbol lookup failed")
		return "", false
	}
	return in.InstrumentKey, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
