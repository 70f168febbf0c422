// Package api provides the HTTP REST API server for volsurf.
//
// It exposes read-only endpoints for volatility surfaces, smile and term
// structure slices, stored surface history, and WebSocket streaming of
// surface updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/volsurf/internal/config"
	"github.com/seenimoa/volsurf/internal/engine"
	"github.com/seenimoa/volsurf/internal/feed"
	"github.com/seenimoa/volsurf/internal/pricing"
	"github.com/seenimoa/volsurf/internal/store"
	"github.com/seenimoa/volsurf/internal/surface"
	"github.com/seenimoa/volsurf/pkg/models"
)

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	cfg    *config.Config
	eng    *engine.Engine
	st     *store.Store // nil when persistence is disabled
	wsHub  *WSHub
}

// NewServer creates a configured API server with all routes and middleware.
// st may be nil when persistence is disabled.
func NewServer(cfg *config.Config, eng *engine.Engine, st *store.Store) *Server {
	srv := &Server{
		cfg:   cfg,
		eng:   eng,
		st:    st,
		wsHub: NewWSHub(),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket hub so the engine's update hook can broadcast.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.wsHub.Run()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Surfaces
		r.Get("/surface/{symbol}", s.handleSurface)
		r.Get("/surface/{symbol}/vol", s.handleVol)
		r.Get("/surface/{symbol}/smile", s.handleSmile)
		r.Get("/surface/{symbol}/term", s.handleTerm)
		r.Post("/surfaces/build", s.handleBuildAll)

		// Stored history
		r.Get("/history/{symbol}", s.handleHistory)
		r.Get("/history/key/{key}", s.handleHistoryLoad)

		// Configuration (read-only)
		r.Get("/config", s.handleGetConfig)

		// WebSocket streaming of surface updates
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SurfaceResponse is the body for GET /api/v1/surface/{symbol}.
type SurfaceResponse struct {
	Surface models.SurfaceUpdate `json:"surface"`
	Report  *surface.Report      `json:"report,omitempty"`
}

// SmileResponse is a single-expiry strike slice.
type SmileResponse struct {
	Symbol  string    `json:"symbol"`
	Expiry  time.Time `json:"expiry"`
	Strikes []float64 `json:"strikes"`
	Vols    []float64 `json:"vols"`
}

// TermResponse is a single-strike expiry slice.
type TermResponse struct {
	Symbol string    `json:"symbol"`
	Strike float64   `json:"strike"`
	Years  []float64 `json:"years"`
	Vols   []float64 `json:"vols"`
}

// VolResponse is an interpolated point query result.
type VolResponse struct {
	Symbol  string  `json:"symbol"`
	Strike  float64 `json:"strike"`
	Expiry  string  `json:"expiry"`
	Vol     float64 `json:"vol"`
	Clamped bool    `json:"clamped"`
}

// BuildAllRequest is the body for POST /api/v1/surfaces/build.
type BuildAllRequest struct {
	Symbols []string `json:"symbols"`
}

// BuildAllResponse reports per-symbol build outcomes.
type BuildAllResponse struct {
	Built  map[string]models.SurfaceUpdate `json:"built"`
	Failed map[string]string               `json:"failed,omitempty"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":     "ok",
			"version":    Version,
			"ws_clients": s.wsHub.ClientCount(),
			"time":       time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleSurface(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	surf, err := s.eng.Surface(r.Context(), symbol)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	resp := SurfaceResponse{Surface: surf.Update()}
	if report, ok := s.eng.Report(symbol); ok {
		resp.Report = &report
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

// handleVol answers an interpolated point query:
// GET /surface/{symbol}/vol?strike=105&expiry=2027-02-19T16:00:00Z&clamp=1
func (s *Server) handleVol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	strike, err := strconv.ParseFloat(r.URL.Query().Get("strike"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "strike query parameter is required")
		return
	}
	expiry, err := time.Parse(time.RFC3339, r.URL.Query().Get("expiry"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "expiry must be RFC3339")
		return
	}
	clamp := r.URL.Query().Get("clamp") == "1"

	surf, err := s.eng.Surface(r.Context(), symbol)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	var vol float64
	if clamp {
		vol, err = surf.InterpolateClamped(strike, expiry)
	} else {
		vol, err = surf.Interpolate(strike, expiry)
	}
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: VolResponse{
		Symbol:  surf.Symbol(),
		Strike:  strike,
		Expiry:  expiry.UTC().Format(time.RFC3339),
		Vol:     vol,
		Clamped: clamp,
	}})
}

func (s *Server) handleSmile(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	expiry, err := time.Parse(time.RFC3339, r.URL.Query().Get("expiry"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "expiry must be RFC3339")
		return
	}

	surf, err := s.eng.Surface(r.Context(), symbol)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	strikes, vols, err := surf.SmileByExpiry(expiry)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: SmileResponse{
		Symbol:  surf.Symbol(),
		Expiry:  expiry,
		Strikes: strikes,
		Vols:    vols,
	}})
}

func (s *Server) handleTerm(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	strike, err := strconv.ParseFloat(r.URL.Query().Get("strike"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "strike query parameter is required")
		return
	}

	surf, err := s.eng.Surface(r.Context(), symbol)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	years, vols, err := surf.TermStructureByStrike(strike)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: TermResponse{
		Symbol: surf.Symbol(),
		Strike: strike,
		Years:  years,
		Vols:   vols,
	}})
}

func (s *Server) handleBuildAll(w http.ResponseWriter, r *http.Request) {
	var req BuildAllRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Symbols) == 0 {
		req.Symbols = s.cfg.Feed.Symbols
	}
	if len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols are required")
		return
	}

	surfaces, failures := s.eng.BuildAll(r.Context(), req.Symbols)

	resp := BuildAllResponse{Built: make(map[string]models.SurfaceUpdate, len(surfaces))}
	for sym, surf := range surfaces {
		resp.Built[sym] = surf.Update()
	}
	if len(failures) > 0 {
		resp.Failed = make(map[string]string, len(failures))
		for sym, err := range failures {
			resp.Failed[sym] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.st == nil {
		writeError(w, http.StatusNotFound, "persistence is not enabled")
		return
	}
	keys, err := s.st.Keys(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: keys})
}

func (s *Server) handleHistoryLoad(w http.ResponseWriter, r *http.Request) {
	if s.st == nil {
		writeError(w, http.StatusNotFound, "persistence is not enabled")
		return
	}
	surf, err := s.st.Load(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: surf.Update()})
}

// handleGetConfig returns the current (running) configuration.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.cfg})
}

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusForError maps pipeline errors to HTTP status codes. Malformed
// inputs are the caller's fault (400); everything unclassified is treated
// as an upstream failure (502).
func statusForError(err error) int {
	var decodeErr *store.DecodeError
	var invalidErr *pricing.InvalidInputError
	switch {
	case errors.Is(err, feed.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, feed.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, surface.ErrExtrapolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &invalidErr):
		return http.StatusBadRequest
	case errors.As(err, &decodeErr):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// ============================================================
// WebSocket Hub
// ============================================================

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsEvent pairs a broadcast message with the symbol it concerns. An empty
// symbol means per-client subscription filters do not apply.
type wsEvent struct {
	msg    WSMessage
	symbol string
}

// WSHub manages WebSocket connections and message broadcasting.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan wsEvent
	register   chan *WSClient
	unregister chan *WSClient
}

// WSClient represents a single WebSocket connection and its symbol
// subscriptions. A client with no subscriptions receives every surface
// update; after the first subscribe it receives only the symbols it asked
// for.
type WSClient struct {
	hub  *WSHub
	send chan WSMessage

	mu      sync.Mutex
	symbols map[string]bool
}

func (c *WSClient) subscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.symbols == nil {
		c.symbols = make(map[string]bool)
	}
	c.symbols[symbol] = true
}

func (c *WSClient) unsubscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.symbols, symbol)
}

// wantsSymbol reports whether a surface update for symbol should reach
// this client. An empty subscription set matches everything.
func (c *WSClient) wantsSymbol(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.symbols) == 0 || c.symbols[symbol]
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan wsEvent, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if ev.symbol != "" && !client.wantsSymbol(ev.symbol) {
					continue
				}
				select {
				case client.send <- ev.msg:
				default:
					// Slow client; disconnect
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients regardless
// of their subscriptions.
func (h *WSHub) Broadcast(msg WSMessage) {
	h.publish(wsEvent{msg: msg})
}

// BroadcastSurface publishes a surface update to the clients whose
// subscriptions cover its symbol. Wired as the engine's OnUpdate hook.
func (h *WSHub) BroadcastSurface(u models.SurfaceUpdate) {
	h.publish(wsEvent{
		msg:    WSMessage{Type: "surface_update", Data: u},
		symbol: u.Symbol,
	})
}

func (h *WSHub) publish(ev wsEvent) {
	select {
	case h.broadcast <- ev:
	default:
		// Drop message if broadcast channel is full
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	h.unregister <- client
}
