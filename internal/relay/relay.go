// Package relay serves the sync protocol to clients: a WebSocket endpoint
// per token room and the equivalent HTTP polling API.
//
//	GET  /health
//	GET  /ws?token=<token>              WebSocket
//	GET  /clipboard/{token}             {items:[...]}
//	POST /clipboard/{token}             {content} or {action:"clear"}
package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"go.klb.dev/corridor/internal/hub"
	"go.klb.dev/corridor/internal/kv"
	"go.klb.dev/corridor/internal/logging"
	"go.klb.dev/corridor/internal/message"
	"go.klb.dev/corridor/internal/wspeer"
)

const (
	DefaultAddr          = "0.0.0.0:8080"
	DefaultMinTokenLen   = 3
	DefaultMaxContentLen = 10000
	DefaultRatePerSecond = 5
	DefaultRateBurst     = 20

	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Config configures a relay. Zero values take the defaults.
type Config struct {
	Addr        string
	MinTokenLen int
	// AllowedTokens restricts rooms to these tokens when non-empty.
	AllowedTokens []string
	MaxContentLen int
	HistoryCap    int

	RatePerSecond float64
	RateBurst     int

	TLSConfig *tls.Config
	Store     kv.Store
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MinTokenLen == 0 {
		c.MinTokenLen = DefaultMinTokenLen
	}
	if c.MaxContentLen == 0 {
		c.MaxContentLen = DefaultMaxContentLen
	}
	if c.RatePerSecond == 0 {
		c.RatePerSecond = DefaultRatePerSecond
	}
	if c.RateBurst == 0 {
		c.RateBurst = DefaultRateBurst
	}
}

// Server is a relay instance.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	limiter  *RateLimiter
	allowed  map[string]struct{}
	upgrader websocket.Upgrader
}

// New builds a relay around cfg.Store (in-memory rooms when nil).
func New(cfg Config) *Server {
	cfg.applyDefaults()
	allowed := make(map[string]struct{}, len(cfg.AllowedTokens))
	for _, t := range cfg.AllowedTokens {
		if t = strings.TrimSpace(t); t != "" {
			allowed[t] = struct{}{}
		}
	}
	return &Server{
		cfg:     cfg,
		hub:     hub.New(cfg.HistoryCap, cfg.Store),
		limiter: NewRateLimiter(cfg.RatePerSecond, cfg.RateBurst),
		allowed: allowed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser-tab clients connect from any origin; the token is the
			// credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Hub exposes the room registry.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Close releases background resources.
func (s *Server) Close() { s.limiter.Stop() }

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Content-Encoding"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Route("/clipboard/{token}", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Use(decompressMiddleware)
		r.Get("/", s.handlePoll)
		r.Post("/", s.handlePush)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		TLSConfig:         s.cfg.TLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLSConfig != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()
	slog.Info("relay listening", "addr", s.cfg.Addr, "tls", s.cfg.TLSConfig != nil)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay listen: %w", err)
	case <-ctx.Done():
	}

	slog.Info("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}

// authorized reports whether token may open a room.
func (s *Server) authorized(token string) bool {
	if utf8.RuneCountInString(token) < s.cfg.MinTokenLen {
		return false
	}
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[token]
	return ok
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		if !s.authorized(token) {
			slog.Warn("token rejected", "token", logging.RedactToken(token), "remote", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  s.hub.Rooms(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if !s.authorized(token) {
		slog.Warn("websocket token rejected", "token", logging.RedactToken(token), "remote", r.RemoteAddr)
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	wspeer.New(conn, s.hub, token, wspeer.Options{
		MaxContentLen: s.cfg.MaxContentLen,
		Limiter:       s.limiter,
	}).Serve(r.Context())
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	items, err := s.hub.History(r.Context(), token)
	if err != nil {
		slog.Error("history failed", "err", err)
		respondError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	respondJSON(w, http.StatusOK, message.PollResponse{Items: items})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req message.PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch {
	case req.Action == message.ActionClear:
		if err := s.hub.Clear(r.Context(), token, "http"); err != nil {
			slog.Error("clear failed", "err", err)
			respondError(w, http.StatusInternalServerError, "clear failed")
			return
		}
		respondJSON(w, http.StatusOK, message.PushResponse{OK: true})

	case req.Action != "":
		respondError(w, http.StatusBadRequest, "unknown action "+req.Action)

	case strings.TrimSpace(req.Content) == "":
		respondError(w, http.StatusBadRequest, "content is empty")

	case len(req.Content) > s.cfg.MaxContentLen:
		respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("content exceeds %d bytes", s.cfg.MaxContentLen))

	case !s.limiter.Allow(token):
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")

	default:
		it, err := s.hub.Publish(r.Context(), token, req.Content, "http")
		if err != nil {
			slog.Error("publish failed", "err", err)
			respondError(w, http.StatusInternalServerError, "publish failed")
			return
		}
		respondJSON(w, http.StatusOK, message.PushResponse{OK: true, Item: &it})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, message.ErrorResponse{Error: msg})
}
