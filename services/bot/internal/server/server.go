package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"kinobot/internal/util"
	"kinobot/services/bot/internal/app"
	"kinobot/services/bot/internal/telegram"
)

const (
	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxBodyBytes = 1 << 20
)

// EventHandler runs one inbound event to completion.
type EventHandler interface {
	Handle(ctx context.Context, ev app.Event) error
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Handler       EventHandler
	WebhookPath   string
	WebhookSecret string
	// SourceAllowlist limits webhook callers by client IP; nil accepts any source.
	SourceAllowlist *util.IPAllowlist
	TrustedProxies  *util.IPAllowlist
}

// Server exposes the webhook and health endpoints of the bot.
type Server struct {
	handler   EventHandler
	path      string
	secret    string
	allowlist *util.IPAllowlist
	trusted   *util.IPAllowlist
	mux       *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("event handler required")
	}
	path := strings.TrimSpace(cfg.WebhookPath)
	if path == "" {
		path = "/webhook"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	s := &Server{
		handler:   cfg.Handler,
		path:      path,
		secret:    strings.TrimSpace(cfg.WebhookSecret),
		allowlist: cfg.SourceAllowlist,
		trusted:   cfg.TrustedProxies,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("bot", util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle(s.path, util.WithSourceAllowlist(s.allowlist, s.trusted, http.HandlerFunc(s.handleWebhook)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook always acknowledges accepted updates with 200 so Telegram does
// not redeliver them; failures are logged instead.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ev, ok := telegram.EventFromUpdate(update)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	// The event runs to completion even if Telegram drops the connection.
	ctx := context.WithoutCancel(r.Context())
	logger := util.LoggerFromContext(ctx).With(
		"event_id", util.NewID(),
		"update_id", update.UpdateID,
		"user_id", ev.Sender(),
	)
	ctx = util.ContextWithLogger(ctx, logger)
	if err := s.handler.Handle(ctx, ev); err != nil {
		logger.Error("event_failed", "event", eventKind(ev), "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func eventKind(ev app.Event) string {
	switch ev.(type) {
	case app.TextEvent:
		return "text"
	case app.MediaEvent:
		return "media"
	case app.CallbackEvent:
		return "callback"
	default:
		return "unknown"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
