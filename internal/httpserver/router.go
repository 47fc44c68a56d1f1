package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"zchat_go/internal/config"
	"zchat_go/internal/domain"
	"zchat_go/internal/presence"
	"zchat_go/internal/security"
	"zchat_go/internal/service"
	"zchat_go/internal/ws"
	"zchat_go/pkg/logger"
)

// Repositories bundles the storage backends the relay serves from.
type Repositories struct {
	Users         domain.UserRepository
	Conversations domain.ConversationRepository
	Participants  domain.ParticipantRepository
	Messages      domain.MessageRepository
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(cfg *config.RelayConfig, repos Repositories, hub *ws.Hub, online presence.Store, tokenSvc *security.TokenService, l *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(l))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Services
	convSvc := service.NewConversationService(repos.Conversations, repos.Participants, repos.Users)
	msgSvc := service.NewMessageService(repos.Conversations, repos.Participants, repos.Messages, cfg.MaxPageSize)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		if cfg.Debug {
			r.Post("/auth/token", handleIssueToken(tokenSvc))
		}

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokenSvc, repos.Users))

			r.Get("/auth/me", handleMe())
			r.Get("/users/online", handleListOnlineUsers(online))

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleCreateConversation(convSvc))
				r.Get("/{conversationID}", handleGetConversation(convSvc))
			})

			r.Route("/messages/{conversationID}", func(r chi.Router) {
				r.Get("/", handleListMessages(msgSvc))
				r.Post("/", handleCreateMessage(msgSvc, hub))
				r.Get("/media/{kind}", handleListMedia(msgSvc))
				r.Delete("/{messageID}", handleDeleteMessage(msgSvc, hub))
			})
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(hub, tokenSvc, repos.Users, repos.Participants, online, cfg.CORSOrigins))

	return r
}

// RequestLogger stores a request-scoped logger in the context for handlers
// to pick up with logger.From.
func RequestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	l = logger.OrDiscard(l)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rl := l.With("request_id", middleware.GetReqID(r.Context()), "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(logger.With(r.Context(), rl)))
		})
	}
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain sentinels to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + param})
		return 0, false
	}
	return id, true
}
