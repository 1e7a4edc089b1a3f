package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/SupraChat/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/SupraChat/internal/api/middlewares"
	"github.com/markdave123-py/SupraChat/internal/config"
	"github.com/markdave123-py/SupraChat/internal/realtime"
	"github.com/markdave123-py/SupraChat/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// ServerDeps are the services the routes are wired to.
type ServerDeps struct {
	Users    *services.UserService
	Messages *services.MessageService
	Tokens   *services.TokenIssuer
	Hub      *realtime.Hub
	Logger   *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, deps ServerDeps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           NewRouter(cfg, deps),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: deps.Logger,
	}
}

// NewRouter returns the gateway's route tree.
func NewRouter(cfg *config.Config, deps ServerDeps) http.Handler {
	authHandler := handlers.NewAuthHandler(deps.Users, deps.Logger)
	profileHandler := handlers.NewProfileHandler(deps.Users, deps.Logger)
	chatHandler := handlers.NewChatHandler(deps.Messages, deps.Logger)
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.Logger)
	requireAuth := appMiddleware.JWTMiddleware(deps.Tokens)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// request/response endpoints
		api.Group(func(rest chi.Router) {
			rest.Use(middleware.Timeout(60 * time.Second))

			rest.Post("/auth/signup", authHandler.Signup)
			rest.Post("/auth/login", authHandler.Login)
			rest.Post("/setup", profileHandler.Setup)

			rest.Group(func(protected chi.Router) {
				protected.Use(requireAuth)
				protected.Get("/auth/user", authHandler.User)
				protected.Post("/auth/logout", authHandler.Logout)

				protected.Get("/rest/profiles", profileHandler.List)
				protected.Post("/rest/profiles", profileHandler.Upsert)
				protected.Get("/rest/messages", chatHandler.ListMessages)
				protected.Post("/rest/messages", chatHandler.SendMessage)

				protected.Post("/realtime/{topic}/track", realtimeHandler.Track)
			})
		})

		// long-lived streams, no timeout
		api.With(requireAuth).Get("/realtime/{topic}", realtimeHandler.Stream)
	})

	return r
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
