// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/SupraChat/internal/config"
	"github.com/markdave123-py/SupraChat/internal/core"
	db "github.com/markdave123-py/SupraChat/internal/core/database"
	"github.com/markdave123-py/SupraChat/internal/realtime"
	"github.com/markdave123-py/SupraChat/internal/services"
)

// MemoryDatabaseURL selects the in-process store instead of PostgreSQL.
const MemoryDatabaseURL = "memory://"

type App struct {
	DBClient core.DbClient
	Hub      *realtime.Hub
	Listener *db.ChangeListener
	Server   *Server
	logger   *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	hub := realtime.NewHub(logger)

	var (
		dbClient core.DbClient
		listener *db.ChangeListener
	)
	if cfg.DatabaseURL == MemoryDatabaseURL {
		dbClient = db.NewMemoryClient(hub)
		logger.Warn("using in-memory store; data is lost on exit")
	} else {
		pgClient, err := db.NewDatabaseClient(appCtx, cfg)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		dbClient = pgClient
		listener = db.NewChangeListener(cfg.DatabaseURL, pgClient, hub, logger)
	}
	logger.Info("database initialized and ready")

	tokens := services.NewTokenIssuer(cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour)
	server := NewServer(cfg, ServerDeps{
		Users:    services.NewUserService(dbClient, tokens),
		Messages: services.NewMessageService(dbClient),
		Tokens:   tokens,
		Hub:      hub,
		Logger:   logger,
	})

	return &App{DBClient: dbClient, Hub: hub, Listener: listener, Server: server, logger: logger}, nil
}

// Run serves until ctx is cancelled or the server fails. The change
// listener shares the server's lifetime.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.Listener != nil {
		g.Go(func() error {
			a.Listener.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		if err := a.Server.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
