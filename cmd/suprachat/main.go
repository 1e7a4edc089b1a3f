package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/markdave123-py/SupraChat/internal/attachments"
	"github.com/markdave123-py/SupraChat/internal/backend"
	"github.com/markdave123-py/SupraChat/internal/chat"
	"github.com/markdave123-py/SupraChat/internal/config"
	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/core/llm"
	objectclient "github.com/markdave123-py/SupraChat/internal/core/object-client"
	"github.com/markdave123-py/SupraChat/internal/services"
	"github.com/markdave123-py/SupraChat/internal/ui"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	if err := cfg.ValidateClient(); err != nil {
		log.Fatalf("config: %v", err)
	}
	// The terminal belongs to the UI, so logs always go to a file.
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(os.TempDir(), "suprachat.log")
	}
	logger, closer, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closer.Close()

	client, err := backend.NewClient(backend.ClientConfig{BaseURL: cfg.GatewayURL, Logger: logger})
	if err != nil {
		log.Fatalf("backend: %v", err)
	}
	defer client.Close()

	var provider core.LLMProvider
	if cfg.AIAPIKey != "" {
		gemini, err := llm.NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			logger.Warn("assistant disabled", "error", err)
		} else {
			defer gemini.Close()
			provider = gemini
		}
	} else {
		logger.Info("GEMINI_API_KEY not set, assistant disabled")
	}

	opts := chat.ConversationOptions{
		Assistant:          llm.NewAssistant(provider, logger),
		Describer:          attachments.NewDescriber(attachments.NewDocconvExtractor(false), logger),
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		Logger:             logger,
	}
	if archiver := newArchiver(ctx, cfg, logger); archiver != nil {
		opts.Archiver = archiver
	}

	bridge := ui.NewBridge()
	session := chat.NewSessionController(client, logger)
	session.Subscribe(bridge.SessionChanged)

	opts.OnSchemaMissing = session.MarkSchemaMissing
	opts.OnInputCleared = bridge.InputCleared
	conversation := chat.NewConversationController(client, opts)
	conversation.Subscribe(bridge.ConversationChanged)

	presence := chat.NewPresenceController(client, session, logger)
	presence.Start(ctx)

	started := make(chan struct{})
	go func() {
		defer close(started)
		session.Start(ctx)
	}()

	logger.Info("SupraChat client started", "gateway", cfg.GatewayURL)
	runErr := ui.Run(ctx, session, conversation, bridge)

	<-started
	conversation.Close()
	presence.Stop()
	session.Stop()
	if runErr != nil {
		logger.Error("ui stopped", "error", runErr)
		log.Fatalf("ui: %v", runErr)
	}
	logger.Info("shutting down...")
}

// newArchiver starts the background attachment archive when S3 is
// configured.
func newArchiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) *services.ArchiveQueue {
	if !cfg.ArchiveEnabled() {
		return nil
	}
	storage, err := objectclient.NewS3Client(ctx, cfg)
	if err != nil {
		logger.Warn("attachment archive disabled", "error", err)
		return nil
	}
	logger.Info("archiving attachments", "bucket", cfg.BucketName)
	queue := services.NewArchiveQueue(services.NewAttachmentService(storage, cfg.BucketName), logger)
	queue.Start(ctx, 2)
	return queue
}
