package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/chat"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/splitter"
	"github.com/mikeboe/deep-research/pkg/streaming"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database Connection
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	factory, err := app.NewFactory(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to init research engine: %v", err)
	}

	svc := server.NewService(server.NewPGStore(db), streaming.NewManager(streaming.DefaultCapacity), factory.Engine, app.Options(cfg))
	svc.LogHandler = func(runID uuid.UUID) slog.Handler {
		return server.NewDBLogHandler(db, runID, slog.Default().Handler().WithAttrs([]slog.Attr{slog.String("run_id", runID.String())}))
	}

	// Source index and follow-up questions need Gemini embeddings
	if cfg.GoogleApiKey != "" {
		if err := wireIndex(ctx, cfg, db, svc); err != nil {
			slog.Warn("Source index disabled", "error", err)
		}
	} else {
		slog.Warn("GOOGLE_API_KEY not set, source index and follow-up questions are disabled")
	}

	handler := server.NewHandler(svc, server.NewMCPHandler(svc))

	// Web Server Setup
	r := gin.Default()

	// CORS Setup
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // Allow all for dev
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Last-Event-ID", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	handler.RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		slog.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("Runs did not stop in time", "error", err)
	}
}

func wireIndex(ctx context.Context, cfg *config.Config, db *database.PostgresDB, svc *server.Service) error {
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return err
	}
	if err := db.CreateEmbeddingsTable(ctx, cfg.CollectionName, embeddings.Dimension); err != nil {
		return err
	}
	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		return err
	}
	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		return err
	}

	svc.Indexer = &vectorstore.Indexer{
		Store:    store,
		Embedder: embedder,
		Splitter: splitter.NewMarkdownSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
	}

	chatModel := cfg.ReasoningModel
	if cfg.LLMProvider != "google" || chatModel == "" {
		chatModel = "gemini-2.5-flash"
	}
	chatSvc, err := chat.NewService(ctx, chatModel, cfg.GoogleApiKey, store, embedder)
	if err != nil {
		return err
	}
	svc.Chat = chatSvc
	return nil
}
