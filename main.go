package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/negroni"

	"github.com/studora/ragpipe/chunker"
	"github.com/studora/ragpipe/config"
	"github.com/studora/ragpipe/db"
	"github.com/studora/ragpipe/handlers"
	"github.com/studora/ragpipe/indexer"
	"github.com/studora/ragpipe/logging"
	"github.com/studora/ragpipe/orchestrator"
	"github.com/studora/ragpipe/registry"
	"github.com/studora/ragpipe/retriever"
	"github.com/studora/ragpipe/server"
	"github.com/studora/ragpipe/services/embedding_service"
	"github.com/studora/ragpipe/services/llm_service"
	"github.com/studora/ragpipe/services/usage_service"
	"github.com/studora/ragpipe/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := setupLogger(cfg.LogDir)

	chunkStore, docStore := setupStores(cfg, logger)

	reg := registry.NewProviderRegistry()
	registerProviders(cfg, reg, logger)

	embedClient := setupEmbeddingClient(cfg, reg, logger)

	var gate usage_service.Gate = usage_service.AllowAllGate{}
	if cfg.UsageAPIEndpoint != "" {
		gate = usage_service.NewHTTPGate(cfg.UsageAPIEndpoint, logger)
	}

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatalf("invalid chunker configuration: %v", err)
	}

	coordinator := indexer.New(docStore, chunkStore, ch, embedClient, cfg.IndexWorkers, logger)
	coordinator.SetUsageGate(gate)

	ret := retriever.New(embedClient, chunkStore, cfg.MinScore, cfg.ContextTokenBudget, logger)
	orch := orchestrator.New(reg, cfg.CompletionProviders, logger)

	ingestHandler := handlers.NewIngestHandler(docStore, coordinator, gate, logger)
	queryHandler := handlers.NewQueryHandler(gate, ret, orch, logger)
	documentHandler := handlers.NewDocumentHandler(docStore, chunkStore, coordinator, gate, logger)

	r := server.SetupRoutes(ingestHandler, queryHandler, documentHandler)
	n := setupNegroni(r)

	if cfg.Environment == "production" {
		server.ServeProduction(n, server.Config{
			Domains:      cfg.Domains,
			CertCacheDir: cfg.CertCacheDir,
			HTTPSPort:    cfg.HTTPSPort,
		})
	} else {
		srv := &http.Server{
			Addr:         ":" + cfg.HTTPPort,
			Handler:      n,
			IdleTimeout:  time.Minute,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
		}
		server.ServeDevelopment(srv)
	}
}

func setupLogger(logDir string) *slog.Logger {
	handler, err := logging.NewDailyFileHandler(logDir, &slog.HandlerOptions{Level: slog.LevelInfo})
	if err != nil {
		log.Printf("Warning: falling back to stdout logging: %v", err)
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return slog.New(handler)
}

// setupStores backs the pipeline with Postgres/pgvector when DATABASE_URL is
// configured, otherwise with the in-memory store (development only).
func setupStores(cfg config.Config, logger *slog.Logger) (vectorstore.Store, vectorstore.DocumentStore) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory vector store")
		mem := vectorstore.NewMemoryStore(cfg.EmbeddingDimension)
		return mem, mem
	}

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	store := vectorstore.NewPostgresStore(pool, cfg.EmbeddingDimension, logger)
	if err := store.Migrate(context.Background(), cfg.EmbeddingProviders[0].Model); err != nil {
		log.Fatalf("schema migration failed: %v", err)
	}

	indexManager := vectorstore.NewIndexManager(pool, logger)
	if err := indexManager.ReindexIfNeeded(context.Background()); err != nil {
		logger.Error("Initial vector index build failed", slog.String("error", err.Error()))
	}
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := indexManager.ReindexIfNeeded(context.Background()); err != nil {
				logger.Error("Vector index maintenance failed", slog.String("error", err.Error()))
			}
		}
	}()

	return store, store
}

func registerProviders(cfg config.Config, reg *registry.ProviderRegistry, logger *slog.Logger) {
	for _, desc := range cfg.EmbeddingProviders {
		switch desc.Name {
		case "openai":
			reg.RegisterEmbeddingAdapter(desc.Name, embedding_service.NewOpenAIAdapter(desc))
		default:
			logger.Warn("Unknown embedding provider, skipping", slog.String("provider", desc.Name))
		}
	}

	for _, desc := range cfg.CompletionProviders {
		switch desc.Name {
		case "openai":
			reg.RegisterCompletionService(desc.Name, llm_service.NewOpenAIService(desc, logger))
		case "anthropic":
			reg.RegisterCompletionService(desc.Name, llm_service.NewAnthropicService(desc, cfg.ProviderTimeout, logger))
		case "gemini":
			reg.RegisterCompletionService(desc.Name, llm_service.NewGeminiService(desc, cfg.ProviderTimeout, logger))
		default:
			logger.Warn("Unknown completion provider, skipping", slog.String("provider", desc.Name))
		}
	}
}

func setupEmbeddingClient(cfg config.Config, reg *registry.ProviderRegistry, logger *slog.Logger) *embedding_service.Client {
	primary := cfg.EmbeddingProviders[0]
	adapter, err := reg.GetEmbeddingAdapter(primary.Name)
	if err != nil {
		log.Fatalf("embedding provider unavailable: %v", err)
	}
	return embedding_service.NewClient(adapter, primary.Limiter, cfg.ProviderTimeout, logger)
}

func setupNegroni(r *mux.Router) *negroni.Negroni {
	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.NewLogger())
	n.UseHandler(r)
	return n
}
