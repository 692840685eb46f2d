package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/airelay/gemini-relay/internal/config"
	"github.com/airelay/gemini-relay/internal/db"
	"github.com/airelay/gemini-relay/internal/proxy/handlers"
	"github.com/airelay/gemini-relay/internal/proxy/middleware"
	"github.com/airelay/gemini-relay/internal/tts"
	"github.com/airelay/gemini-relay/internal/upstream"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Printf("🔑 loaded configuration from .env")
	}

	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if len(cfg.Keys) == 0 {
		log.Printf("⚠️ no upstream API keys configured (KEY1..KEYN)")
	}
	if cfg.Verbose {
		log.Printf("📦 verbose request logging enabled")
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	store := db.NewStore(database)

	// Upstream Gemini client and credential rotation
	upstreamClient := upstream.NewClient(cfg.BaseURL)
	pool := upstream.NewCredentialPool(cfg.Keys)

	// TTS orchestration
	counter := tts.NewCounter(store)
	jobs := tts.NewJobStore(store)
	splitter := tts.NewSplitter(cfg.Abbreviations)
	orchestrator := tts.NewOrchestrator(cfg.Backends, counter, jobs, splitter)
	orchestrator.Breakers = make(map[string]*upstream.Breaker, len(cfg.Backends))
	for _, backend := range cfg.Backends {
		orchestrator.Breakers[backend] = upstream.NewBreaker(3, 30*time.Second)
	}

	// Create router
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.ColoGate(cfg.BlockedColos))

	r.Get("/health", handlers.HealthHandler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.Pass))

		chat := handlers.ChatHandler(pool, upstreamClient, cfg.DefaultModel)
		embeddings := handlers.EmbeddingsHandler(pool, upstreamClient)
		models := handlers.ModelsHandler(pool, upstreamClient)
		ttsStream := handlers.TTSHandler(orchestrator)

		// OpenAI-compatible API
		r.Post("/v1/chat/completions", chat)
		r.Post("/chat/completions", chat)
		r.Post("/v1/embeddings", embeddings)
		r.Post("/embeddings", embeddings)
		r.Post("/embed", embeddings)
		r.Get("/v1/models", models)
		r.Get("/models", models)

		// Anthropic-compatible API
		r.Post("/v1/messages", handlers.ClaudeMessagesHandler(pool, upstreamClient, cfg.DefaultModel))

		// TTS surface
		r.Post("/tts", ttsStream)
		r.Post("/api/tts", ttsStream)
		r.Post("/rawtts", handlers.RawTTSHandler(orchestrator))
	})

	addr := cfg.Host + ":" + cfg.Port
	log.Printf("🚀 gemini-relay starting on http://%s", addr)
	log.Printf("🔌 OpenAI API: http://%s/v1", addr)
	log.Printf("🔌 Anthropic API: http://%s/v1/messages", addr)
	log.Printf("🔌 TTS API: http://%s/api/tts (%d backends)", addr, len(cfg.Backends))

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
