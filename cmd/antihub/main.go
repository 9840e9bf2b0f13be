package main

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/hhszzzz/antihub/internal/auth"
	"github.com/hhszzzz/antihub/internal/config"
	"github.com/hhszzzz/antihub/internal/db"
	"github.com/hhszzzz/antihub/internal/errordump"
	"github.com/hhszzzz/antihub/internal/pool"
	"github.com/hhszzzz/antihub/internal/providers"
	"github.com/hhszzzz/antihub/internal/proxy/handlers"
	"github.com/hhszzzz/antihub/internal/proxy/middleware"
	"github.com/hhszzzz/antihub/internal/session"
	"github.com/hhszzzz/antihub/internal/upstream"
	"github.com/hhszzzz/antihub/internal/usagelog"
	"github.com/hhszzzz/antihub/internal/vault"
	"github.com/hhszzzz/antihub/internal/version"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	credVault, err := vault.New(db.EnsureVaultPassphrase(database, cfg.VaultPassphrase))
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	sessions, err := session.OpenStore(cfg.SessionDBPath)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer sessions.Close()
	sessions.StartSweeper(5 * time.Minute)

	dumps, err := errordump.NewRing(cfg.ErrorDumpDir)
	if err != nil {
		log.Fatalf("Failed to create error dump directory: %v", err)
	}

	httpClient := upstream.NewHTTPClient()
	qwenFlow := &auth.QwenFlow{Config: cfg.Providers.Qwen, HTTP: httpClient}
	poolMgr := pool.NewManager(database, credVault, map[string]pool.Refresher{
		providers.Antigravity: auth.GoogleRefresher(cfg.Providers.Antigravity.OAuth),
		providers.GeminiCLI:   auth.GoogleRefresher(cfg.Providers.GeminiCLI.OAuth),
		providers.Qwen:        qwenFlow.Refresher(),
		providers.Kiro:        auth.KiroRefresher(cfg.Providers.Kiro, httpClient),
	})

	usage := usagelog.NewRecorder(database)
	defer usage.Flush()

	gateway := handlers.NewGateway(cfg, database, poolMgr, sessions, usage, dumps)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)

	// Model APIs (Anthropic and OpenAI wire shapes).
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))
		r.Post("/messages", handlers.MessagesHandler(gateway, false))
		r.Post("/messages/count_tokens", handlers.CountTokensHandler(gateway))
		r.Post("/chat/completions", handlers.ChatHandler(gateway))
		r.Get("/models", handlers.ModelsHandler(gateway))
	})

	// Buffered Messages variant for clients that cannot handle eager
	// message_start events.
	r.Route("/cc/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))
		r.Post("/messages", handlers.MessagesHandler(gateway, true))
	})

	// Account and OAuth management.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))

		r.Get("/discovery/scan", handlers.DiscoveryScanHandler(gateway))
		r.Post("/discovery/import", handlers.DiscoveryImportHandler(gateway))

		r.Route("/{provider}", func(r chi.Router) {
			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", handlers.ListAccountsHandler(gateway))
				r.Post("/", handlers.ImportAccountHandler(gateway))
				r.Get("/{id}", handlers.GetAccountHandler(gateway))
				r.Patch("/{id}", handlers.UpdateAccountHandler(gateway))
				r.Delete("/{id}", handlers.DeleteAccountHandler(gateway))
				r.Get("/{id}/export", handlers.ExportCredentialsHandler(gateway))
				r.Get("/{id}/balance", handlers.KiroBalanceHandler(gateway))
			})
			r.Route("/oauth", func(r chi.Router) {
				r.Post("/authorize", handlers.AuthorizeHandler(gateway))
				r.Post("/callback", handlers.CallbackHandler(gateway))
				r.Get("/status", handlers.StatusHandler(gateway))
			})
		})
	})

	addr := cfg.Addr()
	log.Printf("🚀 antihub %s starting on http://%s", version.Version, addr)
	log.Printf("🔌 Anthropic API: http://%s/v1/messages", addr)
	log.Printf("🔌 OpenAI API: http://%s/v1/chat/completions", addr)
	log.Printf("🔌 Management API: http://%s/api/{provider}/accounts", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
