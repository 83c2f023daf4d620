/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger balance engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse environment config
  2. Initialize SQLite store
  3. Wire domain services (engine, aggregator, reporter)
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION (environment, prefix LEDGER_):
  LEDGER_PORT             HTTP server port (default: 8080)
  LEDGER_DB_PATH          SQLite database path (default: ledger.db)
                          Use ":memory:" for in-memory database
  LEDGER_ALLOWED_ORIGINS  CORS origins, comma-separated
  LEDGER_READ_TIMEOUT     (default: 15s)
  LEDGER_WRITE_TIMEOUT    (default: 15s)
  LEDGER_SHUTDOWN_TIMEOUT (default: 30s)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (shutdown timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  LEDGER_DB_PATH=./data/ledger.db ./server

  # Run with in-memory database
  LEDGER_DB_PATH=":memory:" ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/khata/ledger-engine/api"
	"github.com/khata/ledger-engine/ledger"
	"github.com/khata/ledger-engine/store/sqlite"
)

// Config is the process configuration, read from LEDGER_* variables.
type Config struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	DBPath          string        `envconfig:"DB_PATH" default:"ledger.db"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LEDGER", &cfg); err != nil {
		log.Fatalf("Failed to parse config: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire domain services
	engine := ledger.NewEngine(store, nil)
	aggregator := ledger.NewAggregator(store)
	reporter := ledger.NewReporter(store)

	handler := api.NewHandler(engine, aggregator, reporter)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Port)
		log.Printf("📒 API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
