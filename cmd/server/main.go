/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the treasury engine server. Handles configuration,
  dependency injection, the background drift auditor, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Load the rule-set (file or built-in defaults)
  3. Initialize SQLite store
  4. Create API handler, seed the fund registry from the rule-set
  5. Start the drift auditor
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: treasury.db)
                   Use ":memory:" for in-memory database
  -rules           Path to a rules JSON file (default: built-in rule-set)
  -audit-interval  Drift auditor sweep interval (default: 1h; 0 disables)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the drift auditor
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/treasury.db"

  # Run with custom rules
  ./server -rules="./rules.json"

  # Run with in-memory database (demo mode)
  ./server -db=":memory:"

ENVIRONMENT:
  PORT, DB_PATH, RULES_PATH override the flag defaults; a .env file in the
  working directory is loaded first.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - factory/rules.go: Rule-set loading
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ipupy/treasury-engine/api"
	"github.com/ipupy/treasury-engine/factory"
	"github.com/ipupy/treasury-engine/store/sqlite"
)

func main() {
	// A missing .env is fine; flags and defaults cover everything.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("DB_PATH", "treasury.db"), "SQLite database path")
	rulesPath := flag.String("rules", envString("RULES_PATH", ""), "Path to a rules JSON file (empty: built-in defaults)")
	auditInterval := flag.Duration("audit-interval", time.Hour, "Drift auditor sweep interval (0 disables)")
	flag.Parse()

	rules, err := loadRules(*rulesPath)
	if err != nil {
		log.Fatalf("Failed to load rules: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler and seed the fund registry from the rule-set
	handler := api.NewHandler(store, rules)
	if err := handler.SeedRegistry(context.Background()); err != nil {
		log.Fatalf("Failed to seed fund registry: %v", err)
	}

	// Background drift auditor
	auditor := api.NewDriftAuditor(store, handler.Ledger)
	if *auditInterval > 0 {
		auditor.Interval = *auditInterval
	} else {
		auditor.Enabled = false
	}
	auditor.Start()
	defer auditor.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// loadRules reads the rule-set from path, or returns the built-in defaults
// when no path is given.
func loadRules(path string) (factory.Rules, error) {
	if path == "" {
		return factory.DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return factory.Rules{}, err
	}
	rules, err := factory.ParseRules(data)
	if err != nil {
		return factory.Rules{}, err
	}
	log.Printf("Loaded rules from %s", path)
	return rules, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
