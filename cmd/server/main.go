/*
main.go - Application entry point

STARTUP SEQUENCE:
  1. Load .env (if present) and parse flags
  2. Load policy YAML (or production defaults)
  3. Open SQLite store
  4. Wire the engine and HTTP router
  5. Serve with graceful shutdown

CONFIGURATION:
  Flags, overridable by environment (.env via godotenv):
    -port / PORT        HTTP port (default 8080)
    -db / DB_PATH       SQLite path (default loyalty.db, ":memory:" works)
    -policy / POLICY_PATH  policy YAML path (default: built-in constants)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, drain for up to 30s,
  close the database, exit.
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

	"github.com/meridian/loyalty-engine/api"
	"github.com/meridian/loyalty-engine/factory"
	"github.com/meridian/loyalty-engine/loyalty"
	"github.com/meridian/loyalty-engine/store/sqlite"
)

func main() {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "loyalty.db"), "SQLite database path")
	policyPath := flag.String("policy", envStr("POLICY_PATH", ""), "policy YAML path (empty = defaults)")
	flag.Parse()

	policies, err := factory.LoadFile(*policyPath)
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	cal := loyalty.NewCalendar(policies.Location)
	engine := loyalty.NewEngine(store, cal, policies.Cashback, policies.Membership)

	handler := api.NewHandler(engine)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Loyalty engine listening on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

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

func envStr(key, fallback string) string {
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
