/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire domain services (routers, settlement engine, tracker, repairer)
  4. Start the maintenance scheduler
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags override environment variables. Available settings:
    -port      / PORT             HTTP server port (default: 8080)
    -db        / DATABASE_PATH    SQLite database path (default: commission.db)
                                  Use ":memory:" for in-memory database
    -log-level / LOG_LEVEL        logrus level (default: info)
    REPAIR_SCHEDULE               cron expression for the nightly repair pass
    HOUSE_BROKER_ID               broker receiving orphan ASSA rows
    ASSA_INSURER_ID               insurer id for the ASSA code path

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/commission.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/lissa/commission-engine/advance"
	"github.com/lissa/commission-engine/api"
	"github.com/lissa/commission-engine/commission"
	"github.com/lissa/commission-engine/jobs"
	"github.com/lissa/commission-engine/store/sqlite"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	port := flag.String("port", envOr("PORT", "8080"), "HTTP server port")
	dbPath := flag.String("db", envOr("DATABASE_PATH", "commission.db"), "SQLite database path")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Domain services
	router := commission.NewRouter(store, store, log)
	assaRouter := commission.NewAssaRouter(store, store,
		commission.InsurerID(envOr("ASSA_INSURER_ID", "assa")),
		commission.BrokerID(envOr("HOUSE_BROKER_ID", "lissa")),
		log)
	engine := advance.NewEngine(store, log)
	tracker := advance.NewTracker(store)
	repairer := advance.NewRepairer(store, log)

	handler := api.NewHandler(store, router, assaRouter, engine, tracker, repairer, log)

	scheduler := jobs.NewScheduler(repairer, os.Getenv("REPAIR_SCHEDULE"), log)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start maintenance scheduler")
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}
