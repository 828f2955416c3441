/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional), parse command-line flags
  2. Initialize SQLite store
  3. Wire the commission engine
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -db            SQLite database path (default: commissions.db)
                 Use ":memory:" for in-memory database
  -grace-days    Adjustment window in days after commission creation
  -default-rate  Flat fallback commission percent when neither a plan
                 nor an agent-level rate applies

ENVIRONMENT:
  PORT, DB_PATH, GRACE_PERIOD_DAYS, DEFAULT_COMMISSION_RATE override the
  flag defaults. A .env file in the working directory is loaded if present.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/commissions.db"

  # Run with in-memory database on another port
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - engine/engine.go: Component wiring
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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/steeltrade/commission-engine/api"
	"github.com/steeltrade/commission-engine/engine"
	"github.com/steeltrade/commission-engine/store/sqlite"
)

func main() {
	// .env is optional; flags still win over its values.
	_ = godotenv.Load()

	defaults := engine.DefaultConfig()
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "commissions.db"), "SQLite database path")
	graceDays := flag.Int("grace-days", envInt("GRACE_PERIOD_DAYS", defaults.GracePeriodDays), "adjustment window in days")
	defaultRate := flag.String("default-rate", envStr("DEFAULT_COMMISSION_RATE", "0"), "fallback commission percent")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	rate, err := decimal.NewFromString(*defaultRate)
	if err != nil {
		logger.Fatal("invalid -default-rate", zap.String("value", *defaultRate), zap.Error(err))
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()

	eng := engine.New(store, engine.Config{
		GracePeriodDays: *graceDays,
		DefaultRate:     rate,
	}, logger)

	handler := api.NewHandler(eng, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", *port),
			zap.String("db", *dbPath),
			zap.Int("grace_days", *graceDays))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
