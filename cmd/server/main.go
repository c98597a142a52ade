// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/duelforge/duel-server/internal/events"
	"github.com/duelforge/duel-server/internal/handlers"
	"github.com/duelforge/duel-server/internal/middleware"
	"github.com/duelforge/duel-server/internal/session"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	// The history pipeline is optional: without REDIS_ADDR the relay runs
	// purely in memory and session events are discarded.
	if os.Getenv("REDIS_ADDR") != "" {
		if err := events.ConnectRedis(); err != nil {
			logger.Warnf("history pipeline disabled: %v", err)
		} else {
			logger.Info("Session event publishing enabled")
		}
	}

	mgr := session.NewManager()

	mux := http.NewServeMux()

	// session websocket
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.WSHandler(logger, mgr),
	)))

	// operational status
	mux.Handle("/healthz", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.HealthHandler(mgr),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
