// cmd/historian/main.go runs the asynchronous historian service that pops
// session event records from the Redis queue and persists them to PostgreSQL.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/duelforge/duel-server/internal/history"
)

func main() {
	hs := history.NewService()
	go hs.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	hs.Stop()
	log.Println("Historian shutdown complete.")
}
