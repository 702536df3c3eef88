package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailcraft/server/internal/app"
	"github.com/mailcraft/server/internal/infra/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	application, cleanup, err := app.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer cleanup()

	// Stop on interrupt; Run drains in-flight requests before returning.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Printf("Server exited with error: %v", err)
		cleanup()
		os.Exit(1)
	}
	log.Println("Server exited")
}
