// Command chat-devserver runs a local chat backend: token issuance, the
// subscription socket and the send endpoint.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nfrund/chatsession/internal/config"
	"github.com/nfrund/chatsession/internal/devserver"
	"github.com/nfrund/chatsession/internal/logging"
)

func main() {
	cfg, err := config.LoadDevServer()
	if err != nil {
		// slog is not configured yet.
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := devserver.New(*cfg, devserver.WithLogger(logger))
	if err := srv.Run(ctx, cfg.Addr); err != nil {
		slog.Error("Development backend failed", "error", err)
		stop()
		os.Exit(1)
	}
}
