package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xiaonanln/hubgate/cmd/hubgate/gateconfig"
	"github.com/xiaonanln/hubgate/gate/gateserver"
	"github.com/xiaonanln/hubgate/util/logger"
)

func main() {
	// Get gate server configuration from flags and/or config file
	loader := gateconfig.NewLoader(nil)
	settings, err := loader.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load hubgate config: %v", err)
	}

	level, err := logger.ParseLevel(settings.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.SetDefaultLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := gateconfig.OpenRuntimeStore(ctx, settings.RuntimeConfig)
	if err != nil {
		log.Fatalf("Failed to open runtime config: %v", err)
	}
	defer store.Close()
	store.Load(ctx)

	server, err := gateserver.NewGateServer(settings.Server, store)
	if err != nil {
		log.Fatalf("Failed to create gate server: %v", err)
	}

	// Blocks until SIGINT or SIGTERM
	if err := server.Start(ctx); err != nil {
		log.Printf("Gate server exited with error: %v", err)
		store.Close()
		os.Exit(1)
	}

	log.Println("Gate stopped")
}
