package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/health"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/server"
	"github.com/fablecast/fablecast/internal/state"
	"github.com/fablecast/fablecast/internal/storage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingress, query and download server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			log.Printf("Starting FableCast server v%s", version)

			storageAdapter, err := storage.NewAdapter(cfg.Storage)
			if err != nil {
				log.Fatalf("Failed to create storage adapter: %v", err)
			}
			defer storageAdapter.Close()
			log.Printf("Storage adapter initialized: %s", cfg.Storage.Adapter)

			store := state.NewRedisStore(cfg.Redis)
			defer store.Close()

			amqpBroker, err := broker.Dial(cfg.Broker.URL, messages.Queues)
			if err != nil {
				log.Fatalf("Failed to connect to broker: %v", err)
			}
			defer amqpBroker.Close()

			healthHandler := health.NewHandler(version)
			healthHandler.Register("state", func(ctx context.Context) error {
				return store.Ping(ctx)
			})
			healthHandler.Register("storage", func(ctx context.Context) error {
				_, err := storageAdapter.Exists(ctx, ".healthcheck")
				return err
			})

			srv := server.New(cfg.Server, store, storageAdapter, amqpBroker, healthHandler)

			ctx, cancel := signalContext()
			defer cancel()
			if err := srv.Start(ctx); err != nil {
				log.Fatalf("Server error: %v", err)
			}
			log.Printf("Server stopped")
		},
	}
}
