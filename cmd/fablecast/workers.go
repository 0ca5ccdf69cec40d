package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/fablecast/fablecast/internal/audio"
	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/chunker"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/provider"
	"github.com/fablecast/fablecast/internal/splitter"
	"github.com/fablecast/fablecast/internal/state"
	"github.com/fablecast/fablecast/internal/stitcher"
	"github.com/fablecast/fablecast/internal/storage"
	"github.com/fablecast/fablecast/internal/synthesizer"
	"github.com/fablecast/fablecast/internal/tracker"
	"github.com/fablecast/fablecast/pkg/types"
)

// workerDeps bundles the connections every worker process opens at startup.
type workerDeps struct {
	cfg     *types.Config
	storage storage.Adapter
	broker  *broker.AMQPBroker
}

func (d *workerDeps) close() {
	d.broker.Close()
	d.storage.Close()
}

func dialWorkerDeps() *workerDeps {
	cfg := loadConfig()

	storageAdapter, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create storage adapter: %v", err)
	}

	amqpBroker, err := broker.Dial(cfg.Broker.URL, messages.Queues)
	if err != nil {
		storageAdapter.Close()
		log.Fatalf("Failed to connect to broker: %v", err)
	}

	return &workerDeps{cfg: cfg, storage: storageAdapter, broker: amqpBroker}
}

// consume runs one consumer loop until interrupted.
func consume(queue string, handler broker.HandlerFunc, b *broker.AMQPBroker) {
	ctx, cancel := signalContext()
	defer cancel()
	if err := b.Consume(ctx, queue, handler); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Consumer error: %v", err)
	}
	log.Printf("Worker stopped")
}

func newSplitterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "splitter",
		Short: "Run a splitter worker (EPUB to per-chapter text)",
		Run: func(cmd *cobra.Command, args []string) {
			deps := dialWorkerDeps()
			defer deps.close()

			worker := splitter.NewWorker(deps.storage, deps.broker)
			consume(messages.SplitterQueue, worker.HandleMessage, deps.broker)
		},
	}
}

func newChunkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chunker",
		Short: "Run a chunker worker (chapter text to bounded chunks)",
		Run: func(cmd *cobra.Command, args []string) {
			deps := dialWorkerDeps()
			defer deps.close()

			worker := chunker.NewWorker(deps.storage, deps.broker, deps.cfg.Pipeline.MaxChunkBytes)
			consume(messages.ChunkerQueue, worker.HandleMessage, deps.broker)
		},
	}
}

func newSynthesizerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "synthesizer",
		Short: "Run a synthesizer worker (text chunk to audio fragment)",
		Run: func(cmd *cobra.Command, args []string) {
			deps := dialWorkerDeps()
			defer deps.close()

			tts, err := provider.NewTTSProvider(deps.cfg.TTS)
			if err != nil {
				log.Fatalf("Failed to create TTS provider: %v", err)
			}
			defer tts.Close()
			log.Printf("TTS provider initialized: %s", tts.Name())

			worker := synthesizer.NewWorker(deps.storage, deps.broker, tts, synthesizer.Options{
				RetryAttempts: uint(deps.cfg.Pipeline.RetryAttempts),
				RetryBackoff:  time.Duration(deps.cfg.Pipeline.RetryBackoffMs) * time.Millisecond,
				Voice:         deps.cfg.TTS.Voice,
			})
			consume(messages.TTSQueue, worker.HandleMessage, deps.broker)
		},
	}
}

func newStitcherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stitcher",
		Short: "Run a stitcher worker (fragments to chapter audio)",
		Run: func(cmd *cobra.Command, args []string) {
			deps := dialWorkerDeps()
			defer deps.close()

			worker := stitcher.NewWorker(deps.storage, deps.broker, audio.NewMP3Concatenator())
			consume(messages.StitchQueue, worker.HandleMessage, deps.broker)
		},
	}
}

func newTrackerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tracker",
		Short: "Run the event tracker (single instance)",
		Long: "The event tracker serializes all aggregate-state mutations and detects\n" +
			"completion. Exactly one instance must run; it is the pipeline's\n" +
			"synchronization point.",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()

			store := state.NewRedisStore(cfg.Redis)
			defer store.Close()

			amqpBroker, err := broker.Dial(cfg.Broker.URL, messages.Queues)
			if err != nil {
				log.Fatalf("Failed to connect to broker: %v", err)
			}
			defer amqpBroker.Close()

			t := tracker.New(store, amqpBroker)
			consume(messages.EventTrackerQueue, t.HandleMessage, amqpBroker)
		},
	}
}
