package synthesizer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/objkey"
	"github.com/fablecast/fablecast/internal/provider"
	"github.com/fablecast/fablecast/internal/storage"
	"github.com/fablecast/fablecast/pkg/types"
)

func setup(t *testing.T, tts provider.TTSProvider) (*Worker, storage.Adapter, *broker.MemoryBroker) {
	t.Helper()
	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	mb := broker.NewMemoryBroker()
	worker := NewWorker(adapter, mb, tts, Options{
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	})
	return worker, adapter, mb
}

func synthesisJob(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(messages.SynthesisJob{BookID: "b1", ChapterID: "c1", ChunkIndex: 1})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func trackerEvents(t *testing.T, mb *broker.MemoryBroker) []messages.TrackerEvent {
	t.Helper()
	var events []messages.TrackerEvent
	mb.Handle(messages.EventTrackerQueue, func(ctx context.Context, body []byte) broker.Disposition {
		var ev messages.TrackerEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Fatalf("bad tracker event: %v", err)
		}
		events = append(events, ev)
		return broker.Ack
	})
	if _, err := mb.Drain(context.Background(), 50); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	return events
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("synthesizes and reports completion", func(t *testing.T) {
		worker, adapter, mb := setup(t, provider.NewStubTTSProvider())
		key := objkey.ChunkText("b1", "c1", 1)
		if err := storage.PutBytes(ctx, adapter, key, []byte("Hello world.")); err != nil {
			t.Fatal(err)
		}

		if d := worker.HandleMessage(ctx, synthesisJob(t)); d != broker.Ack {
			t.Fatalf("expected Ack, got %v", d)
		}

		audio, err := storage.GetBytes(ctx, adapter, objkey.ChunkAudio("b1", "c1", 1))
		if err != nil {
			t.Fatalf("fragment missing: %v", err)
		}
		if len(audio) == 0 {
			t.Fatal("empty fragment uploaded")
		}

		events := trackerEvents(t, mb)
		if len(events) != 2 {
			t.Fatalf("expected 2 tracker events, got %d", len(events))
		}
		if events[0].Operation != messages.OpUpdateChunkStatus ||
			events[0].Status != string(types.ChunkInProgress) {
			t.Errorf("first event = %+v, want in_progress update", events[0])
		}
		if events[1].Operation != messages.OpRemoveChunk || events[1].ChunkIndex != 1 {
			t.Errorf("second event = %+v, want remove_chunk", events[1])
		}
	})

	t.Run("empty chunk text fails the chunk without uploading", func(t *testing.T) {
		worker, adapter, mb := setup(t, provider.NewStubTTSProvider())
		if err := storage.PutBytes(ctx, adapter, objkey.ChunkText("b1", "c1", 1), []byte("  \n\n ")); err != nil {
			t.Fatal(err)
		}

		if d := worker.HandleMessage(ctx, synthesisJob(t)); d != broker.Ack {
			t.Fatalf("expected Ack, got %v", d)
		}

		exists, err := adapter.Exists(ctx, objkey.ChunkAudio("b1", "c1", 1))
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Error("fragment uploaded for empty text")
		}

		events := trackerEvents(t, mb)
		last := events[len(events)-1]
		if last.Operation != messages.OpUpdateChunkStatus || last.Status != string(types.ChunkFailed) {
			t.Errorf("last event = %+v, want chunk failed", last)
		}
	})

	t.Run("tts failure requeues", func(t *testing.T) {
		tts := provider.NewStubTTSProvider()
		tts.Fail = true
		worker, adapter, _ := setup(t, tts)
		if err := storage.PutBytes(ctx, adapter, objkey.ChunkText("b1", "c1", 1), []byte("text")); err != nil {
			t.Fatal(err)
		}

		if d := worker.HandleMessage(ctx, synthesisJob(t)); d != broker.Requeue {
			t.Fatalf("expected Requeue, got %v", d)
		}
	})

	t.Run("missing chunk text requeues", func(t *testing.T) {
		worker, _, _ := setup(t, provider.NewStubTTSProvider())
		if d := worker.HandleMessage(ctx, synthesisJob(t)); d != broker.Requeue {
			t.Fatalf("expected Requeue, got %v", d)
		}
	})

	t.Run("malformed job drops", func(t *testing.T) {
		worker, _, _ := setup(t, provider.NewStubTTSProvider())
		if d := worker.HandleMessage(ctx, []byte(`{"chunk_index":0}`)); d != broker.Drop {
			t.Fatalf("expected Drop, got %v", d)
		}
	})

	t.Run("redelivery overwrites the same key", func(t *testing.T) {
		worker, adapter, _ := setup(t, provider.NewStubTTSProvider())
		if err := storage.PutBytes(ctx, adapter, objkey.ChunkText("b1", "c1", 1), []byte("Same text.")); err != nil {
			t.Fatal(err)
		}

		worker.HandleMessage(ctx, synthesisJob(t))
		first, err := storage.GetBytes(ctx, adapter, objkey.ChunkAudio("b1", "c1", 1))
		if err != nil {
			t.Fatal(err)
		}

		worker.HandleMessage(ctx, synthesisJob(t))
		second, err := storage.GetBytes(ctx, adapter, objkey.ChunkAudio("b1", "c1", 1))
		if err != nil {
			t.Fatal(err)
		}

		if string(first) != string(second) {
			t.Error("redelivery produced different output at the same key")
		}
	})
}
