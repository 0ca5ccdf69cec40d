package stitcher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/fablecast/fablecast/internal/audio"
	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/objkey"
	"github.com/fablecast/fablecast/internal/storage"
)

func setup(t *testing.T) (*Worker, storage.Adapter, *broker.MemoryBroker) {
	t.Helper()
	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	mb := broker.NewMemoryBroker()
	return NewWorker(adapter, mb, audio.NewMP3Concatenator()), adapter, mb
}

func stitchJob(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(messages.StitchJob{BookID: "b1", ChapterID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("fragments concatenate in ascending index order", func(t *testing.T) {
		worker, adapter, mb := setup(t)

		// Write out of order, including double digits so lexical ordering
		// would be wrong.
		for _, i := range []int{10, 2, 1, 3, 7, 4, 9, 5, 8, 6} {
			key := objkey.ChunkAudio("b1", "c1", i)
			if err := storage.PutBytes(ctx, adapter, key, []byte(fmt.Sprintf("<%d>", i))); err != nil {
				t.Fatal(err)
			}
		}

		if d := worker.HandleMessage(ctx, stitchJob(t)); d != broker.Ack {
			t.Fatalf("expected Ack, got %v", d)
		}

		out, err := storage.GetBytes(ctx, adapter, objkey.ChapterAudio("b1", "c1"))
		if err != nil {
			t.Fatalf("chapter audio missing: %v", err)
		}
		want := "<1><2><3><4><5><6><7><8><9><10>"
		if string(out) != want {
			t.Errorf("got %q, want %q", out, want)
		}

		if n := mb.Pending(messages.EventTrackerQueue); n != 1 {
			t.Fatalf("expected 1 tracker event, got %d", n)
		}
	})

	t.Run("single fragment chapter equals its fragment", func(t *testing.T) {
		worker, adapter, _ := setup(t)
		fragment := []byte("only-fragment-bytes")
		if err := storage.PutBytes(ctx, adapter, objkey.ChunkAudio("b1", "c1", 1), fragment); err != nil {
			t.Fatal(err)
		}

		if d := worker.HandleMessage(ctx, stitchJob(t)); d != broker.Ack {
			t.Fatalf("expected Ack, got %v", d)
		}

		out, err := storage.GetBytes(ctx, adapter, objkey.ChapterAudio("b1", "c1"))
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != string(fragment) {
			t.Errorf("output differs from single fragment")
		}
	})

	t.Run("redelivery overwrites idempotently", func(t *testing.T) {
		worker, adapter, mb := setup(t)
		if err := storage.PutBytes(ctx, adapter, objkey.ChunkAudio("b1", "c1", 1), []byte("frag")); err != nil {
			t.Fatal(err)
		}

		worker.HandleMessage(ctx, stitchJob(t))
		worker.HandleMessage(ctx, stitchJob(t))

		out, err := storage.GetBytes(ctx, adapter, objkey.ChapterAudio("b1", "c1"))
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != "frag" {
			t.Errorf("got %q", out)
		}
		if n := mb.Pending(messages.EventTrackerQueue); n != 2 {
			t.Fatalf("expected 2 tracker events (tracker dedupes), got %d", n)
		}
	})

	t.Run("missing fragments requeue", func(t *testing.T) {
		worker, _, _ := setup(t)
		if d := worker.HandleMessage(ctx, stitchJob(t)); d != broker.Requeue {
			t.Fatalf("expected Requeue, got %v", d)
		}
	})

	t.Run("malformed job drops", func(t *testing.T) {
		worker, _, _ := setup(t)
		if d := worker.HandleMessage(ctx, []byte(`{"book_uuid":""}`)); d != broker.Drop {
			t.Fatalf("expected Drop, got %v", d)
		}
	})
}

func TestChunkIndex(t *testing.T) {
	cases := []struct {
		key     string
		want    int
		wantErr bool
	}{
		{"b/chunks/c/audio/chunk_1.mp3", 1, false},
		{"b/chunks/c/audio/chunk_42.mp3", 42, false},
		{"b/chunks/c/audio/stray.mp3", 0, true},
		{"b/chunks/c/audio/chunk_x.mp3", 0, true},
	}
	for _, tc := range cases {
		got, err := chunkIndex(tc.key)
		if tc.wantErr != (err != nil) {
			t.Errorf("chunkIndex(%q) error = %v, wantErr %v", tc.key, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("chunkIndex(%q) = %d, want %d", tc.key, got, tc.want)
		}
	}
}
