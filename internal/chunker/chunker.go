package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/objkey"
	"github.com/fablecast/fablecast/internal/storage"
	"github.com/fablecast/fablecast/pkg/types"
)

// Worker consumes chunker jobs.
type Worker struct {
	storage   storage.Adapter
	publisher broker.Publisher
	maxBytes  int
}

// NewWorker creates a chunker worker. maxBytes ≤ 0 selects the default
// chunk size.
func NewWorker(adapter storage.Adapter, publisher broker.Publisher, maxBytes int) *Worker {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}
	return &Worker{storage: adapter, publisher: publisher, maxBytes: maxBytes}
}

// HandleMessage processes one chunker job.
func (w *Worker) HandleMessage(ctx context.Context, body []byte) broker.Disposition {
	var job messages.ChunkJob
	if err := json.Unmarshal(body, &job); err != nil || job.BookID == "" || job.ChapterID == "" {
		log.Printf("[Chunker] Dropping malformed job: %v", err)
		return broker.Drop
	}

	log.Printf("[Chunker] Processing chapter %s of book %s", job.ChapterID, job.BookID)

	if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
		messages.UpdateChapterStatus(job.BookID, job.ChapterID, types.ChapterInProgress)); err != nil {
		log.Printf("[Chunker] Failed to notify tracker for chapter %s: %v", job.ChapterID, err)
		return broker.Requeue
	}

	text, err := storage.GetBytes(ctx, w.storage, objkey.ChapterText(job.BookID, job.ChapterID))
	if err != nil {
		log.Printf("[Chunker] Failed to download chapter %s: %v", job.ChapterID, err)
		return broker.Requeue
	}

	chunks := SplitText(string(text), w.maxBytes)
	if len(chunks) == 0 {
		// The metadata filter should have discarded empty chapters; one that
		// slipped through can never be stitched, so fail it.
		log.Printf("[Chunker] Chapter %s produced no chunks, marking failed", job.ChapterID)
		if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
			messages.UpdateChapterStatus(job.BookID, job.ChapterID, types.ChapterFailed)); err != nil {
			return broker.Requeue
		}
		return broker.Ack
	}

	if err := w.emit(ctx, job, chunks); err != nil {
		log.Printf("[Chunker] Failed to emit chunks for chapter %s: %v", job.ChapterID, err)
		return broker.Requeue
	}

	log.Printf("[Chunker] Chapter %s split into %d chunks", job.ChapterID, len(chunks))
	return broker.Ack
}

// emit uploads each chunk, registers it with the tracker, and enqueues its
// synthesis job. Indexes are 1-based.
func (w *Worker) emit(ctx context.Context, job messages.ChunkJob, chunks []string) error {
	for i, chunk := range chunks {
		index := i + 1
		key := objkey.ChunkText(job.BookID, job.ChapterID, index)
		if err := storage.PutBytes(ctx, w.storage, key, []byte(chunk)); err != nil {
			return fmt.Errorf("failed to upload chunk %d: %w", index, err)
		}
		if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
			messages.AddChunk(job.BookID, job.ChapterID, index)); err != nil {
			return fmt.Errorf("failed to register chunk %d: %w", index, err)
		}
		if err := w.publisher.Publish(ctx, messages.TTSQueue,
			messages.SynthesisJob{BookID: job.BookID, ChapterID: job.ChapterID, ChunkIndex: index}); err != nil {
			return fmt.Errorf("failed to enqueue synthesis job for chunk %d: %w", index, err)
		}
	}
	return nil
}
