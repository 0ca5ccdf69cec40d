// Package stitcher assembles a chapter's audio fragments into the finished
// chapter file. Stitch jobs are enqueued only by the event tracker, once per
// chapter, when the chapter's open-chunk set empties.
package stitcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/fablecast/fablecast/internal/audio"
	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/objkey"
	"github.com/fablecast/fablecast/internal/storage"
)

// Worker consumes stitch jobs.
type Worker struct {
	storage   storage.Adapter
	publisher broker.Publisher
	concat    audio.Concatenator
}

// NewWorker creates a stitcher worker.
func NewWorker(adapter storage.Adapter, publisher broker.Publisher, concat audio.Concatenator) *Worker {
	return &Worker{storage: adapter, publisher: publisher, concat: concat}
}

// HandleMessage processes one stitch job. The output key is deterministic,
// so a redelivered job overwrites its own result.
func (w *Worker) HandleMessage(ctx context.Context, body []byte) broker.Disposition {
	var job messages.StitchJob
	if err := json.Unmarshal(body, &job); err != nil || job.BookID == "" || job.ChapterID == "" {
		log.Printf("[Stitcher] Dropping malformed job: %v", err)
		return broker.Drop
	}

	log.Printf("[Stitcher] Stitching chapter %s of book %s", job.ChapterID, job.BookID)

	keys, err := w.fragmentKeys(ctx, job)
	if err != nil {
		log.Printf("[Stitcher] Failed to list fragments for chapter %s: %v", job.ChapterID, err)
		return broker.Requeue
	}
	if len(keys) == 0 {
		log.Printf("[Stitcher] No fragments found for chapter %s", job.ChapterID)
		return broker.Requeue
	}

	fragments := make([][]byte, 0, len(keys))
	for _, key := range keys {
		data, err := storage.GetBytes(ctx, w.storage, key)
		if err != nil {
			log.Printf("[Stitcher] Failed to download fragment %s: %v", key, err)
			return broker.Requeue
		}
		fragments = append(fragments, data)
	}

	combined, err := w.concat.Concat(fragments)
	if err != nil {
		log.Printf("[Stitcher] Failed to concatenate chapter %s: %v", job.ChapterID, err)
		return broker.Requeue
	}

	outKey := objkey.ChapterAudio(job.BookID, job.ChapterID)
	if err := storage.PutBytes(ctx, w.storage, outKey, combined); err != nil {
		log.Printf("[Stitcher] Failed to upload %s: %v", outKey, err)
		return broker.Requeue
	}

	if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
		messages.RemoveChapter(job.BookID, job.ChapterID)); err != nil {
		log.Printf("[Stitcher] Failed to report chapter completion: %v", err)
		return broker.Requeue
	}

	log.Printf("[Stitcher] Chapter %s stitched from %d fragments (%d bytes)",
		job.ChapterID, len(fragments), len(combined))
	return broker.Ack
}

// fragmentKeys lists the chapter's fragment objects sorted by ascending
// chunk index. The listing order of the store is not trusted; the numeric
// suffix of chunk_N is.
func (w *Worker) fragmentKeys(ctx context.Context, job messages.StitchJob) ([]string, error) {
	keys, err := w.storage.List(ctx, objkey.ChunkAudioPrefix(job.BookID, job.ChapterID))
	if err != nil {
		return nil, err
	}

	type fragment struct {
		key   string
		index int
	}
	fragments := make([]fragment, 0, len(keys))
	for _, key := range keys {
		index, err := chunkIndex(key)
		if err != nil {
			log.Printf("[Stitcher] Ignoring stray object %s: %v", key, err)
			continue
		}
		fragments = append(fragments, fragment{key: key, index: index})
	}

	sort.Slice(fragments, func(i, j int) bool { return fragments[i].index < fragments[j].index })

	sorted := make([]string, len(fragments))
	for i, f := range fragments {
		sorted[i] = f.key
	}
	return sorted, nil
}

// chunkIndex parses the N out of a ".../chunk_N.mp3" key.
func chunkIndex(key string) (int, error) {
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	numeric, ok := strings.CutPrefix(base, "chunk_")
	if !ok {
		return 0, fmt.Errorf("unexpected fragment name %q", base)
	}
	index, err := strconv.Atoi(numeric)
	if err != nil {
		return 0, fmt.Errorf("unexpected fragment name %q: %w", base, err)
	}
	return index, nil
}
