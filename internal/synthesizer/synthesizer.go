// Package synthesizer renders one text chunk to an audio fragment via the
// TTS provider. Work is heterogeneous in latency, so each worker holds at
// most one delivery at a time; scaling out means more workers, not more
// prefetch.
package synthesizer

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/objkey"
	"github.com/fablecast/fablecast/internal/provider"
	"github.com/fablecast/fablecast/internal/storage"
	"github.com/fablecast/fablecast/pkg/types"
)

// Options tune in-process retries before a job is handed back to the broker.
type Options struct {
	RetryAttempts uint
	RetryBackoff  time.Duration
	Voice         string
	Language      string
}

// Worker consumes synthesis jobs.
type Worker struct {
	storage   storage.Adapter
	publisher broker.Publisher
	tts       provider.TTSProvider
	opts      Options
}

// NewWorker creates a synthesizer worker.
func NewWorker(adapter storage.Adapter, publisher broker.Publisher, tts provider.TTSProvider, opts Options) *Worker {
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 5
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	return &Worker{storage: adapter, publisher: publisher, tts: tts, opts: opts}
}

// HandleMessage processes one synthesis job. Every transient failure
// requeues: the output key is a deterministic function of the job, so a
// replay overwrites its own output.
func (w *Worker) HandleMessage(ctx context.Context, body []byte) broker.Disposition {
	var job messages.SynthesisJob
	if err := json.Unmarshal(body, &job); err != nil ||
		job.BookID == "" || job.ChapterID == "" || job.ChunkIndex < 1 {
		log.Printf("[Synthesizer] Dropping malformed job: %v", err)
		return broker.Drop
	}

	log.Printf("[Synthesizer] Processing chunk %d of chapter %s", job.ChunkIndex, job.ChapterID)

	if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
		messages.UpdateChunkStatus(job.BookID, job.ChapterID, job.ChunkIndex, types.ChunkInProgress)); err != nil {
		log.Printf("[Synthesizer] Failed to notify tracker: %v", err)
		return broker.Requeue
	}

	text, err := w.download(ctx, objkey.ChunkText(job.BookID, job.ChapterID, job.ChunkIndex))
	if err != nil {
		log.Printf("[Synthesizer] Failed to download chunk %d of chapter %s: %v",
			job.ChunkIndex, job.ChapterID, err)
		return broker.Requeue
	}

	if strings.TrimSpace(string(text)) == "" {
		// Nothing to say. Retrying cannot help, so fail the chunk instead of
		// uploading an empty fragment.
		log.Printf("[Synthesizer] Empty text for chunk %d of chapter %s, marking failed",
			job.ChunkIndex, job.ChapterID)
		if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
			messages.UpdateChunkStatus(job.BookID, job.ChapterID, job.ChunkIndex, types.ChunkFailed)); err != nil {
			return broker.Requeue
		}
		return broker.Ack
	}

	audio, err := w.synthesize(ctx, string(text))
	if err != nil {
		log.Printf("[Synthesizer] TTS failed for chunk %d of chapter %s: %v",
			job.ChunkIndex, job.ChapterID, err)
		return broker.Requeue
	}

	key := objkey.ChunkAudio(job.BookID, job.ChapterID, job.ChunkIndex)
	if err := w.upload(ctx, key, audio); err != nil {
		log.Printf("[Synthesizer] Failed to upload fragment %s: %v", key, err)
		return broker.Requeue
	}

	if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
		messages.RemoveChunk(job.BookID, job.ChapterID, job.ChunkIndex)); err != nil {
		log.Printf("[Synthesizer] Failed to report chunk completion: %v", err)
		return broker.Requeue
	}

	log.Printf("[Synthesizer] Chunk %d of chapter %s synthesized (%d bytes)",
		job.ChunkIndex, job.ChapterID, len(audio))
	return broker.Ack
}

func (w *Worker) download(ctx context.Context, key string) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) {
			return storage.GetBytes(ctx, w.storage, key)
		},
		w.retryOpts(ctx)...,
	)
}

func (w *Worker) synthesize(ctx context.Context, text string) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) {
			resp, err := w.tts.Synthesize(ctx, provider.TTSRequest{
				Text:     text,
				VoiceID:  w.opts.Voice,
				Language: w.opts.Language,
			})
			if err != nil {
				return nil, err
			}
			return resp.AudioData, nil
		},
		w.retryOpts(ctx)...,
	)
}

func (w *Worker) upload(ctx context.Context, key string, data []byte) error {
	return retry.Do(
		func() error {
			return storage.PutBytes(ctx, w.storage, key, data)
		},
		w.retryOpts(ctx)...,
	)
}

func (w *Worker) retryOpts(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(w.opts.RetryAttempts),
		retry.Delay(w.opts.RetryBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
}
