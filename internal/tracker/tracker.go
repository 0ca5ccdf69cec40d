// Package tracker implements the event tracker, the single writer of
// aggregate state. Workers never read aggregate state to decide whether to
// fire downstream work; they send operations here, and the tracker's serial
// execution replaces locking. It is the only component that enqueues stitch
// jobs and the only one that marks books complete.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/state"
	"github.com/fablecast/fablecast/pkg/types"
)

// errInvalid marks a message the tracker must drop without requeue: malformed
// payloads, unknown operations, disallowed status values. Requeuing these
// would loop forever.
var errInvalid = errors.New("invalid tracker event")

// Tracker applies aggregate-state operations and detects completion. It must
// run as a single instance; it is the pipeline's serialization point.
type Tracker struct {
	store     state.Store
	publisher broker.Publisher
}

// New creates a tracker over the given store and publisher.
func New(store state.Store, publisher broker.Publisher) *Tracker {
	return &Tracker{store: store, publisher: publisher}
}

// HandleMessage consumes one event from the tracker queue.
func (t *Tracker) HandleMessage(ctx context.Context, body []byte) broker.Disposition {
	var event messages.TrackerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("[Tracker] Dropping malformed event: %v", err)
		return broker.Drop
	}

	if err := t.apply(ctx, event); err != nil {
		if errors.Is(err, errInvalid) {
			log.Printf("[Tracker] Dropping invalid event %s: %v", event.Operation, err)
			return broker.Drop
		}
		log.Printf("[Tracker] Requeueing event %s after store error: %v", event.Operation, err)
		return broker.Requeue
	}
	return broker.Ack
}

// apply dispatches on the operation tag. The switch is exhaustive over the
// sealed operation set; anything else is poison.
func (t *Tracker) apply(ctx context.Context, event messages.TrackerEvent) error {
	switch event.Operation {
	case messages.OpAddBook:
		return t.addBook(ctx, event)
	case messages.OpAddChapter:
		return t.addChapter(ctx, event)
	case messages.OpAddChunk:
		return t.addChunk(ctx, event)
	case messages.OpUpdateBookStatus:
		return t.updateBookStatus(ctx, event)
	case messages.OpUpdateChapterStatus:
		return t.updateChapterStatus(ctx, event)
	case messages.OpUpdateChunkStatus:
		return t.updateChunkStatus(ctx, event)
	case messages.OpRemoveChapter:
		return t.removeChapter(ctx, event)
	case messages.OpRemoveChunk:
		return t.removeChunk(ctx, event)
	default:
		return fmt.Errorf("%w: unknown operation %q", errInvalid, event.Operation)
	}
}

func (t *Tracker) addBook(ctx context.Context, event messages.TrackerEvent) error {
	if event.BookID == "" {
		return fmt.Errorf("%w: add_book requires book_uuid", errInvalid)
	}
	_, err := t.transitionBook(ctx, event.BookID, types.BookUploaded)
	return err
}

func (t *Tracker) addChapter(ctx context.Context, event messages.TrackerEvent) error {
	if event.BookID == "" || event.ChapterID == "" || event.ChapterTitle == "" {
		return fmt.Errorf("%w: add_chapter requires book_uuid, chapter_uuid, chapter_title", errInvalid)
	}

	// A chapter that already has a status was added before; redelivery must
	// not bump the total-chapters counter again.
	current, err := t.store.ChapterStatus(ctx, event.ChapterID)
	if err != nil {
		return err
	}
	if current != "" {
		log.Printf("[Tracker] Chapter %s already registered, skipping", event.ChapterID)
		return nil
	}

	if err := t.store.SetChapterTitle(ctx, event.ChapterID, event.ChapterTitle); err != nil {
		return err
	}
	if err := t.store.SetChapterStatus(ctx, event.ChapterID, string(types.ChapterUploaded)); err != nil {
		return err
	}
	if err := t.store.AddOpenChapter(ctx, event.BookID, event.ChapterID); err != nil {
		return err
	}
	total, err := t.store.IncrTotalChapters(ctx, event.BookID)
	if err != nil {
		return err
	}
	log.Printf("[Tracker] Chapter %q (%s) added under book %s (total %d)",
		event.ChapterTitle, event.ChapterID, event.BookID, total)
	return nil
}

func (t *Tracker) addChunk(ctx context.Context, event messages.TrackerEvent) error {
	if event.BookID == "" || event.ChapterID == "" || event.ChunkIndex < 1 {
		return fmt.Errorf("%w: add_chunk requires book_uuid, chapter_uuid, chunk_index", errInvalid)
	}

	member := state.ChunkMember(event.ChunkIndex)
	current, err := t.store.ChunkStatus(ctx, event.ChapterID, member)
	if err != nil {
		return err
	}
	if current != "" {
		log.Printf("[Tracker] Chunk %s of chapter %s already registered, skipping", member, event.ChapterID)
		return nil
	}

	if err := t.store.SetChunkStatus(ctx, event.ChapterID, member, string(types.ChunkQueued)); err != nil {
		return err
	}
	return t.store.AddOpenChunk(ctx, event.ChapterID, member)
}

func (t *Tracker) updateBookStatus(ctx context.Context, event messages.TrackerEvent) error {
	status := types.BookStatus(event.Status)
	if event.BookID == "" || !status.Valid() {
		return fmt.Errorf("%w: bad update_book_status for %q: %q", errInvalid, event.BookID, event.Status)
	}
	_, err := t.transitionBook(ctx, event.BookID, status)
	return err
}

func (t *Tracker) updateChapterStatus(ctx context.Context, event messages.TrackerEvent) error {
	status := types.ChapterStatus(event.Status)
	if event.BookID == "" || event.ChapterID == "" || !status.Valid() {
		return fmt.Errorf("%w: bad update_chapter_status for %q: %q", errInvalid, event.ChapterID, event.Status)
	}

	switch status {
	case types.ChapterCompleted:
		return t.completeChapter(ctx, event.BookID, event.ChapterID)
	case types.ChapterFailed:
		return t.failChapter(ctx, event.BookID, event.ChapterID, "chapter processing failed")
	default:
		_, err := t.transitionChapter(ctx, event.ChapterID, status)
		return err
	}
}

func (t *Tracker) updateChunkStatus(ctx context.Context, event messages.TrackerEvent) error {
	status := types.ChunkStatus(event.Status)
	if event.BookID == "" || event.ChapterID == "" || event.ChunkIndex < 1 || !status.Valid() {
		return fmt.Errorf("%w: bad update_chunk_status: %q", errInvalid, event.Status)
	}

	member := state.ChunkMember(event.ChunkIndex)
	applied, err := t.transitionChunk(ctx, event.ChapterID, member, status)
	if err != nil || !applied {
		return err
	}

	// A failed chunk can never produce audio, so its chapter can never be
	// stitched. Close the chunk and fail the chapter rather than leaving the
	// book stuck in in_progress.
	if status == types.ChunkFailed {
		if _, err := t.store.RemoveOpenChunk(ctx, event.ChapterID, member); err != nil {
			return err
		}
		if err := t.store.AppendError(ctx, state.EntityChunk,
			fmt.Sprintf("%s:%s", event.ChapterID, member), "chunk synthesis failed"); err != nil {
			return err
		}
		return t.failChapter(ctx, event.BookID, event.ChapterID,
			fmt.Sprintf("chunk %d failed", event.ChunkIndex))
	}
	return nil
}

func (t *Tracker) removeChapter(ctx context.Context, event messages.TrackerEvent) error {
	if event.BookID == "" || event.ChapterID == "" {
		return fmt.Errorf("%w: remove_chapter requires book_uuid, chapter_uuid", errInvalid)
	}
	return t.completeChapter(ctx, event.BookID, event.ChapterID)
}

func (t *Tracker) removeChunk(ctx context.Context, event messages.TrackerEvent) error {
	if event.BookID == "" || event.ChapterID == "" || event.ChunkIndex < 1 {
		return fmt.Errorf("%w: remove_chunk requires book_uuid, chapter_uuid, chunk_index", errInvalid)
	}

	member := state.ChunkMember(event.ChunkIndex)
	current, err := t.store.ChunkStatus(ctx, event.ChapterID, member)
	if err != nil {
		return err
	}
	if current == "" {
		// A removal for a chunk that was never added. Completing it would run
		// the emptiness check against a set the chunk was never in and could
		// enqueue a stitch for a chapter with no fragments.
		return fmt.Errorf("%w: remove_chunk for unregistered chunk %s of chapter %s",
			errInvalid, member, event.ChapterID)
	}

	applied, err := t.transitionChunk(ctx, event.ChapterID, member, types.ChunkCompleted)
	if err != nil {
		return err
	}
	if !applied {
		// Redelivered removal of an already-closed chunk. The emptiness
		// check below must not run again: that is what makes the stitch
		// enqueue at-most-once.
		return nil
	}

	remaining, err := t.store.RemoveOpenChunk(ctx, event.ChapterID, member)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	log.Printf("[Tracker] All chunks of chapter %s done, enqueueing stitch", event.ChapterID)
	if err := t.publisher.Publish(ctx, messages.StitchQueue,
		messages.StitchJob{BookID: event.BookID, ChapterID: event.ChapterID}); err != nil {
		return fmt.Errorf("failed to enqueue stitch job: %w", err)
	}
	return nil
}

// completeChapter closes a chapter: terminal status, completed counter,
// removal from the book's open set, and both book-completion checks
// (counter equality and set emptiness).
func (t *Tracker) completeChapter(ctx context.Context, bookID, chapterID string) error {
	applied, err := t.transitionChapter(ctx, chapterID, types.ChapterCompleted)
	if err != nil || !applied {
		return err
	}

	completed, err := t.store.IncrCompletedChapters(ctx, bookID)
	if err != nil {
		return err
	}
	remaining, err := t.store.RemoveOpenChapter(ctx, bookID, chapterID)
	if err != nil {
		return err
	}
	total, err := t.store.TotalChapters(ctx, bookID)
	if err != nil {
		return err
	}

	if remaining == 0 && completed == total {
		marked, err := t.transitionBook(ctx, bookID, types.BookCompleted)
		if err != nil {
			return err
		}
		if marked {
			log.Printf("[Tracker] Book %s completed (%d/%d chapters)", bookID, completed, total)
		}
	}
	return nil
}

// failChapter closes a chapter as failed and fails its book. Failed chapters
// leave the open set but never count as completed.
func (t *Tracker) failChapter(ctx context.Context, bookID, chapterID, reason string) error {
	applied, err := t.transitionChapter(ctx, chapterID, types.ChapterFailed)
	if err != nil || !applied {
		return err
	}

	if _, err := t.store.RemoveOpenChapter(ctx, bookID, chapterID); err != nil {
		return err
	}
	if err := t.store.AppendError(ctx, state.EntityChapter, chapterID, reason); err != nil {
		return err
	}

	marked, err := t.transitionBook(ctx, bookID, types.BookFailed)
	if err != nil {
		return err
	}
	if marked {
		if err := t.store.AppendError(ctx, state.EntityBook, bookID,
			fmt.Sprintf("chapter %s failed: %s", chapterID, reason)); err != nil {
			return err
		}
		log.Printf("[Tracker] Book %s failed: chapter %s: %s", bookID, chapterID, reason)
	}
	return nil
}

// Status transitions are forward-only. Re-applying the current status or
// stepping backwards is silently skipped, which is what makes redelivered
// events harmless; transitions out of a terminal state are likewise dropped.

func (t *Tracker) transitionBook(ctx context.Context, bookID string, next types.BookStatus) (bool, error) {
	current, err := t.store.BookStatus(ctx, bookID)
	if err != nil {
		return false, err
	}
	if !allowForward(current, string(next), bookRank) {
		return false, nil
	}
	return true, t.store.SetBookStatus(ctx, bookID, string(next))
}

func (t *Tracker) transitionChapter(ctx context.Context, chapterID string, next types.ChapterStatus) (bool, error) {
	current, err := t.store.ChapterStatus(ctx, chapterID)
	if err != nil {
		return false, err
	}
	if !allowForward(current, string(next), chapterRank) {
		return false, nil
	}
	return true, t.store.SetChapterStatus(ctx, chapterID, string(next))
}

func (t *Tracker) transitionChunk(ctx context.Context, chapterID, member string, next types.ChunkStatus) (bool, error) {
	current, err := t.store.ChunkStatus(ctx, chapterID, member)
	if err != nil {
		return false, err
	}
	if !allowForward(current, string(next), chunkRank) {
		return false, nil
	}
	return true, t.store.SetChunkStatus(ctx, chapterID, member, string(next))
}

var bookRank = map[string]int{
	string(types.BookUploaded):   1,
	string(types.BookInProgress): 2,
	string(types.BookCompleted):  3,
	string(types.BookFailed):     3,
}

var chapterRank = map[string]int{
	string(types.ChapterUploaded):   1,
	string(types.ChapterInProgress): 2,
	string(types.ChapterCompleted):  3,
	string(types.ChapterFailed):     3,
}

var chunkRank = map[string]int{
	string(types.ChunkQueued):     1,
	string(types.ChunkInProgress): 2,
	string(types.ChunkCompleted):  3,
	string(types.ChunkFailed):     3,
}

func allowForward(current, next string, rank map[string]int) bool {
	if current == "" {
		return true
	}
	return rank[next] > rank[current]
}
