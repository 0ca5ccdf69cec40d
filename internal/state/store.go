// Package state holds the pipeline's aggregate state: status enums, open
// chapter/chunk sets, and progress counters. The event tracker is the single
// writer; the query API reads only.
package state

import (
	"context"
	"fmt"
)

// Entity names used in status and error keys.
const (
	EntityBook    = "book"
	EntityChapter = "chapter"
	EntityChunk   = "chunk"
)

// ChunkMember is the set-member form of a chunk index, e.g. "chunk_3".
func ChunkMember(index int) string {
	return fmt.Sprintf("chunk_%d", index)
}

// Store is the aggregate-state contract. The Redis implementation is the
// production store; the memory implementation backs tests and single-process
// runs. Missing statuses and counters read as zero values, not errors.
type Store interface {
	SetBookStatus(ctx context.Context, bookID, status string) error
	BookStatus(ctx context.Context, bookID string) (string, error)

	SetChapterStatus(ctx context.Context, chapterID, status string) error
	ChapterStatus(ctx context.Context, chapterID string) (string, error)

	// Chunk statuses are keyed by chapter plus set member ("chunk_{i}").
	SetChunkStatus(ctx context.Context, chapterID, member, status string) error
	ChunkStatus(ctx context.Context, chapterID, member string) (string, error)

	SetChapterTitle(ctx context.Context, chapterID, title string) error
	ChapterTitle(ctx context.Context, chapterID string) (string, error)

	// Open chapter set per book. Remove reports the set size afterwards so
	// the tracker can detect emptiness atomically with the removal.
	AddOpenChapter(ctx context.Context, bookID, chapterID string) error
	RemoveOpenChapter(ctx context.Context, bookID, chapterID string) (remaining int64, err error)
	OpenChapters(ctx context.Context, bookID string) ([]string, error)

	IncrTotalChapters(ctx context.Context, bookID string) (int64, error)
	TotalChapters(ctx context.Context, bookID string) (int64, error)
	IncrCompletedChapters(ctx context.Context, bookID string) (int64, error)
	CompletedChapters(ctx context.Context, bookID string) (int64, error)

	// Open chunk set per chapter.
	AddOpenChunk(ctx context.Context, chapterID, member string) error
	RemoveOpenChunk(ctx context.Context, chapterID, member string) (remaining int64, err error)
	OpenChunks(ctx context.Context, chapterID string) ([]string, error)

	// AppendError records a failure note on the entity's error journal.
	AppendError(ctx context.Context, entity, id, message string) error

	Close() error
}

// Key layout shared by the Redis store and external read-only collaborators.
func statusKey(entity, id string) string { return fmt.Sprintf("status:%s:%s", entity, id) }
func chunkStatusID(chapterID, member string) string {
	return fmt.Sprintf("%s:%s", chapterID, member)
}
func chaptersKey(bookID string) string      { return fmt.Sprintf("book:%s:chapters", bookID) }
func totalChaptersKey(bookID string) string { return fmt.Sprintf("book:%s:total_chapters", bookID) }
func completedChaptersKey(bookID string) string {
	return fmt.Sprintf("book:%s:completed_chapters", bookID)
}
func chunksKey(chapterID string) string  { return fmt.Sprintf("chapter:%s:chunks", chapterID) }
func chapterKey(chapterID string) string { return fmt.Sprintf("chapter:%s", chapterID) }
func errorsKey(entity, id string) string { return fmt.Sprintf("errors:%s:%s", entity, id) }
