// Package messages defines the queue topology and every payload that crosses
// the broker. Messages carry identifiers only; bulk bytes live in the object
// store.
package messages

import "github.com/fablecast/fablecast/pkg/types"

// Queue names. Routing uses the default exchange, so the queue name is the
// routing key.
const (
	SplitterQueue     = "splitter_queue"
	ChunkerQueue      = "chunker_queue"
	TTSQueue          = "tts_queue"
	StitchQueue       = "stitch_queue"
	EventTrackerQueue = "event_tracker_queue"
)

// Queues lists every queue a process declares at startup.
var Queues = []string{
	SplitterQueue,
	ChunkerQueue,
	TTSQueue,
	StitchQueue,
	EventTrackerQueue,
}

// Operation tags an event-tracker message. The tracker dispatches on this tag
// with an exhaustive switch; unknown tags are poison messages.
type Operation string

const (
	OpAddBook             Operation = "add_book"
	OpAddChapter          Operation = "add_chapter"
	OpAddChunk            Operation = "add_chunk"
	OpUpdateBookStatus    Operation = "update_book_status"
	OpUpdateChapterStatus Operation = "update_chapter_status"
	OpUpdateChunkStatus   Operation = "update_chunk_status"
	OpRemoveChapter       Operation = "remove_chapter"
	OpRemoveChunk         Operation = "remove_chunk"
)

// SplitJob asks the splitter to break one uploaded book into chapters.
type SplitJob struct {
	BookID string `json:"book_uuid"`
}

// ChunkJob asks the chunker to break one chapter into text chunks.
type ChunkJob struct {
	BookID    string `json:"book_uuid"`
	ChapterID string `json:"chapter_uuid"`
}

// SynthesisJob asks the synthesizer to render one chunk to audio.
type SynthesisJob struct {
	BookID     string `json:"book_uuid"`
	ChapterID  string `json:"chapter_uuid"`
	ChunkIndex int    `json:"chunk_index"`
}

// StitchJob asks the stitcher to assemble one chapter's fragments. Only the
// event tracker enqueues stitch jobs.
type StitchJob struct {
	BookID    string `json:"book_uuid"`
	ChapterID string `json:"chapter_uuid"`
}

// TrackerEvent is the envelope for every aggregate-state mutation. Unused
// fields are omitted from the wire form.
type TrackerEvent struct {
	Operation    Operation `json:"operation"`
	BookID       string    `json:"book_uuid"`
	ChapterID    string    `json:"chapter_uuid,omitempty"`
	ChapterTitle string    `json:"chapter_title,omitempty"`
	ChunkIndex   int       `json:"chunk_index,omitempty"`
	Status       string    `json:"status,omitempty"`
}

// AddBook registers a freshly uploaded book.
func AddBook(bookID string) TrackerEvent {
	return TrackerEvent{Operation: OpAddBook, BookID: bookID}
}

// AddChapter records a new chapter under a book and opens it for tracking.
func AddChapter(bookID, chapterID, title string) TrackerEvent {
	return TrackerEvent{
		Operation:    OpAddChapter,
		BookID:       bookID,
		ChapterID:    chapterID,
		ChapterTitle: title,
	}
}

// AddChunk records a new chunk under a chapter and opens it for tracking.
func AddChunk(bookID, chapterID string, index int) TrackerEvent {
	return TrackerEvent{
		Operation:  OpAddChunk,
		BookID:     bookID,
		ChapterID:  chapterID,
		ChunkIndex: index,
	}
}

// UpdateBookStatus transitions a book's status.
func UpdateBookStatus(bookID string, status types.BookStatus) TrackerEvent {
	return TrackerEvent{Operation: OpUpdateBookStatus, BookID: bookID, Status: string(status)}
}

// UpdateChapterStatus transitions a chapter's status.
func UpdateChapterStatus(bookID, chapterID string, status types.ChapterStatus) TrackerEvent {
	return TrackerEvent{
		Operation: OpUpdateChapterStatus,
		BookID:    bookID,
		ChapterID: chapterID,
		Status:    string(status),
	}
}

// UpdateChunkStatus transitions a chunk's status.
func UpdateChunkStatus(bookID, chapterID string, index int, status types.ChunkStatus) TrackerEvent {
	return TrackerEvent{
		Operation:  OpUpdateChunkStatus,
		BookID:     bookID,
		ChapterID:  chapterID,
		ChunkIndex: index,
		Status:     string(status),
	}
}

// RemoveChapter marks a chapter completed and closes it in its book's set.
func RemoveChapter(bookID, chapterID string) TrackerEvent {
	return TrackerEvent{Operation: OpRemoveChapter, BookID: bookID, ChapterID: chapterID}
}

// RemoveChunk marks a chunk completed and closes it in its chapter's set.
func RemoveChunk(bookID, chapterID string, index int) TrackerEvent {
	return TrackerEvent{
		Operation:  OpRemoveChunk,
		BookID:     bookID,
		ChapterID:  chapterID,
		ChunkIndex: index,
	}
}
