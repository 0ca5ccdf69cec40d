package tracker_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/state"
	"github.com/fablecast/fablecast/internal/tracker"
	"github.com/fablecast/fablecast/pkg/types"
)

type fixture struct {
	store   *state.MemoryStore
	broker  *broker.MemoryBroker
	tracker *tracker.Tracker
}

func newFixture() *fixture {
	store := state.NewMemoryStore()
	mb := broker.NewMemoryBroker()
	return &fixture{store: store, broker: mb, tracker: tracker.New(store, mb)}
}

func (f *fixture) send(t *testing.T, event messages.TrackerEvent) broker.Disposition {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	return f.tracker.HandleMessage(context.Background(), body)
}

func (f *fixture) mustAck(t *testing.T, event messages.TrackerEvent) {
	t.Helper()
	if d := f.send(t, event); d != broker.Ack {
		t.Fatalf("expected Ack for %s, got %v", event.Operation, d)
	}
}

func (f *fixture) bookStatus(t *testing.T, bookID string) string {
	t.Helper()
	status, err := f.store.BookStatus(context.Background(), bookID)
	if err != nil {
		t.Fatal(err)
	}
	return status
}

func (f *fixture) chapterStatus(t *testing.T, chapterID string) string {
	t.Helper()
	status, err := f.store.ChapterStatus(context.Background(), chapterID)
	if err != nil {
		t.Fatal(err)
	}
	return status
}

func TestLifecycle(t *testing.T) {
	f := newFixture()

	f.mustAck(t, messages.AddBook("b1"))
	if got := f.bookStatus(t, "b1"); got != string(types.BookUploaded) {
		t.Fatalf("book status = %q, want uploaded", got)
	}

	f.mustAck(t, messages.UpdateBookStatus("b1", types.BookInProgress))
	f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))
	f.mustAck(t, messages.UpdateChapterStatus("b1", "c1", types.ChapterInProgress))
	f.mustAck(t, messages.AddChunk("b1", "c1", 1))
	f.mustAck(t, messages.AddChunk("b1", "c1", 2))
	f.mustAck(t, messages.UpdateChunkStatus("b1", "c1", 1, types.ChunkInProgress))

	open, _ := f.store.OpenChunks(context.Background(), "c1")
	if len(open) != 2 {
		t.Fatalf("expected 2 open chunks, got %d", len(open))
	}

	f.mustAck(t, messages.RemoveChunk("b1", "c1", 1))
	if n := f.broker.Pending(messages.StitchQueue); n != 0 {
		t.Fatalf("stitch enqueued before last chunk: %d", n)
	}

	f.mustAck(t, messages.RemoveChunk("b1", "c1", 2))
	if n := f.broker.Pending(messages.StitchQueue); n != 1 {
		t.Fatalf("expected 1 stitch job, got %d", n)
	}

	f.mustAck(t, messages.RemoveChapter("b1", "c1"))
	if got := f.chapterStatus(t, "c1"); got != string(types.ChapterCompleted) {
		t.Fatalf("chapter status = %q, want completed", got)
	}
	if got := f.bookStatus(t, "b1"); got != string(types.BookCompleted) {
		t.Fatalf("book status = %q, want completed", got)
	}

	total, _ := f.store.TotalChapters(context.Background(), "b1")
	completed, _ := f.store.CompletedChapters(context.Background(), "b1")
	if total != 1 || completed != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", completed, total)
	}
}

func TestIdempotence(t *testing.T) {
	t.Run("replayed add_chapter does not double count", func(t *testing.T) {
		f := newFixture()
		f.mustAck(t, messages.AddBook("b1"))
		f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))
		f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))

		total, _ := f.store.TotalChapters(context.Background(), "b1")
		if total != 1 {
			t.Fatalf("total_chapters = %d, want 1", total)
		}
	})

	t.Run("replayed add_chunk leaves the open set unchanged", func(t *testing.T) {
		f := newFixture()
		f.mustAck(t, messages.AddBook("b1"))
		f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))
		f.mustAck(t, messages.AddChunk("b1", "c1", 1))
		f.mustAck(t, messages.AddChunk("b1", "c1", 1))

		open, _ := f.store.OpenChunks(context.Background(), "c1")
		if len(open) != 1 {
			t.Fatalf("open chunks = %d, want 1", len(open))
		}
	})

	t.Run("replayed remove_chunk enqueues at most one stitch", func(t *testing.T) {
		f := newFixture()
		f.mustAck(t, messages.AddBook("b1"))
		f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))
		f.mustAck(t, messages.AddChunk("b1", "c1", 1))
		f.mustAck(t, messages.RemoveChunk("b1", "c1", 1))
		f.mustAck(t, messages.RemoveChunk("b1", "c1", 1))

		if n := f.broker.Pending(messages.StitchQueue); n != 1 {
			t.Fatalf("expected exactly 1 stitch job, got %d", n)
		}
	})

	t.Run("remove_chunk for an unregistered chunk is dropped", func(t *testing.T) {
		f := newFixture()
		f.mustAck(t, messages.AddBook("b1"))
		f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))

		if d := f.send(t, messages.RemoveChunk("b1", "c1", 7)); d != broker.Drop {
			t.Fatalf("expected Drop for unregistered chunk, got %v", d)
		}
		if n := f.broker.Pending(messages.StitchQueue); n != 0 {
			t.Fatalf("stitch enqueued for chapter with no fragments: %d", n)
		}
		status, _ := f.store.ChunkStatus(context.Background(), "c1", state.ChunkMember(7))
		if status != "" {
			t.Fatalf("status written for unregistered chunk: %q", status)
		}
	})

	t.Run("replayed remove_chapter does not double complete", func(t *testing.T) {
		f := newFixture()
		f.mustAck(t, messages.AddBook("b1"))
		f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))
		f.mustAck(t, messages.RemoveChapter("b1", "c1"))
		f.mustAck(t, messages.RemoveChapter("b1", "c1"))

		completed, _ := f.store.CompletedChapters(context.Background(), "b1")
		if completed != 1 {
			t.Fatalf("completed_chapters = %d, want 1", completed)
		}
	})

	t.Run("terminal states ignore further transitions", func(t *testing.T) {
		f := newFixture()
		f.mustAck(t, messages.AddBook("b1"))
		f.mustAck(t, messages.UpdateBookStatus("b1", types.BookFailed))
		f.mustAck(t, messages.UpdateBookStatus("b1", types.BookCompleted))

		if got := f.bookStatus(t, "b1"); got != string(types.BookFailed) {
			t.Fatalf("book status = %q, want failed", got)
		}
	})

	t.Run("late in_progress cannot regress a completed chapter", func(t *testing.T) {
		f := newFixture()
		f.mustAck(t, messages.AddBook("b1"))
		f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))
		f.mustAck(t, messages.RemoveChapter("b1", "c1"))
		f.mustAck(t, messages.UpdateChapterStatus("b1", "c1", types.ChapterInProgress))

		if got := f.chapterStatus(t, "c1"); got != string(types.ChapterCompleted) {
			t.Fatalf("chapter status = %q, want completed", got)
		}
	})
}

func TestMultiChapterCompletion(t *testing.T) {
	f := newFixture()
	f.mustAck(t, messages.AddBook("b1"))
	for _, c := range []string{"c1", "c2", "c3"} {
		f.mustAck(t, messages.AddChapter("b1", c, "title-"+c))
	}

	f.mustAck(t, messages.RemoveChapter("b1", "c1"))
	f.mustAck(t, messages.RemoveChapter("b1", "c2"))
	if got := f.bookStatus(t, "b1"); got == string(types.BookCompleted) {
		t.Fatal("book completed before all chapters finished")
	}

	f.mustAck(t, messages.RemoveChapter("b1", "c3"))
	if got := f.bookStatus(t, "b1"); got != string(types.BookCompleted) {
		t.Fatalf("book status = %q, want completed", got)
	}
}

func TestFailurePropagation(t *testing.T) {
	t.Run("failed chunk fails its chapter and book", func(t *testing.T) {
		f := newFixture()
		f.mustAck(t, messages.AddBook("b1"))
		f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))
		f.mustAck(t, messages.AddChunk("b1", "c1", 1))
		f.mustAck(t, messages.UpdateChunkStatus("b1", "c1", 1, types.ChunkFailed))

		if got := f.chapterStatus(t, "c1"); got != string(types.ChapterFailed) {
			t.Fatalf("chapter status = %q, want failed", got)
		}
		if got := f.bookStatus(t, "b1"); got != string(types.BookFailed) {
			t.Fatalf("book status = %q, want failed", got)
		}
		open, _ := f.store.OpenChunks(context.Background(), "c1")
		if len(open) != 0 {
			t.Fatalf("failed chunk left in open set")
		}
		if n := f.broker.Pending(messages.StitchQueue); n != 0 {
			t.Fatalf("stitch enqueued for failed chapter: %d", n)
		}
		if journal := f.store.Errors(state.EntityChapter, "c1"); len(journal) == 0 {
			t.Error("no error recorded for failed chapter")
		}
	})

	t.Run("failed chapter leaves the open set and fails the book", func(t *testing.T) {
		f := newFixture()
		f.mustAck(t, messages.AddBook("b1"))
		f.mustAck(t, messages.AddChapter("b1", "c1", "chapter_1"))
		f.mustAck(t, messages.AddChapter("b1", "c2", "chapter_2"))
		f.mustAck(t, messages.UpdateChapterStatus("b1", "c1", types.ChapterFailed))

		open, _ := f.store.OpenChapters(context.Background(), "b1")
		if len(open) != 1 {
			t.Fatalf("open chapters = %d, want 1", len(open))
		}
		if got := f.bookStatus(t, "b1"); got != string(types.BookFailed) {
			t.Fatalf("book status = %q, want failed", got)
		}
		completed, _ := f.store.CompletedChapters(context.Background(), "b1")
		if completed != 0 {
			t.Fatalf("failed chapter counted as completed")
		}
	})
}

func TestPoisonMessages(t *testing.T) {
	f := newFixture()

	cases := []struct {
		name string
		body []byte
	}{
		{"invalid json", []byte("{nope")},
		{"unknown operation", mustMarshal(t, messages.TrackerEvent{Operation: "explode", BookID: "b1"})},
		{"missing book id", mustMarshal(t, messages.TrackerEvent{Operation: messages.OpAddBook})},
		{"invalid status", mustMarshal(t, messages.TrackerEvent{
			Operation: messages.OpUpdateBookStatus, BookID: "b1", Status: "sideways",
		})},
		{"chunk index zero", mustMarshal(t, messages.TrackerEvent{
			Operation: messages.OpAddChunk, BookID: "b1", ChapterID: "c1",
		})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d := f.tracker.HandleMessage(context.Background(), tc.body); d != broker.Drop {
				t.Fatalf("expected Drop, got %v", d)
			}
		})
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return body
}
