package splitter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/epub/epubtest"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/objkey"
	"github.com/fablecast/fablecast/internal/storage"
	"github.com/fablecast/fablecast/pkg/types"
)

func prose(n int) string {
	sentence := "The quick brown fox jumps over the lazy dog and keeps running. "
	var sb strings.Builder
	for sb.Len() < n {
		sb.WriteString(sentence)
	}
	return sb.String()
}

func TestIsMetadata(t *testing.T) {
	content := prose(2000)

	cases := []struct {
		name  string
		title string
		text  string
		want  bool
	}{
		{"keyword in title", "Copyright", content, true},
		{"keyword embedded in title", "About_the_Author_final", content, true},
		{"short text", "chapter_01", "Too short.", true},
		{"mostly punctuation", "chapter_02", strings.Repeat("*** --- ///", 50), true},
		{"link heavy", "chapter_03", content + strings.Repeat(" http://example.com", 6), true},
		{"ordinary chapter", "chapter_04", content, false},
		{"chapter keyword is not metadata", "chapter_05", content, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isMetadata(tc.title, tc.text); got != tc.want {
				t.Errorf("isMetadata(%q, ...) = %v, want %v", tc.title, got, tc.want)
			}
		})
	}
}

func TestChapterTitle(t *testing.T) {
	cases := []struct {
		href string
		want string
	}{
		{"OEBPS/chapter_01.xhtml", "chapter_01"},
		{"OEBPS/text/ch.2.html", "ch_2"},
		{"weird name!.xhtml", "weird name_"},
		{"", "Chapter_03"},
	}
	for _, tc := range cases {
		if got := chapterTitle(tc.href, 3); got != tc.want {
			t.Errorf("chapterTitle(%q) = %q, want %q", tc.href, got, tc.want)
		}
	}
}

func TestExtractParagraphs(t *testing.T) {
	t.Run("paragraphs and cleanup", func(t *testing.T) {
		doc := `<html><body>
<p>First paragraph.</p>
<script>ignore()</script>
<p>Second&nbsp;paragraph.</p>
</body></html>`
		paragraphs, err := extractParagraphs([]byte(doc))
		if err != nil {
			t.Fatalf("extractParagraphs failed: %v", err)
		}
		if len(paragraphs) != 2 {
			t.Fatalf("expected 2 paragraphs, got %d: %v", len(paragraphs), paragraphs)
		}

		text := cleanupText(paragraphs)
		if !strings.Contains(text, "First paragraph.\n\nSecond paragraph.") {
			t.Errorf("unexpected text: %q", text)
		}
		if strings.Contains(text, "ignore") {
			t.Error("script content leaked into text")
		}
	})

	t.Run("dropcap folds into the paragraph", func(t *testing.T) {
		doc := `<p><span class="dropcap">O</span>nce upon a time.</p>`
		paragraphs, err := extractParagraphs([]byte(doc))
		if err != nil {
			t.Fatalf("extractParagraphs failed: %v", err)
		}
		if len(paragraphs) != 1 || !strings.HasPrefix(paragraphs[0], "Once upon a time") {
			t.Errorf("dropcap not reconstructed: %v", paragraphs)
		}
		if strings.Count(paragraphs[0], "O") != 1 {
			t.Errorf("dropcap duplicated: %q", paragraphs[0])
		}
	})
}

func TestWorkerHandleMessage(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, data []byte) (*Worker, storage.Adapter, *broker.MemoryBroker) {
		t.Helper()
		adapter, err := storage.NewLocalAdapter(t.TempDir())
		if err != nil {
			t.Fatalf("failed to create storage: %v", err)
		}
		if err := storage.PutBytes(ctx, adapter, objkey.Book("book-1"), data); err != nil {
			t.Fatalf("failed to seed book: %v", err)
		}
		mb := broker.NewMemoryBroker()
		return NewWorker(adapter, mb), adapter, mb
	}

	job := func(t *testing.T) []byte {
		t.Helper()
		body, err := json.Marshal(messages.SplitJob{BookID: "book-1"})
		if err != nil {
			t.Fatal(err)
		}
		return body
	}

	drainEvents := func(t *testing.T, mb *broker.MemoryBroker) ([]messages.TrackerEvent, []messages.ChunkJob) {
		t.Helper()
		var events []messages.TrackerEvent
		var chunkJobs []messages.ChunkJob
		mb.Handle(messages.EventTrackerQueue, func(ctx context.Context, body []byte) broker.Disposition {
			var ev messages.TrackerEvent
			if err := json.Unmarshal(body, &ev); err != nil {
				t.Fatalf("bad tracker event: %v", err)
			}
			events = append(events, ev)
			return broker.Ack
		})
		mb.Handle(messages.ChunkerQueue, func(ctx context.Context, body []byte) broker.Disposition {
			var cj messages.ChunkJob
			if err := json.Unmarshal(body, &cj); err != nil {
				t.Fatalf("bad chunker job: %v", err)
			}
			chunkJobs = append(chunkJobs, cj)
			return broker.Ack
		})
		if _, err := mb.Drain(ctx, 100); err != nil {
			t.Fatalf("drain failed: %v", err)
		}
		return events, chunkJobs
	}

	t.Run("metadata filtering keeps only content chapters", func(t *testing.T) {
		data := epubtest.Build(t, []epubtest.Doc{
			{Name: "copyright.xhtml", Body: "<p>" + prose(80)[:80] + "</p>"},
			{Name: "chapter_1.xhtml", Body: "<p>" + prose(2000) + "</p>"},
			{Name: "appendix_a.xhtml", Body: "<p>" + strings.Repeat("*-/ ", 125) + "</p>"},
		})
		worker, adapter, mb := setup(t, data)

		if d := worker.HandleMessage(ctx, job(t)); d != broker.Ack {
			t.Fatalf("expected Ack, got %v", d)
		}

		events, chunkJobs := drainEvents(t, mb)
		var added []messages.TrackerEvent
		for _, ev := range events {
			if ev.Operation == messages.OpAddChapter {
				added = append(added, ev)
			}
		}
		if len(added) != 1 {
			t.Fatalf("expected 1 chapter added, got %d", len(added))
		}
		if added[0].ChapterTitle != "chapter_1" {
			t.Errorf("unexpected chapter title %q", added[0].ChapterTitle)
		}
		if len(chunkJobs) != 1 {
			t.Fatalf("expected 1 chunker job, got %d", len(chunkJobs))
		}

		text, err := storage.GetBytes(ctx, adapter, objkey.ChapterText("book-1", added[0].ChapterID))
		if err != nil {
			t.Fatalf("chapter text missing: %v", err)
		}
		if !strings.Contains(string(text), "quick brown fox") {
			t.Errorf("chapter text not extracted: %q", text[:60])
		}
	})

	t.Run("redelivered job mints the same chapter ids", func(t *testing.T) {
		data := epubtest.Build(t, []epubtest.Doc{
			{Name: "chapter_1.xhtml", Body: "<p>" + prose(2000) + "</p>"},
			{Name: "chapter_2.xhtml", Body: "<p>" + prose(2000) + "</p>"},
		})
		worker, adapter, mb := setup(t, data)

		for i := 0; i < 2; i++ {
			if d := worker.HandleMessage(ctx, job(t)); d != broker.Ack {
				t.Fatalf("expected Ack on delivery %d, got %v", i+1, d)
			}
		}

		events, _ := drainEvents(t, mb)
		ids := make(map[string][]string)
		for _, ev := range events {
			if ev.Operation == messages.OpAddChapter {
				ids[ev.ChapterTitle] = append(ids[ev.ChapterTitle], ev.ChapterID)
			}
		}
		if len(ids) != 2 {
			t.Fatalf("expected 2 distinct chapters, got %d", len(ids))
		}
		for title, chapterIDs := range ids {
			if len(chapterIDs) != 2 || chapterIDs[0] != chapterIDs[1] {
				t.Errorf("chapter %q id changed across deliveries: %v", title, chapterIDs)
			}
		}

		keys, err := adapter.List(ctx, "book-1/chapters/")
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 2 {
			t.Fatalf("expected 2 chapter text objects, got %d: %v", len(keys), keys)
		}
	})

	t.Run("all-metadata book is marked failed", func(t *testing.T) {
		data := epubtest.Build(t, []epubtest.Doc{
			{Name: "copyright.xhtml", Body: "<p>short legal text</p>"},
			{Name: "toc.xhtml", Body: "<p>contents</p>"},
		})
		worker, _, mb := setup(t, data)

		if d := worker.HandleMessage(ctx, job(t)); d != broker.Ack {
			t.Fatalf("expected Ack, got %v", d)
		}

		events, chunkJobs := drainEvents(t, mb)
		if len(chunkJobs) != 0 {
			t.Fatalf("expected no chunker jobs, got %d", len(chunkJobs))
		}
		last := events[len(events)-1]
		if last.Operation != messages.OpUpdateBookStatus || last.Status != string(types.BookFailed) {
			t.Errorf("expected book failed event, got %+v", last)
		}
	})

	t.Run("unreadable epub is marked failed", func(t *testing.T) {
		worker, _, mb := setup(t, []byte("not an epub at all"))

		if d := worker.HandleMessage(ctx, job(t)); d != broker.Ack {
			t.Fatalf("expected Ack, got %v", d)
		}
		events, _ := drainEvents(t, mb)
		last := events[len(events)-1]
		if last.Status != string(types.BookFailed) {
			t.Errorf("expected book failed, got %+v", last)
		}
	})

	t.Run("malformed job is dropped", func(t *testing.T) {
		worker, _, _ := setup(t, []byte("x"))
		if d := worker.HandleMessage(ctx, []byte("{")); d != broker.Drop {
			t.Fatalf("expected Drop, got %v", d)
		}
	})
}
