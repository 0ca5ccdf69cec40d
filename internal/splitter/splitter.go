// Package splitter breaks an uploaded EPUB into per-chapter plain text. It
// walks the container's spine, extracts and cleans each document's text,
// filters metadata chapters, and hands surviving chapters to the chunker.
package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/epub"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/objkey"
	"github.com/fablecast/fablecast/internal/storage"
	"github.com/fablecast/fablecast/pkg/types"
)

var nonWord = regexp.MustCompile(`[^\w\s-]`)

// Worker consumes split jobs.
type Worker struct {
	storage   storage.Adapter
	publisher broker.Publisher
}

// NewWorker creates a splitter worker.
func NewWorker(adapter storage.Adapter, publisher broker.Publisher) *Worker {
	return &Worker{storage: adapter, publisher: publisher}
}

// HandleMessage processes one split job.
func (w *Worker) HandleMessage(ctx context.Context, body []byte) broker.Disposition {
	var job messages.SplitJob
	if err := json.Unmarshal(body, &job); err != nil || job.BookID == "" {
		log.Printf("[Splitter] Dropping malformed job: %v", err)
		return broker.Drop
	}

	log.Printf("[Splitter] Processing book %s", job.BookID)

	if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
		messages.UpdateBookStatus(job.BookID, types.BookInProgress)); err != nil {
		log.Printf("[Splitter] Failed to notify tracker for book %s: %v", job.BookID, err)
		return broker.Requeue
	}

	data, err := storage.GetBytes(ctx, w.storage, objkey.Book(job.BookID))
	if err != nil {
		log.Printf("[Splitter] Failed to download book %s: %v", job.BookID, err)
		return broker.Requeue
	}

	count, err := w.split(ctx, job.BookID, data)
	if err != nil {
		log.Printf("[Splitter] Failed to split book %s: %v", job.BookID, err)
		return broker.Requeue
	}
	if count == 0 {
		// Nothing but metadata, or an unreadable container. The book can
		// never complete, so fail it now instead of leaving it dangling.
		log.Printf("[Splitter] No content chapters in book %s, marking failed", job.BookID)
		if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
			messages.UpdateBookStatus(job.BookID, types.BookFailed)); err != nil {
			return broker.Requeue
		}
		return broker.Ack
	}

	log.Printf("[Splitter] Book %s split into %d chapters", job.BookID, count)
	return broker.Ack
}

// split extracts, filters and uploads the book's chapters. It returns the
// number of content chapters produced; an unreadable EPUB counts as zero
// rather than an error, since retrying cannot fix the bytes.
func (w *Worker) split(ctx context.Context, bookID string, data []byte) (int, error) {
	docs, err := epub.Read(data)
	if err != nil {
		log.Printf("[Splitter] Unreadable EPUB for book %s: %v", bookID, err)
		return 0, nil
	}

	count := 0
	for i, doc := range docs {
		paragraphs, err := extractParagraphs(doc.Data)
		if err != nil {
			log.Printf("[Splitter] Skipping unparseable document %s: %v", doc.Href, err)
			continue
		}

		text := cleanupText(paragraphs)
		if text == "" {
			continue
		}

		title := chapterTitle(doc.Href, count+1)
		if isMetadata(title, text) {
			log.Printf("[Splitter] Skipping metadata chapter: %s", title)
			continue
		}

		count++
		chapterID := deriveChapterID(bookID, i, doc.Href)

		if err := storage.PutBytes(ctx, w.storage, objkey.ChapterText(bookID, chapterID), []byte(text)); err != nil {
			return count, fmt.Errorf("failed to upload chapter %s: %w", chapterID, err)
		}
		if err := w.publisher.Publish(ctx, messages.EventTrackerQueue,
			messages.AddChapter(bookID, chapterID, title)); err != nil {
			return count, fmt.Errorf("failed to register chapter %s: %w", chapterID, err)
		}
		if err := w.publisher.Publish(ctx, messages.ChunkerQueue,
			messages.ChunkJob{BookID: bookID, ChapterID: chapterID}); err != nil {
			return count, fmt.Errorf("failed to enqueue chunker job for chapter %s: %w", chapterID, err)
		}
	}
	return count, nil
}

// deriveChapterID names a chapter by its book and spine position. The ID must
// be stable across redeliveries of the same split job: a replay after a
// partial failure re-registers the chapters it already emitted instead of
// minting fresh ones, so chapter counts and object keys stay unchanged.
func deriveChapterID(bookID string, spineIndex int, href string) string {
	seed := fmt.Sprintf("%s/%d/%s", bookID, spineIndex, href)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}

// chapterTitle derives a display title from the spine item's path: basename,
// extension stripped, special characters replaced with underscores.
func chapterTitle(href string, ordinal int) string {
	if href == "" {
		return fmt.Sprintf("Chapter_%02d", ordinal)
	}
	leaf := path.Base(href)
	leaf = strings.TrimSuffix(leaf, path.Ext(leaf))
	return nonWord.ReplaceAllString(leaf, "_")
}
