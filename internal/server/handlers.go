package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fablecast/fablecast/internal/epub"
	"github.com/fablecast/fablecast/internal/messages"
	"github.com/fablecast/fablecast/internal/objkey"
	"github.com/fablecast/fablecast/internal/storage"
)

// MaxUploadBytes caps EPUB uploads at 10 MB.
const MaxUploadBytes = 10 << 20

type uploadResponse struct {
	Message string `json:"message"`
	BookID  string `json:"book_id"`
}

type statusResponse struct {
	BookID            string `json:"book_id"`
	Status            string `json:"status"`
	TotalChapters     int64  `json:"total_chapters"`
	CompletedChapters int64  `json:"completed_chapters"`
}

type chapterInfo struct {
	ChapterID string `json:"chapter_id"`
	Title     string `json:"title"`
}

type chaptersResponse struct {
	BookID   string        `json:"book_id"`
	Chapters []chapterInfo `json:"chapters"`
}

// handleUpload handles POST /api/v1/books: validate the EPUB, store it,
// register the book with the tracker and enqueue the split job.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+4096)

	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		respondError(w, "Upload too large or malformed", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	if len(data) > MaxUploadBytes {
		respondError(w, "File size exceeds 10 MB", http.StatusBadRequest)
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".epub") && !isZip(data) {
		respondError(w, "File is not an EPUB", http.StatusBadRequest)
		return
	}

	// Structural validation: the container must open and expose at least one
	// readable spine document.
	if _, err := epub.Read(data); err != nil {
		respondError(w, "Invalid EPUB file", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	bookID := uuid.New().String()

	if err := storage.PutBytes(ctx, s.storage, objkey.Book(bookID), data); err != nil {
		log.Printf("[Server] Failed to store upload %s: %v", bookID, err)
		respondError(w, "Failed to store upload", http.StatusInternalServerError)
		return
	}

	if err := s.publisher.Publish(ctx, messages.EventTrackerQueue, messages.AddBook(bookID)); err != nil {
		log.Printf("[Server] Failed to register book %s: %v", bookID, err)
		respondError(w, "Failed to register book", http.StatusInternalServerError)
		return
	}
	if err := s.publisher.Publish(ctx, messages.SplitterQueue, messages.SplitJob{BookID: bookID}); err != nil {
		log.Printf("[Server] Failed to enqueue split job for book %s: %v", bookID, err)
		respondError(w, "Failed to enqueue processing", http.StatusInternalServerError)
		return
	}

	log.Printf("[Server] Book %s uploaded (%d bytes)", bookID, len(data))
	respondJSON(w, uploadResponse{
		Message: "Valid EPUB file uploaded successfully",
		BookID:  bookID,
	}, http.StatusCreated)
}

// handleStatus handles GET /api/v1/books/{id}. Read-only against the
// aggregate store.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("id")
	ctx := r.Context()

	status, err := s.store.BookStatus(ctx, bookID)
	if err != nil {
		log.Printf("[Server] Failed to read status of book %s: %v", bookID, err)
		respondError(w, "Failed to read book status", http.StatusInternalServerError)
		return
	}
	if status == "" {
		respondError(w, "Book not found", http.StatusNotFound)
		return
	}

	total, err := s.store.TotalChapters(ctx, bookID)
	if err != nil {
		respondError(w, "Failed to read book progress", http.StatusInternalServerError)
		return
	}
	completed, err := s.store.CompletedChapters(ctx, bookID)
	if err != nil {
		respondError(w, "Failed to read book progress", http.StatusInternalServerError)
		return
	}

	respondJSON(w, statusResponse{
		BookID:            bookID,
		Status:            status,
		TotalChapters:     total,
		CompletedChapters: completed,
	}, http.StatusOK)
}

// handleChapters handles GET /api/v1/books/{id}/chapters. Finished chapters
// are exactly the objects under the book's audio prefix; titles come from
// the aggregate store.
func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("id")
	ctx := r.Context()

	status, err := s.store.BookStatus(ctx, bookID)
	if err != nil {
		respondError(w, "Failed to read book status", http.StatusInternalServerError)
		return
	}
	if status == "" {
		respondError(w, "Book not found", http.StatusNotFound)
		return
	}

	keys, err := s.storage.List(ctx, objkey.ChapterAudioPrefix(bookID))
	if err != nil {
		log.Printf("[Server] Failed to list chapters of book %s: %v", bookID, err)
		respondError(w, "Failed to list chapters", http.StatusInternalServerError)
		return
	}

	chapters := make([]chapterInfo, 0, len(keys))
	for _, key := range keys {
		chapterID := strings.TrimSuffix(path.Base(key), path.Ext(key))
		title, err := s.store.ChapterTitle(ctx, chapterID)
		if err != nil {
			log.Printf("[Server] Failed to read title of chapter %s: %v", chapterID, err)
		}
		chapters = append(chapters, chapterInfo{ChapterID: chapterID, Title: title})
	}

	respondJSON(w, chaptersResponse{BookID: bookID, Chapters: chapters}, http.StatusOK)
}

// handleDownload handles GET /api/v1/books/{id}/audio/{chapter}. The file is
// buffered before writing so a storage failure never surfaces as truncated
// audio.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("id")
	chapterID := r.PathValue("chapter")
	ctx := r.Context()

	key := objkey.ChapterAudio(bookID, chapterID)
	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		respondError(w, "Failed to check chapter audio", http.StatusInternalServerError)
		return
	}
	if !exists {
		respondError(w, "Chapter audio not found", http.StatusNotFound)
		return
	}

	data, err := storage.GetBytes(ctx, s.storage, key)
	if err != nil {
		log.Printf("[Server] Failed to download %s: %v", key, err)
		respondError(w, "Failed to download chapter audio", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", `attachment; filename="`+chapterID+`.mp3"`)
	http.ServeContent(w, r, chapterID+".mp3", zeroTime, bytes.NewReader(data))
}

// zeroTime disables Last-Modified handling in ServeContent; chapter audio
// is immutable once written.
var zeroTime time.Time

func isZip(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 3 && data[3] == 4
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
