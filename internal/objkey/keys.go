// Package objkey defines the object-store key layout. Every key is a pure
// function of entity identifiers so that retried work overwrites its own
// output instead of duplicating it.
package objkey

import "fmt"

// Book returns the key of the original EPUB upload.
func Book(bookID string) string {
	return fmt.Sprintf("%s/books/%s.epub", bookID, bookID)
}

// ChapterText returns the key of a chapter's extracted plain text.
func ChapterText(bookID, chapterID string) string {
	return fmt.Sprintf("%s/chapters/%s.txt", bookID, chapterID)
}

// ChunkText returns the key of one text chunk of a chapter. Indexes are
// 1-based and contiguous within a chapter.
func ChunkText(bookID, chapterID string, index int) string {
	return fmt.Sprintf("%s/chunks/%s/chunk_%d.txt", bookID, chapterID, index)
}

// ChunkAudio returns the key of the synthesized audio fragment for one chunk.
func ChunkAudio(bookID, chapterID string, index int) string {
	return fmt.Sprintf("%s/chunks/%s/audio/chunk_%d.mp3", bookID, chapterID, index)
}

// ChunkAudioPrefix returns the listing prefix under which all of a chapter's
// audio fragments live.
func ChunkAudioPrefix(bookID, chapterID string) string {
	return fmt.Sprintf("%s/chunks/%s/audio/", bookID, chapterID)
}

// ChapterAudio returns the key of the finished per-chapter audio file.
func ChapterAudio(bookID, chapterID string) string {
	return fmt.Sprintf("%s/audio/%s.mp3", bookID, chapterID)
}

// ChapterAudioPrefix returns the listing prefix for a book's finished chapters.
func ChapterAudioPrefix(bookID string) string {
	return fmt.Sprintf("%s/audio/", bookID)
}
