package types

// Pipeline entities move through small forward-only state machines. The event
// tracker is the only writer; everything here is shared vocabulary between the
// tracker, the workers and the query API.

// BookStatus is the lifecycle state of an uploaded book.
type BookStatus string

const (
	BookUploaded   BookStatus = "uploaded"
	BookInProgress BookStatus = "in_progress"
	BookCompleted  BookStatus = "completed"
	BookFailed     BookStatus = "failed"
)

// ChapterStatus is the lifecycle state of a single extracted chapter.
type ChapterStatus string

const (
	ChapterUploaded   ChapterStatus = "uploaded"
	ChapterInProgress ChapterStatus = "in_progress"
	ChapterCompleted  ChapterStatus = "completed"
	ChapterFailed     ChapterStatus = "failed"
)

// ChunkStatus is the lifecycle state of one text chunk of a chapter.
type ChunkStatus string

const (
	ChunkQueued     ChunkStatus = "queued"
	ChunkInProgress ChunkStatus = "in_progress"
	ChunkCompleted  ChunkStatus = "completed"
	ChunkFailed     ChunkStatus = "failed"
)

var bookStatuses = map[BookStatus]bool{
	BookUploaded:   true,
	BookInProgress: true,
	BookCompleted:  true,
	BookFailed:     true,
}

var chapterStatuses = map[ChapterStatus]bool{
	ChapterUploaded:   true,
	ChapterInProgress: true,
	ChapterCompleted:  true,
	ChapterFailed:     true,
}

var chunkStatuses = map[ChunkStatus]bool{
	ChunkQueued:     true,
	ChunkInProgress: true,
	ChunkCompleted:  true,
	ChunkFailed:     true,
}

// Valid reports whether s is a known book status.
func (s BookStatus) Valid() bool { return bookStatuses[s] }

// Terminal reports whether no further transitions are allowed.
func (s BookStatus) Terminal() bool { return s == BookCompleted || s == BookFailed }

// Valid reports whether s is a known chapter status.
func (s ChapterStatus) Valid() bool { return chapterStatuses[s] }

// Terminal reports whether no further transitions are allowed.
func (s ChapterStatus) Terminal() bool { return s == ChapterCompleted || s == ChapterFailed }

// Valid reports whether s is a known chunk status.
func (s ChunkStatus) Valid() bool { return chunkStatuses[s] }

// Terminal reports whether no further transitions are allowed.
func (s ChunkStatus) Terminal() bool { return s == ChunkCompleted || s == ChunkFailed }
