package state

import (
	"context"
	"sync"
)

// MemoryStore implements Store with in-process maps. It backs tests and
// single-process runs; behaviour matches the Redis store, including zero
// values for missing keys.
type MemoryStore struct {
	mu       sync.Mutex
	statuses map[string]string
	titles   map[string]string
	sets     map[string]map[string]bool
	counters map[string]int64
	errors   map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses: make(map[string]string),
		titles:   make(map[string]string),
		sets:     make(map[string]map[string]bool),
		counters: make(map[string]int64),
		errors:   make(map[string][]string),
	}
}

func (m *MemoryStore) SetBookStatus(ctx context.Context, bookID, status string) error {
	m.setStatus(EntityBook, bookID, status)
	return nil
}

func (m *MemoryStore) BookStatus(ctx context.Context, bookID string) (string, error) {
	return m.getStatus(EntityBook, bookID), nil
}

func (m *MemoryStore) SetChapterStatus(ctx context.Context, chapterID, status string) error {
	m.setStatus(EntityChapter, chapterID, status)
	return nil
}

func (m *MemoryStore) ChapterStatus(ctx context.Context, chapterID string) (string, error) {
	return m.getStatus(EntityChapter, chapterID), nil
}

func (m *MemoryStore) SetChunkStatus(ctx context.Context, chapterID, member, status string) error {
	m.setStatus(EntityChunk, chunkStatusID(chapterID, member), status)
	return nil
}

func (m *MemoryStore) ChunkStatus(ctx context.Context, chapterID, member string) (string, error) {
	return m.getStatus(EntityChunk, chunkStatusID(chapterID, member)), nil
}

func (m *MemoryStore) SetChapterTitle(ctx context.Context, chapterID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles[chapterID] = title
	return nil
}

func (m *MemoryStore) ChapterTitle(ctx context.Context, chapterID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.titles[chapterID], nil
}

func (m *MemoryStore) AddOpenChapter(ctx context.Context, bookID, chapterID string) error {
	m.addMember(chaptersKey(bookID), chapterID)
	return nil
}

func (m *MemoryStore) RemoveOpenChapter(ctx context.Context, bookID, chapterID string) (int64, error) {
	return m.removeMember(chaptersKey(bookID), chapterID), nil
}

func (m *MemoryStore) OpenChapters(ctx context.Context, bookID string) ([]string, error) {
	return m.members(chaptersKey(bookID)), nil
}

func (m *MemoryStore) IncrTotalChapters(ctx context.Context, bookID string) (int64, error) {
	return m.incr(totalChaptersKey(bookID)), nil
}

func (m *MemoryStore) TotalChapters(ctx context.Context, bookID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[totalChaptersKey(bookID)], nil
}

func (m *MemoryStore) IncrCompletedChapters(ctx context.Context, bookID string) (int64, error) {
	return m.incr(completedChaptersKey(bookID)), nil
}

func (m *MemoryStore) CompletedChapters(ctx context.Context, bookID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[completedChaptersKey(bookID)], nil
}

func (m *MemoryStore) AddOpenChunk(ctx context.Context, chapterID, member string) error {
	m.addMember(chunksKey(chapterID), member)
	return nil
}

func (m *MemoryStore) RemoveOpenChunk(ctx context.Context, chapterID, member string) (int64, error) {
	return m.removeMember(chunksKey(chapterID), member), nil
}

func (m *MemoryStore) OpenChunks(ctx context.Context, chapterID string) ([]string, error) {
	return m.members(chunksKey(chapterID)), nil
}

func (m *MemoryStore) AppendError(ctx context.Context, entity, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := errorsKey(entity, id)
	m.errors[key] = append(m.errors[key], message)
	return nil
}

// Errors returns the error journal for an entity, for tests.
func (m *MemoryStore) Errors(entity, id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	journal := m.errors[errorsKey(entity, id)]
	out := make([]string, len(journal))
	copy(out, journal)
	return out
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) setStatus(entity, id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[statusKey(entity, id)] = status
}

func (m *MemoryStore) getStatus(entity, id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[statusKey(entity, id)]
}

func (m *MemoryStore) addMember(key, member string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]bool)
		m.sets[key] = set
	}
	set[member] = true
}

func (m *MemoryStore) removeMember(key, member string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[key]
	delete(set, member)
	return int64(len(set))
}

func (m *MemoryStore) members(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[key]
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	return out
}

func (m *MemoryStore) incr(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key]
}
