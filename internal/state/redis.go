package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fablecast/fablecast/pkg/types"
)

// RedisStore implements Store on Redis. Consistency comes from the event
// tracker being the only writer, not from Redis transactions: the tracker
// serializes every mutation, so plain commands suffice.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis with the given options.
func NewRedisStore(cfg types.RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Ping verifies connectivity, for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) SetBookStatus(ctx context.Context, bookID, status string) error {
	return s.setStatus(ctx, EntityBook, bookID, status)
}

func (s *RedisStore) BookStatus(ctx context.Context, bookID string) (string, error) {
	return s.getStatus(ctx, EntityBook, bookID)
}

func (s *RedisStore) SetChapterStatus(ctx context.Context, chapterID, status string) error {
	return s.setStatus(ctx, EntityChapter, chapterID, status)
}

func (s *RedisStore) ChapterStatus(ctx context.Context, chapterID string) (string, error) {
	return s.getStatus(ctx, EntityChapter, chapterID)
}

func (s *RedisStore) SetChunkStatus(ctx context.Context, chapterID, member, status string) error {
	return s.setStatus(ctx, EntityChunk, chunkStatusID(chapterID, member), status)
}

func (s *RedisStore) ChunkStatus(ctx context.Context, chapterID, member string) (string, error) {
	return s.getStatus(ctx, EntityChunk, chunkStatusID(chapterID, member))
}

func (s *RedisStore) SetChapterTitle(ctx context.Context, chapterID, title string) error {
	if err := s.client.HSet(ctx, chapterKey(chapterID), "title", title).Err(); err != nil {
		return fmt.Errorf("failed to set chapter title: %w", err)
	}
	return nil
}

func (s *RedisStore) ChapterTitle(ctx context.Context, chapterID string) (string, error) {
	title, err := s.client.HGet(ctx, chapterKey(chapterID), "title").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get chapter title: %w", err)
	}
	return title, nil
}

func (s *RedisStore) AddOpenChapter(ctx context.Context, bookID, chapterID string) error {
	if err := s.client.SAdd(ctx, chaptersKey(bookID), chapterID).Err(); err != nil {
		return fmt.Errorf("failed to add open chapter: %w", err)
	}
	return nil
}

func (s *RedisStore) RemoveOpenChapter(ctx context.Context, bookID, chapterID string) (int64, error) {
	key := chaptersKey(bookID)
	if err := s.client.SRem(ctx, key, chapterID).Err(); err != nil {
		return 0, fmt.Errorf("failed to remove open chapter: %w", err)
	}
	remaining, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count open chapters: %w", err)
	}
	return remaining, nil
}

func (s *RedisStore) OpenChapters(ctx context.Context, bookID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, chaptersKey(bookID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list open chapters: %w", err)
	}
	return members, nil
}

func (s *RedisStore) IncrTotalChapters(ctx context.Context, bookID string) (int64, error) {
	n, err := s.client.Incr(ctx, totalChaptersKey(bookID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment total chapters: %w", err)
	}
	return n, nil
}

func (s *RedisStore) TotalChapters(ctx context.Context, bookID string) (int64, error) {
	return s.getCounter(ctx, totalChaptersKey(bookID))
}

func (s *RedisStore) IncrCompletedChapters(ctx context.Context, bookID string) (int64, error) {
	n, err := s.client.Incr(ctx, completedChaptersKey(bookID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment completed chapters: %w", err)
	}
	return n, nil
}

func (s *RedisStore) CompletedChapters(ctx context.Context, bookID string) (int64, error) {
	return s.getCounter(ctx, completedChaptersKey(bookID))
}

func (s *RedisStore) AddOpenChunk(ctx context.Context, chapterID, member string) error {
	if err := s.client.SAdd(ctx, chunksKey(chapterID), member).Err(); err != nil {
		return fmt.Errorf("failed to add open chunk: %w", err)
	}
	return nil
}

func (s *RedisStore) RemoveOpenChunk(ctx context.Context, chapterID, member string) (int64, error) {
	key := chunksKey(chapterID)
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return 0, fmt.Errorf("failed to remove open chunk: %w", err)
	}
	remaining, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count open chunks: %w", err)
	}
	return remaining, nil
}

func (s *RedisStore) OpenChunks(ctx context.Context, chapterID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, chunksKey(chapterID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list open chunks: %w", err)
	}
	return members, nil
}

func (s *RedisStore) AppendError(ctx context.Context, entity, id, message string) error {
	if err := s.client.RPush(ctx, errorsKey(entity, id), message).Err(); err != nil {
		return fmt.Errorf("failed to append error: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) setStatus(ctx context.Context, entity, id, status string) error {
	if err := s.client.Set(ctx, statusKey(entity, id), status, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s status: %w", entity, err)
	}
	return nil
}

func (s *RedisStore) getStatus(ctx context.Context, entity, id string) (string, error) {
	status, err := s.client.Get(ctx, statusKey(entity, id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s status: %w", entity, err)
	}
	return status, nil
}

func (s *RedisStore) getCounter(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter %s: %w", key, err)
	}
	return n, nil
}
