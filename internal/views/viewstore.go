package views

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type (
	Config struct {
		RedisURL string `yaml:"redis_url" env:"VIEWS_REDIS_URL" env-default:"redis://localhost:6379/1"`
		// DedupWindowSeconds bounds how long a (viewer, video) pair is
		// considered already-recorded.
		DedupWindowSeconds int `yaml:"dedup_window_seconds" env:"VIEWS_DEDUP_WINDOW" env-default:"3600"`
		// FlushIntervalSeconds controls how often buffered VOD counters are
		// persisted onto the catalog rows.
		FlushIntervalSeconds int `yaml:"flush_interval_seconds" env:"VIEWS_FLUSH_INTERVAL" env-default:"30"`
	}

	// ViewStore is the externalised dedup + counter state shared across all
	// videos. The redis implementation below is the production one; tests
	// substitute an in-memory fake.
	ViewStore interface {
		IsViewRecorded(ctx context.Context, videoID uuid.UUID, viewerKey string) (bool, error)
		RecordViewer(ctx context.Context, videoID uuid.UUID, viewerKey string, window time.Duration) error
		IncrementVOD(ctx context.Context, videoID uuid.UUID) error
		DrainVOD(ctx context.Context) (map[uuid.UUID]int64, error)
	}

	redisViewStore struct {
		client *redis.Client
	}
)

const (
	dedupKeyPrefix = "views:dedup:"
	vodCounterKey  = "views:vod"
)

func NewRedisViewStore(redisURL string) (ViewStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse view store redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping view store redis: %w", err)
	}

	return &redisViewStore{client: client}, nil
}

func (store *redisViewStore) IsViewRecorded(ctx context.Context, videoID uuid.UUID, viewerKey string) (bool, error) {
	count, err := store.client.Exists(ctx, dedupKey(videoID, viewerKey)).Result()
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (store *redisViewStore) RecordViewer(ctx context.Context, videoID uuid.UUID, viewerKey string, window time.Duration) error {
	return store.client.Set(ctx, dedupKey(videoID, viewerKey), 1, window).Err()
}

func (store *redisViewStore) IncrementVOD(ctx context.Context, videoID uuid.UUID) error {
	return store.client.HIncrBy(ctx, vodCounterKey, videoID.String(), 1).Err()
}

// DrainVOD atomically removes and returns all buffered VOD increments.
func (store *redisViewStore) DrainVOD(ctx context.Context) (map[uuid.UUID]int64, error) {
	pipe := store.client.TxPipeline()
	getAll := pipe.HGetAll(ctx, vodCounterKey)
	pipe.Del(ctx, vodCounterKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	buffered, err := getAll.Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[uuid.UUID]int64, len(buffered))
	for rawID, rawCount := range buffered {
		id, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}

		count, err := strconv.ParseInt(rawCount, 10, 64)
		if err != nil || count <= 0 {
			continue
		}

		counts[id] = count
	}

	return counts, nil
}

func dedupKey(videoID uuid.UUID, viewerKey string) string {
	return dedupKeyPrefix + videoID.String() + ":" + viewerKey
}
