package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amishk599/listingwatch/internal/model"
)

const (
	redisKeyPrefix    = "listingwatch:seen:"
	redisSeededPrefix = "listingwatch:seeded:"
	redisOpTimeout    = 5 * time.Second
)

// Ensure RedisStore implements model.SeenStore.
var _ model.SeenStore = (*RedisStore)(nil)

// RedisStore keeps one sorted set per job; members are listing IDs scored by
// the unix time they were last observed. A job's seeded marker is a plain key
// outside the sets, so cleanup never touches it.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore parses redisURL and verifies connectivity.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func seenKey(jobKey string) string {
	return redisKeyPrefix + jobKey
}

func seededKey(jobKey string) string {
	return redisSeededPrefix + jobKey
}

// HasSeen returns true if the job has already recorded listingID. A hit bumps
// the member's score to now in the same round trip.
func (s *RedisStore) HasSeen(jobKey, listingID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	key := seenKey(jobKey)
	pipe := s.rdb.TxPipeline()
	score := pipe.ZScore(ctx, key, listingID)
	pipe.ZAddXX(ctx, key, redis.Z{Score: float64(time.Now().Unix()), Member: listingID})
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("checking seen status for %s/%s: %w", jobKey, listingID, err)
	}

	err := score.Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking seen status for %s/%s: %w", jobKey, listingID, err)
	}
	return true, nil
}

// MarkSeen records listingID for the job with a last-seen score of now.
func (s *RedisStore) MarkSeen(jobKey, listingID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	member := redis.Z{Score: float64(time.Now().Unix()), Member: listingID}
	if err := s.rdb.ZAdd(ctx, seenKey(jobKey), member).Err(); err != nil {
		return fmt.Errorf("marking listing %s/%s as seen: %w", jobKey, listingID, err)
	}
	return nil
}

// Cleanup trims entries not observed within olderThan from every job's set.
func (s *RedisStore) Cleanup(olderThan time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	maxScore := "(" + strconv.FormatInt(time.Now().Add(-olderThan).Unix(), 10)
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.ZRemRangeByScore(ctx, iter.Val(), "-inf", maxScore).Err(); err != nil {
			return fmt.Errorf("cleaning up %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning seen sets: %w", err)
	}
	return nil
}

// IsSeeded returns true once the job's first run has completed. A job whose
// set already exists counts as seeded, which covers sets written before the
// marker existed.
func (s *RedisStore) IsSeeded(jobKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	n, err := s.rdb.Exists(ctx, seededKey(jobKey), seenKey(jobKey)).Result()
	if err != nil {
		return false, fmt.Errorf("checking seeded status for %s: %w", jobKey, err)
	}
	return n > 0, nil
}

// MarkSeeded records that the job completed its first run.
func (s *RedisStore) MarkSeeded(jobKey string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := s.rdb.SetNX(ctx, seededKey(jobKey), time.Now().Unix(), 0).Err(); err != nil {
		return fmt.Errorf("marking job %s as seeded: %w", jobKey, err)
	}
	return nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
