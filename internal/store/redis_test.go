package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedisStore connects to REDIS_URL; the tests are skipped without it.
func newTestRedisStore(t *testing.T) (*RedisStore, string) {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	s, err := NewRedisStore(context.Background(), url)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	job := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		s.rdb.Del(context.Background(), seenKey(job), seededKey(job))
		s.Close()
	})
	return s, job
}

func TestRedisStore_MarkSeenThenHasSeen(t *testing.T) {
	s, job := newTestRedisStore(t)

	if err := s.MarkSeen(job, "abc"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if err := s.MarkSeen(job, "abc"); err != nil {
		t.Fatalf("MarkSeen duplicate: %v", err)
	}

	seen, err := s.HasSeen(job, "abc")
	if err != nil || !seen {
		t.Errorf("HasSeen = %v, %v; want true", seen, err)
	}
	seen, err = s.HasSeen(job, "other")
	if err != nil || seen {
		t.Errorf("HasSeen(other) = %v, %v; want false", seen, err)
	}
}

func TestRedisStore_Cleanup(t *testing.T) {
	s, job := newTestRedisStore(t)
	ctx := context.Background()

	past := float64(time.Now().Add(-48 * time.Hour).Unix())
	for _, id := range []string{"old", "still-online"} {
		if err := s.rdb.ZAdd(ctx, seenKey(job), redis.Z{Score: past, Member: id}).Err(); err != nil {
			t.Fatalf("ZAdd: %v", err)
		}
	}
	// The latest poll observed this one again.
	if seen, err := s.HasSeen(job, "still-online"); err != nil || !seen {
		t.Fatalf("HasSeen(still-online) = %v, %v; want true", seen, err)
	}
	if err := s.MarkSeen(job, "fresh"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	if err := s.Cleanup(24 * time.Hour); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if _, err := s.rdb.ZScore(ctx, seenKey(job), "old").Result(); !errors.Is(err, redis.Nil) {
		t.Errorf("expected old listing to be cleaned up, ZScore err = %v", err)
	}
	if seen, _ := s.HasSeen(job, "still-online"); !seen {
		t.Error("listing observed by the latest poll must survive cleanup")
	}
	if seen, _ := s.HasSeen(job, "fresh"); !seen {
		t.Error("expected fresh listing to survive cleanup")
	}
}

func TestRedisStore_SeededMarker(t *testing.T) {
	s, job := newTestRedisStore(t)

	if seeded, err := s.IsSeeded(job); err != nil || seeded {
		t.Fatalf("IsSeeded = %v, %v; want false", seeded, err)
	}
	if err := s.MarkSeeded(job); err != nil {
		t.Fatalf("MarkSeeded: %v", err)
	}
	if err := s.Cleanup(time.Nanosecond); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if seeded, err := s.IsSeeded(job); err != nil || !seeded {
		t.Errorf("IsSeeded = %v, %v; want true after MarkSeeded and cleanup", seeded, err)
	}
}
