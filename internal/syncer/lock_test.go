package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/caevv/buildwatch/internal/config"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	unlock, err := l.TryLock(ctx, "api")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := l.TryLock(ctx, "api"); !errors.Is(err, ErrLocked) {
		t.Errorf("second TryLock() error = %v, want ErrLocked", err)
	}
	if _, err := l.TryLock(ctx, "billing"); err != nil {
		t.Errorf("TryLock() on another key error = %v", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
	// A second unlock is a no-op and must not free a later holder.
	again, err := l.TryLock(ctx, "api")
	if err != nil {
		t.Fatalf("TryLock() after unlock error = %v", err)
	}
	unlock(ctx)
	if _, err := l.TryLock(ctx, "api"); !errors.Is(err, ErrLocked) {
		t.Errorf("stale unlock released the new holder: %v", err)
	}
	again(ctx)
}

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLocker(client, ttl)
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestRedisLocker(t, time.Minute)

	unlock, err := l.TryLock(ctx, "api")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if !mr.Exists(redisKeyPrefix + "api") {
		t.Fatal("lock key was not written")
	}
	if ttl := mr.TTL(redisKeyPrefix + "api"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	if _, err := l.TryLock(ctx, "api"); !errors.Is(err, ErrLocked) {
		t.Errorf("second TryLock() error = %v, want ErrLocked", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
	if mr.Exists(redisKeyPrefix + "api") {
		t.Error("lock key still present after unlock")
	}
}

func TestRedisLocker_ExpiredHolderCannotReleaseNewLock(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestRedisLocker(t, time.Second)

	stale, err := l.TryLock(ctx, "api")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	mr.FastForward(2 * time.Second)

	fresh, err := l.TryLock(ctx, "api")
	if err != nil {
		t.Fatalf("TryLock() after expiry error = %v", err)
	}

	if err := stale(ctx); err != nil {
		t.Fatalf("stale unlock() error = %v", err)
	}
	if !mr.Exists(redisKeyPrefix + "api") {
		t.Error("stale holder deleted the new lock")
	}
	if err := fresh(ctx); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
}

func TestRedisLocker_GuardsSyncAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	newLocker := func() Locker {
		l, err := NewLocker(config.Lock{Driver: "redis", RedisAddr: mr.Addr(), TTLSec: 60})
		if err != nil {
			t.Fatalf("NewLocker() error = %v", err)
		}
		t.Cleanup(func() { l.Close() })
		return l
	}

	f := &fakeFetcher{latest: 3, gate: make(chan struct{})}
	a, _ := newTestSyncer(t, f, Options{BackfillBatchSize: 10})
	a.locker = newLocker()
	b, _ := newTestSyncer(t, &fakeFetcher{latest: 3}, Options{RefreshBatchSize: 10, RefreshWindow: 10})
	b.locker = newLocker()

	if _, err := a.StartBackfill(context.Background(), "api"); err != nil {
		t.Fatalf("StartBackfill() error = %v", err)
	}
	if _, err := b.Refresh(context.Background(), "api"); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Refresh() on second replica error = %v, want ErrSyncInProgress", err)
	}

	close(f.gate)
	a.Close()

	if _, err := b.Refresh(context.Background(), "api"); err != nil {
		t.Errorf("Refresh() after release error = %v", err)
	}
}

func TestNewLocker(t *testing.T) {
	if _, err := NewLocker(config.Lock{Driver: "memory"}); err != nil {
		t.Errorf("NewLocker(memory) error = %v", err)
	}
	if _, err := NewLocker(config.Lock{Driver: "etcd"}); err == nil {
		t.Error("NewLocker(etcd) should fail")
	}
}
