package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestKeyedExcludesSameKey(t *testing.T) {
	t.Parallel()

	var (
		k       Keyed
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "fp-1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			n := active.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if got := maxSeen.Load(); got != 1 {
		t.Fatalf("expected at most 1 holder, got %d", got)
	}
	if len(k.slots) != 0 {
		t.Fatalf("expected slots to be released, got %d", len(k.slots))
	}
}

func TestKeyedDifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	k := NewKeyed()
	unlockA, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("expected independent key to be free, got %v", err)
	}
	unlockB()
	unlockB()
}

func TestKeyedHonoursContext(t *testing.T) {
	t.Parallel()

	k := NewKeyed()
	unlock, err := k.Lock(context.Background(), "fp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "fp"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock, err = k.Lock(context.Background(), "fp")
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	unlock()
}

func TestRedisWithoutClient(t *testing.T) {
	t.Parallel()

	var r *Redis
	if _, err := r.Lock(context.Background(), "fp"); err == nil {
		t.Fatalf("expected error without client")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	if _, err := NewRedis("://bad", "jobpipe", 0, nil); err == nil {
		t.Fatalf("expected url parse error")
	}

	locker, err := NewRedis("redis://localhost:6379/0", "jobpipe", 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer locker.Close()
	if locker.ttl != defaultTTL || locker.key("fp") != "jobpipe:fp" {
		t.Fatalf("unexpected locker settings: ttl=%s key=%s", locker.ttl, locker.key("fp"))
	}
}

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	locker := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "jobpipe", ttl, nil)
	t.Cleanup(func() { _ = locker.Close() })
	return locker, mr
}

func TestRedisLockAndRelease(t *testing.T) {
	t.Parallel()

	locker, mr := newTestRedis(t, time.Minute)

	unlock, err := locker.Lock(context.Background(), "fp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mr.Exists("jobpipe:fp") {
		t.Fatalf("expected key to be set")
	}
	if ttl := mr.TTL("jobpipe:fp"); ttl != time.Minute {
		t.Fatalf("key ttl = %s, want 1m", ttl)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "fp"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while held, got %v", err)
	}

	other, err := locker.Lock(context.Background(), "other")
	if err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}
	other()

	unlock()
	unlock()
	if mr.Exists("jobpipe:fp") {
		t.Fatalf("expected key to be deleted on release")
	}

	again, err := locker.Lock(context.Background(), "fp")
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	again()
}

func TestRedisReleaseKeepsNewHolder(t *testing.T) {
	t.Parallel()

	locker, mr := newTestRedis(t, time.Second)

	unlock, err := locker.Lock(context.Background(), "fp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The first holder's key expires and someone else takes it.
	mr.FastForward(2 * time.Second)
	if mr.Exists("jobpipe:fp") {
		t.Fatalf("expected key to expire")
	}
	if err := mr.Set("jobpipe:fp", "new-holder"); err != nil {
		t.Fatalf("set: %v", err)
	}

	unlock()

	got, err := mr.Get("jobpipe:fp")
	if err != nil {
		t.Fatalf("expected new holder's key to survive, got %v", err)
	}
	if got != "new-holder" {
		t.Fatalf("key value = %q, want new-holder", got)
	}
}
