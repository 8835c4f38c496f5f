package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*MFAChallengeStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return NewMFAChallengeStore(rdb, ""), mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func saveChallenge(t *testing.T, store *MFAChallengeStore, id string, remaining uint16, ttl time.Duration) {
	t.Helper()

	record := &MFAChallenge{
		AccountID: "acct-1",
		ExpiresAt: time.Now().Add(ttl).Unix(),
		Remaining: remaining,
	}
	if err := store.Save(context.Background(), id, record, ttl); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestChallengeRoundTrip(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	saveChallenge(t, store, "ch-1", 5, 5*time.Minute)

	record, err := store.Get(context.Background(), "ch-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.AccountID != "acct-1" || record.Remaining != 5 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestChallengeNotFound(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestChallengeExpiry(t *testing.T) {
	store, mr, done := newTestStore(t)
	defer done()

	saveChallenge(t, store, "ch-1", 5, time.Minute)
	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(context.Background(), "ch-1"); !errors.Is(err, ErrChallengeNotFound) && !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected expired or missing challenge, got %v", err)
	}
}

func TestConsumeAttemptCountsDownToExhaustion(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	saveChallenge(t, store, "ch-1", 3, 5*time.Minute)

	for i := 0; i < 2; i++ {
		exhausted, err := store.ConsumeAttempt(ctx, "ch-1")
		if err != nil {
			t.Fatalf("ConsumeAttempt %d failed: %v", i, err)
		}
		if exhausted {
			t.Fatalf("attempt %d should not exhaust the challenge", i)
		}
	}

	exhausted, err := store.ConsumeAttempt(ctx, "ch-1")
	if err != nil {
		t.Fatalf("final ConsumeAttempt failed: %v", err)
	}
	if !exhausted {
		t.Fatal("expected final attempt to exhaust the challenge")
	}

	// Exhaustion is terminal: the record is gone.
	if _, err := store.Get(ctx, "ch-1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected challenge deleted after exhaustion, got %v", err)
	}
}

func TestConcurrentConsumeNeverOverspends(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	saveChallenge(t, store, "ch-1", 5, 5*time.Minute)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		exhausted int
		consumed  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex, err := store.ConsumeAttempt(ctx, "ch-1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				consumed++
				if ex {
					exhausted++
				}
			}
		}()
	}
	wg.Wait()

	if exhausted != 1 {
		t.Fatalf("expected exactly one exhaustion, got %d", exhausted)
	}
	if consumed != 5 {
		t.Fatalf("expected 5 successful budget consumptions, got %d", consumed)
	}
}

func TestDeleteReportsWhoWon(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	saveChallenge(t, store, "ch-1", 5, 5*time.Minute)

	first, err := store.Delete(ctx, "ch-1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	second, err := store.Delete(ctx, "ch-1")
	if err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if !first || second {
		t.Fatalf("expected first delete to win and second to miss, got %v/%v", first, second)
	}
}
