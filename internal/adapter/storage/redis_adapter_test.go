package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
)

const (
	testIdempotencyTTL = 24 * time.Hour
	testTokenTTL       = 15 * time.Minute
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestSetIdempotency_Mock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db, testIdempotencyTTL, testTokenTTL)
	ctx := context.Background()

	mock.ExpectSetNX("idempotency:order:acc:req", 1, testIdempotencyTTL).SetVal(true)
	mock.ExpectSetNX("idempotency:order:acc:req", 1, testIdempotencyTTL).SetVal(false)
	mock.ExpectDel("idempotency:order:acc:req").SetVal(1)

	ok, err := adapter.SetIdempotency(ctx, "order:acc:req")
	if err != nil || !ok {
		t.Fatalf("expected first call to succeed, got %v %v", ok, err)
	}
	ok, err = adapter.SetIdempotency(ctx, "order:acc:req")
	if err != nil || ok {
		t.Fatalf("expected second call to fail, got %v %v", ok, err)
	}
	if err := adapter.ReleaseIdempotency(ctx, "order:acc:req"); err != nil {
		t.Fatalf("release: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAccountIDForToken_Mock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db, testIdempotencyTTL, testTokenTTL)
	ctx := context.Background()

	mock.ExpectGet("token:abcdef").SetVal("acc-1")
	mock.ExpectGet("token:missing").RedisNil()
	mock.ExpectGet("token:broken").SetErr(errors.New("conn refused"))

	id, err := adapter.AccountIDForToken(ctx, "AbCdEf")
	if err != nil || id != "acc-1" {
		t.Errorf("expected acc-1, got %q %v", id, err)
	}

	id, err = adapter.AccountIDForToken(ctx, "missing")
	if err != nil || id != "" {
		t.Errorf("expected miss to be empty without error, got %q %v", id, err)
	}

	if _, err := adapter.AccountIDForToken(ctx, "broken"); err == nil {
		t.Error("expected error to surface")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCacheToken_Mock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db, testIdempotencyTTL, testTokenTTL)

	mock.ExpectSet("token:tok", "acc-1", testTokenTTL).SetVal("OK")

	if err := adapter.CacheToken(context.Background(), "TOK", "acc-1"); err != nil {
		t.Fatalf("cache token: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSwapToken_Mock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	adapter := NewRedisAdapter(db, testIdempotencyTTL, testTokenTTL)
	ctx := context.Background()

	mock.ExpectEvalSha(swapTokenScript.Hash(),
		[]string{"token:old", "token:new"},
		"acc-1", testTokenTTL.Milliseconds(),
	).SetVal(int64(1))
	mock.ExpectEvalSha(swapTokenScript.Hash(),
		[]string{"", "token:first"},
		"acc-1", testTokenTTL.Milliseconds(),
	).SetVal(int64(1))

	if err := adapter.SwapToken(ctx, "OLD", "new", "acc-1"); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := adapter.SwapToken(ctx, "", "first", "acc-1"); err != nil {
		t.Fatalf("swap without previous token: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSwapToken_Live(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, testIdempotencyTTL, testTokenTTL)

	client.Del(ctx, "token:live-old", "token:live-new")
	if err := adapter.CacheToken(ctx, "live-old", "acc-live"); err != nil {
		t.Fatalf("cache token: %v", err)
	}

	if err := adapter.SwapToken(ctx, "live-old", "live-new", "acc-live"); err != nil {
		t.Fatalf("swap: %v", err)
	}

	if id, _ := adapter.AccountIDForToken(ctx, "live-old"); id != "" {
		t.Errorf("expected old token evicted, got %q", id)
	}
	if id, _ := adapter.AccountIDForToken(ctx, "live-new"); id != "acc-live" {
		t.Errorf("expected new token cached, got %q", id)
	}
	if ttl := client.PTTL(ctx, "token:live-new").Val(); ttl <= 0 || ttl > testTokenTTL {
		t.Errorf("expected ttl within %s, got %s", testTokenTTL, ttl)
	}
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, testIdempotencyTTL, testTokenTTL)

	// Setup
	client.Del(ctx, "idempotency:concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, "concurrent-idem-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one should succeed
	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}
