package redisx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redismock "github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
)

type record struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestStoreSaveGetDelete(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewStore(rdb, 0)
	ctx := context.Background()

	if err := s.Save(ctx, "order", "t1", record{TransactionID: "t1", Status: "STARTED"}, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("order_saga:t1") {
		t.Fatal("expected key order_saga:t1")
	}
	if ttl := mr.TTL("order_saga:t1"); ttl != 600*time.Second {
		t.Fatalf("ttl = %v, want 600s", ttl)
	}

	var got record
	found, err := s.Get(ctx, "order", "t1", &got)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if got.Status != "STARTED" {
		t.Fatalf("status = %q", got.Status)
	}

	// overwrite
	if err := s.Save(ctx, "order", "t1", record{TransactionID: "t1", Status: "FAILED"}, 5*time.Second); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Get(ctx, "order", "t1", &got); err != nil || got.Status != "FAILED" {
		t.Fatalf("overwrite not visible: %+v err=%v", got, err)
	}

	if err := s.Delete(ctx, "order", "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "order", "t1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	found, err = s.Get(ctx, "order", "t1", &got)
	if err != nil || found {
		t.Fatalf("expected absent after delete, found=%v err=%v", found, err)
	}
}

func TestStoreRecordExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewStore(rdb, 10*time.Second)
	ctx := context.Background()

	if err := s.Save(ctx, "stock", "t2", record{TransactionID: "t2"}, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.FastForward(11 * time.Second)

	var got record
	found, err := s.Get(ctx, "stock", "t2", &got)
	if err != nil || found {
		t.Fatalf("expected expired record, found=%v err=%v", found, err)
	}
}

func TestStoreGetCorruptValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewStore(rdb, 0)
	if err := mr.Set("payment_saga:t3", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var got record
	if _, err := s.Get(context.Background(), "payment", "t3", &got); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestStorePropagatesRedisErrors(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewStore(rdb, 0)
	ctx := context.Background()
	boom := errors.New("connection refused")

	mock.ExpectGet("order_saga:t4").SetErr(boom)
	var got record
	if _, err := s.Get(ctx, "order", "t4", &got); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped redis error, got %v", err)
	}

	mock.ExpectGet("order_saga:t5").RedisNil()
	if found, err := s.Get(ctx, "order", "t5", &got); err != nil || found {
		t.Fatalf("expected not found, found=%v err=%v", found, err)
	}

	mock.ExpectDel("stock_saga:t4").SetErr(boom)
	if err := s.Delete(ctx, "stock", "t4"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped redis error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestActiveIndexStale(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewStore(rdb, 0)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.MarkActive(ctx, "old", now.Add(-10*time.Minute)))
	must(s.MarkActive(ctx, "older", now.Add(-20*time.Minute)))
	must(s.MarkActive(ctx, "fresh", now))

	ids, err := s.Stale(ctx, now.Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("Stale: %v", err)
	}
	if len(ids) != 2 || ids[0] != "older" || ids[1] != "old" {
		t.Fatalf("unexpected stale ids %v", ids)
	}

	// re-marking refreshes the score
	must(s.MarkActive(ctx, "old", now))
	must(s.ClearActive(ctx, "older"))
	ids, err = s.Stale(ctx, now.Add(-5*time.Minute), 10)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no stale ids, got %v err=%v", ids, err)
	}

	ids, err = s.Stale(ctx, now, 1)
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected limit to apply, got %v err=%v", ids, err)
	}
}

func TestClaimIsFirstWriterWins(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	key := DedupKey("inventory", "evt-1")

	won, err := Claim(ctx, rdb, key, time.Minute)
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}
	won, err = Claim(ctx, rdb, key, time.Minute)
	if err != nil || won {
		t.Fatalf("second claim must lose: won=%v err=%v", won, err)
	}
	if ok, _ := Exists(ctx, rdb, key); !ok {
		t.Fatal("claimed key missing")
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := Exists(ctx, rdb, key); ok {
		t.Fatal("claim should expire with its ttl")
	}
}
