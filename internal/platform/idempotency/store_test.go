package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

// exerciseStore runs the contract every Store must meet. expire moves the
// store's clock past ttl.
func exerciseStore(t *testing.T, s Store, expire func(time.Duration)) {
	ctx := context.Background()
	ttl := time.Minute

	rec, err := s.Begin(ctx, "k1", ttl)
	if err != nil || rec != nil {
		t.Fatalf("first Begin: rec=%v err=%v, want claim", rec, err)
	}

	if _, err := s.Begin(ctx, "k1", ttl); !errors.Is(err, ErrInFlight) {
		t.Fatalf("second Begin: err=%v, want ErrInFlight", err)
	}

	want := Record{Fingerprint: "fp", Status: 201, ContentType: "application/json", Body: []byte(`{"id":"a"}`)}
	if err := s.Finish(ctx, "k1", want, ttl); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := s.Begin(ctx, "k1", ttl)
	if err != nil || got == nil {
		t.Fatalf("Begin after Finish: rec=%v err=%v", got, err)
	}
	if got.Status != 201 || string(got.Body) != `{"id":"a"}` || got.Fingerprint != "fp" {
		t.Errorf("unexpected record %+v", got)
	}

	if _, err := s.Begin(ctx, "k2", ttl); err != nil {
		t.Fatalf("Begin k2: %v", err)
	}
	if err := s.Abort(ctx, "k2"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if rec, err := s.Begin(ctx, "k2", ttl); err != nil || rec != nil {
		t.Fatalf("Begin after Abort: rec=%v err=%v, want claim", rec, err)
	}

	expire(ttl + time.Second)
	if rec, err := s.Begin(ctx, "k1", ttl); err != nil || rec != nil {
		t.Fatalf("Begin after expiry: rec=%v err=%v, want claim", rec, err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	exerciseStore(t, s, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisStore(t *testing.T) {
	s, mr := newRedisStore(t)
	exerciseStore(t, s, mr.FastForward)
}

func TestRedisStore_KeysArePrefixed(t *testing.T) {
	s, mr := newRedisStore(t)
	if _, err := s.Begin(context.Background(), "u1:abc", time.Minute); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !mr.Exists("idem:u1:abc") {
		t.Errorf("expected idem:u1:abc in redis, keys=%v", mr.Keys())
	}
	if ttl := mr.TTL("idem:u1:abc"); ttl != time.Minute {
		t.Errorf("expected TTL 1m, got %v", ttl)
	}
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	s, mr := newRedisStore(t)
	if err := mr.Set("idem:bad", "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Begin(context.Background(), "bad", time.Minute); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	_ = client.Close()

	if _, err := NewRedisClient(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}
