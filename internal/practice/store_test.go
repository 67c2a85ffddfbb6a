package practice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/models"
)

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	s := &models.PracticeSession{ID: "p1", UserID: "u1", Mode: models.PracticeAll}
	if err := store.Save(ctx, s); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(30 * time.Second)
	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get() before expiry error: %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", got.UserID)
	}

	// saving refreshes the TTL
	if err := store.Save(ctx, got); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(45 * time.Second)
	if _, err := store.Get(ctx, "p1"); err != nil {
		t.Errorf("Get() after refresh error: %v", err)
	}

	clock = clock.Add(time.Minute)
	if _, err := store.Get(ctx, "p1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrSessionNotFound", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want expired entry removed", store.Len())
	}
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	s := &models.PracticeSession{ID: "p1", ItemIndex: 1}
	if err := store.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	s.ItemIndex = 7

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ItemIndex != 1 {
		t.Errorf("ItemIndex = %d, want the saved value 1", got.ItemIndex)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()
	if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrSessionNotFound", err)
	}
	_ = store.Save(ctx, &models.PracticeSession{ID: "p1"})
	if err := store.Delete(ctx, "p1"); err != nil {
		t.Errorf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, "p1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}

func TestMemoryStoreRejectsStaleSave(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	s := &models.PracticeSession{ID: "p1"}
	if err := store.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	if s.Version != 1 {
		t.Errorf("Version after first save = %d, want 1", s.Version)
	}
	a, _ := store.Get(ctx, "p1")
	b, _ := store.Get(ctx, "p1")
	if err := store.Save(ctx, a); err != nil {
		t.Fatalf("Save(a) error: %v", err)
	}
	if err := store.Save(ctx, b); !errors.Is(err, ErrSessionConflict) {
		t.Errorf("Save(stale) error = %v, want ErrSessionConflict", err)
	}
	if err := store.Save(ctx, &models.PracticeSession{ID: "gone", Version: 3}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Save(expired) error = %v, want ErrSessionNotFound", err)
	}
}

// ── Redis ───────────────────────────────────────────────

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStoreWithClient(rdb, time.Minute, logger.NewNop()), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "p1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrSessionNotFound", err)
	}

	s := &models.PracticeSession{ID: "p1", UserID: "u1", Mode: models.PracticeMistakes, ItemIndex: 2}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if ttl := mr.TTL(redisKeyPrefix + "p1"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.UserID != "u1" || got.Mode != models.PracticeMistakes || got.ItemIndex != 2 || got.Version != 1 {
		t.Errorf("Get() = %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "p1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after TTL error = %v, want ErrSessionNotFound", err)
	}
}

func TestRedisStoreVersioning(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, &models.PracticeSession{ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	a, _ := store.Get(ctx, "p1")
	b, _ := store.Get(ctx, "p1")
	if err := store.Save(ctx, a); err != nil {
		t.Fatalf("Save(a) error: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("Version = %d, want 2", a.Version)
	}
	if err := store.Save(ctx, b); !errors.Is(err, ErrSessionConflict) {
		t.Errorf("Save(stale) error = %v, want ErrSessionConflict", err)
	}
	if err := store.Save(ctx, &models.PracticeSession{ID: "gone", Version: 4}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Save(expired) error = %v, want ErrSessionNotFound", err)
	}
}

func TestRedisStoreDropsCorruptPayload(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	key := redisKeyPrefix + "bad"
	if err := mr.Set(key, "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "bad"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(corrupt) error = %v, want ErrSessionNotFound", err)
	}
	if mr.Exists(key) {
		t.Error("corrupt payload was not deleted")
	}
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrSessionNotFound", err)
	}
	_ = store.Save(ctx, &models.PracticeSession{ID: "p1"})
	if err := store.Delete(ctx, "p1"); err != nil {
		t.Errorf("Delete() error: %v", err)
	}
}

func TestNewRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, rdb, err := NewRedisStore(context.Background(), mr.Addr(), "", 0, time.Minute, logger.NewNop())
	if err != nil {
		t.Fatalf("NewRedisStore() error: %v", err)
	}
	defer rdb.Close()
	if store == nil {
		t.Fatal("NewRedisStore() returned nil store")
	}
	if _, _, err := NewRedisStore(context.Background(), "", "", 0, time.Minute, logger.NewNop()); err == nil {
		t.Error("NewRedisStore() without address succeeded")
	}
}
