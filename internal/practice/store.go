package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/models"
)

var (
	ErrSessionNotFound = errors.New("practice session not found")
	ErrSessionConflict = errors.New("practice session was modified concurrently")
)

// SessionStore holds serialised practice sessions until they expire.
//
// Save is a compare-and-swap on s.Version: it succeeds only when the stored
// version equals s.Version (or nothing is stored and s.Version is 0), then
// increments s.Version. A stale save returns ErrSessionConflict.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.PracticeSession, error)
	Save(ctx context.Context, s *models.PracticeSession) error
	Delete(ctx context.Context, id string) error
}

// encodeNext serialises s as it will look after a successful save.
func encodeNext(s *models.PracticeSession) ([]byte, error) {
	next := *s
	next.Version++
	data, err := json.Marshal(&next)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

// ── Memory ──────────────────────────────────────────────

type memoryEntry struct {
	data    []byte
	version int
	expires time.Time
}

// MemoryStore keeps sessions in process. Every Save refreshes the TTL.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.PracticeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, id)
		return nil, ErrSessionNotFound
	}
	var s models.PracticeSession
	if err := json.Unmarshal(e.data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *models.PracticeSession) error {
	data, err := encodeNext(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
		}
	}

	cur, ok := m.entries[s.ID]
	switch {
	case !ok && s.Version != 0:
		return ErrSessionNotFound
	case ok && cur.version != s.Version:
		return ErrSessionConflict
	}
	s.Version++
	m.entries[s.ID] = memoryEntry{data: data, version: s.Version, expires: now.Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.entries, id)
	return nil
}

// Len reports the number of live entries, expired ones included until the
// next Save.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ── Redis ───────────────────────────────────────────────

const redisKeyPrefix = "practice:session:"

// RedisStore shares sessions between server instances. Saves run under
// WATCH so two instances cannot both commit from the same version.
type RedisStore struct {
	rdb goredis.UniversalClient
	ttl time.Duration
	log *logger.Logger
}

// NewRedisStore connects to addr and verifies the server answers.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration, log *logger.Logger) (*RedisStore, *goredis.Client, error) {
	if addr == "" {
		return nil, nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(rdb, ttl, log), rdb, nil
}

func NewRedisStoreWithClient(rdb goredis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, log: log.With("service", "PracticeRedisStore")}
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.PracticeSession, error) {
	raw, err := r.rdb.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var s models.PracticeSession
	if err := json.Unmarshal(raw, &s); err != nil {
		r.log.Warn("dropping unreadable practice session", "session_id", id, "error", err)
		_ = r.rdb.Del(ctx, redisKeyPrefix+id).Err()
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *models.PracticeSession) error {
	data, err := encodeNext(s)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + s.ID

	err = r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
			if s.Version != 0 {
				return ErrSessionNotFound
			}
		case err != nil:
			return fmt.Errorf("get session: %w", err)
		default:
			var cur struct {
				Version int `json:"version"`
			}
			if err := json.Unmarshal(raw, &cur); err != nil || cur.Version != s.Version {
				return ErrSessionConflict
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return ErrSessionConflict
	}
	if err != nil {
		if errors.Is(err, ErrSessionConflict) || errors.Is(err, ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("save session: %w", err)
	}
	s.Version++
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.rdb.Del(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
