package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryStore keeps the reference in process memory.
type MemoryStore struct {
	mu  sync.Mutex
	ref *Reference
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now}
}

func (s *MemoryStore) Load(_ context.Context) (*Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ref == nil {
		return nil, nil
	}
	if s.ref.Expired(s.now()) {
		s.ref = nil
		return nil, nil
	}
	ref := *s.ref
	return &ref, nil
}

func (s *MemoryStore) Save(_ context.Context, ref Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref = &ref
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref = nil
	return nil
}

// FileStore keeps the reference in a small JSON document on disk, the terminal
// counterpart of a browser cookie.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore at path. now defaults to time.Now.
func NewFileStore(path string, now func() time.Time) *FileStore {
	if now == nil {
		now = time.Now
	}
	return &FileStore{path: path, now: now}
}

func (s *FileStore) Load(_ context.Context) (*Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var jar map[string]Reference
	if err := json.Unmarshal(data, &jar); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	ref, ok := jar[Key]
	if !ok {
		return nil, nil
	}
	if ref.Expired(s.now()) {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, nil
	}
	return &ref, nil
}

func (s *FileStore) Save(_ context.Context, ref Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(map[string]Reference{Key: ref})
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RedisStore keeps the reference under a redis key whose TTL matches the reference's.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a RedisStore. scope separates kiosks sharing one redis.
func NewRedisStore(client *redis.Client, scope string) *RedisStore {
	key := "parkslot:session:" + Key
	if scope != "" {
		key += ":" + scope
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (*Reference, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ref Reference
	if err := json.Unmarshal([]byte(val), &ref); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return &ref, nil
}

func (s *RedisStore) Save(ctx context.Context, ref Reference) error {
	ttl := time.Duration(0)
	if !ref.ExpiresAt.IsZero() {
		ttl = time.Until(ref.ExpiresAt)
		if ttl <= 0 {
			return s.Clear(ctx)
		}
	}
	data, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
