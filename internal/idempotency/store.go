// Package idempotency remembers the responses to admin requests that carried
// an Idempotency-Key, so a retried request replays the first answer instead
// of sending a second email or creating a second contractor.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/onboard/model"
)

// Response is a recorded HTTP response.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Location    string `json:"location,omitempty"`
	Body        []byte `json:"body"`
}

// Store records responses by key. The request hash guards against a key
// being reused for a different request.
type Store interface {
	// Check returns the response stored under key. found is false when
	// nothing is stored. A stored entry with a different hash yields a
	// CONFLICT error.
	Check(ctx context.Context, key, requestHash string) (resp *Response, found bool, err error)

	// Save stores resp under key for ttl.
	Save(ctx context.Context, key, requestHash string, resp Response, ttl time.Duration) error
}

type entry struct {
	RequestHash string   `json:"request_hash"`
	Response    Response `json:"response"`
}

func mismatch(key string) error {
	return model.NewConflictError(fmt.Sprintf("Idempotency-Key %q was already used for a different request", key))
}

// Key builds the storage key for a client-supplied Idempotency-Key, scoped
// to the admin that sent it.
func Key(subjectID, clientKey string) string {
	return "idem:" + subjectID + ":" + clientKey
}

// --- MemoryStore ---

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

// Check looks up key, dropping it when expired.
func (s *MemoryStore) Check(_ context.Context, key, requestHash string) (*Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	if e.data.RequestHash != requestHash {
		return nil, true, mismatch(key)
	}
	resp := e.data.Response
	return &resp, true, nil
}

// Save stores resp and sweeps expired entries.
func (s *MemoryStore) Save(_ context.Context, key, requestHash string, resp Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = memEntry{
		data:      entry{RequestHash: requestHash, Response: resp},
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore keeps entries in Redis so every instance replays the same
// responses.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Check looks up key in Redis.
func (s *RedisStore) Check(ctx context.Context, key, requestHash string) (*Response, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	if e.RequestHash != requestHash {
		return nil, true, mismatch(key)
	}
	return &e.Response, true, nil
}

// Save stores resp in Redis with ttl.
func (s *RedisStore) Save(ctx context.Context, key, requestHash string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(entry{RequestHash: requestHash, Response: resp})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
