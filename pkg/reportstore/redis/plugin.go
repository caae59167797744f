package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/osvaldoandrade/reportq/pkg/reportstore"

	"github.com/go-redis/redis/v8"
)

const defaultPrefix = "reportq:reports"

// Config holds Redis store configuration. When Addr is empty the shared client from
// the plugin configuration is used.
type Config struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	// MaxBytes bounds a single payload; 0 means 64 MiB.
	MaxBytes int64 `json:"maxBytes,omitempty"`
}

// Store keeps each payload in a string key <prefix>:<taskID> and the staged ids in
// the set <prefix>:ids. Both are written in one transaction.
type Store struct {
	client   *redis.Client
	ownsConn bool
	prefix   string
	maxBytes int64
}

// NewPlugin creates a Redis store from plugin configuration
func NewPlugin(config reportstore.PluginConfig) (reportstore.Store, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, err
		}
	}

	client := config.Redis
	owns := false
	if cfg.Addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
		})
		owns = true
	}
	if client == nil {
		return nil, fmt.Errorf("redis report store: addr is required")
	}
	s := New(client, cfg.Prefix, cfg.MaxBytes)
	s.ownsConn = owns
	return s, nil
}

func New(client *redis.Client, prefix string, maxBytes int64) *Store {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &Store{client: client, prefix: prefix, maxBytes: maxBytes}
}

func init() {
	reportstore.RegisterProvider("redis", NewPlugin)
}

func (s *Store) key(taskID string) string { return s.prefix + ":" + taskID }
func (s *Store) indexKey() string         { return s.prefix + ":ids" }

func (s *Store) Save(ctx context.Context, taskID string, r io.ReadCloser) error {
	defer r.Close()
	if err := reportstore.ValidateID(taskID); err != nil {
		return err
	}
	dest := s.key(taskID)

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return &reportstore.StagingError{Destination: dest, Err: err}
	}
	if int64(len(data)) > s.maxBytes {
		return &reportstore.StagingError{Destination: dest, Err: fmt.Errorf("payload exceeds %d bytes", s.maxBytes)}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dest, data, 0)
	pipe.SAdd(ctx, s.indexKey(), taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		// The transaction may have been applied before the reply was lost.
		_ = s.Delete(context.WithoutCancel(ctx), taskID)
		return &reportstore.StagingError{Destination: dest, Err: err}
	}
	return nil
}

func (s *Store) Fetch(taskID string) reportstore.Handle {
	return &handle{store: s, id: taskID}
}

func (s *Store) Delete(ctx context.Context, taskID string) error {
	if err := reportstore.ValidateID(taskID); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(taskID))
	pipe.SRem(ctx, s.indexKey(), taskID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) DeleteAll(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.indexKey())
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Health checks if Redis is healthy
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection when the store opened it.
func (s *Store) Close() error {
	if !s.ownsConn {
		return nil
	}
	return s.client.Close()
}

type handle struct {
	store *Store
	id    string
}

func (h *handle) ID() string       { return h.id }
func (h *handle) Location() string { return "redis://" + h.store.key(h.id) }

func (h *handle) Exists(ctx context.Context) (bool, error) {
	if reportstore.ValidateID(h.id) != nil {
		return false, nil
	}
	n, err := h.store.client.Exists(ctx, h.store.key(h.id)).Result()
	return n == 1, err
}

func (h *handle) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := reportstore.ValidateID(h.id); err != nil {
		return nil, err
	}
	data, err := h.store.client.Get(ctx, h.store.key(h.id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", reportstore.ErrNotStaged, h.id)
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
