package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/osvaldoandrade/reportq/pkg/reportstore"
)

// Store keeps payloads in process memory.
// This is primarily for testing and should not be used in production
type Store struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

// NewPlugin creates an in-memory store
func NewPlugin(config reportstore.PluginConfig) (reportstore.Store, error) {
	return New(), nil
}

func New() *Store {
	return &Store{payloads: make(map[string][]byte)}
}

func init() {
	reportstore.RegisterProvider("memory", NewPlugin)
}

func (s *Store) Save(ctx context.Context, taskID string, r io.ReadCloser) error {
	defer r.Close()
	if err := reportstore.ValidateID(taskID); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return &reportstore.StagingError{Destination: "memory://" + taskID, Err: err}
	}
	s.mu.Lock()
	s.payloads[taskID] = data
	s.mu.Unlock()
	return nil
}

func (s *Store) Fetch(taskID string) reportstore.Handle {
	return &handle{store: s, id: taskID}
}

func (s *Store) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	delete(s.payloads, taskID)
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	s.payloads = make(map[string][]byte)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.payloads))
	for id := range s.payloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Health always returns nil for in-memory storage
func (s *Store) Health(ctx context.Context) error { return nil }

// Close is a no-op for in-memory storage
func (s *Store) Close() error { return nil }

type handle struct {
	store *Store
	id    string
}

func (h *handle) ID() string       { return h.id }
func (h *handle) Location() string { return "memory://" + h.id }

func (h *handle) Exists(ctx context.Context) (bool, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	_, ok := h.store.payloads[h.id]
	return ok, nil
}

func (h *handle) Open(ctx context.Context) (io.ReadCloser, error) {
	h.store.mu.RLock()
	data, ok := h.store.payloads[h.id]
	h.store.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", reportstore.ErrNotStaged, h.id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
