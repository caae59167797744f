package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/osvaldoandrade/reportq/pkg/reportstore"
)

// Config holds filesystem store configuration
type Config struct {
	Dir string `json:"dir"`
}

// Store keeps each payload in <dir>/<taskID>. Payloads are written to a hidden
// temporary file and renamed into place once synced.
type Store struct {
	dir string
}

// NewPlugin creates a filesystem store from plugin configuration
func NewPlugin(config reportstore.PluginConfig) (reportstore.Store, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("fs report store: dir is required")
	}
	return New(cfg.Dir), nil
}

func New(dir string) *Store {
	return &Store{dir: filepath.Clean(dir)}
}

func init() {
	reportstore.RegisterProvider("fs", NewPlugin)
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(taskID string) string {
	return filepath.Join(s.dir, taskID)
}

func (s *Store) Save(ctx context.Context, taskID string, r io.ReadCloser) (err error) {
	defer r.Close()
	if err := reportstore.ValidateID(taskID); err != nil {
		return err
	}
	dest := s.path(taskID)
	defer func() {
		if err != nil {
			err = &reportstore.StagingError{Destination: dest, Err: err}
		}
	}()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+taskID+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Fetch(taskID string) reportstore.Handle {
	return &handle{id: taskID, path: s.path(taskID)}
}

func (s *Store) Delete(ctx context.Context, taskID string) error {
	if err := reportstore.ValidateID(taskID); err != nil {
		return err
	}
	if err := os.Remove(s.path(taskID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Health checks that the staging directory can be created.
func (s *Store) Health(ctx context.Context) error {
	return os.MkdirAll(s.dir, 0o755)
}

func (s *Store) Close() error { return nil }

type handle struct {
	id   string
	path string
}

func (h *handle) ID() string       { return h.id }
func (h *handle) Location() string { return h.path }

func (h *handle) Exists(ctx context.Context) (bool, error) {
	if reportstore.ValidateID(h.id) != nil {
		return false, nil
	}
	_, err := os.Stat(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (h *handle) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := reportstore.ValidateID(h.id); err != nil {
		return nil, err
	}
	f, err := os.Open(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", reportstore.ErrNotStaged, h.id)
	}
	return f, err
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
