// Package storetest checks that a reportstore.Store honours the staging contract.
package storetest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/osvaldoandrade/reportq/pkg/reportstore"
)

// TrackingReader records whether Close was called.
type TrackingReader struct {
	io.Reader
	Closed bool
}

func (r *TrackingReader) Close() error {
	r.Closed = true
	return nil
}

// FailingReader yields some bytes and then fails.
type FailingReader struct {
	Prefix string
	Err    error
	read   bool
	Closed bool
}

func (r *FailingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.Prefix), nil
	}
	return 0, r.Err
}

func (r *FailingReader) Close() error {
	r.Closed = true
	return nil
}

// Run exercises store against the contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) reportstore.Store) {
	t.Run("SaveFetchRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		in := &TrackingReader{Reader: strings.NewReader("payload-bytes")}
		if err := s.Save(ctx, "task-1", in); err != nil {
			t.Fatalf("save: %v", err)
		}
		if !in.Closed {
			t.Fatal("save must close the input")
		}
		h := s.Fetch("task-1")
		if h.ID() != "task-1" || h.Location() == "" {
			t.Fatalf("unexpected handle %q at %q", h.ID(), h.Location())
		}
		ok, err := h.Exists(ctx)
		if err != nil || !ok {
			t.Fatalf("expected payload to exist, ok=%v err=%v", ok, err)
		}
		rc, err := h.Open(ctx)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		if string(b) != "payload-bytes" {
			t.Fatalf("unexpected payload %q", b)
		}
	})

	t.Run("FetchNeverFails", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		h := s.Fetch("never-saved")
		ok, err := h.Exists(ctx)
		if err != nil || ok {
			t.Fatalf("expected missing payload, ok=%v err=%v", ok, err)
		}
		if _, err := h.Open(ctx); !errors.Is(err, reportstore.ErrNotStaged) {
			t.Fatalf("expected ErrNotStaged, got %v", err)
		}
	})

	t.Run("FailedSaveLeavesNothing", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		in := &FailingReader{Prefix: "partial", Err: errors.New("connection reset")}
		err := s.Save(ctx, "task-2", in)
		var serr *reportstore.StagingError
		if !errors.As(err, &serr) {
			t.Fatalf("expected StagingError, got %v", err)
		}
		if serr.Destination == "" {
			t.Fatal("staging error must name the destination")
		}
		if !in.Closed {
			t.Fatal("save must close the input on failure")
		}
		if ok, _ := s.Fetch("task-2").Exists(ctx); ok {
			t.Fatal("partial payload left behind")
		}
		ids, err := s.ListIDs(ctx)
		if err != nil || len(ids) != 0 {
			t.Fatalf("expected no ids, got %v err=%v", ids, err)
		}
	})

	t.Run("InvalidIDRejected", func(t *testing.T) {
		s := newStore(t)
		in := &TrackingReader{Reader: strings.NewReader("x")}
		err := s.Save(context.Background(), "../escape", in)
		if !errors.Is(err, reportstore.ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID, got %v", err)
		}
		if !in.Closed {
			t.Fatal("save must close the input when the id is rejected")
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		if err := s.Save(ctx, "task-3", io.NopCloser(strings.NewReader("x"))); err != nil {
			t.Fatalf("save: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := s.Delete(ctx, "task-3"); err != nil {
				t.Fatalf("delete #%d: %v", i+1, err)
			}
		}
		if ok, _ := s.Fetch("task-3").Exists(ctx); ok {
			t.Fatal("payload still present after delete")
		}
	})

	t.Run("ListAndDeleteAll", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		ids, err := s.ListIDs(ctx)
		if err != nil || len(ids) != 0 {
			t.Fatalf("expected empty store, got %v err=%v", ids, err)
		}
		for _, id := range []string{"b", "a", "c"} {
			if err := s.Save(ctx, id, io.NopCloser(strings.NewReader(id))); err != nil {
				t.Fatalf("save %s: %v", id, err)
			}
		}
		ids, err = s.ListIDs(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if strings.Join(ids, ",") != "a,b,c" {
			t.Fatalf("unexpected ids %v", ids)
		}
		if err := s.DeleteAll(ctx); err != nil {
			t.Fatalf("delete all: %v", err)
		}
		ids, err = s.ListIDs(ctx)
		if err != nil || len(ids) != 0 {
			t.Fatalf("expected empty store after delete all, got %v err=%v", ids, err)
		}
	})

	t.Run("ConcurrentDistinctIDs", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		ids := []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8"}
		var wg sync.WaitGroup
		errs := make(chan error, len(ids))
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				errs <- s.Save(ctx, id, io.NopCloser(strings.NewReader(id)))
			}(id)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent save: %v", err)
			}
		}
		got, err := s.ListIDs(ctx)
		if err != nil || len(got) != len(ids) {
			t.Fatalf("expected %d ids, got %v err=%v", len(ids), got, err)
		}
	})
}
