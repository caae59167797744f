package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/osvaldoandrade/reportq/pkg/reportstore"
	"github.com/osvaldoandrade/reportq/pkg/reportstore/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) reportstore.Store {
		return New(filepath.Join(t.TempDir(), "reports"))
	})
}

func TestNewPluginFromRegistry(t *testing.T) {
	dir := t.TempDir()
	s, err := reportstore.New(
		reportstore.ProviderConfig{Type: "fs", Config: []byte(`{"dir":"` + filepath.ToSlash(dir) + `"}`)},
		reportstore.PluginConfig{},
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.(*Store).Dir() != filepath.Clean(dir) {
		t.Fatalf("unexpected dir %s", s.(*Store).Dir())
	}

	if _, err := NewPlugin(reportstore.PluginConfig{Config: []byte(`{}`)}); err == nil {
		t.Fatal("expected error when dir is missing")
	}
}

func TestSaveWritesUnderTaskID(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.Save(context.Background(), "t1", io.NopCloser(strings.NewReader("zip"))); err != nil {
		t.Fatalf("save: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "t1"))
	if err != nil || string(b) != "zip" {
		t.Fatalf("expected payload at <dir>/t1, got %q err=%v", b, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected no temporary files, got %d entries", len(entries))
	}
	if s.Fetch("t1").Location() != filepath.Join(dir, "t1") {
		t.Fatalf("unexpected location %s", s.Fetch("t1").Location())
	}
}

func TestSaveStopsWhenContextCancelled(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Save(ctx, "t2", io.NopCloser(strings.NewReader("zip")))
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected nothing written, got %d entries", len(entries))
	}
}
