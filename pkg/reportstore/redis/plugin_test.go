package redis

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/reportq/pkg/reportstore"
	"github.com/osvaldoandrade/reportq/pkg/reportstore/storetest"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) reportstore.Store {
		return New(setupRedis(t), "", 0)
	})
}

func TestNewPluginUsesSharedClient(t *testing.T) {
	client := setupRedis(t)
	s, err := reportstore.New(
		reportstore.ProviderConfig{Type: "redis", Config: []byte(`{"prefix":"custom:"}`)},
		reportstore.PluginConfig{Redis: client},
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := s.Save(ctx, "t1", io.NopCloser(strings.NewReader("zip"))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if v, _ := client.Get(ctx, "custom:t1").Result(); v != "zip" {
		t.Fatalf("expected payload under custom prefix, got %q", v)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("shared client must stay open: %v", err)
	}
}

func TestNewPluginRequiresClient(t *testing.T) {
	if _, err := NewPlugin(reportstore.PluginConfig{}); err == nil {
		t.Fatal("expected error without addr or shared client")
	}
}

func TestSaveRejectsOversizedPayload(t *testing.T) {
	s := New(setupRedis(t), "", 4)
	ctx := context.Background()
	err := s.Save(ctx, "big", io.NopCloser(strings.NewReader("too large")))
	if err == nil {
		t.Fatal("expected staging error")
	}
	if ok, _ := s.Fetch("big").Exists(ctx); ok {
		t.Fatal("oversized payload must not be stored")
	}
}
