package settings

import (
	"context"
	"os"
	"testing"
)

func getTestRedisURL() string {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379"
	}
	return url
}

func TestRedisStore_SetGetRemove(t *testing.T) {
	store, err := NewRedisStore(getTestRedisURL(), "test-origin")
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	defer store.Set(ctx, KeyPOToken, "")

	if err := store.Set(ctx, KeyPOToken, "tok"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	restarted := NewRedisStoreWithClient(store.Client(), "test-origin")
	v, ok, err := restarted.Get(ctx, KeyPOToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || v != "tok" {
		t.Errorf("expected tok, got %q", v)
	}

	other := NewRedisStoreWithClient(store.Client(), "other-origin")
	if _, ok, _ := other.Get(ctx, KeyPOToken); ok {
		t.Error("origins must not share entries")
	}

	if err := store.Set(ctx, KeyPOToken, ""); err != nil {
		t.Fatalf("Set(empty) error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, KeyPOToken); ok {
		t.Error("expected entry removed")
	}
}
