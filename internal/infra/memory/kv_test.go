package memory

import (
	"context"
	"testing"
)

func TestKVLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := NewKV()

	if _, ok, _ := kv.Get(ctx, "a"); ok {
		t.Fatalf("expected empty store")
	}
	_ = kv.Set(ctx, "pending-1", []byte("x"))
	_ = kv.Set(ctx, "pending-2", []byte("y"))
	_ = kv.Set(ctx, "draft-1", []byte("z"))

	keys, err := kv.Keys(ctx, "pending-")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 pending keys, got %v", keys)
	}

	_ = kv.Delete(ctx, "pending-1")
	if _, ok, _ := kv.Get(ctx, "pending-1"); ok {
		t.Fatalf("expected key removed")
	}
	if v, ok, _ := kv.Get(ctx, "draft-1"); !ok || string(v) != "z" {
		t.Fatalf("expected draft untouched, got %q", v)
	}
}
