package kv_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stelliform/go-oracled/internal/storage/kv"
)

func openBackends(t *testing.T) map[string]kv.Store {
	t.Helper()
	stores := make(map[string]kv.Store)

	stores["memory"] = kv.NewMemory()

	pebbleStore, err := kv.NewPebble(kv.Options{Path: t.TempDir(), NoSync: true})
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}
	stores["pebble"] = pebbleStore

	levelStore, err := kv.NewLevelDB(kv.Options{Path: t.TempDir(), NoSync: true})
	if err != nil {
		t.Fatalf("failed to open leveldb store: %v", err)
	}
	stores["leveldb"] = levelStore

	return stores
}

func TestStoreConformance(t *testing.T) {
	ctx := context.Background()

	for name, store := range openBackends(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			defer store.Close()

			t.Run("PutGetRoundtrip", func(t *testing.T) {
				key := []byte("resolution")
				value := []byte{0x00, 0x00, 0x4e, 0x20}
				if err := store.Put(ctx, kv.ClassInstance, key, value); err != nil {
					t.Fatalf("put failed: %v", err)
				}
				got, err := store.Get(ctx, kv.ClassInstance, key)
				if err != nil {
					t.Fatalf("get failed: %v", err)
				}
				if !bytes.Equal(got, value) {
					t.Errorf("expected %x, got %x", value, got)
				}
			})

			t.Run("MissingKey", func(t *testing.T) {
				_, err := store.Get(ctx, kv.ClassInstance, []byte("absent"))
				if !kv.IsNotFound(err) {
					t.Errorf("expected ErrKeyNotFound, got %v", err)
				}
			})

			t.Run("ClassesAreIsolated", func(t *testing.T) {
				key := []byte("shared-key")
				if err := store.Put(ctx, kv.ClassInstance, key, []byte("instance")); err != nil {
					t.Fatalf("instance put failed: %v", err)
				}
				if err := store.PutTTL(ctx, key, []byte("temporary"), time.Hour); err != nil {
					t.Fatalf("temporary put failed: %v", err)
				}
				got, err := store.Get(ctx, kv.ClassInstance, key)
				if err != nil {
					t.Fatalf("instance get failed: %v", err)
				}
				if string(got) != "instance" {
					t.Errorf("instance entry clobbered: %q", got)
				}
				got, err = store.Get(ctx, kv.ClassTemporary, key)
				if err != nil {
					t.Fatalf("temporary get failed: %v", err)
				}
				if string(got) != "temporary" {
					t.Errorf("temporary entry clobbered: %q", got)
				}
			})

			t.Run("Overwrite", func(t *testing.T) {
				key := []byte("marker")
				if err := store.Put(ctx, kv.ClassInstance, key, []byte("one")); err != nil {
					t.Fatalf("put failed: %v", err)
				}
				if err := store.Put(ctx, kv.ClassInstance, key, []byte("two")); err != nil {
					t.Fatalf("overwrite failed: %v", err)
				}
				got, err := store.Get(ctx, kv.ClassInstance, key)
				if err != nil {
					t.Fatalf("get failed: %v", err)
				}
				if string(got) != "two" {
					t.Errorf("expected overwritten value, got %q", got)
				}
			})

			t.Run("DeleteIsIdempotent", func(t *testing.T) {
				key := []byte("to-delete")
				if err := store.Put(ctx, kv.ClassInstance, key, []byte("x")); err != nil {
					t.Fatalf("put failed: %v", err)
				}
				if err := store.Delete(ctx, kv.ClassInstance, key); err != nil {
					t.Fatalf("delete failed: %v", err)
				}
				if _, err := store.Get(ctx, kv.ClassInstance, key); !kv.IsNotFound(err) {
					t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
				}
				if err := store.Delete(ctx, kv.ClassInstance, key); err != nil {
					t.Errorf("second delete should be a no-op, got %v", err)
				}
			})

			t.Run("ExpiredEntryIsGone", func(t *testing.T) {
				key := []byte("stale")
				if err := store.PutTTL(ctx, key, []byte("x"), -time.Second); err != nil {
					t.Fatalf("put failed: %v", err)
				}
				if _, err := store.Get(ctx, kv.ClassTemporary, key); !kv.IsNotFound(err) {
					t.Errorf("expected expired entry to be gone, got %v", err)
				}
				if err := store.ExtendTTL(ctx, key, time.Hour); !kv.IsNotFound(err) {
					t.Errorf("expected extend on expired entry to fail, got %v", err)
				}
			})

			t.Run("LiveEntryStaysReadable", func(t *testing.T) {
				key := []byte("fresh")
				if err := store.PutTTL(ctx, key, []byte("x"), time.Hour); err != nil {
					t.Fatalf("put failed: %v", err)
				}
				if _, err := store.Get(ctx, kv.ClassTemporary, key); err != nil {
					t.Errorf("live entry unreadable: %v", err)
				}
				if err := store.ExtendTTL(ctx, key, 2*time.Hour); err != nil {
					t.Errorf("extend on live entry failed: %v", err)
				}
			})

			t.Run("BatchAppliesAllOps", func(t *testing.T) {
				ops := []kv.Op{
					{Type: kv.OpPut, Class: kv.ClassInstance, Key: []byte("b1"), Value: []byte("v1")},
					{Type: kv.OpPut, Class: kv.ClassTemporary, Key: []byte("b2"), Value: []byte("v2"), TTL: time.Hour},
					{Type: kv.OpDelete, Class: kv.ClassInstance, Key: []byte("marker")},
				}
				if err := store.Apply(ctx, ops); err != nil {
					t.Fatalf("batch failed: %v", err)
				}
				if got, err := store.Get(ctx, kv.ClassInstance, []byte("b1")); err != nil || string(got) != "v1" {
					t.Errorf("instance batch put missing: %q %v", got, err)
				}
				if got, err := store.Get(ctx, kv.ClassTemporary, []byte("b2")); err != nil || string(got) != "v2" {
					t.Errorf("temporary batch put missing: %q %v", got, err)
				}
				if _, err := store.Get(ctx, kv.ClassInstance, []byte("marker")); !kv.IsNotFound(err) {
					t.Errorf("batch delete not applied: %v", err)
				}
			})

			t.Run("SweepRemovesOnlyExpired", func(t *testing.T) {
				if err := store.PutTTL(ctx, []byte("sweep-dead"), []byte("x"), -time.Second); err != nil {
					t.Fatalf("put failed: %v", err)
				}
				if err := store.PutTTL(ctx, []byte("sweep-live"), []byte("x"), time.Hour); err != nil {
					t.Fatalf("put failed: %v", err)
				}
				removed, err := store.Sweep(ctx)
				if err != nil {
					t.Fatalf("sweep failed: %v", err)
				}
				if removed < 1 {
					t.Errorf("expected at least one expired entry removed, got %d", removed)
				}
				if _, err := store.Get(ctx, kv.ClassTemporary, []byte("sweep-live")); err != nil {
					t.Errorf("sweep removed a live entry: %v", err)
				}
			})
		})
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store := kv.NewMemory()
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("double close should be a no-op, got %v", err)
	}

	ctx := context.Background()
	if _, err := store.Get(ctx, kv.ClassInstance, []byte("k")); err == nil {
		t.Error("expected error reading from closed store")
	}
	if err := store.Put(ctx, kv.ClassInstance, []byte("k"), []byte("v")); err == nil {
		t.Error("expected error writing to closed store")
	}
}

func TestOpenRegistry(t *testing.T) {
	names := kv.Backends()
	want := map[string]bool{"memory": false, "pebble": false, "leveldb": false}
	for _, name := range names {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("backend %q not registered", name)
		}
	}

	store, err := kv.Open("memory", kv.Options{})
	if err != nil {
		t.Fatalf("open memory failed: %v", err)
	}
	defer store.Close()

	if _, err := kv.Open("bogus", kv.Options{}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
