package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for bad url")
	}
}

func TestRedisStoreContract(t *testing.T) {
	store, _ := setupTestRedis(t)
	runDocumentStoreContract(t, store)
}

func TestRedisStoreKeysAreNamespaced(t *testing.T) {
	store, s := setupTestRedis(t)
	path, err := store.CreateRecord(context.Background(), testCollection(), Record{})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if !s.Exists("wellfed:" + path.String()) {
		t.Errorf("expected key %q, have %v", "wellfed:"+path.String(), s.Keys())
	}
}

func TestRedisStoreCorruptDocument(t *testing.T) {
	store, s := setupTestRedis(t)
	path := testCollection()
	path.RecordID = "rec_corrupt"
	if err := s.Set("wellfed:"+path.String(), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.GetRecord(context.Background(), path); err == nil {
		t.Fatal("expected decode error")
	}
}
