package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/stephnangue/belfry/logger"
	"github.com/stephnangue/belfry/physical"
)

func newTestStorage(t *testing.T) physical.Storage {
	t.Helper()
	s := miniredis.RunT(t)

	testLogger := logger.NewZerologLogger(logger.DefaultConfig())
	storage, err := NewRedisStorage(map[string]string{
		"address": s.Addr(),
	}, testLogger)
	if err != nil {
		t.Fatalf("failed to create redis storage: %v", err)
	}
	return storage
}

func TestRedisStorage_Contract(t *testing.T) {
	physical.ExerciseStorage(t, newTestStorage(t))
}

func TestRedisStorage_CompareAndSwap(t *testing.T) {
	physical.ExerciseCompareAndSwap(t, newTestStorage(t))
}

func TestRedisStorage_UnreachableServer(t *testing.T) {
	testLogger := logger.NewZerologLogger(logger.DefaultConfig())
	_, err := NewRedisStorage(map[string]string{
		"address": "localhost:59999",
	}, testLogger)
	if err == nil {
		t.Fatal("expected error when connecting to unreachable redis, got nil")
	}
}

func TestRedisStorage_MissingAddress(t *testing.T) {
	testLogger := logger.NewZerologLogger(logger.DefaultConfig())
	_, err := NewRedisStorage(nil, testLogger)
	if err == nil {
		t.Fatal("expected error for missing address, got nil")
	}
}

func TestRedisStorage_DatabaseSelection(t *testing.T) {
	s := miniredis.RunT(t)
	testLogger := logger.NewZerologLogger(logger.DefaultConfig())

	storage, err := NewRedisStorage(map[string]string{
		"address":  s.Addr(),
		"database": "1",
	}, testLogger)
	if err != nil {
		t.Fatalf("failed to create redis storage: %v", err)
	}

	ctx := context.Background()
	if err := storage.Put(ctx, &physical.Entry{Key: "bell/db1", Value: []byte("v")}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// The entry must land in DB 1, not the default DB.
	s.Select(1)
	if got, err := s.Get("bell/db1"); err != nil || got != "v" {
		t.Fatalf("expected value in db 1, got %q err %v", got, err)
	}
}

func TestRedisStorage_InvalidDatabase(t *testing.T) {
	testLogger := logger.NewZerologLogger(logger.DefaultConfig())
	_, err := NewRedisStorage(map[string]string{
		"address":  "localhost:6379",
		"database": "not-a-number",
	}, testLogger)
	if err == nil {
		t.Fatal("expected error for invalid database, got nil")
	}
}
