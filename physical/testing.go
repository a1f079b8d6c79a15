package physical

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
)

// ExerciseStorage runs a backend through the storage contract. Every
// backend must pass it unchanged so the resource registry behaves the
// same regardless of which one is configured.
func ExerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	// Missing key reads as nil, nil
	e, err := s.Get(ctx, "bell/missing")
	if err != nil {
		t.Fatalf("get on empty storage failed: %v", err)
	}
	if e != nil {
		t.Fatalf("expected nil entry, got %v", e)
	}

	// Put then Get round trip
	entry := &Entry{Key: "bell/foo", Value: []byte("v1")}
	if err := s.Put(ctx, entry); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	e, err = s.Get(ctx, "bell/foo")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if e == nil || !bytes.Equal(e.Value, []byte("v1")) {
		t.Fatalf("bad get result: %v", e)
	}

	// Overwrite
	if err := s.Put(ctx, &Entry{Key: "bell/foo", Value: []byte("v2")}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	e, _ = s.Get(ctx, "bell/foo")
	if !bytes.Equal(e.Value, []byte("v2")) {
		t.Fatalf("expected overwritten value, got %q", e.Value)
	}

	// List with subtree collapse
	if err := s.Put(ctx, &Entry{Key: "bell/sub/one", Value: []byte("x")}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	keys, err := s.List(ctx, "bell/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "foo" || keys[1] != "sub/" {
		t.Fatalf("bad list result: %v", keys)
	}

	// Delete is idempotent
	if err := s.Delete(ctx, "bell/foo"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.Delete(ctx, "bell/foo"); err != nil {
		t.Fatalf("delete of missing key failed: %v", err)
	}
	e, _ = s.Get(ctx, "bell/foo")
	if e != nil {
		t.Fatalf("expected entry gone, got %v", e)
	}
	if err := s.Delete(ctx, "bell/sub/one"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

// ExerciseCompareAndSwap verifies the conditional-write semantics the
// admission path relies on.
func ExerciseCompareAndSwap(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	// Create-only: succeeds when absent, mismatches when present
	if err := s.CompareAndSwap(ctx, "bell/cas", nil, []byte("a")); err != nil {
		t.Fatalf("cas create failed: %v", err)
	}
	err := s.CompareAndSwap(ctx, "bell/cas", nil, []byte("b"))
	if !errors.Is(err, ErrCASMismatch) {
		t.Fatalf("expected ErrCASMismatch on duplicate create, got %v", err)
	}

	// Swap: succeeds with the right witness, mismatches with a stale one
	if err := s.CompareAndSwap(ctx, "bell/cas", []byte("a"), []byte("b")); err != nil {
		t.Fatalf("cas swap failed: %v", err)
	}
	err = s.CompareAndSwap(ctx, "bell/cas", []byte("a"), []byte("c"))
	if !errors.Is(err, ErrCASMismatch) {
		t.Fatalf("expected ErrCASMismatch on stale swap, got %v", err)
	}
	e, err := s.Get(ctx, "bell/cas")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(e.Value, []byte("b")) {
		t.Fatalf("expected value untouched by stale swap, got %q", e.Value)
	}

	// Conditional delete
	err = s.CompareAndSwap(ctx, "bell/cas", []byte("a"), nil)
	if !errors.Is(err, ErrCASMismatch) {
		t.Fatalf("expected ErrCASMismatch on stale delete, got %v", err)
	}
	if err := s.CompareAndSwap(ctx, "bell/cas", []byte("b"), nil); err != nil {
		t.Fatalf("cas delete failed: %v", err)
	}
	e, _ = s.Get(ctx, "bell/cas")
	if e != nil {
		t.Fatalf("expected entry gone after cas delete, got %v", e)
	}

	// Swap against a missing key mismatches
	err = s.CompareAndSwap(ctx, "bell/cas", []byte("b"), []byte("c"))
	if !errors.Is(err, ErrCASMismatch) {
		t.Fatalf("expected ErrCASMismatch on missing key, got %v", err)
	}
}
