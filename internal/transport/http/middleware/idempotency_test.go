package middleware

import (
	"context"
	"testing"
)

func TestRequestHashDeterministic(t *testing.T) {
	hash1 := RequestHash([]byte("run-1"))
	hash2 := RequestHash([]byte("run-1"))
	hash3 := RequestHash([]byte("run-2"))

	if hash1 != hash2 {
		t.Fatal("expected deterministic hash")
	}
	if hash1 == hash3 {
		t.Fatal("expected different hash for different payload")
	}
}

func TestNilIdempotencyStoreIsNoop(t *testing.T) {
	var store *IdempotencyStore
	if _, found, err := store.Check(context.Background(), "p", "u", "payroll.commit", "k", "h"); found || err != nil {
		t.Fatalf("expected no-op check, got found=%v err=%v", found, err)
	}
	if err := store.Save(context.Background(), "p", "u", "payroll.commit", "k", "h", []byte(`{}`)); err != nil {
		t.Fatalf("expected no-op save, got %v", err)
	}
}
