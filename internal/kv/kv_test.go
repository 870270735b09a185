package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"stocksim/internal/db"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("get missing: ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "stocksim_tokens", []byte(`{"accessToken":"a"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got struct {
		AccessToken string `json:"accessToken"`
	}
	ok, err := GetJSON(ctx, s, "stocksim_tokens", &got)
	if err != nil || !ok {
		t.Fatalf("get json: ok=%v err=%v", ok, err)
	}
	if got.AccessToken != "a" {
		t.Fatalf("access token=%q", got.AccessToken)
	}
	if err := SetJSON(ctx, s, "stocksim_tokens", map[string]string{"accessToken": "b"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := GetJSON(ctx, s, "stocksim_tokens", &got); err != nil || got.AccessToken != "b" {
		t.Fatalf("after overwrite got=%q err=%v", got.AccessToken, err)
	}
	if err := s.Remove(ctx, "stocksim_tokens"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, "stocksim_tokens"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "stocksim_tokens"); ok {
		t.Fatalf("expected key removed")
	}

	if err := s.Set(ctx, "game:alice", []byte(`1`)); err != nil {
		t.Fatalf("set game:alice: %v", err)
	}
	if err := s.Set(ctx, "game_alice", []byte(`2`)); err != nil {
		t.Fatalf("set game_alice: %v", err)
	}
	if raw, ok, err := s.Get(ctx, "game:alice"); err != nil || !ok || string(raw) != "1" {
		t.Fatalf("game:alice=%q ok=%v err=%v, want 1", raw, ok, err)
	}
	if err := s.Remove(ctx, "game_alice"); err != nil {
		t.Fatalf("remove game_alice: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "game:alice"); !ok {
		t.Fatalf("removing game_alice dropped game:alice")
	}
	if err := s.Remove(ctx, "game:alice"); err != nil {
		t.Fatalf("remove game:alice: %v", err)
	}

	if err := s.Set(ctx, "../escape", []byte(`1`)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestFileStore(t *testing.T) {
	s, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseStore(t, s)
}

func TestFileStoreNamespacedKey(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	if err := s.Set(ctx, "game:user-1", []byte(`{}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "game%3Auser-1.json")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("STOCKSIM_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STOCKSIM_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	s := NewPostgres(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	_ = s.Remove(ctx, "missing")
	exerciseStore(t, s)
}
