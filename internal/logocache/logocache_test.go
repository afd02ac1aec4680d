package logocache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_putGetTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logos.db")
	s, err := Open(path, time.Hour)
	if err != nil {
		t.Skipf("sqlite not available: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	if _, fresh, err := s.Get(ctx, "https://l.example/a.png"); err != nil || fresh {
		t.Fatalf("empty cache: fresh=%v err=%v", fresh, err)
	}
	if err := s.Put(ctx, "https://l.example/a.png", true); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "https://l.example/b.png", false); err != nil {
		t.Fatal(err)
	}
	if ok, fresh, _ := s.Get(ctx, "https://l.example/a.png"); !ok || !fresh {
		t.Errorf("a: ok=%v fresh=%v", ok, fresh)
	}
	if ok, fresh, _ := s.Get(ctx, "https://l.example/b.png"); ok || !fresh {
		t.Errorf("b: ok=%v fresh=%v", ok, fresh)
	}

	// Overwrite keeps one row per URL.
	if err := s.Put(ctx, "https://l.example/b.png", true); err != nil {
		t.Fatal(err)
	}
	if ok, _, _ := s.Get(ctx, "https://l.example/b.png"); !ok {
		t.Error("b not updated")
	}

	now = now.Add(2 * time.Hour)
	if _, fresh, _ := s.Get(ctx, "https://l.example/a.png"); fresh {
		t.Error("expired entry reported fresh")
	}
	n, err := s.Prune(ctx)
	if err != nil || n != 2 {
		t.Errorf("prune = %d, %v; want 2", n, err)
	}
}

func TestStore_reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logos.db")
	s, err := Open(path, 0)
	if err != nil {
		t.Skipf("sqlite not available: %v", err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, "https://l.example/x.png", true); err != nil {
		t.Fatal(err)
	}
	s.Close()
	s2, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if ok, fresh, _ := s2.Get(ctx, "https://l.example/x.png"); !ok || !fresh {
		t.Errorf("after reopen ok=%v fresh=%v", ok, fresh)
	}
}
