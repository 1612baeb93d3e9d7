package genstore

import (
	"context"
	"sync"
	"testing"
)

func TestLocalMissingReadsZero(t *testing.T) {
	s := NewLocalGenStore()
	if g, err := s.Snapshot(context.Background(), "detail:a"); err != nil || g != 0 {
		t.Fatalf("g=%d err=%v want 0,nil", g, err)
	}
}

func TestLocalBumpIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore()
	t.Cleanup(func() { _ = s.Close(ctx) })

	var last uint64
	for i := 0; i < 5; i++ {
		g, err := s.Bump(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if g <= last {
			t.Fatalf("generation went from %d to %d", last, g)
		}
		last = g
	}
}

func TestLocalConcurrentBumpsAreCounted(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Bump(ctx, "k")
		}()
	}
	wg.Wait()
	if g, _ := s.Snapshot(ctx, "k"); g != 50 {
		t.Fatalf("got %d want 50", g)
	}
}

func TestLocalForget(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore()
	t.Cleanup(func() { _ = s.Close(ctx) })

	_, _ = s.Bump(ctx, "x")
	_, _ = s.Bump(ctx, "y")
	if err := s.Forget(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if g, _ := s.Snapshot(ctx, "x"); g != 0 {
		t.Fatalf("forgotten key should read 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "y"); g != 1 {
		t.Fatalf("unrelated key changed: %d", g)
	}
	if n := s.Len(); n != 1 {
		t.Fatalf("Len=%d want 1", n)
	}
}
