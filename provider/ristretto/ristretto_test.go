package ristretto

import (
	"bytes"
	"context"
	"testing"
)

func TestSetIsImmediatelyReadable(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	ok, err := p.Set(ctx, "q:list:", []byte("frame"), 5, 0)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	b, hit, err := p.Get(ctx, "q:list:")
	if err != nil || !hit || !bytes.Equal(b, []byte("frame")) {
		t.Fatalf("Get after Set: %q hit=%v err=%v", b, hit, err)
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero config")
	}
}
