package wire

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	at := time.Unix(0, 1_700_000_000_123_456_789)
	in := Frame{Gen: 7, FetchedAt: at, Stale: true, Payload: []byte(`{"id":"t1"}`)}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Gen != 7 || !out.Stale || !out.FetchedAt.Equal(at) || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestZeroFetchedAtStaysZero(t *testing.T) {
	b, _ := Encode(Frame{Gen: 1, Payload: []byte("x")})
	f, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !f.FetchedAt.IsZero() || f.Stale {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestEmptyPayload(t *testing.T) {
	b, _ := Encode(Frame{Gen: 3})
	f, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Payload) != 0 {
		t.Fatalf("expected empty payload, got %q", f.Payload)
	}
}

func TestDecodeRejects(t *testing.T) {
	good, _ := Encode(Frame{Gen: 1, Payload: []byte("abc")})

	cases := map[string][]byte{
		"empty":       nil,
		"short":       good[:headerLen-1],
		"bad_magic":   append([]byte("XXXX"), good[4:]...),
		"bad_version": func() []byte { b := bytes.Clone(good); b[4] = 9; return b }(),
		"bad_flags":   func() []byte { b := bytes.Clone(good); b[5] = 0x80; return b }(),
		"trailing":    append(bytes.Clone(good), 0xDE, 0xAD),
		"truncated":   good[:len(good)-1],
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(b); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}
