// Package wire frames cached values for storage in a byte provider.
//
// Frame layout (big endian):
//
//	magic(4) | ver(1) | flags(1) | gen(u64) | fetchedAt(i64 unix nanos) | vlen(u32) | payload(vlen)
//
// The generation lets readers reject values written under an older generation;
// fetchedAt and the stale flag travel with the value so a captured frame can be
// restored byte-for-byte, freshness included.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

const (
	version byte = 1

	flagStale byte = 1 << 0

	headerLen = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt  = errors.New("ticketcache: corrupt entry")
	ErrTooLarge = errors.New("ticketcache: payload too large for frame")

	magic4 = [...]byte{'T', 'K', 'C', 'Q'}
)

// Frame is a decoded stored value.
type Frame struct {
	Gen       uint64
	FetchedAt time.Time
	Stale     bool
	Payload   []byte
}

// Encode serializes f. The payload is copied.
func Encode(f Frame) ([]byte, error) {
	if uint64(len(f.Payload)) > math.MaxUint32 {
		return nil, ErrTooLarge
	}
	var buf bytes.Buffer
	buf.Grow(headerLen + len(f.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	var flags byte
	if f.Stale {
		flags |= flagStale
	}
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], f.Gen)
	buf.Write(u8[:])

	var nanos int64
	if !f.FetchedAt.IsZero() {
		nanos = f.FetchedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(nanos))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(f.Payload)))
	buf.Write(u4[:])

	buf.Write(f.Payload)
	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode. Framing is strict: unknown flags,
// short buffers and trailing bytes are all ErrCorrupt. Payload aliases b.
func Decode(b []byte) (Frame, error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return Frame{}, ErrCorrupt
	}
	flags := b[5]
	if flags&^flagStale != 0 {
		return Frame{}, ErrCorrupt
	}
	off := 6

	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	nanos := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return Frame{}, ErrCorrupt
	}

	f := Frame{
		Gen:     gen,
		Stale:   flags&flagStale != 0,
		Payload: b[off : off+vlen],
	}
	if nanos != 0 {
		f.FetchedAt = time.Unix(0, nanos)
	}
	return f, nil
}
