// Package wire frames cache entries before they are handed to a provider.
//
// Record:
//
//	magic(4) | ver(1) | kind(1=record) | flags(1) | gen(u64 be) | updatedAt(i64 be, unix ms) | vlen(u32 be) | payload(vlen)
//
// flags bit 0 marks an invalidated record; all other bits must be zero.
//
// Seed (bulk):
//
//	magic(4) | ver(1) | kind(2=seed) | n(u32 be)
//	keyLen(u16 be) | key(keyLen) | gen(u64 be) | vlen(u32 be) | payload(vlen) * n
//
// Decoders are strict: bad magic, unknown version or kind, short buffers and
// trailing bytes are all ErrCorrupt. Decoded payloads alias the input buffer.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version    byte = 1
	kindRecord byte = 1
	kindSeed   byte = 2

	flagStale byte = 1 << 0

	recordHeader = 4 + 1 + 1 + 1 + 8 + 8 + 4
	seedHeader   = 4 + 1 + 1 + 4
	maxKeyLen    = 0xFFFF
)

var (
	ErrCorrupt = errors.New("querycache: corrupt entry")
	magic4     = [...]byte{'Q', 'R', 'Y', 'C'}
)

// Record is a single cached value together with the generation it was
// written under. Stale is set once the record has been invalidated.
type Record struct {
	Stale     bool
	Gen       uint64
	UpdatedAt int64
	Payload   []byte
}

// SeedItem is one member of a seed (bulk) entry.
type SeedItem struct {
	Key     string
	Gen     uint64
	Payload []byte
}

func hasHeader(b []byte, kind byte, min int) bool {
	return len(b) >= min && bytes.Equal(b[:4], magic4[:]) && b[4] == version && b[5] == kind
}

func EncodeRecord(r Record) []byte {
	buf := make([]byte, 0, recordHeader+len(r.Payload))
	buf = append(buf, magic4[:]...)
	var flags byte
	if r.Stale {
		flags |= flagStale
	}
	buf = append(buf, version, kindRecord, flags)
	buf = binary.BigEndian.AppendUint64(buf, r.Gen)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.UpdatedAt))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Payload)))
	return append(buf, r.Payload...)
}

func DecodeRecord(b []byte) (Record, error) {
	if !hasHeader(b, kindRecord, recordHeader) {
		return Record{}, ErrCorrupt
	}
	flags := b[6]
	if flags&^flagStale != 0 {
		return Record{}, ErrCorrupt
	}
	off := 7
	gen := binary.BigEndian.Uint64(b[off:])
	off += 8
	updated := int64(binary.BigEndian.Uint64(b[off:]))
	off += 8
	vlen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if vlen != len(b)-off {
		return Record{}, ErrCorrupt
	}
	return Record{Stale: flags&flagStale != 0, Gen: gen, UpdatedAt: updated, Payload: b[off:]}, nil
}

func EncodeSeed(items []SeedItem) ([]byte, error) {
	total := seedHeader
	for _, it := range items {
		if l := len(it.Key); l == 0 || l > maxKeyLen {
			return nil, fmt.Errorf("querycache: seed key length %d out of range", l)
		}
		total += 2 + len(it.Key) + 8 + 4 + len(it.Payload)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, magic4[:]...)
	buf = append(buf, version, kindSeed)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(items)))
	for _, it := range items {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(it.Key)))
		buf = append(buf, it.Key...)
		buf = binary.BigEndian.AppendUint64(buf, it.Gen)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(it.Payload)))
		buf = append(buf, it.Payload...)
	}
	return buf, nil
}

func DecodeSeed(b []byte) ([]SeedItem, error) {
	if !hasHeader(b, kindSeed, seedHeader) {
		return nil, ErrCorrupt
	}
	off := 6
	n := int(binary.BigEndian.Uint32(b[off:]))
	off += 4

	// each item needs at least 2+1+8+4 bytes; reject absurd counts early
	if n > (len(b)-off)/15 {
		return nil, ErrCorrupt
	}

	items := make([]SeedItem, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off:]))
		off += 2
		if klen == 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		key := string(b[off : off+klen])
		off += klen

		if off+12 > len(b) {
			return nil, ErrCorrupt
		}
		gen := binary.BigEndian.Uint64(b[off:])
		off += 8
		vlen := int(binary.BigEndian.Uint32(b[off:]))
		off += 4
		if vlen > len(b)-off {
			return nil, ErrCorrupt
		}
		items = append(items, SeedItem{Key: key, Gen: gen, Payload: b[off : off+vlen]})
		off += vlen
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return items, nil
}
