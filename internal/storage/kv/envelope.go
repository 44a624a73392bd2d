package kv

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pierrec/lz4"
)

// Persistent backends share a value envelope:
//
//	[0:8]  deadline, unix milliseconds big-endian, 0 for permanent entries
//	[8]    flag: flagRaw or flagLZ4
//	[9:]   payload; lz4 payloads start with a 4-byte big-endian
//	       uncompressed length followed by the block
const (
	envelopeHeaderSize = 9

	flagRaw byte = 0
	flagLZ4 byte = 1

	// minCompressSize is the smallest payload worth compressing.
	minCompressSize = 128

	// compressRatio keeps compressed output only when it saves at
	// least 10% over the raw payload.
	compressRatio = 0.9
)

func encodeEnvelope(value []byte, deadline int64, compress bool) []byte {
	var block []byte
	flag := flagRaw
	if compress && len(value) >= minCompressSize {
		dst := make([]byte, lz4.CompressBlockBound(len(value)))
		n, err := lz4.CompressBlock(value, dst, nil)
		// n == 0 means the block is incompressible; store it raw.
		if err == nil && n > 0 && float64(n+4) < float64(len(value))*compressRatio {
			block = make([]byte, 4+n)
			binary.BigEndian.PutUint32(block[:4], uint32(len(value)))
			copy(block[4:], dst[:n])
			flag = flagLZ4
		}
	}
	if flag == flagRaw {
		block = value
	}

	out := make([]byte, envelopeHeaderSize+len(block))
	binary.BigEndian.PutUint64(out[:8], uint64(deadline))
	out[8] = flag
	copy(out[envelopeHeaderSize:], block)
	return out
}

func decodeEnvelope(raw []byte) (value []byte, deadline int64, err error) {
	if len(raw) < envelopeHeaderSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrCorruptValue, len(raw))
	}
	deadline = int64(binary.BigEndian.Uint64(raw[:8]))
	body := raw[envelopeHeaderSize:]

	switch raw[8] {
	case flagRaw:
		value = make([]byte, len(body))
		copy(value, body)
		return value, deadline, nil
	case flagLZ4:
		if len(body) < 4 {
			return nil, 0, fmt.Errorf("%w: truncated lz4 header", ErrCorruptValue)
		}
		size := binary.BigEndian.Uint32(body[:4])
		value = make([]byte, size)
		n, uerr := lz4.UncompressBlock(body[4:], value)
		if uerr != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruptValue, uerr)
		}
		if uint32(n) != size {
			return nil, 0, fmt.Errorf("%w: lz4 size mismatch", ErrCorruptValue)
		}
		return value, deadline, nil
	default:
		return nil, 0, fmt.Errorf("%w: flag 0x%02x", ErrCorruptValue, raw[8])
	}
}

// expired reports whether a deadline has passed. Zero means permanent.
func expired(deadline int64, now time.Time) bool {
	return deadline != 0 && deadline <= now.UnixMilli()
}

func deadlineFrom(now time.Time, ttl time.Duration) int64 {
	return now.Add(ttl).UnixMilli()
}

// physicalKey prefixes the user key with a class byte so the two
// classes never collide in a flat keyspace.
func physicalKey(class Class, key []byte) []byte {
	prefix := byte('i')
	if class == ClassTemporary {
		prefix = byte('t')
	}
	out := make([]byte, 1+len(key))
	out[0] = prefix
	copy(out[1:], key)
	return out
}
