package ring

import (
	"crypto/md5"
	"encoding/binary"
)

// Hash is a 128-bit MD5 digest split into two unsigned halves so ring
// positions can be compared and ordered without ever falling back to a
// signed byte-array comparison (a bug class the original design notes
// call out explicitly).
type Hash struct {
	Hi uint64
	Lo uint64
}

// HashKey derives a ring position from an arbitrary byte string (a node's
// "host:port" identity, or a client key).
func HashKey(key []byte) Hash {
	sum := md5.Sum(key)
	return Hash{
		Hi: binary.BigEndian.Uint64(sum[0:8]),
		Lo: binary.BigEndian.Uint64(sum[8:16]),
	}
}

// Cmp returns -1, 0, or 1 comparing h to other, treating both halves as
// unsigned 64-bit integers.
func (h Hash) Cmp(other Hash) int {
	if h.Hi != other.Hi {
		if h.Hi < other.Hi {
			return -1
		}
		return 1
	}
	switch {
	case h.Lo < other.Lo:
		return -1
	case h.Lo > other.Lo:
		return 1
	default:
		return 0
	}
}

func (h Hash) Less(other Hash) bool {
	return h.Cmp(other) < 0
}

func (h Hash) String() string {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], h.Hi)
	binary.BigEndian.PutUint64(buf[8:16], h.Lo)
	return string(hexDigits(buf))
}

var hexAlphabet = "0123456789abcdef"

func hexDigits(b []byte) []byte {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexAlphabet[c>>4]
		out[i*2+1] = hexAlphabet[c&0x0f]
	}
	return out
}
