// Package rand generates the correlation ids attached to every request envelope.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	bytesInUint64 = 8
	charset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" // reduced base64
)

var (
	charsetLen = len(charset)
	// bytes at or above this value are rejected so every charset index is equally likely
	unbiasedMaxVal = byte((256 / charsetLen) * charsetLen)
)

var defaultSource = newSource()

func newSource() *source {
	seed := make([]byte, bytesInUint64*2)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("rand: crypto/rand unavailable: " + err.Error())
	}

	return &source{
		//nolint:gosec // ids only need to be unique, not secret
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

type source struct {
	mut sync.Mutex
	rng *rand.Rand
}

func (s *source) fill(buf []byte) {
	s.mut.Lock()
	defer s.mut.Unlock()

	var word [bytesInUint64]byte
	filled := 0
	for filled < len(buf) {
		binary.LittleEndian.PutUint64(word[:], s.rng.Uint64())
		for _, b := range word {
			if b >= unbiasedMaxVal {
				continue
			}
			buf[filled] = charset[int(b)%charsetLen]
			filled++
			if filled == len(buf) {
				return
			}
		}
	}
}

// NewRequestID returns a base62 id of the given length.
// It is safe for concurrent use.
func NewRequestID(length int) string {
	buf := make([]byte, length)
	defaultSource.fill(buf)
	return string(buf)
}
