package icona

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
)

// RequestIDGenerator issues request IDs for one session.
//
// IDs increase monotonically and wrap at the uint16 boundary. Zero is skipped since it marks channel
// commands. The starting value is random so that consecutive sessions do not reuse IDs the device
// may still track.
type RequestIDGenerator struct {
	id atomic.Uint32
}

// NewRequestIDGenerator creates a generator with a random starting point.
func NewRequestIDGenerator() *RequestIDGenerator {
	gen := &RequestIDGenerator{}

	var buf [2]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err == nil {
		gen.id.Store(uint32(binary.LittleEndian.Uint16(buf[:])))
	}

	return gen
}

// NewRequestIDGeneratorFrom creates a generator whose first ID follows start.
func NewRequestIDGeneratorFrom(start uint16) *RequestIDGenerator {
	gen := &RequestIDGenerator{}
	gen.id.Store(uint32(start))

	return gen
}

// Next returns the next request ID, never zero.
func (g *RequestIDGenerator) Next() uint16 {
	for {
		id := uint16(g.id.Add(1)) //nolint:gosec
		if id != ControlRequestID {
			return id
		}
	}
}
