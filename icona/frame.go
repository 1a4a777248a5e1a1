package icona

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// HeaderSize is the size of the frame header in bytes.
	HeaderSize = 8
	// MaxBodySize is the largest body the 16-bit length field can describe.
	MaxBodySize = math.MaxUint16
	// DefaultPort is the TCP port the ICONA Bridge service listens on.
	DefaultPort = 64100
)

// Magic holds the two bytes every frame starts with.
var Magic = [2]byte{0x00, 0x06}

// Frame is one wire-level unit: the fixed header plus a length-prefixed body.
//
// The body length is not stored, it always equals len(Body).
type Frame struct {
	RequestID uint16
	Body      []byte
}

// NewFrame creates a frame with the given request ID and body.
func NewFrame(requestID uint16, body []byte) Frame {
	return Frame{RequestID: requestID, Body: body}
}

// Len returns the body length in bytes.
func (f Frame) Len() int { return len(f.Body) }

// IsStructured reports whether the body is structured text (JSON).
func (f Frame) IsStructured() bool {
	return len(f.Body) > 0 && f.Body[0] == '{'
}

// MessageType returns the leading binary message type tag.
// It returns false when the body is structured text or shorter than two bytes.
func (f Frame) MessageType() (MessageType, bool) {
	if f.IsStructured() || len(f.Body) < 2 {
		return 0, false
	}

	return MessageType(binary.LittleEndian.Uint16(f.Body)), true
}

// ToBytes encodes the frame into its wire representation.
func (f Frame) ToBytes() ([]byte, error) {
	return EncodeFrame(f.RequestID, f.Body)
}

// String returns a short description of the frame, used in logs.
func (f Frame) String() string {
	if f.IsStructured() {
		return fmt.Sprintf("frame(id=%d, len=%d, text)", f.RequestID, len(f.Body))
	}
	if mt, ok := f.MessageType(); ok {
		return fmt.Sprintf("frame(id=%d, len=%d, type=%s)", f.RequestID, len(f.Body), mt)
	}

	return fmt.Sprintf("frame(id=%d, len=%d)", f.RequestID, len(f.Body))
}

// EncodeFrame produces [magic:2][bodyLength:2 LE][requestID:2 LE][pad:2][body].
func EncodeFrame(requestID uint16, body []byte) ([]byte, error) {
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: %d", ErrBodyTooLarge, len(body))
	}

	buf := make([]byte, HeaderSize+len(body))
	buf[0], buf[1] = Magic[0], Magic[1]
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(body))) //nolint:gosec
	binary.LittleEndian.PutUint16(buf[4:6], requestID)
	// buf[6:8] stays zero
	copy(buf[HeaderSize:], body)

	return buf, nil
}

// DecodeFrame decodes one frame from the beginning of data.
//
// It returns the frame and the number of bytes consumed. ErrNeedMoreData is returned when data holds
// an incomplete header or body, and ErrMalformedHeader when the magic bytes do not match.
// The returned body is a copy and does not alias data.
func DecodeFrame(data []byte) (Frame, int, error) {
	if err := checkMagic(data); err != nil {
		return Frame{}, 0, err
	}

	if len(data) < HeaderSize {
		return Frame{}, 0, ErrNeedMoreData
	}

	bodyLen := int(binary.LittleEndian.Uint16(data[2:4]))
	total := HeaderSize + bodyLen
	if len(data) < total {
		return Frame{}, 0, ErrNeedMoreData
	}

	body := make([]byte, bodyLen)
	copy(body, data[HeaderSize:total])

	return Frame{
		RequestID: binary.LittleEndian.Uint16(data[4:6]),
		Body:      body,
	}, total, nil
}

// checkMagic validates as many magic bytes as are available.
func checkMagic(data []byte) error {
	for i := 0; i < len(Magic) && i < len(data); i++ {
		if data[i] != Magic[i] {
			return fmt.Errorf("%w: got % x", ErrMalformedHeader, data[:min(len(data), len(Magic))])
		}
	}

	if len(data) < len(Magic) {
		return ErrNeedMoreData
	}

	return nil
}
