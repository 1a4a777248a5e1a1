package icona

import "errors"

// compactThreshold is the number of consumed bytes after which the buffer is compacted.
const compactThreshold = 4096

// Decoder accumulates bytes read from the transport and yields complete frames.
//
// The transport delivers arbitrary chunk boundaries, so a frame may arrive split over many reads or
// several frames may arrive in one read. Once a malformed header is seen the decoder stays broken,
// the stream can't be resynchronized.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	buf    []byte
	pos    int
	broken error
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 512)}
}

// Feed appends p to the internal buffer.
func (d *Decoder) Feed(p []byte) {
	if d.pos > compactThreshold && d.pos > len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.pos = 0
	}
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame.
//
// It returns ErrNeedMoreData when no complete frame is buffered, and ErrMalformedHeader (sticky)
// when the stream is out of sync.
func (d *Decoder) Next() (Frame, error) {
	if d.broken != nil {
		return Frame{}, d.broken
	}

	frame, n, err := DecodeFrame(d.buf[d.pos:])
	if err != nil {
		if errors.Is(err, ErrMalformedHeader) {
			d.broken = err
		}

		return Frame{}, err
	}

	d.pos += n
	if d.pos == len(d.buf) {
		d.buf = d.buf[:0]
		d.pos = 0
	}

	return frame, nil
}

// Buffered returns the number of bytes received but not yet decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.pos
}

// Reset drops all buffered bytes and clears the broken state.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.pos = 0
	d.broken = nil
}
