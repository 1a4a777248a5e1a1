package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/arloliu/go-icona/icona"
	"github.com/arloliu/go-icona/logger"
)

const readBufferSize = 4096

// Transport owns the TCP connection of one session.
//
// SendFrame and ReceiveFrame may be called from different goroutines. Response timeouts are
// recoverable, any other I/O or framing error is recorded and returned by every later call.
type Transport struct {
	conn         net.Conn
	logger       logger.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex
	readMu  sync.Mutex // protect decoder and readBuf
	decoder *icona.Decoder
	readBuf []byte

	errMu    sync.Mutex
	fatalErr error
	closed   bool
}

// DialTransport connects to host:port within connectTimeout.
//
// It returns an error wrapping icona.ErrConnectionTimeout or icona.ErrConnectionRefused when the
// connect fails for those reasons.
func DialTransport(ctx context.Context, host string, port int, connectTimeout time.Duration, writeTimeout time.Duration, l logger.Logger) (*Transport, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		l.Debug("failed to dial to device", "address", address, "error", err)
		return nil, classifyDialError(address, err)
	}

	l.Debug("connected to the device",
		"local_addr", conn.LocalAddr().String(),
		"remote_addr", conn.RemoteAddr().String(),
		"method", "DialTransport",
	)

	return NewTransport(conn, writeTimeout, l), nil
}

// NewTransport wraps an established connection.
func NewTransport(conn net.Conn, writeTimeout time.Duration, l logger.Logger) *Transport {
	return &Transport{
		conn:         conn,
		logger:       l,
		writeTimeout: writeTimeout,
		decoder:      icona.NewDecoder(),
		readBuf:      make([]byte, readBufferSize),
	}
}

// SendFrame writes frame to the connection.
func (t *Transport) SendFrame(frame icona.Frame) error {
	buf, err := frame.ToBytes()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.Err(); err != nil {
		return err
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return t.setFatal(classifyIOError(err))
		}
	}

	if _, err := t.conn.Write(buf); err != nil {
		// a partial write leaves the peer out of sync, so even a write timeout is fatal
		return t.setFatal(classifyIOError(err))
	}

	return nil
}

// ReceiveFrame returns the next frame received within timeout.
//
// A zero timeout blocks until a frame arrives or the connection fails. When the timeout expires it
// returns icona.ErrResponseTimeout and keeps any partially received frame buffered.
func (t *Transport) ReceiveFrame(timeout time.Duration) (icona.Frame, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if err := t.Err(); err != nil {
		return icona.Frame{}, err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return icona.Frame{}, t.setFatal(classifyIOError(err))
	}

	for {
		frame, err := t.decoder.Next()
		if err == nil {
			return frame, nil
		}
		if !errors.Is(err, icona.ErrNeedMoreData) {
			t.logger.Error("frame stream out of sync", "method", "ReceiveFrame", "error", err)
			return icona.Frame{}, t.setFatal(err)
		}

		n, err := t.conn.Read(t.readBuf)
		if n > 0 {
			t.decoder.Feed(t.readBuf[:n])
		}
		if err == nil {
			continue
		}

		if isTimeout(err) {
			if n > 0 {
				continue
			}

			return icona.Frame{}, icona.ErrResponseTimeout
		}

		return icona.Frame{}, t.setFatal(classifyIOError(err))
	}
}

// Err returns the fatal error recorded by the transport, nil while it is usable.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()

	return t.fatalErr
}

// RemoteAddr returns the address of the device.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Shutdown closes the connection. It is idempotent and safe after a fatal error.
func (t *Transport) Shutdown() {
	t.errMu.Lock()
	if t.closed {
		t.errMu.Unlock()
		return
	}
	t.closed = true
	if t.fatalErr == nil {
		t.fatalErr = icona.ErrConnectionClosed
	}
	t.errMu.Unlock()

	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.logger.Debug("failed to close TCP connection", "method", "Shutdown", "error", err)
	}
}

// setFatal records err as the transport failure unless one is already recorded, and returns
// the recorded error.
func (t *Transport) setFatal(err error) error {
	t.errMu.Lock()
	defer t.errMu.Unlock()

	if t.fatalErr == nil {
		t.fatalErr = err
	}

	return t.fatalErr
}

func classifyDialError(address string, err error) error {
	switch {
	case isTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", icona.ErrConnectionTimeout, address)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %s", icona.ErrConnectionRefused, address)
	default:
		return fmt.Errorf("dial %s: %w", address, err)
	}
}

func classifyIOError(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrUnexpectedEOF):
		return icona.ErrConnectionClosed
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		strings.Contains(err.Error(), "connection reset by peer"):
		return fmt.Errorf("%w: %v", icona.ErrConnectionReset, err)
	default:
		return fmt.Errorf("%w: %v", icona.ErrConnectionClosed, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
