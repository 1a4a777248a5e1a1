package icona

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMoreData indicates that the decoder needs more bytes before a frame can be produced.
	ErrNeedMoreData = errors.New("need more data")

	// ErrMalformedHeader indicates that the frame magic bytes do not match.
	// The byte stream is out of sync and the connection must be torn down.
	ErrMalformedHeader = errors.New("malformed frame header")

	// ErrBodyTooLarge indicates that a frame body does not fit the 16-bit length field.
	ErrBodyTooLarge = errors.New("frame body exceeds 65535 bytes")

	// ErrProtocolDesync indicates that a received message does not have the expected shape.
	ErrProtocolDesync = errors.New("protocol desync")
)

var (
	// ErrConnectionTimeout indicates that the TCP connection could not be established in time.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrConnectionRefused indicates that the device refused the TCP connection.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrConnectionReset indicates that the device reset the TCP connection.
	ErrConnectionReset = errors.New("connection reset")

	// ErrConnectionClosed indicates that the connection is closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrResponseTimeout indicates that no response arrived within the response timeout.
	// It does not affect the usability of the session.
	ErrResponseTimeout = errors.New("response timeout")
)

var (
	// ErrNotConnected indicates that an operation requires a connected session.
	ErrNotConnected = errors.New("not connected")

	// ErrNotAuthenticated indicates that an operation requires a successful authentication first.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionShutdown indicates that the session has been shut down and cannot be reused.
	ErrSessionShutdown = errors.New("session shut down")

	// ErrAuthenticationRejected indicates that the device rejected the user token.
	ErrAuthenticationRejected = errors.New("authentication rejected")

	// ErrInvalidActuator indicates that an actuator descriptor cannot be encoded into door messages.
	ErrInvalidActuator = errors.New("invalid actuator")
)

var (
	// ErrChannelAlreadyOpen indicates that a channel is opened while it is opening or open.
	ErrChannelAlreadyOpen = errors.New("channel already open")

	// ErrChannelNotOpen indicates that a channel is used or closed while it is not open.
	ErrChannelNotOpen = errors.New("channel not open")

	// ErrUnknownChannel indicates an out-of-range channel name.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrRequestInFlight indicates that a request ID already has an outstanding waiter.
	ErrRequestInFlight = errors.New("request already in flight")
)

// IsFatal reports whether err leaves the session unusable.
//
// Transport failures and framing or message desyncs are fatal, the caller has to shut the
// session down and connect again. Response timeouts and application-level errors are not.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnectionReset) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrProtocolDesync)
}

func desyncf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolDesync, fmt.Sprintf(format, args...))
}
