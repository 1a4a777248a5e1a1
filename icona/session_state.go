package icona

import "sync/atomic"

// SessionState is the lifecycle state of a client session.
//
//	Disconnected -> Connected -> Authenticated -> Closed
//
// Closed is terminal. A fatal transport error does not change the state, it is tracked separately by
// the client until the session is shut down.
type SessionState uint32

const (
	SessionDisconnected SessionState = iota
	SessionConnected
	SessionAuthenticated
	SessionClosed
)

// String returns string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnected:
		return "connected"
	case SessionAuthenticated:
		return "authenticated"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AtomicSessionState holds a SessionState that can be transitioned concurrently.
type AtomicSessionState struct {
	state atomic.Uint32
}

// Get returns the current state.
func (st *AtomicSessionState) Get() SessionState {
	return SessionState(st.state.Load())
}

func (st *AtomicSessionState) String() string {
	return st.Get().String()
}

func (st *AtomicSessionState) IsClosed() bool {
	return st.Get() == SessionClosed
}

func (st *AtomicSessionState) IsAuthenticated() bool {
	return st.Get() == SessionAuthenticated
}

// IsConnected reports whether a transport is established, authenticated or not.
func (st *AtomicSessionState) IsConnected() bool {
	s := st.Get()
	return s == SessionConnected || s == SessionAuthenticated
}

// ToConnected transitions Disconnected to Connected.
func (st *AtomicSessionState) ToConnected() bool {
	return st.state.CompareAndSwap(uint32(SessionDisconnected), uint32(SessionConnected))
}

// ToAuthenticated transitions Connected to Authenticated, it is a no-op when already authenticated.
func (st *AtomicSessionState) ToAuthenticated() bool {
	if st.IsAuthenticated() {
		return true
	}

	return st.state.CompareAndSwap(uint32(SessionConnected), uint32(SessionAuthenticated))
}

// ToClosed transitions any state to Closed. It returns false if the state was already Closed.
func (st *AtomicSessionState) ToClosed() bool {
	return st.state.Swap(uint32(SessionClosed)) != uint32(SessionClosed)
}
