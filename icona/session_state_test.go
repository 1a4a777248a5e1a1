package icona

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicSessionState(t *testing.T) {
	require := require.New(t)

	var st AtomicSessionState
	require.Equal(SessionDisconnected, st.Get())
	require.False(st.IsConnected())

	// authentication requires a connection
	require.False(st.ToAuthenticated())

	require.True(st.ToConnected())
	require.True(st.IsConnected())
	require.False(st.IsAuthenticated())
	require.False(st.ToConnected())

	require.True(st.ToAuthenticated())
	require.True(st.ToAuthenticated())
	require.True(st.IsAuthenticated())
	require.True(st.IsConnected())
	require.Equal("authenticated", st.String())

	require.True(st.ToClosed())
	require.False(st.ToClosed())
	require.True(st.IsClosed())
	require.False(st.IsConnected())
	require.False(st.ToConnected())
	require.False(st.ToAuthenticated())
	require.Equal("closed", st.String())
}

func TestSessionState_String(t *testing.T) {
	require := require.New(t)

	require.Equal("disconnected", SessionDisconnected.String())
	require.Equal("connected", SessionConnected.String())
	require.Equal("authenticated", SessionAuthenticated.String())
	require.Equal("closed", SessionClosed.String())
	require.Equal("unknown", SessionState(9).String())
}
