package devicesim

import (
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/arloliu/go-icona/icona"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, d *Device) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", net.JoinHostPort(d.Host(), strconv.Itoa(d.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func exchange(t *testing.T, conn net.Conn, dec *icona.Decoder, frame icona.Frame) icona.Frame {
	t.Helper()

	b, err := frame.ToBytes()
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)

	return readFrame(t, conn, dec)
}

func readFrame(t *testing.T, conn net.Conn, dec *icona.Decoder) icona.Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	for {
		frame, err := dec.Next()
		if err == nil {
			return frame
		}
		require.ErrorIs(t, err, icona.ErrNeedMoreData)

		n, err := conn.Read(buf)
		require.NoError(t, err)
		dec.Feed(buf[:n])
	}
}

func TestDevice_OpenAndRequest(t *testing.T) {
	require := require.New(t)

	d, err := Start(Config{AssignChannelIDs: true, InitReplies: 2})
	require.NoError(err)
	defer d.Close()

	conn := dial(t, d)
	dec := icona.NewDecoder()

	body, err := icona.EncodeOpenChannel(1, icona.ChannelAuth, 55, "")
	require.NoError(err)

	ackFrame := exchange(t, conn, dec, icona.NewFrame(icona.ControlRequestID, body))
	require.Equal(icona.ControlRequestID, ackFrame.RequestID)
	ack, err := icona.DecodeChannelAck(ackFrame.Body)
	require.NoError(err)
	require.Equal(icona.MsgOpenChannel, ack.Type)
	require.Equal(uint16(2), ack.Sequence)
	require.Equal(uint16(0x4001), ack.ChannelID)

	req, err := icona.EncodeRequest(icona.NewAccessRequest(DefaultToken))
	require.NoError(err)
	rsp := exchange(t, conn, dec, icona.NewFrame(ack.ChannelID, req))
	require.Equal(ack.ChannelID, rsp.RequestID)
	status, err := icona.DecodeAccessResponse(rsp.Body)
	require.NoError(err)
	require.Equal(icona.StatusOK, status)

	closeAck := exchange(t, conn, dec, icona.NewFrame(icona.ControlRequestID, icona.EncodeCloseChannel(3)))
	require.Equal([]byte{0xef, 0x01, 0x04, 0x00}, closeAck.Body)

	initBody := icona.EncodeDoorInit(icona.DoorTarget{VIPAddress: "SB1", DoorAddress: "SB2", OutputIndex: 1})
	first := exchange(t, conn, dec, icona.NewFrame(0x4002, initBody))
	second := readFrame(t, conn, dec)
	require.Equal(uint16(0x4002), first.RequestID)
	require.Equal(uint16(0x4002), second.RequestID)
	require.Equal(uint16(1), binary.LittleEndian.Uint16(second.Body[2:4]))

	require.Equal([]icona.MessageType{icona.MsgOpenChannel, icona.MsgCloseChannel, icona.MsgDoorInit}, d.BinaryTypes())
	require.Len(d.Frames(), 4)
	require.Equal(1, d.Connections())
}

func TestDevice_SilentChannel(t *testing.T) {
	require := require.New(t)

	d, err := Start(Config{SilentChannels: []string{"CTPP"}})
	require.NoError(err)
	defer d.Close()

	conn := dial(t, d)

	body, err := icona.EncodeOpenChannel(1, icona.ChannelControl, 9, "SB1")
	require.NoError(err)
	b, err := icona.EncodeFrame(icona.ControlRequestID, body)
	require.NoError(err)
	_, err = conn.Write(b)
	require.NoError(err)

	require.Eventually(func() bool { return len(d.Frames()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)))
	_, err = conn.Read(make([]byte, 16))
	require.Error(err)
}

func TestDevice_RejectsUnknownToken(t *testing.T) {
	require := require.New(t)

	d, err := Start(Config{Token: "secret"})
	require.NoError(err)
	defer d.Close()

	conn := dial(t, d)
	dec := icona.NewDecoder()

	req, err := icona.EncodeRequest(icona.NewAccessRequest("guess"))
	require.NoError(err)
	rsp := exchange(t, conn, dec, icona.NewFrame(17, req))
	status, err := icona.DecodeAccessResponse(rsp.Body)
	require.NoError(err)
	require.Equal(icona.AuthStatus(401), status)
}

func TestStart_InvalidConfiguration(t *testing.T) {
	_, err := Start(Config{Configuration: "{"})
	require.Error(t, err)
}
