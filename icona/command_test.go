package icona

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeOpenChannel(t *testing.T) {
	require := require.New(t)

	body, err := EncodeOpenChannel(1, ChannelAuth, 0x1234, "")
	require.NoError(err)
	require.Equal([]byte{
		0xcd, 0xab, 0x01, 0x00,
		0x07, 0x00, 0x00, 0x00,
		'U', 'A', 'U', 'T', 0x00,
		0x34, 0x12,
		0x00,
	}, body)

	body, err = EncodeOpenChannel(1, ChannelControl, 5, "SB0000062")
	require.NoError(err)
	require.Equal([]byte{
		0xcd, 0xab, 0x01, 0x00,
		0x10, 0x00, 0x00, 0x00,
		'C', 'T', 'P', 'P', 0x00,
		0x05, 0x00,
		0x00,
		0x0a, 0x00, 0x00, 0x00,
		'S', 'B', '0', '0', '0', '0', '0', '6', '2', 0x00,
	}, body)
}

func TestEncodeOpenChannel_TypeCodes(t *testing.T) {
	tests := []struct {
		name   ChannelName
		wire   string
		typeID byte
	}{
		{ChannelAuth, "UAUT", 7},
		{ChannelConfig, "UCFG", 2},
		{ChannelControl, "CTPP", 16},
		{ChannelInfo, "INFO", 20},
		{ChannelPush, "PUSH", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name.String(), func(t *testing.T) {
			require := require.New(t)

			body, err := EncodeOpenChannel(1, tt.name, 1, "")
			require.NoError(err)
			require.Equal(tt.typeID, body[4])
			require.Equal(tt.wire, string(body[8:12]))
		})
	}
}

func TestEncodeOpenChannel_Invalid(t *testing.T) {
	require := require.New(t)

	_, err := EncodeOpenChannel(1, ChannelName(42), 1, "")
	require.ErrorIs(err, ErrUnknownChannel)

	_, err = EncodeOpenChannel(1, ChannelControl, 1, "SB\x00")
	require.ErrorIs(err, ErrInvalidActuator)

	_, err = EncodeOpenChannel(1, ChannelControl, 1, "SBè")
	require.ErrorIs(err, ErrInvalidActuator)
}

func TestEncodeCloseChannel(t *testing.T) {
	require.Equal(t, []byte{0xef, 0x01, 0x03, 0x00}, EncodeCloseChannel(3))
}

func TestDecodeChannelAck(t *testing.T) {
	require := require.New(t)

	ack, err := DecodeChannelAck([]byte{0xcd, 0xab, 0x02, 0x00})
	require.NoError(err)
	require.Equal(ChannelAck{Type: MsgOpenChannel, Sequence: 2}, ack)

	ack, err = DecodeChannelAck([]byte{0xcd, 0xab, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x40, 0x00})
	require.NoError(err)
	require.Equal(ChannelAck{Type: MsgOpenChannel, Sequence: 2, ChannelID: 0x4001}, ack)

	ack, err = DecodeChannelAck([]byte{0xef, 0x01, 0x04, 0x00})
	require.NoError(err)
	require.Equal(ChannelAck{Type: MsgCloseChannel, Sequence: 4}, ack)

	// too short for a channel ID
	ack, err = DecodeChannelAck([]byte{0xcd, 0xab, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01})
	require.NoError(err)
	require.Zero(ack.ChannelID)

	_, err = DecodeChannelAck([]byte{0xcd, 0xab, 0x02})
	require.ErrorIs(err, ErrProtocolDesync)

	_, err = DecodeChannelAck([]byte{0x00, 0x18, 0x02, 0x00})
	require.ErrorIs(err, ErrProtocolDesync)
}

func TestMessageType_String(t *testing.T) {
	require := require.New(t)

	require.Equal("open-channel", MsgOpenChannel.String())
	require.Equal("close-channel", MsgCloseChannel.String())
	require.Equal("door-init", MsgDoorInit.String())
	require.Equal("open-door", MsgOpenDoor.String())
	require.Equal("open-door-confirm", MsgOpenDoorConfirm.String())
	require.Equal("0x1234", MessageType(0x1234).String())
}
