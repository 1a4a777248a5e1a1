package icona

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the leading 2-byte tag of a binary body.
type MessageType uint16

// Binary message types.
const (
	// MsgOpenChannel opens a channel, its acknowledgement echoes the tag.
	MsgOpenChannel MessageType = 0xabcd
	// MsgCloseChannel ends a channel.
	MsgCloseChannel MessageType = 0x01ef
	// MsgDoorInit initializes a door sequence on the control channel.
	MsgDoorInit MessageType = 0x18c0
	// MsgOpenDoor triggers the unlatch.
	MsgOpenDoor MessageType = 0x1800
	// MsgOpenDoorConfirm completes the unlatch.
	MsgOpenDoorConfirm MessageType = 0x1820
)

// String returns string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case MsgOpenChannel:
		return "open-channel"
	case MsgCloseChannel:
		return "close-channel"
	case MsgDoorInit:
		return "door-init"
	case MsgOpenDoor:
		return "open-door"
	case MsgOpenDoorConfirm:
		return "open-door-confirm"
	default:
		return fmt.Sprintf("0x%04x", uint16(t))
	}
}

// ControlRequestID is the header request ID of channel open/close commands and their acknowledgements.
const ControlRequestID uint16 = 0

// EncodeOpenChannel builds the body of an open-channel command.
//
// Layout: [0xabcd][seq u16][channel type u32][wire name NUL][requestID u16][NUL], followed by
// [len(scope)+1 u32][scope NUL] when scope is not empty.
// The frame carrying it must use ControlRequestID in its header.
func EncodeOpenChannel(seq uint16, name ChannelName, requestID uint16, scope string) ([]byte, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, name)
	}
	if err := validateASCII("scope", scope); err != nil {
		return nil, err
	}

	wire := name.Wire()
	size := 4 + 4 + len(wire) + 1 + 2 + 1
	if scope != "" {
		size += 4 + len(scope) + 1
	}

	body := make([]byte, 0, size)
	body = binary.LittleEndian.AppendUint16(body, uint16(MsgOpenChannel))
	body = binary.LittleEndian.AppendUint16(body, seq)
	body = binary.LittleEndian.AppendUint32(body, uint32(name.TypeID()))
	body = appendCString(body, wire)
	body = binary.LittleEndian.AppendUint16(body, requestID)
	body = append(body, 0x00)

	if scope != "" {
		body = binary.LittleEndian.AppendUint32(body, uint32(len(scope)+1)) //nolint:gosec
		body = appendCString(body, scope)
	}

	return body, nil
}

// EncodeCloseChannel builds the body of a close-channel command: [0x01ef][seq u16].
func EncodeCloseChannel(seq uint16) []byte {
	body := make([]byte, 0, 4)
	body = binary.LittleEndian.AppendUint16(body, uint16(MsgCloseChannel))
	body = binary.LittleEndian.AppendUint16(body, seq)

	return body
}

// ChannelAck is the device acknowledgement of an open or close command.
type ChannelAck struct {
	Type     MessageType
	Sequence uint16
	// ChannelID is the device-assigned channel ID, zero when the device didn't send one.
	ChannelID uint16
}

// DecodeChannelAck decodes a channel acknowledgement body.
//
// Layout: [type u16][seq u16], optionally followed by 4 bytes and the channel ID u16 at offset 8.
func DecodeChannelAck(body []byte) (ChannelAck, error) {
	if len(body) < 4 {
		return ChannelAck{}, desyncf("channel ack too short: %d bytes", len(body))
	}

	ack := ChannelAck{
		Type:     MessageType(binary.LittleEndian.Uint16(body[0:2])),
		Sequence: binary.LittleEndian.Uint16(body[2:4]),
	}
	if ack.Type != MsgOpenChannel && ack.Type != MsgCloseChannel {
		return ChannelAck{}, desyncf("unexpected channel ack type %s", ack.Type)
	}
	if len(body) >= 10 {
		ack.ChannelID = binary.LittleEndian.Uint16(body[8:10])
	}

	return ack, nil
}

func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0x00)
}

func validateASCII(field string, s string) error {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 || s[i] > 0x7e {
			return fmt.Errorf("%w: %s %q is not printable ASCII", ErrInvalidActuator, field, s)
		}
	}

	return nil
}
