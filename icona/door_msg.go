package icona

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Fixed byte runs of the door templates. The device parses door messages by position, so the
// runs and the field order below must not change.
var (
	chanInitPrefix = []byte{0xc0, 0x18, 0x5c, 0x8b, 0x2b, 0x73, 0x00, 0x11, 0x00, 0x40, 0xac, 0x23}
	chanInitMiddle = []byte{0x10, 0x0e, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff}
	doorMsgFixed   = []byte{0x5c, 0x8b, 0x2c, 0x74, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff}
	doorInitPrefix = []byte{0xc0, 0x18, 0x70, 0xab, 0x29, 0x9f, 0x00, 0x0d, 0x00, 0x2d}
	wildcard       = []byte{0xff, 0xff, 0xff, 0xff}
)

// DoorTarget holds every field the door templates embed.
type DoorTarget struct {
	// VIPAddress is the apartment address of the intercom unit itself.
	VIPAddress string
	// VIPSubaddress is appended to VIPAddress to form the control channel scope.
	VIPSubaddress string
	// DoorAddress is the apartment address of the actuator.
	DoorAddress string
	// OutputIndex selects the relay on the actuator.
	OutputIndex uint8
}

// NewDoorTarget builds a DoorTarget for actuator a.
//
// vip is the configuration block of the intercom unit; when nil the actuator's apartment address
// stands in for the unit address.
func NewDoorTarget(vip *VIP, a Actuator) (DoorTarget, error) {
	idx, err := strconv.ParseUint(strings.TrimSpace(a.OutputIndex), 10, 8)
	if err != nil {
		return DoorTarget{}, fmt.Errorf("%w: output index %q", ErrInvalidActuator, a.OutputIndex)
	}

	t := DoorTarget{
		VIPAddress:  a.ApartmentAddress,
		DoorAddress: a.ApartmentAddress,
		OutputIndex: uint8(idx),
	}
	if vip != nil && vip.AptAddress != "" {
		t.VIPAddress = string(vip.AptAddress)
		t.VIPSubaddress = string(vip.AptSubaddress)
	}

	if t.DoorAddress == "" {
		return DoorTarget{}, fmt.Errorf("%w: empty apartment address", ErrInvalidActuator)
	}
	for field, v := range map[string]string{
		"vip address":    t.VIPAddress,
		"vip subaddress": t.VIPSubaddress,
		"door address":   t.DoorAddress,
	} {
		if err := validateASCII(field, v); err != nil {
			return DoorTarget{}, err
		}
	}

	return t, nil
}

// Scope returns the apartment address the control channel is opened for.
func (t DoorTarget) Scope() string {
	return t.VIPAddress + t.VIPSubaddress
}

func (t DoorTarget) outputAddress() string {
	return t.VIPAddress + strconv.Itoa(int(t.OutputIndex))
}

// EncodeChannelInit builds the door-init message sent once right after the control channel opens.
func EncodeChannelInit(t DoorTarget) []byte {
	scope := t.Scope()

	body := make([]byte, 0, len(chanInitPrefix)+len(chanInitMiddle)+2*len(scope)+len(t.VIPAddress)+4)
	body = append(body, chanInitPrefix...)
	body = appendCString(body, scope)
	body = append(body, chanInitMiddle...)
	body = appendCString(body, scope)
	body = appendCString(body, t.VIPAddress)

	return append(body, 0x00)
}

// EncodeDoorInit builds the door-init message addressing one output of the actuator.
func EncodeDoorInit(t DoorTarget) []byte {
	out := t.outputAddress()

	body := make([]byte, 0, len(doorInitPrefix)+2*len(t.DoorAddress)+len(out)+13)
	body = append(body, doorInitPrefix...)
	body = appendCString(body, t.DoorAddress)
	body = append(body, 0x00)
	body = append(body, t.OutputIndex, 0x00, 0x00, 0x00)
	body = append(body, wildcard...)
	body = appendCString(body, out)
	body = appendCString(body, t.DoorAddress)

	return append(body, 0x00)
}

// EncodeOpenDoor builds the open-door command, or the confirmation when confirm is true.
func EncodeOpenDoor(t DoorTarget, confirm bool) []byte {
	msgType := MsgOpenDoor
	if confirm {
		msgType = MsgOpenDoorConfirm
	}
	out := t.outputAddress()

	body := make([]byte, 0, 2+len(doorMsgFixed)+len(out)+len(t.DoorAddress)+3)
	body = binary.LittleEndian.AppendUint16(body, uint16(msgType))
	body = append(body, doorMsgFixed...)
	body = appendCString(body, out)
	body = appendCString(body, t.DoorAddress)

	return append(body, 0x00)
}
