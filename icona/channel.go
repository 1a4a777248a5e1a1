package icona

import (
	"fmt"
	"sync"
)

// ChannelName is the symbolic name of a logical channel.
type ChannelName uint8

const (
	// ChannelAuth carries the access exchange.
	ChannelAuth ChannelName = iota
	// ChannelConfig carries configuration requests.
	ChannelConfig
	// ChannelControl carries door operations.
	ChannelControl
	// ChannelInfo carries server information requests.
	ChannelInfo
	// ChannelPush carries push notifications.
	ChannelPush

	channelCount
)

var channelWireNames = [channelCount]string{"UAUT", "UCFG", "CTPP", "INFO", "PUSH"}

// Channel type codes sent in open-channel commands. CONFIG and PUSH share a code on the device side.
var channelTypeIDs = [channelCount]uint16{7, 2, 16, 20, 2}

// Valid reports whether n is a known channel.
func (n ChannelName) Valid() bool { return n < channelCount }

// Wire returns the channel name sent on the wire.
func (n ChannelName) Wire() string {
	if !n.Valid() {
		return ""
	}

	return channelWireNames[n]
}

// TypeID returns the fixed numeric channel type code.
func (n ChannelName) TypeID() uint16 {
	if !n.Valid() {
		return 0
	}

	return channelTypeIDs[n]
}

// String returns string representation of the channel name.
func (n ChannelName) String() string {
	switch n {
	case ChannelAuth:
		return "AUTH"
	case ChannelConfig:
		return "CONFIG"
	case ChannelControl:
		return "CONTROL"
	case ChannelInfo:
		return "INFO"
	case ChannelPush:
		return "PUSH"
	default:
		return "unknown"
	}
}

// ChannelState is the lifecycle state of a channel.
type ChannelState uint8

const (
	ChannelClosed ChannelState = iota
	ChannelOpening
	ChannelOpen
)

// String returns string representation of the channel state.
func (s ChannelState) String() string {
	switch s {
	case ChannelClosed:
		return "closed"
	case ChannelOpening:
		return "opening"
	case ChannelOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Channel is a snapshot of one channel tracked by the registry.
type Channel struct {
	Name  ChannelName
	State ChannelState
	// TypeID is the fixed channel type code.
	TypeID uint16
	// FrameID is the header request ID used by frames on this channel once it is open.
	FrameID uint16
	// Sequence is the per-channel command sequence counter.
	Sequence uint16
	// Scope is the apartment address a scoped channel was opened for.
	Scope string
}

// ChannelRegistry tracks the state and sequence counter of every channel of one session.
//
// Sequence numbers count commands per channel and are independent of request IDs.
// It is safe for concurrent use.
type ChannelRegistry struct {
	mu       sync.Mutex
	channels [channelCount]Channel
}

// NewChannelRegistry creates a registry with every channel closed.
func NewChannelRegistry() *ChannelRegistry {
	r := &ChannelRegistry{}
	r.Reset()

	return r
}

// Open moves a closed channel to the opening state and returns its type code.
// The sequence counter restarts at 1, the value carried by the open command.
func (r *ChannelRegistry) Open(name ChannelName, scope string) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.get(name)
	if err != nil {
		return 0, err
	}
	if ch.State != ChannelClosed {
		return 0, fmt.Errorf("%w: %s is %s", ErrChannelAlreadyOpen, name, ch.State)
	}

	ch.State = ChannelOpening
	ch.Sequence = 1
	ch.FrameID = 0
	ch.Scope = scope

	return ch.TypeID, nil
}

// Activate moves an opening channel to the open state.
//
// frameID is the header request ID of later frames on the channel and seq the sequence number
// reported by the device, zero keeps the local counter.
func (r *ChannelRegistry) Activate(name ChannelName, frameID uint16, seq uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.get(name)
	if err != nil {
		return err
	}
	if ch.State != ChannelOpening {
		return fmt.Errorf("%w: %s is %s", ErrChannelNotOpen, name, ch.State)
	}

	ch.State = ChannelOpen
	ch.FrameID = frameID
	if seq != 0 {
		ch.Sequence = seq
	}

	return nil
}

// Abort drops a channel whose open command failed.
func (r *ChannelRegistry) Abort(name ChannelName) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, err := r.get(name); err == nil && ch.State == ChannelOpening {
		r.reset(name)
	}
}

// Close moves an open channel to the closed state.
func (r *ChannelRegistry) Close(name ChannelName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.get(name)
	if err != nil {
		return err
	}
	if ch.State != ChannelOpen {
		return fmt.Errorf("%w: %s is %s", ErrChannelNotOpen, name, ch.State)
	}

	r.reset(name)

	return nil
}

// IsOpen reports whether the channel is open.
func (r *ChannelRegistry) IsOpen(name ChannelName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.get(name)
	return err == nil && ch.State == ChannelOpen
}

// NextSequence increments and returns the sequence counter of an open channel.
func (r *ChannelRegistry) NextSequence(name ChannelName) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.get(name)
	if err != nil {
		return 0, err
	}
	if ch.State != ChannelOpen {
		return 0, fmt.Errorf("%w: %s is %s", ErrChannelNotOpen, name, ch.State)
	}

	ch.Sequence++

	return ch.Sequence, nil
}

// Get returns a snapshot of the channel.
func (r *ChannelRegistry) Get(name ChannelName) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.get(name)
	if err != nil {
		return Channel{}, err
	}

	return *ch, nil
}

// OpenChannels returns snapshots of all open channels.
func (r *ChannelRegistry) OpenChannels() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Channel, 0, channelCount)
	for _, ch := range r.channels {
		if ch.State == ChannelOpen {
			result = append(result, ch)
		}
	}

	return result
}

// Reset closes every channel without sending anything.
func (r *ChannelRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := ChannelName(0); name < channelCount; name++ {
		r.reset(name)
	}
}

func (r *ChannelRegistry) get(name ChannelName) (*Channel, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, name)
	}

	return &r.channels[name], nil
}

func (r *ChannelRegistry) reset(name ChannelName) {
	r.channels[name] = Channel{
		Name:   name,
		State:  ChannelClosed,
		TypeID: name.TypeID(),
	}
}
