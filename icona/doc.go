// Package icona provides the wire layer of the ICONA Bridge protocol used by Comelit intercom devices.
//
// The protocol multiplexes several logical channels over a single TCP connection. Every frame carries a
// fixed 8-byte header followed by a body which is either structured text (JSON, starting with '{') or a
// binary message whose first two bytes hold a little-endian message type tag.
//
// Frame Layout:
//
//	[0x00 0x06][body length u16 LE][request ID u16 LE][0x00 0x00][body ...]
//
// The package offers:
//   - Frame encoding and a streaming Decoder tolerant to arbitrary read boundaries.
//   - Binary channel commands (open/close) and the fixed door templates used for unlatching.
//   - Explicit structured-text request and response types.
//   - ChannelRegistry, which tracks the open/closed state and sequence counters per channel.
//   - RequestIDGenerator, which issues per-session request IDs.
//   - The error taxonomy shared with the bridge package.
package icona
