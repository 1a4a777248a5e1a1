// Package devicesim provides a scripted ICONA Bridge device listening on the loopback interface.
//
// It answers channel opens and closes, access and get-configuration requests and door init
// messages, and records every frame it receives. Tests use it to drive the bridge client without
// hardware, the iconactl command uses it for its -simulate mode.
package devicesim

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/arloliu/go-icona/icona"
	"github.com/arloliu/go-icona/logger"
)

// DefaultToken is the token accepted by a device created with a zero Config.Token.
const DefaultToken = "9943a85362467c53586e3553d34f8a8d"

// DefaultConfiguration is the configuration returned when Config.Configuration is empty.
const DefaultConfiguration = `{
	"vip": {
		"apt-address": "SB000006",
		"apt-subaddress": 2,
		"user-parameters": {
			"opendoor-address-book": [
				{"name": "Front Door", "apt-address": "SB100001", "output-index": "1"},
				{"name": "Garage", "apt-address": "SB100001", "output-index": 2}
			]
		}
	}
}`

// Config scripts the device behaviour.
type Config struct {
	// Token is the accepted user token. Other tokens get response code 401.
	Token string
	// Configuration is the JSON object returned for get-configuration, "message-type" is added.
	Configuration string
	// AssignChannelIDs makes open acknowledgements carry a device-assigned channel ID.
	AssignChannelIDs bool
	// SilentChannels lists wire channel names whose open command is never acknowledged.
	SilentChannels []string
	// SilentRequests disables the replies to structured-text requests.
	SilentRequests bool
	// InitReplies is the number of replies sent for each channel-init or door-init message.
	InitReplies int
	// Logger receives debug output, logger.GetLogger() when nil.
	Logger logger.Logger
}

// Device is a running simulated device.
type Device struct {
	cfg      Config
	listener net.Listener
	logger   logger.Logger

	mu       sync.Mutex // protect conns, frames and nextChID
	conns    map[net.Conn]struct{}
	frames   []icona.Frame
	nextChID uint16

	wg sync.WaitGroup
}

// Start listens on 127.0.0.1 with a random port and serves connections until Close.
func Start(cfg Config) (*Device, error) {
	if cfg.Token == "" {
		cfg.Token = DefaultToken
	}
	if cfg.Configuration == "" {
		cfg.Configuration = DefaultConfiguration
	}
	if !json.Valid([]byte(cfg.Configuration)) {
		return nil, errors.New("devicesim: configuration is not valid JSON")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	d := &Device{
		cfg:      cfg,
		listener: l,
		logger:   cfg.Logger.With("component", "devicesim"),
		conns:    make(map[net.Conn]struct{}),
		nextChID: 0x4000,
	}

	d.wg.Add(1)
	go d.acceptLoop()

	return d, nil
}

// Host returns the listening host.
func (d *Device) Host() string {
	host, _, _ := net.SplitHostPort(d.listener.Addr().String())
	return host
}

// Port returns the listening port.
func (d *Device) Port() int {
	_, port, _ := net.SplitHostPort(d.listener.Addr().String())
	p, _ := strconv.Atoi(port)

	return p
}

// Frames returns a copy of every frame received so far, in arrival order.
func (d *Device) Frames() []icona.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := make([]icona.Frame, len(d.frames))
	copy(result, d.frames)

	return result
}

// BinaryTypes returns the message type of every binary frame received so far, in arrival order.
func (d *Device) BinaryTypes() []icona.MessageType {
	frames := d.Frames()
	result := make([]icona.MessageType, 0, len(frames))
	for _, f := range frames {
		if mt, ok := f.MessageType(); ok {
			result = append(result, mt)
		}
	}

	return result
}

// Connections returns the number of connected clients.
func (d *Device) Connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.conns)
}

// SendRaw writes b to every connected client.
func (d *Device) SendRaw(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for conn := range d.conns {
		_, _ = conn.Write(b)
	}
}

// DropConnections closes every client connection and keeps listening.
func (d *Device) DropConnections() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for conn := range d.conns {
		_ = conn.Close()
	}
}

// Close stops listening, drops every connection and waits for the handlers to exit.
func (d *Device) Close() {
	_ = d.listener.Close()
	d.DropConnections()
	d.wg.Wait()
}

func (d *Device) acceptLoop() {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}

		d.mu.Lock()
		d.conns[conn] = struct{}{}
		d.mu.Unlock()

		d.wg.Add(1)
		go d.serve(conn)
	}
}

func (d *Device) serve(conn net.Conn) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
		_ = conn.Close()
	}()

	dec := icona.NewDecoder()
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		dec.Feed(buf[:n])

		for {
			frame, err := dec.Next()
			if errors.Is(err, icona.ErrNeedMoreData) {
				break
			}
			if err != nil {
				d.logger.Debug("drop client with broken stream", "error", err)
				return
			}

			d.mu.Lock()
			d.frames = append(d.frames, frame)
			d.mu.Unlock()

			for _, rsp := range d.reply(frame) {
				b, err := rsp.ToBytes()
				if err != nil {
					return
				}
				if _, err := conn.Write(b); err != nil {
					return
				}
			}
		}
	}
}

func (d *Device) reply(frame icona.Frame) []icona.Frame {
	if frame.IsStructured() {
		return d.replyRequest(frame)
	}

	mt, ok := frame.MessageType()
	if !ok || len(frame.Body) < 4 {
		return nil
	}
	seq := binary.LittleEndian.Uint16(frame.Body[2:4])

	switch mt {
	case icona.MsgOpenChannel:
		return d.replyOpen(frame)

	case icona.MsgCloseChannel:
		body := binary.LittleEndian.AppendUint16(nil, uint16(icona.MsgCloseChannel))
		body = binary.LittleEndian.AppendUint16(body, seq+1)

		return []icona.Frame{icona.NewFrame(icona.ControlRequestID, body)}

	case icona.MsgDoorInit:
		result := make([]icona.Frame, 0, d.cfg.InitReplies)
		for i := range d.cfg.InitReplies {
			body := binary.LittleEndian.AppendUint16(nil, uint16(icona.MsgDoorInit))
			body = binary.LittleEndian.AppendUint16(body, uint16(i)) //nolint:gosec
			result = append(result, icona.NewFrame(frame.RequestID, body))
		}

		return result

	default:
		return nil
	}
}

// replyOpen acknowledges an open-channel command: [0xabcd][0x0002], optionally followed by four
// zero bytes and the assigned channel ID.
func (d *Device) replyOpen(frame icona.Frame) []icona.Frame {
	name := openChannelName(frame.Body)
	for _, silent := range d.cfg.SilentChannels {
		if silent == name {
			return nil
		}
	}

	body := binary.LittleEndian.AppendUint16(nil, uint16(icona.MsgOpenChannel))
	body = binary.LittleEndian.AppendUint16(body, 2)
	if d.cfg.AssignChannelIDs {
		d.mu.Lock()
		d.nextChID++
		id := d.nextChID
		d.mu.Unlock()

		body = append(body, 0x00, 0x00, 0x00, 0x00)
		body = binary.LittleEndian.AppendUint16(body, id)
	}

	return []icona.Frame{icona.NewFrame(icona.ControlRequestID, body)}
}

func (d *Device) replyRequest(frame icona.Frame) []icona.Frame {
	if d.cfg.SilentRequests {
		return nil
	}

	var req struct {
		Message   string `json:"message"`
		UserToken string `json:"user-token"`
	}
	if err := json.Unmarshal(frame.Body, &req); err != nil {
		return nil
	}

	var rsp map[string]any
	switch req.Message {
	case icona.MessageAccess:
		code := 200
		if req.UserToken != d.cfg.Token {
			code = 401
		}
		rsp = map[string]any{"response-code": code}

	case icona.MessageGetConfiguration:
		if err := json.Unmarshal([]byte(d.cfg.Configuration), &rsp); err != nil {
			return nil
		}

	default:
		return nil
	}

	rsp["message"] = req.Message
	rsp["message-type"] = icona.MessageTypeResponse

	body, err := json.Marshal(rsp)
	if err != nil {
		return nil
	}

	return []icona.Frame{icona.NewFrame(frame.RequestID, body)}
}

// openChannelName extracts the wire channel name of an open-channel body.
func openChannelName(body []byte) string {
	const nameOffset = 8
	if len(body) <= nameOffset {
		return ""
	}

	for i := nameOffset; i < len(body); i++ {
		if body[i] == 0x00 {
			return string(body[nameOffset:i])
		}
	}

	return ""
}
