package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-icona/icona"
	"github.com/arloliu/go-icona/internal/task"
	"github.com/arloliu/go-icona/logger"
)

// Client is an ICONA Bridge client bound to one device.
//
// Operations are serialized, only one request is outstanding at a time. A single receiver task reads
// frames from the transport and hands them to the correlator, so replies never race the caller.
//
// A Client is used once: Connect, Authenticate, any number of configuration or actuation calls, then
// Shutdown. It does not reconnect, a new Client is needed after a fatal error or a shutdown.
type Client struct {
	cfg    *ClientConfig
	logger logger.Logger

	opMu       sync.Mutex // serialize operations
	state      icona.AtomicSessionState
	transport  atomic.Pointer[Transport]
	channels   *icona.ChannelRegistry
	idGen      *icona.RequestIDGenerator
	correlator *Correlator
	taskMgr    *task.Manager

	failMu  sync.RWMutex
	failErr error

	vip     atomic.Pointer[icona.VIP] // cached by the last configuration fetch
	metrics ClientMetrics
}

// NewClient creates a client with the given context and configuration.
//
// The context bounds the lifetime of the receiver task.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, ErrClientConfigNil
	}

	c := &Client{
		cfg:      cfg,
		logger:   cfg.logger,
		channels: icona.NewChannelRegistry(),
		idGen:    icona.NewRequestIDGenerator(),
		taskMgr:  task.NewManager(ctx, cfg.logger),
	}
	c.correlator = NewCorrelator(cfg.logger, &c.metrics)

	return c, nil
}

// State returns the session state.
func (c *Client) State() icona.SessionState {
	return c.state.Get()
}

// Logger returns the logger of the client.
func (c *Client) Logger() logger.Logger {
	return c.logger
}

// Metrics returns the metrics of the client.
func (c *Client) Metrics() *ClientMetrics {
	return &c.metrics
}

// Err returns the fatal error that broke the session, nil while the session is healthy.
func (c *Client) Err() error {
	c.failMu.RLock()
	defer c.failMu.RUnlock()

	return c.failErr
}

// Connect opens the TCP connection to the device and starts the receiver task.
//
// It is a no-op when the client is already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.state.IsClosed() {
		return icona.ErrSessionShutdown
	}
	if c.state.IsConnected() {
		return nil
	}

	t, err := DialTransport(ctx, c.cfg.host, c.cfg.port, c.cfg.connectTimeout, c.cfg.writeTimeout, c.logger)
	if err != nil {
		c.logger.Error("failed to connect", "method", "Connect", "host", c.cfg.host, "port", c.cfg.port, "error", err)
		return err
	}

	c.channels.Reset()
	c.transport.Store(t)

	if !c.state.ToConnected() {
		// shut down while dialing
		t.Shutdown()
		return icona.ErrSessionShutdown
	}

	if err := c.taskMgr.Start("receiverTask", c.receiverTask, nil); err != nil {
		c.fail(fmt.Errorf("%w: %v", icona.ErrConnectionClosed, err))
		return err
	}

	c.logger.Info("connected to the device", "method", "Connect", "remote_addr", t.RemoteAddr().String())

	return nil
}

// Authenticate sends the access request with token on the AUTH channel.
//
// It returns the response code as data, a rejected token is not an error. Use AuthStatus.Err to
// turn a rejection into an error. When the device doesn't answer, it returns icona.ErrResponseTimeout.
func (c *Client) Authenticate(token string) (icona.AuthStatus, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.checkUsable(false); err != nil {
		return 0, err
	}

	body, err := icona.EncodeRequest(icona.NewAccessRequest(token))
	if err != nil {
		return 0, err
	}

	rsp, err := c.channelRequest(icona.ChannelAuth, body)
	if err != nil {
		return 0, err
	}

	status, err := icona.DecodeAccessResponse(rsp.Body)
	if err != nil {
		c.fail(err)
		return 0, err
	}

	if status.IsAccepted() {
		c.state.ToAuthenticated()
		c.logger.Info("authenticated", "method", "Authenticate")
	} else {
		c.logger.Warn("authentication rejected", "method", "Authenticate", "response_code", int(status))
	}

	return status, nil
}

// FetchConfiguration requests the device configuration on the CONFIG channel.
//
// The VIP block of the result is cached and used to address later door sequences.
func (c *Client) FetchConfiguration() (*icona.Configuration, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.fetchConfiguration()
}

// ListActuators returns the open-door address book of the device, in device order.
//
// A configuration without a VIP block yields an empty list.
func (c *Client) ListActuators() ([]icona.Actuator, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	cfg, err := c.fetchConfiguration()
	if err != nil {
		return nil, err
	}

	return cfg.Actuators(), nil
}

// Shutdown closes the session. It is idempotent.
//
// Close commands for open channels are sent without waiting for their acknowledgements, then the
// receiver task stops and the connection closes. Waits in progress fail with icona.ErrConnectionClosed,
// later operations fail with icona.ErrSessionShutdown.
func (c *Client) Shutdown() {
	if !c.state.ToClosed() {
		return
	}

	t := c.transport.Load()
	if t != nil && t.Err() == nil && c.Err() == nil {
		for _, ch := range c.channels.OpenChannels() {
			frame := icona.NewFrame(icona.ControlRequestID, icona.EncodeCloseChannel(ch.Sequence+1))
			if err := t.SendFrame(frame); err != nil {
				c.logger.Debug("failed to send close command", "method", "Shutdown", "channel", ch.Name, "error", err)
				break
			}
			c.metrics.incFrameSendCount()
		}
	}
	c.channels.Reset()

	c.taskMgr.Stop()
	if t != nil {
		t.Shutdown()
	}
	c.correlator.FailAll(icona.ErrConnectionClosed)
	c.taskMgr.Wait()

	c.logger.Info("session shut down", "method", "Shutdown")
}

func (c *Client) fetchConfiguration() (*icona.Configuration, error) {
	if err := c.checkUsable(true); err != nil {
		return nil, err
	}

	body, err := icona.EncodeRequest(icona.NewConfigurationRequest(icona.AddressBooksAll))
	if err != nil {
		return nil, err
	}

	rsp, err := c.channelRequest(icona.ChannelConfig, body)
	if err != nil {
		return nil, err
	}

	cfg, err := icona.DecodeConfiguration(rsp.Body)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	if cfg.VIP != nil {
		c.vip.Store(cfg.VIP)
	}
	c.logger.Debug("configuration fetched", "method", "FetchConfiguration", "actuators", len(cfg.Actuators()))

	return cfg, nil
}

// channelRequest opens name, sends one structured-text request on it, waits for the reply and
// closes the channel again, whatever the reply.
func (c *Client) channelRequest(name icona.ChannelName, body []byte) (icona.Frame, error) {
	ch, err := c.openChannel(name, "", false)
	if err != nil {
		return icona.Frame{}, err
	}

	rsp, reqErr := c.request(icona.NewFrame(ch.FrameID, body), ch.FrameID, c.cfg.responseTimeout)
	if icona.IsFatal(reqErr) {
		return icona.Frame{}, reqErr
	}

	if err := c.closeChannel(name); err != nil {
		return icona.Frame{}, err
	}

	return rsp, reqErr
}

// openChannel opens name on the device and returns the open channel.
//
// When tolerateNoAck is true a missing acknowledgement is logged and the channel is used with the
// local request ID, some firmware versions never acknowledge the control channel.
func (c *Client) openChannel(name icona.ChannelName, scope string, tolerateNoAck bool) (icona.Channel, error) {
	if _, err := c.channels.Open(name, scope); err != nil {
		return icona.Channel{}, err
	}

	reqID := c.idGen.Next()
	body, err := icona.EncodeOpenChannel(1, name, reqID, scope)
	if err != nil {
		c.channels.Abort(name)
		return icona.Channel{}, err
	}

	// a stale close ack may share the control request ID, so allow one extra frame
	w, err := c.correlator.Submit(icona.ControlRequestID, 2)
	if err != nil {
		c.channels.Abort(name)
		return icona.Channel{}, err
	}
	defer c.correlator.Cancel(w)

	if err := c.send(icona.NewFrame(icona.ControlRequestID, body)); err != nil {
		c.channels.Abort(name)
		return icona.Channel{}, err
	}

	frameID, seq := reqID, uint16(0)
	ack, err := c.awaitOpenAck(w)
	switch {
	case err == nil:
		if ack.ChannelID != 0 {
			frameID = ack.ChannelID
		}
		seq = ack.Sequence
	case tolerateNoAck && errors.Is(err, icona.ErrResponseTimeout):
		c.logger.Warn("no acknowledgement for channel open, continue with local id",
			"method", "openChannel", "channel", name, "request_id", reqID)
	default:
		c.channels.Abort(name)
		return icona.Channel{}, err
	}

	if err := c.channels.Activate(name, frameID, seq); err != nil {
		return icona.Channel{}, err
	}

	c.logger.Debug("channel opened", "method", "openChannel", "channel", name, "frame_id", frameID, "scope", scope)

	return c.channels.Get(name)
}

func (c *Client) awaitOpenAck(w *Waiter) (icona.ChannelAck, error) {
	for range 2 {
		rsp, err := c.await(w, c.cfg.responseTimeout)
		if err != nil {
			return icona.ChannelAck{}, err
		}

		ack, err := icona.DecodeChannelAck(rsp.Body)
		if err != nil {
			c.fail(err)
			return icona.ChannelAck{}, err
		}
		if ack.Type == icona.MsgOpenChannel {
			return ack, nil
		}

		c.logger.Debug("skip late close acknowledgement", "method", "openChannel", "sequence", ack.Sequence)
	}

	return icona.ChannelAck{}, icona.ErrResponseTimeout
}

// closeChannel sends the close command for name and waits for the acknowledgement.
//
// The channel is forgotten locally whatever the device answers. Only fatal errors are returned.
func (c *Client) closeChannel(name icona.ChannelName) error {
	seq, err := c.channels.NextSequence(name)
	if err != nil {
		return nil //nolint:nilerr
	}
	_ = c.channels.Close(name)

	rsp, err := c.request(icona.NewFrame(icona.ControlRequestID, icona.EncodeCloseChannel(seq)),
		icona.ControlRequestID, c.cfg.closeTimeout)
	if err != nil {
		if icona.IsFatal(err) {
			return err
		}
		c.logger.Debug("channel closed without acknowledgement", "method", "closeChannel", "channel", name, "error", err)

		return nil
	}

	if ack, err := icona.DecodeChannelAck(rsp.Body); err != nil || ack.Type != icona.MsgCloseChannel {
		c.logger.Debug("unexpected close acknowledgement", "method", "closeChannel", "channel", name, "frame", rsp.String())
	}

	return nil
}

// request sends frame and waits for one frame carrying replyID.
func (c *Client) request(frame icona.Frame, replyID uint16, timeout time.Duration) (icona.Frame, error) {
	w, err := c.correlator.Submit(replyID, 1)
	if err != nil {
		return icona.Frame{}, err
	}

	if err := c.send(frame); err != nil {
		c.correlator.Cancel(w)
		return icona.Frame{}, err
	}

	return c.await(w, timeout)
}

func (c *Client) await(w *Waiter, timeout time.Duration) (icona.Frame, error) {
	rsp, err := c.correlator.Await(w, timeout)
	if errors.Is(err, icona.ErrResponseTimeout) {
		c.metrics.incResponseTimeoutCount()
		c.logger.Debug("response timeout", "method", "await", "request_id", w.ID(), "timeout", timeout)
	}

	return rsp, err
}

func (c *Client) send(frame icona.Frame) error {
	t := c.transport.Load()
	if t == nil {
		return icona.ErrNotConnected
	}

	if err := t.SendFrame(frame); err != nil {
		if icona.IsFatal(err) {
			c.fail(err)
		}

		return err
	}

	c.metrics.incFrameSendCount()
	c.logger.Debug("frame sent", "method", "send", "frame", frame.String())

	return nil
}

// receiverTask runs one receive iteration, it returns false once the transport failed.
func (c *Client) receiverTask() bool {
	t := c.transport.Load()
	if t == nil {
		return false
	}

	frame, err := t.ReceiveFrame(c.cfg.pollInterval)
	if err != nil {
		if errors.Is(err, icona.ErrResponseTimeout) {
			return true
		}
		c.fail(err)

		return false
	}

	c.metrics.incFrameRecvCount()
	c.logger.Debug("frame received", "method", "receiverTask", "frame", frame.String())
	c.correlator.Resolve(frame)

	return true
}

// fail records err as the fatal cause of the session and aborts every wait.
func (c *Client) fail(err error) {
	if c.state.IsClosed() {
		return
	}

	c.failMu.Lock()
	first := c.failErr == nil
	if first {
		c.failErr = err
	}
	c.failMu.Unlock()

	if !first {
		return
	}

	c.logger.Error("session failed", "method", "fail", "error", err)
	if t := c.transport.Load(); t != nil {
		_ = t.setFatal(err)
	}
	c.correlator.FailAll(err)
}

func (c *Client) checkUsable(requireAuth bool) error {
	if c.state.IsClosed() {
		return icona.ErrSessionShutdown
	}
	if err := c.Err(); err != nil {
		return err
	}
	if !c.state.IsConnected() {
		return icona.ErrNotConnected
	}
	if requireAuth && !c.state.IsAuthenticated() {
		return icona.ErrNotAuthenticated
	}

	return nil
}
