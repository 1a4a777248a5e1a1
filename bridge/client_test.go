package bridge

import (
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/arloliu/go-icona/icona"
	"github.com/arloliu/go-icona/internal/devicesim"
	"github.com/arloliu/go-icona/logger"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	logger.SetLevel(logger.ParseLevel(logLevel))

	os.Exit(m.Run())
}

var (
	testFrontDoor = icona.Actuator{Name: "Front Door", ApartmentAddress: "SB100001", OutputIndex: "1"}
	testGarage    = icona.Actuator{Name: "Garage", ApartmentAddress: "SB100001", OutputIndex: "2"}
)

func newTestDevice(t *testing.T, cfg devicesim.Config) *devicesim.Device {
	t.Helper()

	dev, err := devicesim.Start(cfg)
	require.NoError(t, err)
	t.Cleanup(dev.Close)

	return dev
}

func newTestClient(t *testing.T, dev *devicesim.Device, opts ...ClientOption) *Client {
	t.Helper()

	opts = append([]ClientOption{
		WithResponseTimeout(200 * time.Millisecond),
		WithCloseTimeout(200 * time.Millisecond),
		WithPollInterval(50 * time.Millisecond),
		WithConnectTimeout(time.Second),
	}, opts...)

	cfg, err := NewClientConfig(dev.Host(), dev.Port(), opts...)
	require.NoError(t, err)

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(client.Shutdown)

	return client
}

func connectAndAuth(t *testing.T, client *Client) {
	t.Helper()

	require.NoError(t, client.Connect(context.Background()))

	status, err := client.Authenticate(devicesim.DefaultToken)
	require.NoError(t, err)
	require.Equal(t, icona.StatusOK, status)
	require.Equal(t, icona.SessionAuthenticated, client.State())
}

// waitBinaryTypes waits until the device has received count binary frames and returns their types.
func waitBinaryTypes(t *testing.T, dev *devicesim.Device, count int) []icona.MessageType {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(dev.BinaryTypes()) >= count
	}, 2*time.Second, 5*time.Millisecond)

	return dev.BinaryTypes()
}

func waitConnected(t *testing.T, dev *devicesim.Device) {
	t.Helper()

	require.Eventually(t, func() bool {
		return dev.Connections() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func findOpenFrame(t *testing.T, dev *devicesim.Device, wire string) icona.Frame {
	t.Helper()

	for _, f := range dev.Frames() {
		if mt, ok := f.MessageType(); ok && mt == icona.MsgOpenChannel && len(f.Body) > 8+len(wire) &&
			string(f.Body[8:8+len(wire)]) == wire {
			return f
		}
	}
	require.Failf(t, "open frame not found", "channel %s", wire)

	return icona.Frame{}
}

func TestClient_ListActuators(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	doors, err := client.ListActuators()
	require.NoError(err)
	require.Equal([]icona.Actuator{testFrontDoor, testGarage}, doors)

	require.Equal([]icona.MessageType{
		icona.MsgOpenChannel, icona.MsgCloseChannel, // AUTH
		icona.MsgOpenChannel, icona.MsgCloseChannel, // CONFIG
	}, dev.BinaryTypes())

	// channel commands use request ID 0, structured-text requests the channel ID
	for _, f := range dev.Frames() {
		if f.IsStructured() {
			require.NotEqual(icona.ControlRequestID, f.RequestID)
		} else {
			require.Equal(icona.ControlRequestID, f.RequestID)
		}
	}

	metrics := client.Metrics()
	require.Equal(uint64(6), metrics.FrameSendCount.Load())
	require.Equal(uint64(6), metrics.FrameRecvCount.Load())
	require.Equal(uint64(0), metrics.FrameDiscardCount.Load())
}

func TestClient_FetchConfiguration(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	cfg, err := client.FetchConfiguration()
	require.NoError(err)
	require.NotNil(cfg.VIP)
	require.Equal(icona.Text("SB000006"), cfg.VIP.AptAddress)
	require.Equal(icona.Text("2"), cfg.VIP.AptSubaddress)
	require.Equal(icona.MessageTypeResponse, cfg.MessageType)
}

func TestClient_ListActuators_NoVIP(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{Configuration: `{"other": 1}`})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	doors, err := client.ListActuators()
	require.NoError(err)
	require.Empty(doors)
}

func TestClient_AuthenticationRejected(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev)
	require.NoError(client.Connect(context.Background()))

	status, err := client.Authenticate("bad-token")
	require.NoError(err)
	require.Equal(icona.AuthStatus(401), status)
	require.False(status.IsAccepted())
	require.ErrorIs(status.Err(), icona.ErrAuthenticationRejected)
	require.Equal(icona.SessionConnected, client.State())

	_, err = client.ListActuators()
	require.ErrorIs(err, icona.ErrNotAuthenticated)

	_, err = client.OpenActuator(testFrontDoor)
	require.ErrorIs(err, icona.ErrNotAuthenticated)

	// the channel was closed, a retry with the right token works
	status, err = client.Authenticate(devicesim.DefaultToken)
	require.NoError(err)
	require.Equal(icona.StatusOK, status)
}

func TestClient_AuthenticationTimeout(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{SilentRequests: true})
	client := newTestClient(t, dev)
	require.NoError(client.Connect(context.Background()))

	_, err := client.Authenticate(devicesim.DefaultToken)
	require.ErrorIs(err, icona.ErrResponseTimeout)
	require.False(icona.IsFatal(err))

	// the timeout doesn't break the session
	require.NoError(client.Err())
	require.Equal(icona.SessionConnected, client.State())
	require.Equal(uint64(1), client.Metrics().ResponseTimeoutCount.Load())

	// the AUTH channel was closed despite the timeout
	types := waitBinaryTypes(t, dev, 2)
	require.Equal([]icona.MessageType{icona.MsgOpenChannel, icona.MsgCloseChannel}, types)
}

func TestClient_NotConnected(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev)

	require.Equal(icona.SessionDisconnected, client.State())

	_, err := client.Authenticate(devicesim.DefaultToken)
	require.ErrorIs(err, icona.ErrNotConnected)

	_, err = client.ListActuators()
	require.ErrorIs(err, icona.ErrNotConnected)

	_, err = client.OpenActuator(testFrontDoor)
	require.ErrorIs(err, icona.ErrNotConnected)

	require.Empty(dev.Frames())
}

func TestClient_ConnectRefused(t *testing.T) {
	require := require.New(t)

	dev, err := devicesim.Start(devicesim.Config{})
	require.NoError(err)
	host, port := dev.Host(), dev.Port()
	dev.Close()

	cfg, err := NewClientConfig(host, port, WithConnectTimeout(time.Second))
	require.NoError(err)
	client, err := NewClient(context.Background(), cfg)
	require.NoError(err)
	defer client.Shutdown()

	require.ErrorIs(client.Connect(context.Background()), icona.ErrConnectionRefused)
	require.Equal(icona.SessionDisconnected, client.State())
}

func TestClient_OpenActuator_Acknowledged(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{InitReplies: 2})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	doors, err := client.ListActuators()
	require.NoError(err)

	outcome, err := client.OpenActuator(doors[0])
	require.NoError(err)
	require.Equal(icona.ActuationAcknowledged, outcome)

	types := waitBinaryTypes(t, dev, 11)
	require.Equal([]icona.MessageType{
		icona.MsgOpenChannel, icona.MsgCloseChannel,
		icona.MsgOpenChannel, icona.MsgCloseChannel,
		icona.MsgOpenChannel, // CONTROL
		icona.MsgDoorInit, icona.MsgOpenDoor, icona.MsgOpenDoorConfirm,
		icona.MsgDoorInit, icona.MsgOpenDoor, icona.MsgOpenDoorConfirm,
	}, types)

	// the control channel is scoped to the VIP address and sub-address
	open := findOpenFrame(t, dev, "CTPP")
	require.Contains(string(open.Body), "SB0000062\x00")

	// the channel stays open, a second door reuses it
	outcome, err = client.OpenActuator(doors[1])
	require.NoError(err)
	require.Equal(icona.ActuationAcknowledged, outcome)

	types = waitBinaryTypes(t, dev, 16)
	require.Equal([]icona.MessageType{
		icona.MsgOpenDoor, icona.MsgOpenDoorConfirm,
		icona.MsgDoorInit, icona.MsgOpenDoor, icona.MsgOpenDoorConfirm,
	}, types[11:])

	require.Equal(uint64(2), client.Metrics().ActuationCount.Load())
	require.Equal(uint64(0), client.Metrics().UnacknowledgedActuationCount.Load())
}

func TestClient_OpenActuator_Unacknowledged(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{SilentChannels: []string{"CTPP"}})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	_, err := client.ListActuators()
	require.NoError(err)

	outcome, err := client.OpenActuator(testFrontDoor)
	require.NoError(err)
	require.Equal(icona.ActuationUnacknowledged, outcome)
	require.NoError(client.Err())

	waitBinaryTypes(t, dev, 11)

	// without an acknowledgement the door frames use the local request ID
	open := findOpenFrame(t, dev, "CTPP")
	localID := binary.LittleEndian.Uint16(open.Body[13:15])
	doorFrames := 0
	for _, f := range dev.Frames() {
		mt, ok := f.MessageType()
		if ok && (mt == icona.MsgDoorInit || mt == icona.MsgOpenDoor || mt == icona.MsgOpenDoorConfirm) {
			require.Equal(localID, f.RequestID)
			doorFrames++
		}
	}
	require.Equal(6, doorFrames)

	require.Equal(uint64(1), client.Metrics().UnacknowledgedActuationCount.Load())
}

func TestClient_OpenActuator_AssignedChannelIDs(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{AssignChannelIDs: true, InitReplies: 1})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	_, err := client.ListActuators()
	require.NoError(err)

	outcome, err := client.OpenActuator(testGarage)
	require.NoError(err)
	require.Equal(icona.ActuationAcknowledged, outcome)

	waitBinaryTypes(t, dev, 11)

	// device IDs start at 0x4001: AUTH, CONFIG, CONTROL
	var ids []uint16
	for _, f := range dev.Frames() {
		if f.RequestID != icona.ControlRequestID && (len(ids) == 0 || ids[len(ids)-1] != f.RequestID) {
			ids = append(ids, f.RequestID)
		}
	}
	require.Equal([]uint16{0x4001, 0x4002, 0x4003}, ids)
}

func TestClient_OpenActuator_CloseControlChannel(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{InitReplies: 2})
	client := newTestClient(t, dev, WithDoorRepeat(0), WithCloseControlChannel(true))
	connectAndAuth(t, client)

	outcome, err := client.OpenActuator(testFrontDoor)
	require.NoError(err)
	require.Equal(icona.ActuationAcknowledged, outcome)

	types := waitBinaryTypes(t, dev, 7)
	require.Equal([]icona.MessageType{
		icona.MsgOpenChannel, icona.MsgCloseChannel,
		icona.MsgOpenChannel, icona.MsgDoorInit, icona.MsgOpenDoor, icona.MsgOpenDoorConfirm, icona.MsgCloseChannel,
	}, types)
}

func TestClient_OpenActuator_ScopeChange(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev, WithDoorRepeat(0))
	connectAndAuth(t, client)

	// without a configuration the door address scopes the control channel
	_, err := client.OpenActuator(icona.Actuator{Name: "A", ApartmentAddress: "SB1", OutputIndex: "1"})
	require.NoError(err)
	_, err = client.OpenActuator(icona.Actuator{Name: "B", ApartmentAddress: "SB2", OutputIndex: "1"})
	require.NoError(err)

	types := waitBinaryTypes(t, dev, 11)
	require.Equal([]icona.MessageType{
		icona.MsgOpenChannel, icona.MsgCloseChannel,
		icona.MsgOpenChannel, icona.MsgDoorInit, icona.MsgOpenDoor, icona.MsgOpenDoorConfirm,
		icona.MsgCloseChannel,
		icona.MsgOpenChannel, icona.MsgDoorInit, icona.MsgOpenDoor, icona.MsgOpenDoorConfirm,
	}, types)
}

func TestClient_OpenActuator_InvalidActuator(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	before := len(dev.Frames())
	_, err := client.OpenActuator(icona.Actuator{Name: "bad", ApartmentAddress: "SB1", OutputIndex: "x"})
	require.ErrorIs(err, icona.ErrInvalidActuator)
	require.Len(dev.Frames(), before)
	require.NoError(client.Err())
}

func TestClient_UnmatchedFrameDiscarded(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev)
	require.NoError(client.Connect(context.Background()))
	waitConnected(t, dev)

	b, err := icona.EncodeFrame(777, []byte{0x01, 0x02})
	require.NoError(err)
	dev.SendRaw(b)

	require.Eventually(func() bool {
		return client.Metrics().FrameDiscardCount.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	status, err := client.Authenticate(devicesim.DefaultToken)
	require.NoError(err)
	require.Equal(icona.StatusOK, status)
}

func TestClient_MalformedHeaderIsFatal(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev)
	require.NoError(client.Connect(context.Background()))
	waitConnected(t, dev)

	dev.SendRaw([]byte{0xde, 0xad, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})

	require.Eventually(func() bool {
		return client.Err() != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(client.Err(), icona.ErrMalformedHeader)

	_, err := client.Authenticate(devicesim.DefaultToken)
	require.ErrorIs(err, icona.ErrMalformedHeader)
}

func TestClient_DesyncResponseIsFatal(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{Configuration: `{"vip": {"apt-address": true}}`})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	_, err := client.FetchConfiguration()
	require.ErrorIs(err, icona.ErrProtocolDesync)
	require.ErrorIs(client.Err(), icona.ErrProtocolDesync)

	_, err = client.ListActuators()
	require.ErrorIs(err, icona.ErrProtocolDesync)
}

func TestClient_DeviceDropsConnection(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	dev.DropConnections()

	require.Eventually(func() bool {
		return client.Err() != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.True(icona.IsFatal(client.Err()))

	_, err := client.ListActuators()
	require.True(icona.IsFatal(err))
}

func TestClient_ShutdownIdempotent(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{})
	client := newTestClient(t, dev)
	connectAndAuth(t, client)

	_, err := client.OpenActuator(testFrontDoor)
	require.NoError(err)

	for range 3 {
		client.Shutdown()
	}
	require.Equal(icona.SessionClosed, client.State())

	_, err = client.Authenticate(devicesim.DefaultToken)
	require.ErrorIs(err, icona.ErrSessionShutdown)
	_, err = client.ListActuators()
	require.ErrorIs(err, icona.ErrSessionShutdown)
	_, err = client.OpenActuator(testFrontDoor)
	require.ErrorIs(err, icona.ErrSessionShutdown)
	require.ErrorIs(client.Connect(context.Background()), icona.ErrSessionShutdown)

	// the open control channel got a close command on shutdown
	require.Eventually(func() bool {
		types := dev.BinaryTypes()
		return len(types) > 0 && types[len(types)-1] == icona.MsgCloseChannel
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_ShutdownAbortsPendingWait(t *testing.T) {
	require := require.New(t)

	dev := newTestDevice(t, devicesim.Config{SilentRequests: true})
	client := newTestClient(t, dev, WithResponseTimeout(10*time.Second))
	require.NoError(client.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Authenticate(devicesim.DefaultToken)
		errCh <- err
	}()

	require.Eventually(func() bool {
		for _, f := range dev.Frames() {
			if f.IsStructured() {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	client.Shutdown()

	select {
	case err := <-errCh:
		require.ErrorIs(err, icona.ErrConnectionClosed)
		require.Less(time.Since(start), 5*time.Second)
	case <-time.After(5 * time.Second):
		require.Fail("pending wait not aborted by shutdown")
	}
}
