// Package bridge provides a client for the ICONA Bridge protocol spoken by Comelit intercom devices.
// It builds upon the wire layer of the icona package and offers connect, authenticate, actuator
// listing and door unlatch operations over a single TCP session.
//
// Key Features:
//   - Transport: owns the TCP connection, frames are read by a single receive loop.
//   - Request Correlation: replies are matched to parked waiters by request ID.
//   - Channel Management: channels are opened and closed around each operation.
//   - Door Sequencing: the redundant init/open/confirm frame sequence firmware versions expect.
//   - Error Handling: transport failures, response timeouts and credential rejections are distinct.
//
// Operations are strictly sequential per client, at most one request is awaited at a time. Separate
// clients share no state and can run concurrently against different devices.
//
// Error Handling:
//   - icona.ErrConnectionTimeout, icona.ErrConnectionRefused: Connect failed, retry later.
//   - icona.ErrConnectionReset, icona.ErrConnectionClosed, icona.ErrMalformedHeader,
//     icona.ErrProtocolDesync: fatal, call Shutdown and create a new client.
//   - icona.ErrResponseTimeout: the device didn't answer in time, the session is still usable.
//   - A rejected token is returned as an icona.AuthStatus value, not as an error.
//
// Usage Example:
//
//	cfg, _ := bridge.NewClientConfig("192.168.1.20", icona.DefaultPort)
//	client, _ := bridge.NewClient(ctx, cfg)
//	defer client.Shutdown()
//
//	if err := client.Connect(ctx); err != nil {
//	    // ... handle error ...
//	}
//	status, err := client.Authenticate(token)
//	if err != nil || !status.IsAccepted() {
//	    // ... handle error ...
//	}
//	doors, _ := client.ListActuators()
//	outcome, err := client.OpenActuator(doors[0])
package bridge
