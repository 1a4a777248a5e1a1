package bridge

import "sync/atomic"

// ClientMetrics contains atomic metrics for a client.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ClientMetrics struct {
	// FrameSendCount indicates the number of frames sent.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of frames received.
	FrameRecvCount atomic.Uint64
	// FrameDiscardCount indicates the number of received frames no waiter claimed.
	FrameDiscardCount atomic.Uint64
	// ResponseTimeoutCount indicates the number of reply waits that timed out.
	ResponseTimeoutCount atomic.Uint64
	// ActuationCount indicates the number of completed door sequences.
	ActuationCount atomic.Uint64
	// UnacknowledgedActuationCount indicates the number of door sequences the device didn't answer.
	UnacknowledgedActuationCount atomic.Uint64
}

func (m *ClientMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *ClientMetrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *ClientMetrics) incFrameDiscardCount() {
	m.FrameDiscardCount.Add(1)
}

func (m *ClientMetrics) incResponseTimeoutCount() {
	m.ResponseTimeoutCount.Add(1)
}

func (m *ClientMetrics) incActuationCount(acked bool) {
	m.ActuationCount.Add(1)
	if !acked {
		m.UnacknowledgedActuationCount.Add(1)
	}
}
