package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-icona/icona"
	"github.com/arloliu/go-icona/internal/pool"
	"github.com/arloliu/go-icona/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Waiter is a parked request waiting for one or more frames with its request ID.
type Waiter struct {
	id          uint16
	remaining   int // guarded by the correlator map entry
	submittedAt time.Time
	ch          chan waitResult
}

// ID returns the request ID the waiter is parked on.
func (w *Waiter) ID() uint16 { return w.id }

// SubmittedAt returns when the waiter was parked.
func (w *Waiter) SubmittedAt() time.Time { return w.submittedAt }

type waitResult struct {
	frame icona.Frame
	err   error
}

// Correlator matches received frames to parked waiters by request ID.
//
// At most one waiter may be parked per request ID. A frame nobody waits for is logged and discarded.
// Once FailAll is called every parked and future waiter resolves with the failure.
type Correlator struct {
	waiters *xsync.MapOf[uint16, *Waiter]
	logger  logger.Logger
	metrics *ClientMetrics

	errMu sync.RWMutex
	err   error
}

// NewCorrelator creates a correlator. metrics may be nil.
func NewCorrelator(l logger.Logger, metrics *ClientMetrics) *Correlator {
	if metrics == nil {
		metrics = &ClientMetrics{}
	}

	return &Correlator{
		waiters: xsync.NewMapOf[uint16, *Waiter](),
		logger:  l,
		metrics: metrics,
	}
}

// Submit parks a waiter for the next replies frames carrying request ID id.
//
// It returns icona.ErrRequestInFlight when id already has a waiter, or the failure passed to FailAll.
func (c *Correlator) Submit(id uint16, replies int) (*Waiter, error) {
	if replies < 1 {
		replies = 1
	}
	if err := c.failure(); err != nil {
		return nil, err
	}

	w := &Waiter{
		id:          id,
		remaining:   replies,
		submittedAt: time.Now(),
		ch:          make(chan waitResult, replies),
	}
	if _, loaded := c.waiters.LoadOrStore(id, w); loaded {
		return nil, fmt.Errorf("%w: id %d", icona.ErrRequestInFlight, id)
	}

	// FailAll may have drained the map right before the store
	if err := c.failure(); err != nil {
		c.withdraw(w)
		return nil, err
	}

	return w, nil
}

// Resolve hands frame to the waiter parked on its request ID.
// It returns false when no waiter claims the frame.
func (c *Correlator) Resolve(frame icona.Frame) bool {
	var target *Waiter
	c.waiters.Compute(frame.RequestID, func(w *Waiter, loaded bool) (*Waiter, bool) {
		if !loaded {
			return w, true
		}
		target = w
		w.remaining--

		return w, w.remaining <= 0
	})

	if target == nil {
		c.metrics.incFrameDiscardCount()
		c.logger.Debug("discard frame without waiter", "method", "Resolve", "frame", frame.String())

		return false
	}

	target.ch <- waitResult{frame: frame}

	return true
}

// Await waits up to timeout for the next frame of w.
//
// On timeout the waiter is withdrawn, so a late frame is discarded, and icona.ErrResponseTimeout
// is returned.
func (c *Correlator) Await(w *Waiter, timeout time.Duration) (icona.Frame, error) {
	timer := pool.AcquireTimer(timeout)
	defer pool.ReleaseTimer(timer)

	select {
	case res := <-w.ch:
		return res.frame, res.err
	case <-timer.C:
	}

	c.withdraw(w)

	// a resolver may have won the race against the withdraw
	select {
	case res := <-w.ch:
		return res.frame, res.err
	default:
	}

	return icona.Frame{}, icona.ErrResponseTimeout
}

// Cancel withdraws w without waiting.
func (c *Correlator) Cancel(w *Waiter) {
	if w != nil {
		c.withdraw(w)
	}
}

// FailAll resolves every parked waiter with err and makes later submits fail with it.
func (c *Correlator) FailAll(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	err = c.err
	c.errMu.Unlock()

	c.waiters.Range(func(id uint16, _ *Waiter) bool {
		if w, ok := c.waiters.LoadAndDelete(id); ok {
			select {
			case w.ch <- waitResult{err: err}:
			default:
			}
		}

		return true
	})
}

// Pending returns the number of parked waiters.
func (c *Correlator) Pending() int {
	return c.waiters.Size()
}

func (c *Correlator) failure() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.err
}

// withdraw removes w unless another waiter took its place.
func (c *Correlator) withdraw(w *Waiter) {
	c.waiters.Compute(w.id, func(cur *Waiter, loaded bool) (*Waiter, bool) {
		if loaded && cur == w {
			return nil, true
		}

		return cur, !loaded
	})
}
