package bridge

import (
	"errors"

	"github.com/arloliu/go-icona/icona"
	"github.com/eapache/queue"
)

// initReplies is the number of replies the device sends after a channel-init or door-init message.
const initReplies = 2

type doorStep uint8

const (
	stepCloseControl doorStep = iota
	stepOpenControl
	stepChannelInit
	stepDoorInit
	stepOpenDoor
	stepConfirmDoor
)

func (s doorStep) String() string {
	switch s {
	case stepCloseControl:
		return "close-control"
	case stepOpenControl:
		return "open-control"
	case stepChannelInit:
		return "channel-init"
	case stepDoorInit:
		return "door-init"
	case stepOpenDoor:
		return "open-door"
	case stepConfirmDoor:
		return "confirm-door"
	default:
		return "unknown"
	}
}

// OpenActuator runs the door-open sequence for door.
//
// The outcome is icona.ActuationAcknowledged when the device answered any init message, and
// icona.ActuationUnacknowledged otherwise. Neither is an error, many devices unlatch silently.
// The door must carry a numeric output index, icona.ErrInvalidActuator is returned before anything
// is sent otherwise.
func (c *Client) OpenActuator(door icona.Actuator) (icona.ActuationOutcome, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.checkUsable(true); err != nil {
		return icona.ActuationUnacknowledged, err
	}

	target, err := icona.NewDoorTarget(c.vip.Load(), door)
	if err != nil {
		return icona.ActuationUnacknowledged, err
	}

	plan := c.planDoorSequence(target)
	c.logger.Debug("door sequence planned", "method", "OpenActuator", "door", door.Name, "steps", plan.Length())

	acked := false
	for plan.Length() > 0 {
		step, _ := plan.Remove().(doorStep)

		answered, err := c.runDoorStep(step, target)
		if err != nil {
			c.logger.Error("door sequence failed", "method", "OpenActuator", "door", door.Name, "step", step.String(), "error", err)
			return icona.ActuationUnacknowledged, err
		}
		acked = acked || answered
	}

	outcome := icona.ActuationUnacknowledged
	if acked {
		outcome = icona.ActuationAcknowledged
	}
	c.metrics.incActuationCount(acked)

	if acked {
		c.logger.Info("door opened", "method", "OpenActuator", "door", door.Name, "outcome", outcome.String())
	} else {
		c.logger.Warn("door commands sent without acknowledgement", "method", "OpenActuator", "door", door.Name)
	}

	return outcome, nil
}

// planDoorSequence queues the steps of one actuation.
//
// The control channel and its channel-init are skipped when the channel is already open for the
// same scope. A channel open for another scope is closed first.
func (c *Client) planDoorSequence(target icona.DoorTarget) *queue.Queue {
	plan := queue.New()

	ctl, _ := c.channels.Get(icona.ChannelControl)
	if ctl.State != icona.ChannelOpen || ctl.Scope != target.Scope() {
		if ctl.State == icona.ChannelOpen {
			plan.Add(stepCloseControl)
		}
		plan.Add(stepOpenControl)
		plan.Add(stepChannelInit)
	}

	plan.Add(stepOpenDoor)
	plan.Add(stepConfirmDoor)

	for range c.cfg.doorRepeat {
		plan.Add(stepDoorInit)
		plan.Add(stepOpenDoor)
		plan.Add(stepConfirmDoor)
	}

	if c.cfg.closeControlChannel {
		plan.Add(stepCloseControl)
	}

	return plan
}

// runDoorStep executes step and reports whether the device answered it.
func (c *Client) runDoorStep(step doorStep, target icona.DoorTarget) (bool, error) {
	switch step {
	case stepCloseControl:
		return false, c.closeChannel(icona.ChannelControl)

	case stepOpenControl:
		_, err := c.openChannel(icona.ChannelControl, target.Scope(), true)
		return false, err

	case stepChannelInit:
		return c.sendInit(icona.EncodeChannelInit(target))

	case stepDoorInit:
		return c.sendInit(icona.EncodeDoorInit(target))

	case stepOpenDoor, stepConfirmDoor:
		ch, err := c.channels.Get(icona.ChannelControl)
		if err != nil {
			return false, err
		}

		return false, c.send(icona.NewFrame(ch.FrameID, icona.EncodeOpenDoor(target, step == stepConfirmDoor)))

	default:
		return false, nil
	}
}

// sendInit sends an init message on the control channel and waits for up to two replies,
// stopping at the first timeout.
func (c *Client) sendInit(body []byte) (bool, error) {
	ch, err := c.channels.Get(icona.ChannelControl)
	if err != nil {
		return false, err
	}
	if ch.State != icona.ChannelOpen {
		return false, icona.ErrChannelNotOpen
	}

	w, err := c.correlator.Submit(ch.FrameID, initReplies)
	if err != nil {
		return false, err
	}
	defer c.correlator.Cancel(w)

	if err := c.send(icona.NewFrame(ch.FrameID, body)); err != nil {
		return false, err
	}

	answered := false
	for range initReplies {
		if _, err := c.await(w, c.cfg.responseTimeout); err != nil {
			if errors.Is(err, icona.ErrResponseTimeout) {
				c.logger.Debug("init replies incomplete, continue", "method", "sendInit", "frame_id", ch.FrameID)
				break
			}

			return answered, err
		}
		answered = true
	}

	return answered, nil
}
