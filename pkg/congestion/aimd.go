// Package congestion implements the AIMD (additive-increase,
// multiplicative-decrease) flow controller RUDP sessions use to bound how
// many unacknowledged packets may be in flight at once.
package congestion

// Controller tracks a sliding send window in packets (not bytes): window
// grows by one per ACK up to max, and is halved (floored at min) on a
// single loss event. in_flight is incremented on every send and
// decremented on every ACK, independent of the window size itself.
type Controller struct {
	window   uint32
	inFlight uint32
	min      uint32
	max      uint32
}

// New creates a controller starting at the given window, bounded to
// [min, max]. A loss event never drives window below min; an ACK never
// grows it past max.
func New(initial, min, max uint32) *Controller {
	if initial < min {
		initial = min
	}
	if initial > max {
		initial = max
	}
	return &Controller{window: initial, min: min, max: max}
}

// Window returns the current congestion window in packets.
func (c *Controller) Window() uint32 { return c.window }

// InFlight returns the number of packets sent but not yet acknowledged.
func (c *Controller) InFlight() uint32 { return c.inFlight }

// CanSend reports whether another packet may be sent without exceeding the
// current window.
func (c *Controller) CanSend() bool { return c.inFlight < c.window }

// OnSend records a packet entering flight. Callers must check CanSend
// first; OnSend does not enforce the window itself.
func (c *Controller) OnSend() { c.inFlight++ }

// OnAck records one acknowledged packet: in_flight drops by one (floored
// at zero) and the window grows by one, capped at max.
func (c *Controller) OnAck() {
	if c.inFlight > 0 {
		c.inFlight--
	}
	if c.window < c.max {
		c.window++
	}
}

// OnLoss halves the window, floored at min. in_flight is left untouched —
// it catches up as subsequent ACKs arrive for packets already in flight.
func (c *Controller) OnLoss() {
	half := c.window / 2
	if half < c.min {
		half = c.min
	}
	c.window = half
}
