package engine

// Countdown is a frame timer owned by the caller of a StateMachine. The
// machine decides what comes next; the countdown decides when.
type Countdown struct {
	remaining int
	armed     bool
}

func NewCountdown(frames int) Countdown {
	var c Countdown
	c.Set(frames)
	return c
}

// Set arms the countdown. Zero or negative counts fire on the next Tick.
func (c *Countdown) Set(frames int) {
	c.remaining = frames
	c.armed = true
}

// Tick decrements the countdown and reports whether it fired. A fired
// countdown stays disarmed until Set is called again.
func (c *Countdown) Tick() bool {
	if !c.armed {
		return false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.remaining = 0
		c.armed = false
		return true
	}
	return false
}

func (c *Countdown) Stop() { c.armed = false }
func (c *Countdown) Armed() bool { return c.armed }
func (c *Countdown) Remaining() int { return c.remaining }
