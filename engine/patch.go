package engine

// SignalPatch is the photodiode marker. Its countdown is either disarmed or
// a non-negative frame count that Tick decrements once per committed frame.
type SignalPatch struct {
	high      bool
	armed     bool
	remaining int
}

// Activate sets the patch high for duration, converted to frames with fps
// when unit is UnitSeconds. A zero-frame activation leaves the patch low.
func (p *SignalPatch) Activate(duration float64, unit Unit, fps float64) error {
	n, err := FrameCount(duration, unit, fps)
	if err != nil {
		return err
	}
	if n == 0 {
		p.high = false
		p.armed = false
		p.remaining = 0
		return nil
	}
	p.high = true
	p.armed = true
	p.remaining = n
	return nil
}

// Tick advances the countdown by one committed frame.
func (p *SignalPatch) Tick() {
	if !p.armed {
		return
	}
	p.remaining--
	if p.remaining <= 0 {
		p.remaining = 0
		p.armed = false
		p.high = false
	}
}

// Set forces the level. A running countdown is left alone and will still
// drop the patch when it expires.
func (p *SignalPatch) Set(high bool) {
	p.high = high
}

func (p *SignalPatch) High() bool { return p.high }
func (p *SignalPatch) Armed() bool { return p.armed }
func (p *SignalPatch) Remaining() int { return p.remaining }

// Level is the signed luminance drawn for the current state.
func (p *SignalPatch) Level() float64 {
	if p.high {
		return 1
	}
	return -1
}
