package stimuli

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"openpmad/engine"
)

func init() {
	Register("realtime-probe", func(params map[string]any, env Env) (Protocol, error) {
		prm := DefaultRealtimeProbeParams()
		if err := decodeParams(params, &prm); err != nil {
			return nil, err
		}
		return NewRealtimeProbe(prm, env)
	})
}

// RealtimeProbeParams configure a drifting grating with probes triggered by
// the tracking process. Times are in seconds unless noted: Frequency is in
// cycles per degree, velocities in degrees per second, Foreperiods in
// frames. Probes are allowed only between Margin after motion onset and
// Margin before motion offset.
type RealtimeProbeParams struct {
	Frequency              float64    `yaml:"frequency"`
	Velocity               float64    `yaml:"velocity"`
	Static                 float64    `yaml:"static"`
	Duration               float64    `yaml:"duration"`
	ITI                    float64    `yaml:"iti"`
	Warmup                 float64    `yaml:"warmup"`
	Trials                 int        `yaml:"trials"`
	Directions             []float64  `yaml:"directions,flow"`
	Randomize              bool       `yaml:"randomize"`
	Margin                 float64    `yaml:"margin"`
	ProbeDuration          float64    `yaml:"probe_duration"`
	Refractory             float64    `yaml:"refractory"`
	ISIRange               [2]float64 `yaml:"isi_range,flow"`
	Foreperiods            []float64  `yaml:"foreperiods,flow"`
	RandomProbes           bool       `yaml:"random_probes"`
	FictiveSaccades        bool       `yaml:"fictive_saccades"`
	FictiveSaccadeDuration float64    `yaml:"fictive_saccade_duration"`
	FictiveSaccadeVelocity float64    `yaml:"fictive_saccade_velocity"`
	Contrast               float64    `yaml:"contrast"`
	BandWidth              int        `yaml:"band_width"`
	RecordStates           bool       `yaml:"record_states"`
}

func DefaultRealtimeProbeParams() RealtimeProbeParams {
	return RealtimeProbeParams{
		Frequency:              0.15,
		Velocity:               12,
		Static:                 5,
		Duration:               10,
		ITI:                    5,
		Warmup:                 1,
		Trials:                 1,
		Directions:             []float64{-1, 1},
		Randomize:              true,
		Margin:                 1,
		ProbeDuration:          0.05,
		Refractory:             3,
		ISIRange:               [2]float64{0.5, 1},
		RandomProbes:           true,
		FictiveSaccadeDuration: 0.06,
		FictiveSaccadeVelocity: 300,
		Contrast:               0.5,
		BandWidth:              4,
	}
}

func (p RealtimeProbeParams) Validate() error {
	switch {
	case p.Frequency <= 0:
		return fmt.Errorf("spatial frequency %v: %w", p.Frequency, engine.ErrInvalidArgument)
	case p.Trials < 1 || len(p.Directions) == 0:
		return fmt.Errorf("%d trials over %d directions: %w", p.Trials, len(p.Directions), engine.ErrInvalidArgument)
	case p.Duration <= 0 || p.ProbeDuration <= 0:
		return fmt.Errorf("motion %vs probe %vs: %w", p.Duration, p.ProbeDuration, engine.ErrInvalidArgument)
	case p.Static < 0 || p.ITI < 0 || p.Warmup < 0 || p.Margin < 0 || p.Refractory < 0:
		return fmt.Errorf("negative period: %w", engine.ErrInvalidArgument)
	case p.ISIRange[0] < 0 || p.ISIRange[1] < p.ISIRange[0]:
		return fmt.Errorf("inter-event interval range %v: %w", p.ISIRange, engine.ErrInvalidArgument)
	case p.FictiveSaccadeDuration < 0:
		return fmt.Errorf("fictive saccade duration %v: %w", p.FictiveSaccadeDuration, engine.ErrInvalidArgument)
	case p.Contrast < 0 || p.Contrast > 1:
		return fmt.Errorf("contrast %v must be in [0, 1]: %w", p.Contrast, engine.ErrInvalidArgument)
	}
	for _, f := range p.Foreperiods {
		if f < 0 {
			return fmt.Errorf("foreperiod %v frames: %w", f, engine.ErrInvalidArgument)
		}
	}
	return nil
}

// RealtimeProbe presents a drifting grating and flashes a full-contrast probe
// whenever the tracker raises the probe flag. Between tracker probes it
// schedules fictive saccades (fast grating jumps) or random probes.
type RealtimeProbe struct {
	params  RealtimeProbeParams
	flag    *engine.ProbeFlag
	rng     *rand.Rand
	log     *zap.Logger
	machine *engine.StateMachine
}

func NewRealtimeProbe(params RealtimeProbeParams, env Env) (*RealtimeProbe, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if env.Flag == nil {
		env.Flag = &engine.ProbeFlag{}
	}
	if env.Rand == nil {
		env.Rand = engine.NewRand(1)
	}
	if env.Log == nil {
		env.Log = zap.NewNop()
	}
	return &RealtimeProbe{
		params:  params,
		flag:    env.Flag,
		rng:     env.Rand,
		log:     env.Log,
		machine: engine.NewStateMachine(),
	}, nil
}

func (p *RealtimeProbe) Name() string { return "realtime-probe" }

// Score returns the per-frame state snapshots of the last run when
// RecordStates is set.
func (p *RealtimeProbe) Score() [][]bool { return p.machine.Score() }

func (p *RealtimeProbe) Present(ctx context.Context, d *engine.Display) (*engine.Record, error) {
	prm := p.params
	fps := d.FPS()
	rec := engine.NewRecord("Motion")
	rec.SetHeader("Spatial frequency", fmt.Sprintf("%v (cycles/degree)", prm.Frequency))
	rec.SetHeader("Velocity", fmt.Sprintf("%v (degrees/second)", prm.Velocity))
	rec.SetHeader("Baseline contrast", fmt.Sprintf("%v (0, 1)", prm.Contrast))
	rec.SetHeader("Probe duration", fmt.Sprintf("%v (seconds)", prm.ProbeDuration))
	rec.SetHeader("Random probes", fmt.Sprint(prm.RandomProbes))
	rec.SetHeader("Fictive saccades", fmt.Sprint(prm.FictiveSaccades))

	p.machine = engine.NewStateMachine()
	r := &probeRun{
		p:       p,
		ctx:     ctx,
		d:       d,
		rec:     rec,
		machine: p.machine,
		grating: &Grating{
			Frequency: prm.Frequency / d.PPD(),
			Contrast:  prm.Contrast,
			Mean:      d.Background(),
			BandWidth: prm.BandWidth,
		},
		slow:       prm.Frequency * prm.Velocity / fps,
		fast:       prm.Frequency * prm.FictiveSaccadeVelocity / fps,
		minISI:     int(math.Round(prm.ISIRange[0] * fps)),
		probe:      engine.CeilFrames(prm.ProbeDuration, fps),
		refractory: engine.CeilFrames(prm.Refractory, fps),
		fictive:    int(math.Round(prm.FictiveSaccadeDuration * fps)),
		pending:    -1,
	}

	for i := 0; i < engine.CeilFrames(prm.Warmup, fps); i++ {
		d.DrawBackground()
		if _, err := r.flip(); err != nil {
			return rec, err
		}
	}
	r.countdown.Set(r.isi())

	order := engine.TileShuffled(p.rng, prm.Directions, prm.Trials, prm.Randomize)
	for trial, direction := range order {
		p.log.Info("Trial", zap.Int("trial", trial+1), zap.Int("of", len(order)), zap.Float64("direction", direction))
		r.grating.Contrast = prm.Contrast
		for i := 0; i < engine.CeilFrames(prm.Static, fps); i++ {
			d.Draw(r.grating)
			if _, err := r.flip(); err != nil {
				return rec, err
			}
		}

		aborted, err := r.motion(direction)
		if err != nil {
			return rec, err
		}
		r.settle()

		if err := d.SignalEvent(3, engine.UnitFrames); err != nil {
			return rec, err
		}
		offset, err := rec.AppendPending("motionOffset", direction)
		if err != nil {
			return rec, err
		}
		for i := 0; i < engine.CeilFrames(prm.ITI, fps); i++ {
			d.DrawBackground()
			ts, err := r.flip()
			if err != nil {
				return rec, err
			}
			if i == 0 {
				rec.SetTimestamp(offset, ts)
			}
		}

		if aborted {
			p.log.Warn("Aborted by tracker", zap.Int("trial", trial+1))
			rec.SetHeader("Aborted", fmt.Sprintf("trial %d of %d", trial+1, len(order)))
			return rec, nil
		}
	}
	return rec, nil
}

// probeRun is the mutable state of one Present call.
type probeRun struct {
	p       *RealtimeProbe
	ctx     context.Context
	d       *engine.Display
	rec     *engine.Record
	machine *engine.StateMachine
	grating *Grating

	// Phase increments in cycles per frame.
	slow, fast float64

	// Frame counts.
	minISI, probe, refractory, fictive int

	countdown engine.Countdown

	// Frames left on the interrupted inter-event interval; zero draws a new
	// one after the refractory period.
	remainder int

	// Index of the event whose timestamp is taken from the next presenting
	// frame, or -1.
	pending int
}

func (r *probeRun) flip() (float64, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	ts, err := r.d.Flip()
	if err != nil {
		return ts, err
	}
	if r.p.params.RecordStates {
		r.machine.RecordState()
	}
	return ts, nil
}

func (r *probeRun) isi() int {
	return engine.UniformFrames(r.p.rng, r.p.params.ISIRange[0], r.p.params.ISIRange[1], r.d.FPS())
}

func (r *probeRun) foreperiod() (int, error) {
	if len(r.p.params.Foreperiods) == 0 {
		return 0, nil
	}
	v, err := engine.Choice(r.p.rng, r.p.params.Foreperiods, nil)
	return int(math.Round(v)), err
}

// mark records an event stamped by the next presenting frame.
func (r *probeRun) mark(label string, direction float64) error {
	i, err := r.rec.AppendPending(label, direction)
	if err != nil {
		return err
	}
	r.pending = i
	return nil
}

func (r *probeRun) presenting() bool {
	switch r.machine.State() {
	case engine.StateProbeActive, engine.StateRandomProbe, engine.StateFictiveSaccade:
		return true
	}
	return false
}

// motion runs the motion epoch of one trial. It reports whether the
// tracker asked to abort.
func (r *probeRun) motion(direction float64) (bool, error) {
	prm := r.p.params
	fps := r.d.FPS()
	frames := engine.CeilFrames(prm.Duration, fps)
	first := int(math.Round(fps*prm.Margin)) - 1
	last := int(math.Round(fps*prm.Duration)) - int(math.Round(fps*prm.Margin)) - 1

	if err := r.d.SignalEvent(3, engine.UnitFrames); err != nil {
		return false, err
	}
	onset, err := r.rec.AppendPending("motionOnset", direction)
	if err != nil {
		return false, err
	}
	defer func() { r.pending = -1 }()

	for i := 0; i < frames; i++ {
		if r.p.flag.Load() == engine.FlagAbort {
			return true, nil
		}
		if err := r.step(direction, i >= first && i <= last); err != nil {
			return false, err
		}

		if r.machine.Is(engine.StateFictiveSaccade) {
			r.grating.Phase += direction * r.fast
		} else {
			r.grating.Phase += direction * r.slow
		}
		r.d.Draw(r.grating)
		ts, err := r.flip()
		if err != nil {
			return false, err
		}
		if i == 0 {
			r.rec.SetTimestamp(onset, ts)
		}
		if r.pending >= 0 && r.presenting() {
			r.rec.SetTimestamp(r.pending, ts)
			r.pending = -1
		}
	}
	return false, nil
}

// step advances the countdown and the state machine by one frame. Outside
// the probe window no new event starts, but running ones play out.
func (r *probeRun) step(direction float64, open bool) error {
	prm := r.p.params
	m := r.machine
	switch m.State() {
	case engine.StateIdle:
		if !open {
			return nil
		}
		if r.p.flag.Consume() {
			if err := m.Advance(engine.PathPerisaccadicProbe); err != nil {
				return err
			}
			r.remainder = max(r.countdown.Remaining(), r.minISI)
			n, err := r.foreperiod()
			if err != nil {
				return err
			}
			r.countdown.Set(n)
			if err := r.mark("realtimeProbe", direction); err != nil {
				return err
			}
			r.p.log.Debug("Realtime probe", zap.Int("frame", r.d.FrameIndex()), zap.Int("foreperiod", n))
			return nil
		}
		if !r.countdown.Tick() {
			return nil
		}
		r.remainder = 0
		if !prm.RandomProbes && !prm.FictiveSaccades {
			r.countdown.Set(r.isi())
			return nil
		}
		path, err := engine.ChoosePath(r.p.rng, prm.RandomProbes, prm.FictiveSaccades)
		if err != nil {
			return err
		}
		if err := m.Advance(path); err != nil {
			return err
		}
		switch path {
		case engine.PathFictiveSaccade:
			if err := r.d.SignalEvent(float64(r.fictive), engine.UnitFrames); err != nil {
				return err
			}
			r.countdown.Set(r.fictive)
			if err := r.mark("fictiveSaccade", direction); err != nil {
				return err
			}
		case engine.PathRandomProbe:
			n, err := r.foreperiod()
			if err != nil {
				return err
			}
			r.countdown.Set(n)
			if err := r.mark("randomProbe", direction); err != nil {
				return err
			}
		}

	case engine.StateForeperiod:
		if !r.countdown.Tick() {
			return nil
		}
		if err := m.Advance(m.Path()); err != nil {
			return err
		}
		r.grating.Contrast = 1
		r.countdown.Set(r.probe)
		return r.d.SignalEvent(float64(r.probe), engine.UnitFrames)

	case engine.StateProbeActive, engine.StateRandomProbe:
		if !r.countdown.Tick() {
			return nil
		}
		if err := m.Advance(m.Path()); err != nil {
			return err
		}
		r.grating.Contrast = prm.Contrast
		r.countdown.Set(r.refractory)
		// Drop requests raised while the probe was on screen.
		r.p.flag.Consume()

	case engine.StateFictiveSaccade:
		if !r.countdown.Tick() {
			return nil
		}
		if err := m.Advance(m.Path()); err != nil {
			return err
		}
		r.countdown.Set(r.refractory)

	case engine.StateRefractory:
		if !r.countdown.Tick() {
			return nil
		}
		if err := m.Advance(engine.PathPerisaccadicProbe); err != nil {
			return err
		}
		if r.remainder == 0 {
			r.countdown.Set(r.isi())
		} else {
			r.countdown.Set(r.remainder)
		}
	}
	return nil
}

// settle ends whatever event is still running when the motion epoch stops,
// so the next trial starts from Idle at baseline contrast.
func (r *probeRun) settle() {
	if r.machine.Is(engine.StateIdle) {
		return
	}
	r.grating.Contrast = r.p.params.Contrast
	r.machine.Reset()
	if r.remainder == 0 {
		r.countdown.Set(r.isi())
	} else {
		r.countdown.Set(r.remainder)
	}
}
