package stimuli

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"openpmad/engine"
)

func init() {
	Register("flicker", func(params map[string]any, env Env) (Protocol, error) {
		prm := DefaultFlickerParams()
		if err := decodeParams(params, &prm); err != nil {
			return nil, err
		}
		return NewFlicker(prm, env)
	})
}

// FlickerParams configure a full-field flicker. Each cycle of Period
// seconds steps through Levels; the signal patch flashes for Signal frames
// at every step. Patch, when set, moves the signal patch before the first
// frame so it can be lined up with the photodiode.
type FlickerParams struct {
	Period   float64      `yaml:"period"`
	Duration float64      `yaml:"duration"`
	Levels   []float64    `yaml:"levels,flow"`
	Idle     float64      `yaml:"idle"`
	Signal   int          `yaml:"signal"`
	Patch    *engine.Rect `yaml:"patch,omitempty"`
}

func DefaultFlickerParams() FlickerParams {
	return FlickerParams{
		Period:   2,
		Duration: 30,
		Levels:   []float64{-1, 1},
		Idle:     3,
		Signal:   3,
	}
}

func (p FlickerParams) Validate() error {
	if p.Period <= 0 || p.Duration <= 0 || p.Idle < 0 || p.Signal < 0 {
		return fmt.Errorf("flicker period %vs duration %vs idle %vs signal %d: %w", p.Period, p.Duration, p.Idle, p.Signal, engine.ErrInvalidArgument)
	}
	if p.Patch != nil && (p.Patch.W <= 0 || p.Patch.H <= 0) {
		return fmt.Errorf("patch size %vx%v: %w", p.Patch.W, p.Patch.H, engine.ErrInvalidArgument)
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("no flicker levels: %w", engine.ErrInvalidArgument)
	}
	for _, l := range p.Levels {
		if l < -1 || l > 1 {
			return fmt.Errorf("flicker level %v must be in [-1, 1]: %w", l, engine.ErrInvalidArgument)
		}
	}
	return nil
}

// Flicker checks photodiode alignment: every luminance step coincides with
// a patch flash.
type Flicker struct {
	params FlickerParams
	log    *zap.Logger
}

func NewFlicker(params FlickerParams, env Env) (*Flicker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if env.Log == nil {
		env.Log = zap.NewNop()
	}
	return &Flicker{params: params, log: env.Log}, nil
}

func (f *Flicker) Name() string { return "flicker" }

func (f *Flicker) Present(ctx context.Context, d *engine.Display) (*engine.Record, error) {
	prm := f.params
	rec := engine.NewRecord("Level")
	rec.SetHeader("Period", fmt.Sprintf("%v (seconds)", prm.Period))
	rec.SetHeader("Duration", fmt.Sprintf("%v (seconds)", prm.Duration))

	if prm.Patch != nil {
		if _, err := d.SetPatchRect(*prm.Patch); err != nil {
			return rec, err
		}
		f.log.Info("Moved signal patch", zap.Float64("x", prm.Patch.X), zap.Float64("y", prm.Patch.Y))
	}
	if _, err := d.Idle(prm.Idle, engine.UnitSeconds); err != nil {
		return rec, err
	}
	cycles := int(math.Ceil(prm.Duration / prm.Period))
	hold := int(math.Round(prm.Period / float64(len(prm.Levels)) * d.FPS()))
	f.log.Info("Flicker", zap.Int("cycles", cycles), zap.Int("frames_per_level", hold))
	for c := 0; c < cycles; c++ {
		for _, level := range prm.Levels {
			if err := d.SignalEvent(float64(prm.Signal), engine.UnitFrames); err != nil {
				return rec, err
			}
			i, err := rec.AppendPending("levelChange", level)
			if err != nil {
				return rec, err
			}
			for frame := 0; frame < hold; frame++ {
				if err := ctx.Err(); err != nil {
					return rec, err
				}
				d.Draw(Uniform{Level: level})
				ts, err := d.Flip()
				if err != nil {
					return rec, err
				}
				if frame == 0 {
					rec.SetTimestamp(i, ts)
				}
			}
		}
	}

	if err := d.SignalEvent(0.05, engine.UnitSeconds); err != nil {
		return rec, err
	}
	_, err := d.Idle(prm.Idle, engine.UnitSeconds)
	return rec, err
}
