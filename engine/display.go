package engine

import (
	"fmt"

	"go.uber.org/zap"
)

// Rect is a rectangle in pixels. Display coordinates have their origin at
// the screen centre with y pointing up; renderer coordinates are top-left
// with y pointing down.
type Rect struct {
	X, Y, W, H float64
}

// Renderer is the drawing backend behind a Display. Luminance values are
// signed, -1 black to 1 white. Present blocks until the frame is shown and
// returns its timestamp in seconds.
type Renderer interface {
	Clear(level float64)
	FillRect(r Rect, level float64)
	Present() (float64, error)
	Close() error
}

// Canvas is what a Scene draws into. Coordinates are centre-origin.
type Canvas interface {
	FillRect(r Rect, level float64)
	Width() int
	Height() int
}

// Scene is anything drawn once per frame.
type Scene interface {
	Draw(c Canvas)
}

// DisplayConfig describes the physical display.
type DisplayConfig struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Azimuth    float64 `yaml:"azimuth"`
	Elevation  float64 `yaml:"elevation"`
	FPS        float64 `yaml:"fps"`
	Fullscreen bool    `yaml:"fullscreen"`
	VSync      bool    `yaml:"vsync"`
	Background float64 `yaml:"background"`
	Patch      Rect    `yaml:"patch"`
}

var _ FrameClock = (*Display)(nil)

// Display wraps a Renderer with the signal patch and frame bookkeeping.
type Display struct {
	cfg        DisplayConfig
	r          Renderer
	patch      SignalPatch
	patchRect  Rect
	background float64
	frame      int
	onFlip     []func(frame int, timestamp float64)
	log        *zap.Logger
}

func NewDisplay(cfg DisplayConfig, r Renderer, log *zap.Logger) (*Display, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("display size %dx%d: %w", cfg.Width, cfg.Height, ErrInvalidArgument)
	}
	if cfg.Azimuth <= 0 || cfg.Elevation <= 0 {
		return nil, fmt.Errorf("field of view %vx%v: %w", cfg.Azimuth, cfg.Elevation, ErrInvalidArgument)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("frame rate %v: %w", cfg.FPS, ErrInvalidArgument)
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Display{cfg: cfg, r: r, patchRect: cfg.Patch, log: log}
	if err := d.setBackground(cfg.Background); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Display) Width() int { return d.cfg.Width }
func (d *Display) Height() int { return d.cfg.Height }
func (d *Display) Azimuth() float64 { return d.cfg.Azimuth }
func (d *Display) Elevation() float64 { return d.cfg.Elevation }
func (d *Display) FPS() float64 { return d.cfg.FPS }
func (d *Display) FrameIndex() int { return d.frame }
func (d *Display) Patch() *SignalPatch {
	return &d.patch
}

// PPD is the mean number of pixels per degree of visual angle.
func (d *Display) PPD() float64 {
	return (float64(d.cfg.Width)/d.cfg.Azimuth + float64(d.cfg.Height)/d.cfg.Elevation) / 2
}

// FillRect draws a centre-origin rectangle.
func (d *Display) FillRect(r Rect, level float64) {
	d.r.FillRect(d.toScreen(r), level)
}

func (d *Display) toScreen(r Rect) Rect {
	return Rect{
		X: float64(d.cfg.Width)/2 + r.X - r.W/2,
		Y: float64(d.cfg.Height)/2 - r.Y - r.H/2,
		W: r.W,
		H: r.H,
	}
}

func (d *Display) Draw(s Scene) {
	s.Draw(d)
}

func (d *Display) DrawBackground() {
	d.r.Clear(d.background)
}

// OnFlip registers fn to run after every committed frame.
func (d *Display) OnFlip(fn func(frame int, timestamp float64)) {
	d.onFlip = append(d.onFlip, fn)
}

// Flip draws the patch, presents the frame and advances the patch
// countdown. It must be called exactly once per displayed frame.
func (d *Display) Flip() (float64, error) {
	d.r.FillRect(d.toScreen(d.patchRect), d.patch.Level())
	ts, err := d.r.Present()
	if err != nil {
		return ts, err
	}
	d.patch.Tick()
	frame := d.frame
	d.frame++
	for _, fn := range d.onFlip {
		fn(frame, ts)
	}
	return ts, nil
}

// Idle shows the background for duration and returns the timestamp of the
// first frame.
func (d *Display) Idle(duration float64, unit Unit) (float64, error) {
	n, err := FrameCount(duration, unit, d.cfg.FPS)
	if err != nil {
		return 0, err
	}
	var first float64
	for i := 0; i < n; i++ {
		ts, err := d.ClearStimuli()
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = ts
		}
	}
	return first, nil
}

// SignalEvent flashes the patch for duration.
func (d *Display) SignalEvent(duration float64, unit Unit) error {
	if err := d.patch.Activate(duration, unit, d.cfg.FPS); err != nil {
		return err
	}
	d.log.Debug("Signal event", zap.Int("frame", d.frame), zap.Int("frames", d.patch.Remaining()))
	return nil
}

func (d *Display) SetState(high bool) { d.patch.Set(high) }
func (d *Display) State() bool { return d.patch.High() }

func (d *Display) Background() float64 { return d.background }

// SetBackground changes the background level and commits one frame.
func (d *Display) SetBackground(level float64) (float64, error) {
	if err := d.setBackground(level); err != nil {
		return 0, err
	}
	d.DrawBackground()
	return d.Flip()
}

func (d *Display) setBackground(level float64) error {
	if level < -1 || level > 1 {
		return fmt.Errorf("background level %v must be in [-1, 1]: %w", level, ErrInvalidArgument)
	}
	d.background = level
	return nil
}

func (d *Display) PatchRect() Rect { return d.patchRect }

// SetPatchRect moves the patch and commits one background frame.
func (d *Display) SetPatchRect(r Rect) (float64, error) {
	if r.W <= 0 || r.H <= 0 {
		return 0, fmt.Errorf("patch size %vx%v: %w", r.W, r.H, ErrInvalidArgument)
	}
	d.patchRect = r
	d.DrawBackground()
	return d.Flip()
}

// ClearStimuli commits one background frame.
func (d *Display) ClearStimuli() (float64, error) {
	d.DrawBackground()
	return d.Flip()
}

func (d *Display) Close() error {
	return d.r.Close()
}
