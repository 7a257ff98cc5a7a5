package engine

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/imgio"
)

// Headless is an offscreen Renderer. Present never blocks; timestamps
// advance by exactly one refresh interval per frame.
type Headless struct {
	fps       float64
	start     float64
	presented int

	probe      image.Point
	probeLevel float64
	hasProbe   bool

	canvas *image.Gray

	abortAt int

	Timestamps []float64
	Samples    []float64
}

type HeadlessOption func(*Headless)

// WithProbe samples the level drawn at the screen pixel p on every frame.
func WithProbe(p image.Point) HeadlessOption {
	return func(h *Headless) {
		h.probe = p
		h.hasProbe = true
	}
}

// WithCapture rasterizes every draw into a width x height buffer.
func WithCapture(width, height int) HeadlessOption {
	return func(h *Headless) {
		h.canvas = image.NewGray(image.Rect(0, 0, width, height))
	}
}

// WithAbortAt makes the n-th Present (zero-based) fail with ErrAborted.
func WithAbortAt(n int) HeadlessOption {
	return func(h *Headless) {
		h.abortAt = n
	}
}

// WithStart sets the timestamp of the first frame.
func WithStart(seconds float64) HeadlessOption {
	return func(h *Headless) {
		h.start = seconds
	}
}

func NewHeadless(fps float64, opts ...HeadlessOption) *Headless {
	h := &Headless{fps: fps, abortAt: -1}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Headless) Clear(level float64) {
	h.probeLevel = level
	if h.canvas != nil {
		g := toGray(level)
		pix := h.canvas.Pix
		for i := range pix {
			pix[i] = g
		}
	}
}

func (h *Headless) FillRect(r Rect, level float64) {
	if h.hasProbe {
		px, py := float64(h.probe.X), float64(h.probe.Y)
		if px >= r.X && px < r.X+r.W && py >= r.Y && py < r.Y+r.H {
			h.probeLevel = level
		}
	}
	if h.canvas == nil {
		return
	}
	bounds := image.Rect(
		int(math.Floor(r.X)), int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.W)), int(math.Ceil(r.Y+r.H)),
	).Intersect(h.canvas.Bounds())
	g := color.Gray{Y: toGray(level)}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			h.canvas.SetGray(x, y, g)
		}
	}
}

func (h *Headless) Present() (float64, error) {
	if h.abortAt >= 0 && h.presented == h.abortAt {
		return 0, ErrAborted
	}
	ts := h.start + float64(h.presented)/h.fps
	h.presented++
	h.Timestamps = append(h.Timestamps, ts)
	if h.hasProbe {
		h.Samples = append(h.Samples, h.probeLevel)
	}
	return ts, nil
}

func (h *Headless) Close() error { return nil }

// Presented is the number of frames shown so far.
func (h *Headless) Presented() int { return h.presented }

// Frame returns a copy of the captured buffer, with mask applied when given.
func (h *Headless) Frame(mask [][]float64) (*image.Gray, error) {
	if h.canvas == nil {
		return nil, fmt.Errorf("headless renderer has no capture buffer: %w", ErrInvalidArgument)
	}
	out := image.NewGray(h.canvas.Bounds())
	copy(out.Pix, h.canvas.Pix)
	if mask == nil {
		return out, nil
	}
	b := out.Bounds()
	if len(mask) != b.Dy() || (len(mask) > 0 && len(mask[0]) != b.Dx()) {
		return nil, fmt.Errorf("mask shape does not match %dx%d frame: %w", b.Dx(), b.Dy(), ErrInvalidArgument)
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			opacity := (mask[y][x] + 1) / 2
			i := out.PixOffset(x, y)
			out.Pix[i] = uint8(math.Round(float64(out.Pix[i]) * opacity))
		}
	}
	return out, nil
}

// SaveFrame writes the captured buffer as a PNG.
func (h *Headless) SaveFrame(path string, mask [][]float64) error {
	img, err := h.Frame(mask)
	if err != nil {
		return err
	}
	return imgio.Save(path, img, imgio.PNGEncoder())
}

func toGray(level float64) uint8 {
	if level < -1 {
		level = -1
	} else if level > 1 {
		level = 1
	}
	return uint8(math.Round((level + 1) / 2 * 255))
}
