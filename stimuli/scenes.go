package stimuli

import (
	"math"

	"openpmad/engine"
)

// Grating is a full-screen vertical sine grating drawn as columns of
// bandWidth pixels.
type Grating struct {
	Frequency float64 // cycles per pixel
	Contrast  float64
	Mean      float64
	Phase     float64 // cycles
	BandWidth int
}

func (g *Grating) Draw(c engine.Canvas) {
	w, h := float64(c.Width()), float64(c.Height())
	band := g.BandWidth
	if band < 1 {
		band = 1
	}
	bw := float64(band)
	for x := -w / 2; x < w/2; x += bw {
		centre := x + bw/2
		level := g.Mean + g.Contrast*math.Sin(2*math.Pi*(g.Frequency*centre+g.Phase))
		c.FillRect(engine.Rect{X: centre, Y: 0, W: bw, H: h}, clamp(level))
	}
}

// Uniform fills the screen with one level.
type Uniform struct {
	Level float64
}

func (u Uniform) Draw(c engine.Canvas) {
	c.FillRect(engine.Rect{W: float64(c.Width()), H: float64(c.Height())}, u.Level)
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
