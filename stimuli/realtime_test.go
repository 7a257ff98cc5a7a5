package stimuli

import (
	"context"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openpmad/engine"
)

// The default patch rectangle on a 1280x720 screen covers this pixel.
var patchPixel = image.Point{X: 620, Y: 10}

func newDisplay(t *testing.T, opts ...engine.HeadlessOption) (*engine.Display, *engine.Headless) {
	t.Helper()
	cfg := engine.DefaultConfig().Display
	h := engine.NewHeadless(cfg.FPS, append([]engine.HeadlessOption{engine.WithProbe(patchPixel)}, opts...)...)
	d, err := engine.NewDisplay(cfg, h, nil)
	require.NoError(t, err)
	return d, h
}

// shortProbeParams is one one-second motion epoch with probes allowed on
// every frame and no saccade-independent events.
func shortProbeParams() RealtimeProbeParams {
	prm := DefaultRealtimeProbeParams()
	prm.Warmup = 0
	prm.Static = 0
	prm.ITI = 0
	prm.Duration = 1
	prm.Margin = 0
	prm.Directions = []float64{1}
	prm.RandomProbes = false
	prm.FictiveSaccades = false
	prm.BandWidth = 64
	return prm
}

func TestRealtimeProbeFromFlag(t *testing.T) {
	flag := &engine.ProbeFlag{}
	flag.Store(engine.FlagProbe)
	p, err := NewRealtimeProbe(shortProbeParams(), Env{Flag: flag})
	require.NoError(t, err)

	d, h := newDisplay(t)
	rec, err := p.Present(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 60, h.Presented())

	probes := rec.Labelled("realtimeProbe")
	require.Len(t, probes, 1)
	assert.InDelta(t, 1.0/60, probes[0].Timestamp, 1e-9, "first ProbeActive frame")
	assert.Equal(t, engine.FlagIdle, flag.Load())

	onset := rec.Labelled("motionOnset")
	require.Len(t, onset, 1)
	assert.Equal(t, 0.0, onset[0].Timestamp)
	assert.Equal(t, []float64{1}, onset[0].Values)

	// Motion onset flash on frames 0-2, probe flash (3 frames) from frame 1.
	assert.Equal(t, []float64{1, 1, 1, 1, -1}, h.Samples[:5])
}

func TestRealtimeProbeStateSequence(t *testing.T) {
	prm := shortProbeParams()
	prm.RecordStates = true
	prm.Refractory = 0.1
	flag := &engine.ProbeFlag{}
	flag.Store(engine.FlagProbe)
	p, err := NewRealtimeProbe(prm, Env{Flag: flag})
	require.NoError(t, err)

	d, _ := newDisplay(t)
	_, err = p.Present(context.Background(), d)
	require.NoError(t, err)

	score := p.Score()
	require.Len(t, score, 60)
	state := func(frame int) engine.State {
		for s, on := range score[frame] {
			if on {
				return engine.State(s)
			}
		}
		t.Fatalf("no state on frame %d", frame)
		return 0
	}
	assert.Equal(t, engine.StateForeperiod, state(0))
	for f := 1; f <= 3; f++ {
		assert.Equal(t, engine.StateProbeActive, state(f), "frame %d", f)
	}
	for f := 4; f <= 9; f++ {
		assert.Equal(t, engine.StateRefractory, state(f), "frame %d", f)
	}
	assert.Equal(t, engine.StateIdle, state(10))
}

func TestRealtimeProbeFinishesAtWindowEnd(t *testing.T) {
	prm := shortProbeParams()
	prm.RecordStates = true
	prm.Margin = 0.25
	flag := &engine.ProbeFlag{}
	p, err := NewRealtimeProbe(prm, Env{Flag: flag})
	require.NoError(t, err)

	// The window closes after frame 44; the request lands on frame 42.
	d, h := newDisplay(t)
	d.OnFlip(func(frame int, _ float64) {
		if frame == 41 {
			flag.Store(engine.FlagProbe)
		}
	})
	_, err = p.Present(context.Background(), d)
	require.NoError(t, err)

	active := 0
	for _, frame := range p.Score() {
		if frame[engine.StateProbeActive] {
			active++
		}
	}
	assert.Equal(t, 3, active)

	high := 0
	for _, v := range h.Samples {
		if v == 1 {
			high++
		}
	}
	assert.Equal(t, 6, high, "motion onset and probe flashes")
	assert.Equal(t, engine.StateIdle, p.machine.State())
}

func TestRealtimeProbeDropsStaleRequests(t *testing.T) {
	flag := &engine.ProbeFlag{}
	flag.Store(engine.FlagProbe)
	p, err := NewRealtimeProbe(shortProbeParams(), Env{Flag: flag})
	require.NoError(t, err)

	d, _ := newDisplay(t)
	d.OnFlip(func(frame int, _ float64) {
		if frame == 1 {
			flag.Store(engine.FlagProbe)
		}
	})
	rec, err := p.Present(context.Background(), d)
	require.NoError(t, err)
	assert.Len(t, rec.Labelled("realtimeProbe"), 1)
}

func TestRealtimeProbeAbort(t *testing.T) {
	prm := shortProbeParams()
	prm.Trials = 3
	prm.ITI = 0.1
	flag := &engine.ProbeFlag{}
	flag.Store(engine.FlagAbort)
	p, err := NewRealtimeProbe(prm, Env{Flag: flag})
	require.NoError(t, err)

	d, h := newDisplay(t)
	rec, err := p.Present(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 6, h.Presented(), "only the inter-trial interval of the first trial")
	aborted, ok := rec.Header("Aborted")
	assert.True(t, ok)
	assert.Equal(t, "trial 1 of 3", aborted)

	onset := rec.Labelled("motionOnset")
	require.Len(t, onset, 1)
	assert.True(t, math.IsNaN(onset[0].Timestamp))
	assert.Len(t, rec.Labelled("motionOffset"), 1)
}

func TestRealtimeProbeSaccadeIndependentEvents(t *testing.T) {
	prm := shortProbeParams()
	prm.Duration = 5
	prm.ISIRange = [2]float64{0.1, 0.2}
	prm.Refractory = 0.1
	prm.RandomProbes = true
	prm.FictiveSaccades = true
	p, err := NewRealtimeProbe(prm, Env{Rand: engine.NewRand(11)})
	require.NoError(t, err)

	d, _ := newDisplay(t)
	rec, err := p.Present(context.Background(), d)
	require.NoError(t, err)

	random := rec.Labelled("randomProbe")
	fictive := rec.Labelled("fictiveSaccade")
	assert.NotEmpty(t, random)
	assert.NotEmpty(t, fictive)
	for _, e := range append(random, fictive...) {
		if !e.Pending() {
			assert.Greater(t, e.Timestamp, 0.0)
		}
	}
	assert.Empty(t, rec.Labelled("realtimeProbe"))
}

func TestRealtimeProbeRendererAbort(t *testing.T) {
	p, err := NewRealtimeProbe(shortProbeParams(), Env{})
	require.NoError(t, err)
	d, _ := newDisplay(t, engine.WithAbortAt(5))
	rec, err := p.Present(context.Background(), d)
	assert.ErrorIs(t, err, engine.ErrAborted)
	require.NotNil(t, rec)
	assert.Len(t, rec.Labelled("motionOnset"), 1)
}

func TestRealtimeProbeContextCancel(t *testing.T) {
	p, err := NewRealtimeProbe(shortProbeParams(), Env{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, h := newDisplay(t)
	_, err = p.Present(ctx, d)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.Presented())
}

func TestRealtimeProbeParamsValidate(t *testing.T) {
	prm := DefaultRealtimeProbeParams()
	require.NoError(t, prm.Validate())

	prm.Contrast = 2
	assert.ErrorIs(t, prm.Validate(), engine.ErrInvalidArgument)

	prm = DefaultRealtimeProbeParams()
	prm.ISIRange = [2]float64{1, 0.5}
	assert.ErrorIs(t, prm.Validate(), engine.ErrInvalidArgument)

	prm = DefaultRealtimeProbeParams()
	prm.Foreperiods = []float64{-1}
	_, err := NewRealtimeProbe(prm, Env{})
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
}
