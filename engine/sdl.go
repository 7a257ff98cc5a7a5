package engine

import (
	"fmt"

	"github.com/Zyko0/go-sdl3/sdl"
	"go.uber.org/zap"
)

// SDLRenderer presents frames in an SDL3 window. With vsync on, Present
// blocks until the vertical blank.
type SDLRenderer struct {
	window   *sdl.Window
	renderer *sdl.Renderer
	start    uint64
	refresh  float32
	log      *zap.Logger
}

// OpenSDL initialises SDL and opens the stimulus window. The SDL shared
// libraries must already be loaded and the calling goroutine locked to the
// main OS thread.
func OpenSDL(cfg DisplayConfig, log *zap.Logger) (*SDLRenderer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, fmt.Errorf("SDL_Init: %w", err)
	}

	windowFlags := sdl.WINDOW_RESIZABLE
	if cfg.Fullscreen {
		windowFlags |= sdl.WINDOW_FULLSCREEN
	}

	window, renderer, err := sdl.CreateWindowAndRenderer("openpmad", cfg.Width, cfg.Height, windowFlags)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("CreateWindowAndRenderer: %w", err)
	}

	if cfg.VSync {
		renderer.SetVSync(1)
	} else {
		renderer.SetVSync(0)
	}

	r := &SDLRenderer{
		window:   window,
		renderer: renderer,
		start:    sdl.Ticks(),
		refresh:  float32(cfg.FPS),
		log:      log,
	}

	win, _ := renderer.Window()
	display := sdl.GetDisplayForWindow(win)
	mode, err := display.CurrentDisplayMode()
	if err == nil && mode.RefreshRate > 0 {
		r.refresh = mode.RefreshRate
		if float64(mode.RefreshRate) != cfg.FPS {
			log.Warn("Display refresh rate differs from configured frame rate",
				zap.Float32("refresh_rate", mode.RefreshRate),
				zap.Float64("fps", cfg.FPS))
		}
	}

	log.Info("Opened stimulus window",
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Bool("fullscreen", cfg.Fullscreen),
		zap.Bool("vsync", cfg.VSync))
	return r, nil
}

// RefreshRate is the refresh rate reported by the display, or the
// configured frame rate when the display mode is unknown.
func (r *SDLRenderer) RefreshRate() float32 { return r.refresh }

func (r *SDLRenderer) Clear(level float64) {
	g := toGray(level)
	r.renderer.SetDrawColor(g, g, g, 255)
	r.renderer.Clear()
}

func (r *SDLRenderer) FillRect(rect Rect, level float64) {
	g := toGray(level)
	r.renderer.SetDrawColor(g, g, g, 255)
	dst := sdl.FRect{X: float32(rect.X), Y: float32(rect.Y), W: float32(rect.W), H: float32(rect.H)}
	r.renderer.RenderFillRect(&dst)
}

// Present shows the back buffer and drains pending window events. Escape
// or closing the window aborts the presentation.
func (r *SDLRenderer) Present() (float64, error) {
	r.renderer.Present()
	ts := float64(sdl.Ticks()-r.start) / 1000

	for {
		var ev sdl.Event
		if !sdl.PollEvent(&ev) {
			break
		}
		switch ev.Type {
		case sdl.EVENT_QUIT:
			return ts, ErrAborted
		case sdl.EVENT_KEY_DOWN:
			if ev.KeyboardEvent().Key == sdl.K_ESCAPE {
				return ts, ErrAborted
			}
		}
	}
	return ts, nil
}

func (r *SDLRenderer) Close() error {
	r.renderer.Destroy()
	r.window.Destroy()
	sdl.Quit()
	return nil
}
