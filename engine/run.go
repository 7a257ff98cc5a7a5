package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Protocol is one presentation run. Present owns the display until it
// returns and hands back the metadata collected during the run.
type Protocol interface {
	Name() string
	Present(ctx context.Context, d *Display) (*Record, error)
}

// Result summarizes a finished session.
type Result struct {
	Path      string
	SessionID string
	Frames    int
	Dropped   int
	Events    int
}

// Session owns the display, the probe flag and its producers, the optional
// microcontroller and the metadata sink of one presentation.
type Session struct {
	cfg     *Config
	log     *zap.Logger
	display *Display
	flag    *ProbeFlag
	device  *Microcontroller
	dropped int
	lastTS  float64
}

// NewSession wraps r in a Display configured from cfg.
func NewSession(cfg *Config, r Renderer, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := NewDisplay(cfg.Display, r, log)
	if err != nil {
		return nil, err
	}
	s := &Session{cfg: cfg, log: log, display: d, flag: &ProbeFlag{}}
	d.OnFlip(s.checkInterval)
	return s, nil
}

func (s *Session) Display() *Display { return s.display }
func (s *Session) Flag() *ProbeFlag { return s.flag }

// AttachDevice discovers the microcontroller and mirrors the signal patch
// onto its first TTL line.
func (s *Session) AttachDevice(open PortOpener) error {
	m, err := Discover(s.cfg.Device, open, s.log)
	if err != nil {
		return err
	}
	s.device = m
	high := false
	s.display.OnFlip(func(frame int, _ float64) {
		if s.display.State() == high {
			return
		}
		high = s.display.State()
		var err error
		if high {
			err = m.Set("1")
		} else {
			err = m.Unset("1")
		}
		if err != nil {
			s.log.Warn("TTL write failed", zap.Int("frame", frame), zap.Error(err))
		}
	})
	return nil
}

func (s *Session) checkInterval(frame int, ts float64) {
	if frame > 0 && ts-s.lastTS > 1.5/s.display.FPS() {
		s.dropped++
		s.log.Debug("Dropped frame", zap.Int("frame", frame), zap.Float64("interval", ts-s.lastTS))
	}
	s.lastTS = ts
}

// Run starts the probe flag producers, presents p and writes its metadata.
// The metadata collected so far is written even when p fails.
func (s *Session) Run(ctx context.Context, p Protocol) (Result, error) {
	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	pctx, stop := context.WithCancel(gctx)

	if path := s.cfg.Probe.FlagFile; path != "" {
		done, err := WatchFlagFile(pctx, path, s.flag, s.log)
		if err != nil {
			stop()
			return Result{}, err
		}
		g.Go(func() error {
			<-done
			return nil
		})
		s.log.Info("Watching probe flag", zap.String("path", path))
	}
	if s.cfg.Probe.Simulate {
		tracker := &SimulatedTracker{
			Flag:     s.flag,
			MinDelay: s.cfg.Probe.MinDelay,
			MaxDelay: s.cfg.Probe.MaxDelay,
			Pulse:    s.cfg.Probe.Pulse,
			Rand:     NewRand(s.cfg.Seed + 1),
		}
		g.Go(func() error { return tracker.Run(pctx) })
		s.log.Info("Simulating tracker", zap.Duration("min_delay", tracker.MinDelay), zap.Duration("max_delay", tracker.MaxDelay))
	}

	s.log.Info("Presenting", zap.String("protocol", p.Name()))
	rec, runErr := p.Present(pctx, s.display)
	stop()
	// A failing producer cancels pctx; report its error, not the cancellation.
	if err := g.Wait(); err != nil && (runErr == nil || errors.Is(runErr, context.Canceled)) {
		runErr = err
	}

	res := Result{Frames: s.display.FrameIndex(), Dropped: s.dropped}
	if errors.Is(runErr, ErrAborted) {
		s.log.Warn("Presentation aborted", zap.Int("frames", res.Frames))
	}
	if rec == nil {
		return res, runErr
	}
	res.Events = rec.Len()
	rec.SetHeader("Protocol", p.Name())
	rec.SetHeader("Started", started.Format(time.RFC3339))
	rec.SetHeader("Frames", fmt.Sprint(res.Frames))
	rec.SetHeader("Dropped frames", fmt.Sprint(res.Dropped))

	if err := s.save(ctx, p.Name(), started, rec, &res); err != nil {
		return res, errors.Join(runErr, err)
	}
	return res, runErr
}

func (s *Session) save(ctx context.Context, protocol string, started time.Time, rec *Record, res *Result) error {
	out := s.cfg.Output
	switch out.Format {
	case FormatSQLite:
		if err := os.MkdirAll(out.Dir, 0755); err != nil {
			return err
		}
		store, err := OpenStore(filepath.Join(out.Dir, out.Database))
		if err != nil {
			return err
		}
		defer store.Close()
		// The session is written even if ctx was cancelled by the caller.
		id, err := store.Save(context.WithoutCancel(ctx), protocol, started, rec)
		if err != nil {
			return err
		}
		res.SessionID = id
		res.Path = filepath.Join(out.Dir, out.Database)
	default:
		path, err := rec.SaveText(out.Dir, out.Stem)
		if err != nil {
			return err
		}
		res.Path = path
	}
	s.log.Info("Metadata saved", zap.String("path", res.Path), zap.Int("events", rec.Len()), zap.String("session", res.SessionID))
	return nil
}

// Close releases the device and the display.
func (s *Session) Close() error {
	var errs []error
	if s.device != nil {
		errs = append(errs, s.device.Close())
	}
	errs = append(errs, s.display.Close())
	return errors.Join(errs...)
}
