package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	FlagIdle  int32 = 0
	FlagProbe int32 = 1
	FlagAbort int32 = -1
)

// ProbeFlag is a single-slot channel between an external tracker and the
// render loop. Writes overwrite, reads never block, and the loop samples it
// at most once per frame: a second probe request arriving within the same
// frame interval is lost.
type ProbeFlag struct {
	v atomic.Int32
}

func (f *ProbeFlag) Store(v int32) { f.v.Store(v) }
func (f *ProbeFlag) Load() int32 { return f.v.Load() }

// Consume clears a pending probe request and reports whether there was one.
// An abort is left in place.
func (f *ProbeFlag) Consume() bool {
	return f.v.CompareAndSwap(FlagProbe, FlagIdle)
}

// WatchFlagFile mirrors the integer stored in path into flag whenever the
// file is written, until ctx is done. The returned channel is closed when
// the watcher has stopped.
func WatchFlagFile(ctx context.Context, path string, flag *ProbeFlag, log *zap.Logger) (<-chan struct{}, error) {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	target := filepath.Clean(path)

	readFlag := func() {
		data, err := os.ReadFile(target)
		if err != nil {
			return
		}
		s := strings.TrimSpace(string(data))
		if s == "" {
			return
		}
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil || v < -1 || v > 1 {
			log.Warn("Ignoring invalid probe flag value", zap.String("path", target), zap.String("value", s))
			return
		}
		flag.Store(int32(v))
	}
	readFlag()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					readFlag()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("Probe flag watcher error", zap.Error(err))
			}
		}
	}()
	return done, nil
}

// SimulatedTracker stands in for the pose-tracking process: it raises the
// probe flag for Pulse after a random delay drawn from [MinDelay, MaxDelay),
// lowers it again, and repeats.
type SimulatedTracker struct {
	Flag     *ProbeFlag
	MinDelay time.Duration
	MaxDelay time.Duration
	Pulse    time.Duration
	Rand     *rand.Rand
}

// Run blocks until ctx is done.
func (t *SimulatedTracker) Run(ctx context.Context) error {
	if t.MaxDelay < t.MinDelay || t.MinDelay < 0 || t.Pulse < 0 {
		return fmt.Errorf("tracker delays [%s, %s) pulse %s: %w", t.MinDelay, t.MaxDelay, t.Pulse, ErrInvalidArgument)
	}
	for {
		delay := t.MinDelay
		if span := t.MaxDelay - t.MinDelay; span > 0 {
			delay += time.Duration(t.Rand.Int63n(int64(span)))
		}
		if !sleepCtx(ctx, delay) {
			return nil
		}
		t.Flag.Store(FlagProbe)
		if !sleepCtx(ctx, t.Pulse) {
			return nil
		}
		t.Flag.v.CompareAndSwap(FlagProbe, FlagIdle)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
