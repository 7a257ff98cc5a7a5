package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoPathEnabled     = errors.New("no path enabled")
	ErrNoDevice          = errors.New("no device found")
	ErrAborted           = errors.New("presentation aborted")
)

// Unit is a unit of time for durations handed to the display.
type Unit int

const (
	UnitFrames Unit = iota
	UnitSeconds
)

func (u Unit) String() string {
	switch u {
	case UnitFrames:
		return "frames"
	case UnitSeconds:
		return "seconds"
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "frames", "frame":
		return UnitFrames, nil
	case "seconds", "second", "s":
		return UnitSeconds, nil
	}
	return 0, fmt.Errorf("%q is an invalid unit of time: %w", s, ErrInvalidArgument)
}

// FrameCount converts a duration into a whole number of frames.
func FrameCount(duration float64, unit Unit, fps float64) (int, error) {
	if duration < 0 || math.IsNaN(duration) {
		return 0, fmt.Errorf("duration %v: %w", duration, ErrInvalidArgument)
	}
	switch unit {
	case UnitFrames:
		return int(duration), nil
	case UnitSeconds:
		return int(math.Round(fps * duration)), nil
	}
	return 0, fmt.Errorf("%s is an invalid unit of time: %w", unit, ErrInvalidArgument)
}

// CeilFrames is the number of frames needed to cover seconds at fps.
func CeilFrames(seconds, fps float64) int {
	return int(math.Ceil(fps * seconds))
}

// FrameClock is a source of committed frames. Flip blocks until the frame is
// on screen and returns its presentation timestamp in seconds.
type FrameClock interface {
	Flip() (float64, error)
	FrameIndex() int
	FPS() float64
}
