package playback

import (
	"fmt"
	"strings"
)

// State represents the playback state.
//
//	Stopped ──Begin──▶ Loading ──all frames loaded──▶ Ready
//	Loading, Ready, Paused, Stopped ──Play──▶ Playing
//	Playing ──Pause, navigation, last frame without loop──▶ Paused
//	any ──Stop──▶ Stopped
type State int

const (
	StateStopped State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateLoading:
		return "Loading"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// IsActive returns true if playback is active (playing or paused).
func (s State) IsActive() bool {
	return s == StatePlaying || s == StatePaused
}

// AutoPlay decides when playback starts on its own.
type AutoPlay int

const (
	// AutoPlayOnFirstFrame starts as soon as the first frame is loaded.
	AutoPlayOnFirstFrame AutoPlay = iota
	// AutoPlayOnAllLoaded starts once every frame is loaded.
	AutoPlayOnAllLoaded
	// AutoPlayNever waits for Play.
	AutoPlayNever
)

// String returns the policy name used in configuration.
func (a AutoPlay) String() string {
	switch a {
	case AutoPlayOnFirstFrame:
		return "first_frame"
	case AutoPlayOnAllLoaded:
		return "all_loaded"
	case AutoPlayNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParseAutoPlay parses a configuration value. Empty means AutoPlayOnFirstFrame.
func ParseAutoPlay(s string) (AutoPlay, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first_frame":
		return AutoPlayOnFirstFrame, nil
	case "all_loaded":
		return AutoPlayOnAllLoaded, nil
	case "never":
		return AutoPlayNever, nil
	default:
		return AutoPlayOnFirstFrame, fmt.Errorf("unknown auto play policy %q", s)
	}
}
