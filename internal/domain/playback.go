package domain

import (
	"math"
	"time"
)

// PlaybackState is a shared description of where the group is in the video.
type PlaybackState struct {
	Playing   bool      `json:"isPlaying"`
	Position  float64   `json:"currentTime"`
	Duration  float64   `json:"duration"`
	UpdatedAt time.Time `json:"lastUpdated"`
}

// PlaybackPatch carries only the fields a client wants to change.
type PlaybackPatch struct {
	Playing  *bool    `json:"isPlaying,omitempty"`
	Position *float64 `json:"currentTime,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

func (p PlaybackPatch) Empty() bool {
	return p.Playing == nil && p.Position == nil && p.Duration == nil
}

func (p PlaybackPatch) Validate() error {
	for _, v := range []*float64{p.Position, p.Duration} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
			return ErrInvalidPlayback
		}
	}
	return nil
}

// Apply merges the patch over s. The result replaces the previous state as a whole.
func (s PlaybackState) Apply(p PlaybackPatch, now time.Time) PlaybackState {
	if p.Playing != nil {
		s.Playing = *p.Playing
	}
	if p.Position != nil {
		s.Position = *p.Position
	}
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	s.UpdatedAt = now
	return s
}
