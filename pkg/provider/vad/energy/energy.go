// Package energy implements a [vad.Engine] driven by frame RMS energy and a
// decaying patience weight.
//
// A session is idle until a frame reaches the energy threshold. While active,
// every frame below the threshold wears the weight down; quieter frames wear it
// down more, and the deduction grows as the weight shrinks, so a fading voice
// ends the utterance in a bounded number of frames. Loud frames leave the
// weight untouched. The utterance ends when the weight reaches zero.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/zhuli/pkg/audio"
	"github.com/MrWong99/zhuli/pkg/provider/vad"
)

// Defaults applied by [Engine.NewSession] for zero-valued config fields.
const (
	DefaultEnergyThreshold = 300
	DefaultNoiseFloor      = 50
	DefaultPatience        = 10.0
)

// decayGain scales every deduction.
const decayGain = 1.2

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates energy [Session]s. The zero value is ready to use.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns an idle session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.EnergyThreshold == 0 {
		cfg.EnergyThreshold = DefaultEnergyThreshold
	}
	if cfg.NoiseFloor == 0 {
		cfg.NoiseFloor = DefaultNoiseFloor
	}
	if cfg.Patience == 0 {
		cfg.Patience = DefaultPatience
	}
	switch {
	case cfg.NoiseFloor < 0:
		return nil, fmt.Errorf("energy: noise floor %.1f must not be negative", cfg.NoiseFloor)
	case cfg.NoiseFloor >= cfg.EnergyThreshold:
		return nil, fmt.Errorf("energy: noise floor %.1f must be below energy threshold %.1f", cfg.NoiseFloor, cfg.EnergyThreshold)
	case cfg.Patience < 0:
		return nil, fmt.Errorf("energy: patience %.2f must not be negative", cfg.Patience)
	}
	return &Session{cfg: cfg, weight: cfg.Patience}, nil
}

// Session tracks one stream. It is not safe for concurrent use.
type Session struct {
	cfg    vad.Config
	active bool
	weight float64
	closed bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errors.New("energy: session closed")
	}
	energy := audio.RMS(frame)
	ev := vad.Event{Energy: energy}

	switch {
	case !s.active && energy >= s.cfg.EnergyThreshold:
		s.active = true
		ev.Type = vad.SpeechStart
	case !s.active:
		ev.Type = vad.Silence
	case energy >= s.cfg.EnergyThreshold:
		ev.Type = vad.SpeechContinue
	default:
		s.weight -= s.deduction(energy)
		ev.Type = vad.SpeechContinue
		if s.weight <= 0 {
			ev.Type = vad.SpeechEnd
		}
	}

	ev.Weight = s.weight
	if ev.Type == vad.SpeechEnd {
		s.Reset()
	}
	return ev, nil
}

// deduction returns how much patience a quiet frame with the given energy
// costs at the current weight.
func (s *Session) deduction(energy float64) float64 {
	lo, hi := s.cfg.NoiseFloor, s.cfg.EnergyThreshold
	c := min(hi, max(lo, energy))
	d := 1 - (c-lo)/(hi-lo)
	return d * (s.cfg.Patience / s.weight * decayGain)
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.active = false
	s.weight = s.cfg.Patience
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.closed = true
	return nil
}
