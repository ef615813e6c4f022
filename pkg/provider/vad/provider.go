// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session tracks whether speech is active
// and decides, frame by frame, when an utterance has started and when it has
// ended. Assembling the frames of an utterance is left to the caller (see
// internal/listen).
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, so it can sit directly in the blocking microphone read loop.
//
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session. Energy values are RMS
// amplitudes of 16-bit PCM samples (0–32768).
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// EnergyThreshold is the RMS level at or above which a frame counts as
	// speech. Typical: 300.
	EnergyThreshold float64

	// NoiseFloor is the ambient RMS level. Frames at or below it count as
	// full silence when speech is winding down. Must be < EnergyThreshold.
	// Typical: 50.
	NoiseFloor float64

	// Patience is the starting weight that quiet frames wear down before an
	// active utterance is declared finished. Typical: 10.
	Patience float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of raw little-endian 16-bit mono
	// PCM and returns the detection result. It must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset returns the session to the idle state with full patience.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns an error. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use.
type Engine interface {
	// NewSession creates a new VAD session. Returns an error if the
	// configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
