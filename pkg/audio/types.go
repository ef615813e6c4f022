// Package audio defines the microphone-side abstraction of the pipeline: a
// [Source] that yields fixed-size frames of raw PCM, plus helpers for
// converting and measuring 16-bit little-endian PCM.
//
// Concrete sources live in sub-packages (portaudio for a live microphone,
// wavfile for replaying recordings, mock for tests) and are selected by name
// through the config registry.
package audio

import (
	"context"
	"errors"
)

// ErrClosed is returned by [Source.ReadFrame] after the source was closed.
var ErrClosed = errors.New("audio: source closed")

// Format describes the sample rate and channel count of an audio stream.
// Pipeline frames are always 16-bit signed little-endian.
type Format struct {
	SampleRate int
	Channels   int
}

// Config describes the frames a [Source] must produce.
type Config struct {
	// SampleRate in Hz. The transcription engine is configured with the same
	// rate, so every source must deliver (or convert to) exactly this rate.
	SampleRate int

	// FrameSize is the number of samples per frame (e.g., 4096).
	FrameSize int
}

// FrameBytes returns the size in bytes of one mono 16-bit frame.
func (c Config) FrameBytes() int { return c.FrameSize * 2 }

// Source is a blocking producer of fixed-size mono PCM frames.
//
// ReadFrame blocks until a full frame is available and returns it. At the end
// of a finite stream it returns io.EOF; a zero-length frame with a nil error
// is treated the same way by consumers. Implementations need not be safe for
// concurrent ReadFrame calls, but Close may be called from another goroutine
// to unblock a pending read.
type Source interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}
