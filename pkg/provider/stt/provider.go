// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (a vosk server, a local
// whisper.cpp model, or a cloud API) behind a uniform batch interface. The
// central abstraction is Recognizer: the caller feeds it the PCM of exactly one
// utterance and then asks for the recognised text. There are no partial
// transcripts; every engine, streaming or not, answers once per utterance.
//
// [Transcriber] sits on top of a Recognizer and turns engine output into the
// text the matcher consumes, dropping empty results and known noise tokens.
package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned by Recognizer methods called after Close.
var ErrClosed = errors.New("stt: recognizer is closed")

// Config describes the audio format and recognition hints for a new
// Recognizer.
type Config struct {
	// SampleRate is the sample rate in Hz of the mono 16-bit PCM passed to
	// Feed. It is fixed for the lifetime of the process.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string selects the provider default.
	Language string
}

// Recognizer transcribes one utterance at a time.
//
// A caller feeds all of an utterance's audio with one or more Feed calls and
// then calls Result exactly once. Result resets the recognizer, so the same
// instance can be reused for the next utterance. Recognizers are driven by a
// single goroutine and need not be safe for concurrent use.
type Recognizer interface {
	// Feed hands a chunk of mono 16-bit little-endian PCM to the engine.
	Feed(ctx context.Context, pcm []byte) error

	// Result returns the text recognised from everything fed since the last
	// Result. An empty string means the engine heard nothing.
	Result(ctx context.Context) (string, error)

	// Close releases connections and native resources. Calling Close more
	// than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// NewRecognizer returns a Recognizer configured for cfg. Remote engines may
	// defer connecting until the first Feed.
	NewRecognizer(ctx context.Context, cfg Config) (Recognizer, error)
}
