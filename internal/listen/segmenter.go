// Package listen turns a live stream of microphone frames into discrete
// utterances.
//
// A [Segmenter] pulls frames from an [audio.Source], asks a VAD session
// whether each frame belongs to speech, and returns the concatenated PCM of
// one utterance at a time. A short pre-roll of frames captured just before
// onset is kept so the first syllable is not clipped.
package listen

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MrWong99/zhuli/pkg/audio"
	"github.com/MrWong99/zhuli/pkg/provider/vad"
)

// PrerollFrames is the number of frames retained while idle. The frame that
// triggers onset is one of them.
const PrerollFrames = 2

// Option is a functional option for [New].
type Option func(*Segmenter)

// WithMaxFrames caps the length of an utterance. When an active utterance
// reaches n frames it is returned as complete. Zero (the default) means no
// cap: an utterance ends only when the VAD says so.
func WithMaxFrames(n int) Option {
	return func(s *Segmenter) { s.maxFrames = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Segmenter) { s.log = l }
}

// Segmenter assembles utterances from an [audio.Source]. It is not safe for
// concurrent use; one goroutine should own it.
type Segmenter struct {
	src       audio.Source
	sess      vad.SessionHandle
	maxFrames int
	log       *slog.Logger

	preroll [][]byte
	frames  [][]byte
	active  bool
}

// New creates a Segmenter reading from src and classifying frames with sess.
func New(src audio.Source, sess vad.SessionHandle, opts ...Option) *Segmenter {
	s := &Segmenter{
		src:     src,
		sess:    sess,
		log:     slog.Default(),
		preroll: make([][]byte, 0, PrerollFrames+1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Next blocks until one utterance has been captured and returns its PCM.
//
// When the source reports end of stream (io.EOF or a zero-length frame) Next
// returns whatever has been accumulated so far, possibly nothing, together
// with io.EOF. If no speech was ever detected that is at most the pre-roll.
// Any other read or VAD error is returned as is and the partial utterance is
// discarded. Cancelling ctx makes Next return ctx.Err() before the next read.
func (s *Segmenter) Next(ctx context.Context) ([]byte, error) {
	s.reset()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := s.src.ReadFrame(ctx)
		if err == nil && len(frame) == 0 {
			err = io.EOF
		}
		if errors.Is(err, io.EOF) {
			return s.collect(), io.EOF
		}
		if err != nil {
			return nil, err
		}

		if !s.active {
			s.preroll = append(s.preroll, frame)
			if len(s.preroll) > PrerollFrames {
				s.preroll = s.preroll[1:]
			}
		}

		ev, err := s.sess.ProcessFrame(frame)
		if err != nil {
			return nil, err
		}

		switch ev.Type {
		case vad.SpeechStart:
			s.active = true
			s.frames = append(s.frames, s.preroll...)
			s.preroll = s.preroll[:0]
			s.log.Debug("speech started", "energy", ev.Energy)
		case vad.SpeechContinue, vad.SpeechEnd:
			if s.active {
				s.frames = append(s.frames, frame)
			}
		}

		if ev.Type == vad.SpeechEnd && s.active {
			s.log.Debug("speech ended", "frames", len(s.frames), "energy", ev.Energy)
			return s.collect(), nil
		}
		if s.active && s.maxFrames > 0 && len(s.frames) >= s.maxFrames {
			s.log.Warn("utterance reached frame limit, cutting it short", "frames", len(s.frames))
			s.sess.Reset()
			return s.collect(), nil
		}
	}
}

// collect concatenates the active frames, or the pre-roll if speech never
// started.
func (s *Segmenter) collect() []byte {
	frames := s.frames
	if !s.active {
		frames = s.preroll
	}
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

func (s *Segmenter) reset() {
	s.active = false
	s.frames = nil
	s.preroll = s.preroll[:0]
}
