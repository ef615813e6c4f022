// Package wavfile implements an [audio.Source] that replays a WAV recording
// as if it were a microphone. It is used for offline runs (--replay) and for
// end-to-end tests of the listening pipeline.
//
// The file is decoded with github.com/go-audio/wav, down-mixed to mono and
// resampled to the pipeline rate, then handed out in fixed-size frames. The
// final partial frame is zero-padded. After the last frame ReadFrame returns
// io.EOF.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/MrWong99/zhuli/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Option is a functional option for [Open] and [NewSource].
type Option func(*Source)

// WithRealtime paces ReadFrame so frames are delivered no faster than they
// would arrive from a live microphone.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// Source replays decoded PCM in fixed-size frames.
type Source struct {
	cfg      audio.Config
	pcm      []byte
	realtime bool

	mu     sync.Mutex
	off    int
	closed bool
	next   time.Time
}

// Open decodes the WAV file at path.
func Open(path string, cfg audio.Config, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := NewSource(f, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %q: %w", path, err)
	}
	return s, nil
}

// NewSource decodes a WAV stream from r.
func NewSource(r io.ReadSeeker, cfg audio.Config, opts ...Option) (*Source, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("wavfile: invalid config %+v", cfg)
	}
	pcm, format, err := Decode(r)
	if err != nil {
		return nil, err
	}
	s := &Source{
		cfg: cfg,
		pcm: audio.Convert(pcm, format, cfg.SampleRate),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Decode reads an entire WAV stream and returns interleaved 16-bit
// little-endian PCM together with its format. 8, 24 and 32-bit integer files
// are rescaled to 16 bits.
func Decode(r io.ReadSeeker) ([]byte, audio.Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, audio.Format{}, errors.New("wavfile: not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: decode: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, audio.Format{}, errors.New("wavfile: empty file")
	}

	format := audio.Format{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		s := to16(v, depth)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(uint16(s) >> 8)
	}
	return pcm, format, nil
}

func to16(v, depth int) int16 {
	switch {
	case depth == 8:
		// 8-bit WAV is unsigned.
		return int16((v - 128) << 8)
	case depth > 16:
		return int16(v >> (depth - 16))
	default:
		return int16(v)
	}
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, audio.ErrClosed
	}
	if s.off >= len(s.pcm) {
		s.mu.Unlock()
		return nil, io.EOF
	}
	n := s.cfg.FrameBytes()
	frame := make([]byte, n)
	copy(frame, s.pcm[s.off:])
	s.off += n

	var wait time.Duration
	if s.realtime {
		now := time.Now()
		if s.next.IsZero() {
			s.next = now
		}
		s.next = s.next.Add(time.Duration(s.cfg.FrameSize) * time.Second / time.Duration(s.cfg.SampleRate))
		wait = s.next.Sub(now)
	}
	s.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return frame, nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
